package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	hint  *Platform
	err   error
	calls int
}

func (d *fakeDetector) Detect(ctx context.Context) (*Platform, error) {
	d.calls++
	return d.hint, d.err
}

func TestResolvePrecedence(t *testing.T) {
	cluster := LinuxARM64
	host := LinuxAMD64

	for _, tc := range []struct {
		name     string
		explicit string
		hint     *Platform
		expected Platform
		source   Source
	}{
		{"explicit wins over everything", "linux/s390x", &cluster, LinuxS390X, SourceExplicit},
		{"cluster wins over host", "", &cluster, LinuxARM64, SourceCluster},
		{"host when nothing else", "", nil, LinuxAMD64, SourceHost},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, source, err := Resolve(tc.explicit, tc.hint, host)
			require.NoError(t, err)
			require.Equal(t, tc.expected, p)
			require.Equal(t, tc.source, source)
		})
	}
}

func TestResolveMalformedExplicit(t *testing.T) {
	cluster := LinuxARM64
	_, _, err := Resolve("linux/not-an-arch", &cluster, LinuxAMD64)
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	require.Equal(t, "linux/not-an-arch", resErr.Value)
}

func TestResolverFallsBackWhenClusterUnreachable(t *testing.T) {
	detector := &fakeDetector{err: errors.New("connection refused")}
	var notes []string
	r := &Resolver{Detector: detector, Host: LinuxAMD64, Notify: func(msg string) { notes = append(notes, msg) }}

	p, source, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, LinuxAMD64, p)
	require.Equal(t, SourceHost, source)
	require.Len(t, notes, 1)
	require.Contains(t, notes[0], "connection refused")
}

func TestResolverAsksClusterOnce(t *testing.T) {
	hint := LinuxARM64
	detector := &fakeDetector{hint: &hint}
	r := NewResolver(detector, nil)

	for i := 0; i < 3; i++ {
		p, source, err := r.Resolve(context.Background(), "")
		require.NoError(t, err)
		require.Equal(t, LinuxARM64, p)
		require.Equal(t, SourceCluster, source)
	}
	p, source, err := r.Resolve(context.Background(), "linux/amd64")
	require.NoError(t, err)
	require.Equal(t, LinuxAMD64, p)
	require.Equal(t, SourceExplicit, source)

	require.Equal(t, 1, detector.calls)
}

func TestResolverWithoutDetector(t *testing.T) {
	r := &Resolver{Host: LinuxARM64}
	p, source, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, LinuxARM64, p)
	require.Equal(t, SourceHost, source)
}
