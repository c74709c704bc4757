package console

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrefixedLines(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{Level: InfoLevel, Out: &buf}

	c.WithPrefix("frontend").Infof("step %d\nstep %d", 1, 2)
	c.WithPrefix("frontend").Debugf("hidden")

	require.Equal(t, "[frontend] step 1\n[frontend] step 2\n", buf.String())
}

func TestMachineModeHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{Color: true, IsMachine: true, Level: DebugLevel, Out: &buf}

	c.Warn("careful")

	require.Equal(t, "careful\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("WARNING")
	require.NoError(t, err)
	require.Equal(t, WarnLevel, l)

	_, err = ParseLevel("loud")
	require.ErrorIs(t, err, ErrInvalidLevel)
	require.Equal(t, "invalid", InvalidLevel.String())
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "1.2s", FormatDuration(1234*time.Millisecond))
	require.Equal(t, "2m5s", FormatDuration(2*time.Minute+5*time.Second+300*time.Millisecond))
}
