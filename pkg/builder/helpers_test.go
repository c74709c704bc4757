package builder

import (
	"context"
	"strings"
	"testing"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/layout"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/stretchr/testify/require"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// writeLayout writes a random image for p as an OCI layout at dir.
func writeLayout(t *testing.T, dir string, p platform.Platform) v1.Hash {
	t.Helper()
	img, err := random.Image(128, 1)
	require.NoError(t, err)
	cfg, err := img.ConfigFile()
	require.NoError(t, err)
	cfg = cfg.DeepCopy()
	cfg.OS = p.OS
	cfg.Architecture = p.Architecture
	img, err = mutate.ConfigFile(img, cfg)
	require.NoError(t, err)

	lp, err := layout.Write(dir, empty.Index)
	require.NoError(t, err)
	require.NoError(t, lp.AppendImage(img))

	h, err := img.Digest()
	require.NoError(t, err)
	return h
}

// argAfter returns the argument following flag.
func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// layoutWriter answers a command by writing a layout where the command was told to.
func layoutWriter(t *testing.T, dest func(cmd shell.Command) string, p platform.Platform) func(context.Context, shell.Command) (*shell.Result, error) {
	return func(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
		writeLayout(t, dest(cmd), p)
		return &shell.Result{}, nil
	}
}

func buildxDest(cmd shell.Command) string {
	output := argAfter(cmd.Args, "--output")
	for _, part := range strings.Split(output, ",") {
		if dest, ok := strings.CutPrefix(part, "dest="); ok {
			return dest
		}
	}
	return ""
}

func newContext(t *testing.T, svc *config.Service, p platform.Platform, rec *progress.Recorder) *Context {
	t.Helper()
	var sink progress.Sink = progress.Discard
	if rec != nil {
		sink = rec
	}
	return &Context{
		Service:  svc,
		Platform: p,
		WorkDir:  t.TempDir(),
		OutDir:   t.TempDir(),
		Progress: progress.For(sink, svc.Name),
	}
}
