package builder

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/util/shell"
	"github.com/steigerbuild/steiger/pkg/util/shell/shelltest"
)

func nixService() *config.Service {
	return &config.Service{
		Name:  "tools",
		Build: config.NewNixBuild(config.NixBuild{Packages: map[string]string{"default": "dockerImage"}}),
	}
}

func TestNixBuild(t *testing.T) {
	t.Setenv("STEIGER_NIX_BINARY", "nix")
	t.Setenv("STEIGER_NIX_EVAL_JOBS_BINARY", "nix-eval-jobs")

	store := t.TempDir()
	out := filepath.Join(store, "abc-docker-image")
	writeLayout(t, out, platform.LinuxARM64)

	runner := shelltest.NewFakeRunner().
		OnOutput("nix eval .#packages", `["aarch64-linux","x86_64-linux"]`).
		OnOutput("nix-eval-jobs", fmt.Sprintf(`{"attr":"dockerImage","attrPath":["dockerImage"],"drvPath":"/nix/store/abc.drv","outputs":{"out":%q}}
{"attr":"broken","attrPath":["broken"],"error":"undefined variable 'x'"}
`, out)).
		On("nix build", func(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
			cmd.OnLine(shell.Stderr, `@nix {"action":"start","text":"building '/nix/store/abc.drv'"}`)
			return &shell.Result{Stdout: []byte(out + "\n")}, nil
		})

	rec := &progress.Recorder{}
	bctx := newContext(t, nixService(), platform.LinuxARM64, rec)
	images, err := NewNixBuilder(runner).Build(context.Background(), bctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "tools", images[0].Name)
	assert.Equal(t, out, images[0].Source)

	commands := runner.Commands()
	require.Len(t, commands, 3)
	assert.Equal(t, "nix eval .#packages --apply builtins.attrNames --json", commands[0])
	assert.Equal(t, "nix-eval-jobs --log-format internal-json --gc-roots-dir "+filepath.Join(bctx.OutDir, "gcroots")+" --flake .#packages.aarch64-linux", commands[1])
	assert.Equal(t, "nix build --no-link --print-out-paths --log-format internal-json /nix/store/abc.drv^out", commands[2])
	assert.Contains(t, rec.Messages("tools", progress.Log), "building '/nix/store/abc.drv'")
}

func TestNixMissingSystem(t *testing.T) {
	t.Setenv("STEIGER_NIX_BINARY", "nix")
	runner := shelltest.NewFakeRunner().
		OnOutput("nix eval", `["x86_64-linux"]`)

	_, err := NewNixBuilder(runner).Build(context.Background(), newContext(t, nixService(), platform.LinuxARM64, nil))
	require.ErrorContains(t, err, "no packages for aarch64-linux")
}

func TestNixUnsupportedPlatform(t *testing.T) {
	runner := shelltest.NewFakeRunner()
	_, err := NewNixBuilder(runner).Build(context.Background(), newContext(t, nixService(), platform.LinuxS390X, nil))
	require.ErrorContains(t, err, "has no nix system")
	assert.Empty(t, runner.Commands())
}

func TestNixEvaluationError(t *testing.T) {
	t.Setenv("STEIGER_NIX_BINARY", "nix")
	t.Setenv("STEIGER_NIX_EVAL_JOBS_BINARY", "nix-eval-jobs")
	runner := shelltest.NewFakeRunner().
		OnOutput("nix eval", `["x86_64-linux"]`).
		OnOutput("nix-eval-jobs", `{"attr":"dockerImage","attrPath":["dockerImage"],"error":"attribute 'foo' missing"}`)

	_, err := NewNixBuilder(runner).Build(context.Background(), newContext(t, nixService(), platform.LinuxAMD64, nil))
	require.ErrorContains(t, err, "attribute 'foo' missing")
	assert.Equal(t, 0, runner.Count("nix build"))
}

func TestNixMissingPackage(t *testing.T) {
	t.Setenv("STEIGER_NIX_BINARY", "nix")
	t.Setenv("STEIGER_NIX_EVAL_JOBS_BINARY", "nix-eval-jobs")
	runner := shelltest.NewFakeRunner().
		OnOutput("nix eval", `["x86_64-linux"]`).
		OnOutput("nix-eval-jobs", `{"attr":"other","attrPath":["other"],"drvPath":"/nix/store/o.drv"}`)

	_, err := NewNixBuilder(runner).Build(context.Background(), newContext(t, nixService(), platform.LinuxAMD64, nil))
	var missing *MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "default", missing.Artifact)
}

func TestParseNixLog(t *testing.T) {
	for _, tc := range []struct {
		line string
		msg  string
		ok   bool
	}{
		{`@nix {"action":"msg","level":0,"msg":"error: build failed"}`, "error: build failed", true},
		{`@nix {"action":"start","id":1,"text":"copying path"}`, "copying path", true},
		{`@nix {"action":"stop","id":1}`, "", false},
		{`@nix not json`, "", false},
		{"plain warning", "plain warning", true},
		{"   ", "", false},
	} {
		msg, ok := parseNixLog(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		assert.Equal(t, tc.msg, msg, tc.line)
	}
}
