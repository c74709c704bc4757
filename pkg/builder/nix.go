package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// NixBuilder builds flake packages that evaluate to image archives or layouts.
type NixBuilder struct {
	runner        shell.Runner
	nixBinary     string
	evalJobBinary string
}

func NewNixBuilder(runner shell.Runner) *NixBuilder {
	return &NixBuilder{
		runner:        runner,
		nixBinary:     shell.Binary("nix"),
		evalJobBinary: shell.Binary("nix-eval-jobs"),
	}
}

// evalJob is one line of nix-eval-jobs output.
type evalJob struct {
	Attr     string            `json:"attr"`
	AttrPath []string          `json:"attrPath"`
	DrvPath  string            `json:"drvPath"`
	Outputs  map[string]string `json:"outputs"`
	Error    string            `json:"error"`
}

func (n *NixBuilder) Build(ctx context.Context, bctx *Context) ([]*image.Image, error) {
	svc := bctx.Service
	spec := svc.Build.Nix()
	if spec == nil {
		return nil, fmt.Errorf("service %s is not a nix build", svc.Name)
	}

	system, err := platform.NixSystem(bctx.Platform)
	if err != nil {
		return nil, err
	}

	systems, err := n.systems(ctx, bctx, spec.Flake)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(systems, system) {
		return nil, fmt.Errorf("flake %s has no packages for %s (has %s)", spec.Flake, system, strings.Join(systems, ", "))
	}

	bctx.Progress.Start("evaluating %s#packages.%s", spec.Flake, system)
	jobs, err := n.evaluate(ctx, bctx, spec.Flake, system)
	if err != nil {
		return nil, err
	}

	artifacts := svc.Artifacts()
	images := make([]*image.Image, 0, len(artifacts))
	for _, artifact := range artifacts {
		attr := spec.Packages[artifact]
		job, ok := jobs[attr]
		if !ok {
			return nil, &MissingArtifactError{Artifact: artifact, Target: fmt.Sprintf("%s#packages.%s.%s", spec.Flake, system, attr)}
		}
		if job.Error != "" {
			return nil, fmt.Errorf("evaluating %s: %s", attr, job.Error)
		}

		out, err := n.realise(ctx, bctx, job)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", attr, err)
		}
		img, err := loadImage(svc.ImageName(artifact), out, bctx.Platform)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", artifact, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (n *NixBuilder) systems(ctx context.Context, bctx *Context, flake string) ([]string, error) {
	res, err := n.runner.Run(ctx, shell.Command{
		Name: n.nixBinary,
		Args: []string{"eval", flake + "#packages", "--apply", "builtins.attrNames", "--json"},
		Dir:  bctx.WorkDir,
	})
	if err != nil {
		return nil, err
	}
	var systems []string
	if err := json.Unmarshal(bytes.TrimSpace(res.Stdout), &systems); err != nil {
		return nil, fmt.Errorf("parsing flake systems: %w", err)
	}
	return systems, nil
}

func (n *NixBuilder) evaluate(ctx context.Context, bctx *Context, flake, system string) (map[string]evalJob, error) {
	gcRoots := filepath.Join(bctx.OutDir, "gcroots")
	if err := os.MkdirAll(gcRoots, 0o755); err != nil {
		return nil, err
	}

	res, err := n.runner.Run(ctx, shell.Command{
		Name: n.evalJobBinary,
		Args: []string{
			"--log-format", "internal-json",
			"--gc-roots-dir", gcRoots,
			"--flake", flake + "#packages." + system,
		},
		Dir:    bctx.WorkDir,
		OnLine: nixLogLines(bctx.Progress),
	})
	if err != nil {
		return nil, err
	}
	return parseEvalJobs(res.Stdout)
}

func parseEvalJobs(out []byte) (map[string]evalJob, error) {
	jobs := map[string]evalJob{}
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var job evalJob
		if err := json.Unmarshal(line, &job); err != nil {
			return nil, fmt.Errorf("parsing nix-eval-jobs output: %w", err)
		}
		attr := job.Attr
		if len(job.AttrPath) > 0 {
			attr = strings.Join(job.AttrPath, ".")
		}
		jobs[attr] = job
	}
	return jobs, nil
}

// realise builds the derivation and returns its out path.
func (n *NixBuilder) realise(ctx context.Context, bctx *Context, job evalJob) (string, error) {
	bctx.Progress.Start("building %s", job.DrvPath)
	res, err := n.runner.Run(ctx, shell.Command{
		Name:   n.nixBinary,
		Args:   []string{"build", "--no-link", "--print-out-paths", "--log-format", "internal-json", job.DrvPath + "^out"},
		Dir:    bctx.WorkDir,
		OnLine: nixLogLines(bctx.Progress),
	})
	if err != nil {
		return "", err
	}
	if out := strings.TrimSpace(string(res.Stdout)); out != "" {
		return strings.SplitN(out, "\n", 2)[0], nil
	}
	if out, ok := job.Outputs["out"]; ok {
		return out, nil
	}
	return "", fmt.Errorf("%s has no out path", job.DrvPath)
}

// nixLog is the payload of an "@nix {...}" internal-json log line.
type nixLog struct {
	Action string `json:"action"`
	Msg    string `json:"msg"`
	Text   string `json:"text"`
}

// nixLogLines forwards readable messages from nix's internal-json stderr.
func nixLogLines(p *progress.Service) func(shell.Stream, string) {
	if p == nil {
		return nil
	}
	return func(stream shell.Stream, line string) {
		if stream != shell.Stderr {
			return
		}
		if msg, ok := parseNixLog(line); ok {
			p.Line(msg)
		}
	}
}

func parseNixLog(line string) (string, bool) {
	payload, ok := strings.CutPrefix(line, "@nix ")
	if !ok {
		line = strings.TrimSpace(line)
		return line, line != ""
	}
	var l nixLog
	if err := json.Unmarshal([]byte(payload), &l); err != nil {
		return "", false
	}
	switch {
	case l.Action == "msg" && l.Msg != "":
		return l.Msg, true
	case l.Action == "start" && l.Text != "":
		return l.Text, true
	default:
		return "", false
	}
}
