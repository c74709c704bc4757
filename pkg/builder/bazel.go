package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// outputExpr prints each target as a JSON [label, first output path] pair.
const outputExpr = "json.encode([str(target.label), target.files.to_list()[0].path])"

// BazelBuilder builds bazel targets whose default output is an OCI layout,
// then asks bazel where those outputs are.
type BazelBuilder struct {
	runner shell.Runner
	binary string
}

func NewBazelBuilder(runner shell.Runner) *BazelBuilder {
	return &BazelBuilder{runner: runner, binary: shell.Binary("bazel", "bazel", "bazelisk")}
}

func (b *BazelBuilder) Build(ctx context.Context, bctx *Context) ([]*image.Image, error) {
	svc := bctx.Service
	spec := svc.Build.Bazel()
	if spec == nil {
		return nil, fmt.Errorf("service %s is not a bazel build", svc.Name)
	}

	platformFlags, err := bazelPlatformFlags(spec, bctx.Platform)
	if err != nil {
		return nil, err
	}

	artifacts := svc.Artifacts()
	labels := make([]string, len(artifacts))
	for i, a := range artifacts {
		labels[i] = spec.Targets[a]
	}

	bctx.Progress.Start("building %d bazel target(s) for %s", len(labels), bctx.Platform)
	buildArgs := append(append([]string{"build"}, platformFlags...), labels...)
	if _, err := b.runner.Run(ctx, shell.Command{
		Name:   b.binary,
		Args:   buildArgs,
		Dir:    bctx.WorkDir,
		OnLine: forwardLines(bctx.Progress),
	}); err != nil {
		return nil, err
	}

	queryArgs := append(append([]string{"cquery"}, platformFlags...),
		unionQuery(labels),
		"--output=starlark",
		"--starlark:expr="+outputExpr,
	)
	res, err := b.runner.Run(ctx, shell.Command{Name: b.binary, Args: queryArgs, Dir: bctx.WorkDir})
	if err != nil {
		return nil, err
	}
	outputs, err := parseCqueryOutput(res.Stdout)
	if err != nil {
		return nil, err
	}

	images := make([]*image.Image, 0, len(artifacts))
	for _, artifact := range artifacts {
		label := spec.Targets[artifact]
		output, ok := outputs[canonicalLabel(label)]
		if !ok {
			return nil, &MissingArtifactError{Artifact: artifact, Target: label}
		}
		if !filepath.IsAbs(output) {
			output = filepath.Join(bctx.WorkDir, output)
		}
		img, err := loadImage(svc.ImageName(artifact), output, bctx.Platform)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", artifact, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// bazelPlatformFlags maps p through the service's platform table. An empty
// table builds for bazel's default platform; a table without p is an error.
func bazelPlatformFlags(spec *config.BazelBuild, p platform.Platform) ([]string, error) {
	if len(spec.Platforms) == 0 {
		return nil, nil
	}
	for key, label := range spec.Platforms {
		mapped, err := platform.Parse(key)
		if err != nil {
			return nil, err
		}
		if mapped == p {
			return []string{"--platforms=" + label}, nil
		}
	}
	return nil, fmt.Errorf("no bazel platform configured for %s", p)
}

func unionQuery(labels []string) string {
	quoted := make([]string, len(labels))
	for i, l := range labels {
		quoted[i] = strconv.Quote(l)
	}
	return strings.Join(quoted, " union ")
}

// parseCqueryOutput maps canonical labels to output paths.
func parseCqueryOutput(out []byte) (map[string]string, error) {
	outputs := map[string]string{}
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var pair []string
		if err := json.Unmarshal(line, &pair); err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("unexpected cquery output %q", line)
		}
		outputs[canonicalLabel(pair[0])] = pair[1]
	}
	return outputs, nil
}

// canonicalLabel normalises "@@//a/b:b", "@//a/b" and "//a/b" to "//a/b:b".
func canonicalLabel(label string) string {
	label = strings.TrimSpace(label)
	for _, prefix := range []string{"@@//", "@//"} {
		if strings.HasPrefix(label, prefix) {
			label = "//" + strings.TrimPrefix(label, prefix)
		}
	}
	if !strings.Contains(label, ":") {
		label += ":" + path.Base(label)
	}
	return label
}
