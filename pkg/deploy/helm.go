package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ettle/strcase"
	"github.com/hashicorp/go-version"
	"sigs.k8s.io/yaml"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/report"
	"github.com/steigerbuild/steiger/pkg/util/files"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

const minHelmVersion = ">= 3.0.0"

// HelmDeployer runs `helm upgrade --install` for helm releases.
type HelmDeployer struct {
	runner shell.Runner
	binary string
	dir    string

	versionOnce sync.Once
	versionErr  error
}

func NewHelmDeployer(runner shell.Runner, dir string) *HelmDeployer {
	return &HelmDeployer{runner: runner, binary: shell.Binary("helm"), dir: dir}
}

func (h *HelmDeployer) Validate(ctx context.Context, release *config.Release) error {
	if err := h.checkVersion(ctx); err != nil {
		return err
	}
	chart, err := files.Resolve(h.dir, release.Helm.Path)
	if err != nil {
		return err
	}
	isDir, err := files.IsDir(chart)
	if err != nil {
		return fmt.Errorf("failed to locate helm chart: %w", err)
	}
	if !isDir {
		return fmt.Errorf("helm chart at '%s' is not a directory", release.Helm.Path)
	}
	return nil
}

func (h *HelmDeployer) checkVersion(ctx context.Context) error {
	h.versionOnce.Do(func() {
		res, err := h.runner.Run(ctx, shell.Command{
			Name: h.binary,
			Args: []string{"version", "--template", "{{.Version}}"},
		})
		if err != nil {
			h.versionErr = fmt.Errorf("failed to run helm: %w", err)
			return
		}
		h.versionErr = checkHelmVersion(strings.TrimSpace(string(res.Stdout)))
	})
	return h.versionErr
}

func checkHelmVersion(raw string) error {
	v, err := version.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("unrecognised helm version %q: %w", raw, err)
	}
	constraint, err := version.NewConstraint(minHelmVersion)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("helm %s is too old, steiger needs helm %s", v, minHelmVersion)
	}
	return nil
}

func (h *HelmDeployer) Deploy(ctx context.Context, release *config.Release, m report.Manifest, p *progress.Service) error {
	spec := release.Helm
	chart, err := files.Resolve(h.dir, spec.Path)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "steiger-helm-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	imageValues := filepath.Join(tmp, "images.yaml")
	if err := writeImageValues(imageValues, m); err != nil {
		return err
	}

	args := []string{"upgrade", "--install", release.Name, chart}
	if spec.Namespace != "" {
		args = append(args, "--namespace", spec.Namespace)
	}
	if spec.Timeout > 0 {
		args = append(args, "--timeout", spec.Timeout.String())
	}
	args = append(args, "--values", imageValues)
	for _, f := range spec.ValuesFiles {
		path, err := files.Resolve(h.dir, f)
		if err != nil {
			return err
		}
		args = append(args, "--values", path)
	}
	keys := make([]string, 0, len(spec.Values))
	for k := range spec.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--set", k+"="+spec.Values[k])
	}

	p.Start("upgrade/install helm release")
	if _, err := h.runner.Run(ctx, shell.Command{
		Name: h.binary,
		Args: args,
		Dir:  h.dir,
		OnLine: func(_ shell.Stream, line string) {
			p.Line(line)
		},
	}); err != nil {
		return fmt.Errorf("failed to run 'helm upgrade': %w", err)
	}
	return nil
}

type imageValue struct {
	Image string `json:"image"`
}

// writeImageValues writes {steiger: {<camelCaseImageName>: {image: <tag>}}}.
func writeImageValues(path string, m report.Manifest) error {
	images := map[string]imageValue{}
	for _, b := range m.Builds {
		images[strcase.ToCamel(b.ImageName)] = imageValue{Image: b.Tag}
	}
	data, err := yaml.Marshal(map[string]any{"steiger": images})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
