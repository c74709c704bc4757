package builder

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/steigerbuild/steiger/pkg/global"
	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/util/files"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// DockerBuilder builds Dockerfile services with buildx, exporting an OCI
// layout instead of loading the result into the daemon.
type DockerBuilder struct {
	runner   shell.Runner
	binary   string
	instance *Instance

	preflight     func(ctx context.Context) error
	preflightOnce *sharedOnce
}

func NewDockerBuilder(runner shell.Runner, preflight func(ctx context.Context) error) *DockerBuilder {
	binary := shell.Binary("docker")
	// A daemon that is down stays down for this run.
	return &DockerBuilder{
		runner:        runner,
		binary:        binary,
		instance:      NewInstance(runner, binary, global.BuilderName, global.BuilderDriver),
		preflight:     preflight,
		preflightOnce: &sharedOnce{timeout: instanceTimeout, keepErrors: true},
	}
}

// Instance exposes the shared buildx builder.
func (d *DockerBuilder) Instance() *Instance {
	return d.instance
}

func (d *DockerBuilder) Build(ctx context.Context, bctx *Context) ([]*image.Image, error) {
	if d.preflight != nil {
		if err := d.preflightOnce.Do(ctx, d.preflight); err != nil {
			return nil, err
		}
	}

	if err := d.instance.Ensure(ctx); err != nil {
		return nil, err
	}

	args, err := d.buildArgs(bctx)
	if err != nil {
		return nil, err
	}

	bctx.Progress.Start("building %s with buildx", bctx.Platform)
	if _, err := d.runner.Run(ctx, shell.Command{
		Name:   d.binary,
		Args:   args,
		Dir:    bctx.WorkDir,
		OnLine: forwardLines(bctx.Progress),
	}); err != nil {
		return nil, err
	}

	img, err := loadImage(bctx.Service.Name, d.outputDir(bctx), bctx.Platform)
	if err != nil {
		return nil, err
	}
	return []*image.Image{img}, nil
}

func (d *DockerBuilder) outputDir(bctx *Context) string {
	return filepath.Join(bctx.OutDir, "oci")
}

func (d *DockerBuilder) buildArgs(bctx *Context) ([]string, error) {
	spec := bctx.Service.Build.Docker()
	if spec == nil {
		return nil, fmt.Errorf("service %s is not a docker build", bctx.Service.Name)
	}

	contextDir, err := files.Resolve(bctx.WorkDir, spec.Context)
	if err != nil {
		return nil, err
	}
	dockerfile := filepath.Join(contextDir, "Dockerfile")
	if spec.Dockerfile != "" {
		dockerfile, err = files.Resolve(bctx.WorkDir, spec.Dockerfile)
		if err != nil {
			return nil, err
		}
	}

	args := []string{
		"buildx", "build",
		"--builder", d.instance.Name,
		"--platform", bctx.Platform.String(),
		"--output", "type=oci,dest=" + d.outputDir(bctx) + ",tar=false",
		"--file", dockerfile,
	}
	for _, k := range sortedKeys(spec.BuildArgs) {
		args = append(args, "--build-arg", k+"="+spec.BuildArgs[k])
	}
	for _, h := range sortedKeys(spec.Hosts) {
		args = append(args, "--add-host", h+":"+spec.Hosts[h])
	}
	return append(args, contextDir), nil
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
