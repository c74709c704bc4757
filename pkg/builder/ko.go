package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// localRepo is the placeholder repository ko needs even when not pushing.
const localRepo = "ko.local"

// KoBuilder builds Go packages into images with ko.
type KoBuilder struct {
	runner shell.Runner
	binary string
}

func NewKoBuilder(runner shell.Runner) *KoBuilder {
	return &KoBuilder{runner: runner, binary: shell.Binary("ko")}
}

func (k *KoBuilder) Build(ctx context.Context, bctx *Context) ([]*image.Image, error) {
	spec := bctx.Service.Build.Ko()
	if spec == nil {
		return nil, fmt.Errorf("service %s is not a ko build", bctx.Service.Name)
	}

	out := filepath.Join(bctx.OutDir, "oci")
	var env []string
	if os.Getenv("KO_DOCKER_REPO") == "" {
		env = append(env, "KO_DOCKER_REPO="+localRepo)
	}

	bctx.Progress.Start("building %s with ko for %s", spec.ImportPath, bctx.Platform)
	if _, err := k.runner.Run(ctx, shell.Command{
		Name: k.binary,
		Args: []string{
			"build",
			"--push=false",
			"--platform", bctx.Platform.String(),
			"--oci-layout-path", out,
			spec.ImportPath,
		},
		Dir:    bctx.WorkDir,
		Env:    env,
		OnLine: forwardLines(bctx.Progress),
	}); err != nil {
		return nil, err
	}

	img, err := loadImage(bctx.Service.Name, out, bctx.Platform)
	if err != nil {
		return nil, err
	}
	return []*image.Image{img}, nil
}
