// Package builder turns a service's build description into images on disk.
package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// Context is everything a backend needs to build one service.
type Context struct {
	Service  *config.Service
	Platform platform.Platform
	// WorkDir is the directory relative paths in the service are resolved against.
	WorkDir string
	// OutDir is a scratch directory owned by this build. It must outlive the
	// returned images, which may read their blobs from it lazily.
	OutDir   string
	Progress *progress.Service
}

// Builder builds one kind of service. Implementations are shared across
// services and must be safe for concurrent use.
type Builder interface {
	Build(ctx context.Context, bctx *Context) ([]*image.Image, error)
}

// BuildError is a failed service build, whatever the backend.
type BuildError struct {
	Service string
	Backend config.BuildKind
	Cause   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s build of %s failed: %v", e.Backend, e.Service, e.Cause)
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// MissingArtifactError is a target the backend reported building but whose
// output could not be found.
type MissingArtifactError struct {
	Artifact string
	Target   string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("no output found for artifact %s (%s)", e.Artifact, e.Target)
}

// Set holds one lazily created builder per backend kind.
type Set struct {
	runner shell.Runner
	// DockerPreflight, when set, runs once before the first context build.
	DockerPreflight func(ctx context.Context) error

	mu       sync.Mutex
	builders map[config.BuildKind]Builder
}

func NewSet(runner shell.Runner) *Set {
	return &Set{runner: runner, builders: map[config.BuildKind]Builder{}}
}

// For returns the builder for kind, creating it on first use.
func (s *Set) For(kind config.BuildKind) (Builder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.builders[kind]; ok {
		return b, nil
	}

	var b Builder
	switch kind {
	case config.KindDocker:
		b = NewDockerBuilder(s.runner, s.DockerPreflight)
	case config.KindBazel:
		b = NewBazelBuilder(s.runner)
	case config.KindKo:
		b = NewKoBuilder(s.runner)
	case config.KindNix:
		b = NewNixBuilder(s.runner)
	default:
		return nil, fmt.Errorf("unknown build type %q", kind)
	}
	s.builders[kind] = b
	return b, nil
}

// Set overrides the builder used for kind.
func (s *Set) Set(kind config.BuildKind, b Builder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builders[kind] = b
}

// Build builds bctx.Service with its backend. Every failure is a *BuildError.
func (s *Set) Build(ctx context.Context, bctx *Context) ([]*image.Image, error) {
	svc := bctx.Service
	kind := svc.Build.Kind()
	if bctx.Progress == nil {
		bctx.Progress = progress.For(nil, svc.Name)
	}

	b, err := s.For(kind)
	if err != nil {
		return nil, &BuildError{Service: svc.Name, Backend: kind, Cause: err}
	}

	images, err := b.Build(ctx, bctx)
	if err != nil {
		var buildErr *BuildError
		if errors.As(err, &buildErr) {
			return nil, err
		}
		return nil, &BuildError{Service: svc.Name, Backend: kind, Cause: err}
	}
	if len(images) == 0 {
		return nil, &BuildError{Service: svc.Name, Backend: kind, Cause: errors.New("build produced no images")}
	}
	return images, nil
}

// forwardLines streams tool output into the service's progress.
func forwardLines(p *progress.Service) func(shell.Stream, string) {
	if p == nil {
		return nil
	}
	return func(_ shell.Stream, line string) {
		p.Line(line)
	}
}

func loadImage(name, path string, p platform.Platform) (*image.Image, error) {
	img, err := image.Load(path, p)
	if err != nil {
		return nil, err
	}
	return image.New(name, img, path)
}
