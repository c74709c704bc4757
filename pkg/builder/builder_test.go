package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/util/shell/shelltest"
)

type funcBuilder func(ctx context.Context, bctx *Context) ([]*image.Image, error)

func (f funcBuilder) Build(ctx context.Context, bctx *Context) ([]*image.Image, error) {
	return f(ctx, bctx)
}

func TestSetCreatesEachBackendOnce(t *testing.T) {
	s := NewSet(shelltest.NewFakeRunner())

	for _, kind := range config.Kinds {
		a, err := s.For(kind)
		require.NoError(t, err)
		b, err := s.For(kind)
		require.NoError(t, err)
		assert.Same(t, a, b, kind.String())
	}

	_, err := s.For(config.BuildKind("make"))
	require.ErrorContains(t, err, `unknown build type "make"`)
}

func TestSetBuildWrapsErrors(t *testing.T) {
	s := NewSet(shelltest.NewFakeRunner())
	cause := errors.New("exit status 1")
	s.Set(config.KindKo, funcBuilder(func(ctx context.Context, bctx *Context) ([]*image.Image, error) {
		return nil, cause
	}))

	svc := &config.Service{Name: "api", Build: config.NewKoBuild(config.KoBuild{})}
	_, err := s.Build(context.Background(), &Context{Service: svc, Platform: platform.LinuxAMD64})

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, "api", buildErr.Service)
	assert.Equal(t, config.KindKo, buildErr.Backend)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ko build of api failed: exit status 1", err.Error())
}

func TestSetBuildRejectsEmptyOutput(t *testing.T) {
	s := NewSet(shelltest.NewFakeRunner())
	s.Set(config.KindKo, funcBuilder(func(ctx context.Context, bctx *Context) ([]*image.Image, error) {
		return nil, nil
	}))

	svc := &config.Service{Name: "api", Build: config.NewKoBuild(config.KoBuild{})}
	_, err := s.Build(context.Background(), &Context{Service: svc, Platform: platform.LinuxAMD64})
	require.ErrorContains(t, err, "produced no images")
}
