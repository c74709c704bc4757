package builder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steigerbuild/steiger/pkg/config"
	"github.com/steigerbuild/steiger/pkg/platform"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/util/shell"
	"github.com/steigerbuild/steiger/pkg/util/shell/shelltest"
)

func TestDockerBuildArgs(t *testing.T) {
	t.Setenv("STEIGER_DOCKER_BINARY", "docker")

	for _, tc := range []struct {
		name     string
		spec     config.DockerBuild
		expected []string
	}{
		{
			name: "defaults",
			spec: config.DockerBuild{},
			expected: []string{
				"buildx", "build",
				"--builder", "steiger",
				"--platform", "linux/arm64",
				"--output", "type=oci,dest=/out/oci,tar=false",
				"--file", "/src/Dockerfile",
				"/src",
			},
		},
		{
			name: "dockerfile, build args and hosts",
			spec: config.DockerBuild{
				Context:    "./frontend",
				Dockerfile: "docker/frontend.Dockerfile",
				BuildArgs:  map[string]string{"VERSION": "1.0", "API": "https://x"},
				Hosts:      map[string]string{"db": "10.0.0.2"},
			},
			expected: []string{
				"buildx", "build",
				"--builder", "steiger",
				"--platform", "linux/arm64",
				"--output", "type=oci,dest=/out/oci,tar=false",
				"--file", "/src/docker/frontend.Dockerfile",
				"--build-arg", "API=https://x",
				"--build-arg", "VERSION=1.0",
				"--add-host", "db:10.0.0.2",
				"/src/frontend",
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDockerBuilder(shelltest.NewFakeRunner(), nil)
			svc := &config.Service{Name: "frontend", Build: config.NewDockerBuild(tc.spec)}
			args, err := d.buildArgs(&Context{Service: svc, Platform: platform.LinuxARM64, WorkDir: "/src", OutDir: "/out"})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, args)
		})
	}
}

func TestDockerBuild(t *testing.T) {
	t.Setenv("STEIGER_DOCKER_BINARY", "docker")

	runner := shelltest.NewFakeRunner().
		OnOutput("docker buildx ls", "").
		On("docker buildx build", layoutWriter(t, buildxDest, platform.LinuxAMD64))

	d := NewDockerBuilder(runner, nil)
	rec := &progress.Recorder{}
	svc := &config.Service{Name: "frontend", Build: config.NewDockerBuild(config.DockerBuild{})}
	bctx := newContext(t, svc, platform.LinuxAMD64, rec)

	images, err := d.Build(context.Background(), bctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "frontend", images[0].Name)
	assert.Equal(t, filepath.Join(bctx.OutDir, "oci"), images[0].Source)

	assert.Equal(t, 1, runner.Count("docker buildx create --driver=docker-container --name=steiger"))
	assert.NotEmpty(t, rec.Messages("frontend", progress.Started))
}

func TestDockerBuildPreflightRunsOnce(t *testing.T) {
	t.Setenv("STEIGER_DOCKER_BINARY", "docker")
	calls := 0
	d := NewDockerBuilder(shelltest.NewFakeRunner(), func(ctx context.Context) error {
		calls++
		return errors.New("docker daemon not reachable")
	})
	svc := &config.Service{Name: "frontend", Build: config.NewDockerBuild(config.DockerBuild{})}

	for i := 0; i < 2; i++ {
		_, err := d.Build(context.Background(), newContext(t, svc, platform.LinuxAMD64, nil))
		require.ErrorContains(t, err, "not reachable")
	}
	assert.Equal(t, 1, calls)
}

func TestInstanceCreatedOnceUnderConcurrency(t *testing.T) {
	runner := shelltest.NewFakeRunner().
		On("docker buildx ls", func(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
			time.Sleep(50 * time.Millisecond)
			return &shell.Result{Stdout: []byte(`{"Name":"default","Driver":"docker"}`)}, nil
		})
	instance := NewInstance(runner, "docker", "steiger", "docker-container")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- instance.Ensure(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, instance.Creates())
	assert.Equal(t, 1, runner.Count("docker buildx create"))

	// Remembered: no more commands.
	before := len(runner.Commands())
	require.NoError(t, instance.Ensure(context.Background()))
	assert.Len(t, runner.Commands(), before)
}

func TestInstanceAlreadyExists(t *testing.T) {
	runner := shelltest.NewFakeRunner().
		OnOutput("docker buildx ls", "{\"Name\":\"default\"}\n{\"Name\":\"steiger\"}\n")
	instance := NewInstance(runner, "docker", "steiger", "docker-container")

	require.NoError(t, instance.Ensure(context.Background()))
	assert.Equal(t, 0, instance.Creates())
}

func TestInstanceCreateRaceLost(t *testing.T) {
	runner := shelltest.NewFakeRunner().
		OnOutput("docker buildx ls", "[]").
		OnError("docker buildx create", &shell.ExitError{Command: "docker", Code: 1, Stderr: `ERROR: existing instance for "steiger" but no append mode`})
	instance := NewInstance(runner, "docker", "steiger", "docker-container")

	require.NoError(t, instance.Ensure(context.Background()))
}

func TestInstanceCreateFailureIsRetried(t *testing.T) {
	runner := shelltest.NewFakeRunner().
		OnOutput("docker buildx ls", "").
		OnError("docker buildx create", &shell.ExitError{Command: "docker", Code: 1, Stderr: "permission denied"})
	instance := NewInstance(runner, "docker", "steiger", "docker-container")

	require.ErrorContains(t, instance.Ensure(context.Background()), "permission denied")
	require.Error(t, instance.Ensure(context.Background()))
	assert.Equal(t, 2, instance.Creates())
}

func TestParseBuildxLs(t *testing.T) {
	builders, err := parseBuildxLs([]byte(`[{"Name":"a"},{"Name":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, builders, 2)

	builders, err = parseBuildxLs([]byte("{\"Name\":\"a\"}\n\n{\"Name\":\"b\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, "b", builders[1].Name)

	_, err = parseBuildxLs([]byte("NAME/NODE DRIVER"))
	require.Error(t, err)
}

func TestInstanceCreationSurvivesCanceledCaller(t *testing.T) {
	listing := make(chan struct{})
	release := make(chan struct{})
	runner := shelltest.NewFakeRunner().
		On("docker buildx ls", func(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
			close(listing)
			select {
			case <-release:
			case <-ctx.Done():
				return &shell.Result{}, ctx.Err()
			}
			return &shell.Result{Stdout: []byte(`[]`)}, nil
		})
	instance := NewInstance(runner, "docker", "steiger", "docker-container")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- instance.Ensure(firstCtx) }()
	<-listing

	second := make(chan error, 1)
	go func() { second <- instance.Ensure(context.Background()) }()

	cancelFirst()
	select {
	case err := <-first:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller kept waiting for the shared creation")
	}

	close(release)
	require.NoError(t, <-second)
	assert.Equal(t, 1, instance.Creates())
	assert.Equal(t, 1, runner.Count("docker buildx ls"))
}

func TestDockerBuildPreflightRetriedAfterCancellation(t *testing.T) {
	t.Setenv("STEIGER_DOCKER_BINARY", "docker")
	calls := 0
	d := NewDockerBuilder(shelltest.NewFakeRunner(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})
	svc := &config.Service{Name: "frontend", Build: config.NewDockerBuild(config.DockerBuild{})}

	_, err := d.Build(context.Background(), newContext(t, svc, platform.LinuxAMD64, nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, d.preflightOnce.Do(context.Background(), d.preflight))
	require.NoError(t, d.preflightOnce.Do(context.Background(), d.preflight))
	assert.Equal(t, 2, calls)
}
