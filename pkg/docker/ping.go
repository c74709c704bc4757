package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"

	"github.com/steigerbuild/steiger/pkg/util/console"
)

// Ping checks the docker daemon that buildx will talk to is reachable.
func Ping(ctx context.Context, timeout time.Duration) error {
	ep, err := ResolveEndpoint()
	if err != nil {
		return fmt.Errorf("failed to determine docker host: %w", err)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithHost(ep.Host), client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ping, err := cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping docker at %s, please try restarting the docker daemon: %w", ep, err)
	}
	console.Debugf("docker daemon at %s is up (API %s)", ep, ping.APIVersion)

	return nil
}

// Preflight returns a Ping bound to timeout, suitable as a builder preflight.
func Preflight(timeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return Ping(ctx, timeout)
	}
}
