package docker

import (
	"fmt"
	"os"

	dconfig "github.com/docker/cli/cli/config"
	dctxdocker "github.com/docker/cli/cli/context/docker"
	dctxstore "github.com/docker/cli/cli/context/store"
	"github.com/docker/docker/client"

	"github.com/steigerbuild/steiger/pkg/util/console"
)

// Endpoint is the docker daemon buildx builds against.
type Endpoint struct {
	Host string
	// Context names the docker context Host came from. Empty for DOCKER_HOST
	// and the platform default.
	Context string
}

func (e Endpoint) String() string {
	if e.Context == "" {
		return e.Host
	}
	return fmt.Sprintf("%s (context %s)", e.Host, e.Context)
}

// ResolveEndpoint finds the daemon the docker CLI would use: DOCKER_HOST,
// then the selected context, then the platform default socket.
func ResolveEndpoint() (Endpoint, error) {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return Endpoint{Host: host}, nil
	}

	explicit := os.Getenv("DOCKER_CONTEXT")
	ep, err := contextEndpoint(explicit)
	switch {
	case err != nil && explicit != "":
		return Endpoint{}, fmt.Errorf("docker context %s: %w", explicit, err)
	case err != nil:
		console.Debugf("ignoring docker context: %v", err)
	case ep.Host != "":
		return ep, nil
	}
	return Endpoint{Host: client.DefaultDockerHost}, nil
}

// contextEndpoint reads the docker endpoint of the named context, or of the
// current one when name is empty. The default context has no endpoint.
func contextEndpoint(name string) (Endpoint, error) {
	if name == "" {
		cf, err := dconfig.Load(dconfig.Dir())
		if err != nil {
			return Endpoint{}, err
		}
		name = cf.CurrentContext
	}
	if name == "" || name == "default" {
		return Endpoint{}, nil
	}

	metaType := func() any { return &dctxdocker.EndpointMeta{} }
	store := dctxstore.New(dconfig.ContextStoreDir(), dctxstore.NewConfig(metaType, dctxstore.EndpointTypeGetter(dctxdocker.DockerEndpoint, metaType)))
	meta, err := store.GetMetadata(name)
	if err != nil {
		return Endpoint{}, err
	}

	raw, ok := meta.Endpoints[dctxdocker.DockerEndpoint]
	if !ok {
		return Endpoint{}, fmt.Errorf("context %s has no docker endpoint", name)
	}
	docker, ok := raw.(dctxdocker.EndpointMeta)
	if !ok || docker.Host == "" {
		return Endpoint{}, fmt.Errorf("context %s has no docker host", name)
	}
	return Endpoint{Host: docker.Host, Context: name}, nil
}
