package docker

import (
	"context"
	"io"

	"github.com/docker/cli/cli/config"
	"github.com/docker/cli/cli/config/configfile"
	"github.com/docker/cli/cli/config/types"

	"github.com/steigerbuild/steiger/pkg/registry"
	"github.com/steigerbuild/steiger/pkg/util/console"
)

// dockerHubConfigKey is the key docker login stores Docker Hub credentials under.
const dockerHubConfigKey = "https://index.docker.io/v1/"

// ConfigCredentials reads registry credentials the way the docker CLI does:
// from ~/.docker/config.json (or $DOCKER_CONFIG), including credsStore and
// credHelpers entries that delegate to docker-credential-* helpers.
type ConfigCredentials struct {
	conf *configfile.ConfigFile
}

// LoadConfigCredentials loads the default docker config file. A missing
// file yields a provider that answers anonymous for every host.
func LoadConfigCredentials() *ConfigCredentials {
	return &ConfigCredentials{conf: config.LoadDefaultConfigFile(io.Discard)}
}

// NewConfigCredentials uses an already loaded config file.
func NewConfigCredentials(conf *configfile.ConfigFile) *ConfigCredentials {
	return &ConfigCredentials{conf: conf}
}

// Credentials returns the credentials for host, or nil for anonymous access.
func (c *ConfigCredentials) Credentials(_ context.Context, host string) (*registry.Credentials, error) {
	key := host
	if host == "index.docker.io" || host == "docker.io" {
		key = dockerHubConfigKey
	}

	auth, err := c.conf.GetAuthConfig(key)
	if err != nil {
		console.Warnf("Failed to load credentials for %s, continuing anonymously: %v", host, err)
		return nil, nil
	}
	if isEmpty(auth) {
		console.Debugf("no credentials configured for %s", host)
		return nil, nil
	}

	console.Debugf("using docker credentials for %s", host)
	return &registry.Credentials{
		Username:      auth.Username,
		Password:      auth.Password,
		Auth:          auth.Auth,
		IdentityToken: auth.IdentityToken,
		RegistryToken: auth.RegistryToken,
	}, nil
}

func isEmpty(auth types.AuthConfig) bool {
	return auth.Username == "" && auth.Password == "" && auth.Auth == "" &&
		auth.IdentityToken == "" && auth.RegistryToken == ""
}
