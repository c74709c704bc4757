package registry

import (
	"context"

	"github.com/google/go-containerregistry/pkg/authn"
)

// Credentials authenticate against one registry host. Either a
// username/password pair, a pre-encoded Auth string or a token is set.
type Credentials struct {
	Username      string
	Password      string
	Auth          string
	IdentityToken string
	RegistryToken string
}

// CredentialProvider looks up credentials for a registry host. A nil
// result with no error means anonymous access.
type CredentialProvider interface {
	Credentials(ctx context.Context, host string) (*Credentials, error)
}

// Anonymous never supplies credentials.
var Anonymous CredentialProvider = anonymous{}

type anonymous struct{}

func (anonymous) Credentials(context.Context, string) (*Credentials, error) {
	return nil, nil
}

// keychain adapts a CredentialProvider to go-containerregistry's authn.Keychain.
type keychain struct {
	ctx      context.Context
	provider CredentialProvider
}

func (k keychain) Resolve(res authn.Resource) (authn.Authenticator, error) {
	creds, err := k.provider.Credentials(k.ctx, res.RegistryStr())
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return authn.Anonymous, nil
	}
	return authn.FromConfig(authn.AuthConfig{
		Username:      creds.Username,
		Password:      creds.Password,
		Auth:          creds.Auth,
		IdentityToken: creds.IdentityToken,
		RegistryToken: creds.RegistryToken,
	}), nil
}
