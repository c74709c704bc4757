// Package registry pushes built images, skipping those the destination already holds.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	steigerhttp "github.com/steigerbuild/steiger/pkg/http"
	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/util"
	"github.com/steigerbuild/steiger/pkg/util/console"
)

// Status is what EnsurePushed did with an image.
type Status string

const (
	// Pushed means the image was uploaded.
	Pushed Status = "pushed"
	// Skipped means the registry already held the digest.
	Skipped Status = "skipped"
)

// PushOutcome describes where an image ended up.
type PushOutcome struct {
	Status Status
	// Reference is the repository the image lives in, e.g. "ghcr.io/acme/api".
	Reference string
	Digest    v1.Hash
	// Tag is the human tag pointing at Digest, if one was requested.
	Tag string
	// Retagged is set when a skipped image had its tag moved to Digest.
	Retagged bool
}

// Options control one EnsurePushed call.
type Options struct {
	// Tag, when set, is pointed at the image's digest.
	Tag string
	// Insecure forces plain HTTP for this push.
	Insecure bool
	// Progress receives upload progress. Optional.
	Progress *progress.Service
}

// Client checks and pushes images. It is safe for concurrent use.
type Client struct {
	provider CredentialProvider
	insecure map[string]bool
	backoff  remote.Backoff
	jobs     int
	// transport overrides the HTTP transport. Nil means remote.DefaultTransport.
	transport http.RoundTripper
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithInsecureRegistries allows plain HTTP for the given hosts.
func WithInsecureRegistries(hosts ...string) ClientOption {
	return func(c *Client) {
		for _, h := range hosts {
			c.insecure[h] = true
		}
	}
}

// WithBackoff replaces DefaultRetryBackoff.
func WithBackoff(b remote.Backoff) ClientOption {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithTransport sets the HTTP transport used for every request.
func WithTransport(t http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.transport = t
	}
}

// NewClient creates a client authenticating with provider. A nil provider is anonymous.
func NewClient(provider CredentialProvider, opts ...ClientOption) *Client {
	if provider == nil {
		provider = Anonymous
	}
	c := &Client{
		provider: provider,
		insecure: map[string]bool{"localhost": true, "127.0.0.1": true},
		backoff:  DefaultRetryBackoff(),
		jobs:     pushConcurrency(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryBackoff retries 5 times with exponential backoff starting at 2 seconds.
func DefaultRetryBackoff() remote.Backoff {
	return remote.Backoff{
		Duration: 2 * time.Second,
		Factor:   2.0,
		Jitter:   0.1,
		Steps:    5,
	}
}

func pushConcurrency() int {
	n := util.GetEnvOrDefault("STEIGER_PUSH_CONCURRENCY", 4, strconv.Atoi)
	if n < 1 {
		return 4
	}
	return n
}

// EnsurePushed makes repo/<image name>@<digest> exist in the registry,
// uploading img only when the registry does not already have it.
func (c *Client) EnsurePushed(ctx context.Context, img *image.Image, repo string, opts Options) (*PushOutcome, error) {
	target := strings.TrimSuffix(repo, "/") + "/" + img.Name

	repository, err := c.repository(target, opts.Insecure)
	if err != nil {
		return nil, &PushError{Image: img.Name, Reference: target, Cause: err}
	}

	outcome := &PushOutcome{
		Reference: repository.Name(),
		Digest:    img.Digest,
		Tag:       opts.Tag,
	}
	remoteOpts := c.remoteOptions(ctx)
	digestRef := repository.Digest(img.Digest.String())

	present, err := c.exists(digestRef, img.Digest, remoteOpts)
	if err != nil {
		return nil, &PushError{Image: img.Name, Reference: digestRef.String(), Cause: err}
	}

	if present {
		console.Debugf("%s already present, skipping push", digestRef)
		outcome.Status = Skipped
		if opts.Tag != "" {
			retagged, err := c.retag(repository.Tag(opts.Tag), img, remoteOpts)
			if err != nil {
				return nil, &PushError{Image: img.Name, Reference: repository.Tag(opts.Tag).String(), Cause: err}
			}
			outcome.Retagged = retagged
		}
		return outcome, nil
	}

	var ref name.Reference = digestRef
	if opts.Tag != "" {
		ref = repository.Tag(opts.Tag)
	}
	if err := c.write(ref, img, opts.Progress, remoteOpts); err != nil {
		return nil, &PushError{Image: img.Name, Reference: ref.String(), Cause: err}
	}
	outcome.Status = Pushed
	return outcome, nil
}

func (c *Client) repository(target string, insecure bool) (name.Repository, error) {
	repository, err := name.NewRepository(target)
	if err != nil {
		return name.Repository{}, fmt.Errorf("parsing repository: %w", err)
	}
	if insecure || c.isInsecure(repository.RegistryStr()) {
		return name.NewRepository(target, name.Insecure)
	}
	return repository, nil
}

func (c *Client) isInsecure(host string) bool {
	if c.insecure[host] {
		return true
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		return c.insecure[h]
	}
	return false
}

func (c *Client) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(keychain{ctx: ctx, provider: c.provider}),
		remote.WithRetryBackoff(c.backoff),
		remote.WithRetryPredicate(isRetryableError),
		remote.WithUserAgent(steigerhttp.UserAgent()),
		remote.WithJobs(c.jobs),
	}
	if c.transport != nil {
		opts = append(opts, remote.WithTransport(c.transport))
	}
	return opts
}

// exists HEADs ref. Not-found answers mean absent; auth rejections and
// transport failures are errors.
func (c *Client) exists(ref name.Reference, want v1.Hash, opts []remote.Option) (bool, error) {
	desc, err := remote.Head(ref, opts...)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		if isAuthError(err) {
			return false, fmt.Errorf("registry rejected credentials: %w", err)
		}
		return false, fmt.Errorf("checking for existing image: %w", err)
	}
	return desc.Digest == want, nil
}

// retag points tag at img when it points anywhere else. The manifest's
// blobs are already present, so this is a single manifest PUT.
func (c *Client) retag(tag name.Tag, img *image.Image, opts []remote.Option) (bool, error) {
	current, err := c.exists(tag, img.Digest, opts)
	if err != nil {
		return false, err
	}
	if current {
		return false, nil
	}
	console.Debugf("moving %s to %s", tag, img.Digest)
	if err := remote.Tag(tag, img.Image, opts...); err != nil {
		return false, fmt.Errorf("tagging: %w", err)
	}
	return true, nil
}

func (c *Client) write(ref name.Reference, img *image.Image, p *progress.Service, opts []remote.Option) error {
	if p == nil {
		return remote.Write(ref, img.Image, opts...)
	}

	updates := make(chan v1.Update, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			if u.Error != nil {
				continue
			}
			p.Progress("pushing "+img.Name, u.Complete, u.Total)
		}
	}()

	// remote.Write closes updates once it has started writing.
	err := remote.Write(ref, img.Image, append(opts, remote.WithProgress(updates))...)
	if err == nil {
		<-done
	}
	return err
}
