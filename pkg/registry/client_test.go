package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	ggcrregistry "github.com/google/go-containerregistry/pkg/registry"
	"github.com/google/go-containerregistry/pkg/v1/random"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steigerbuild/steiger/pkg/image"
	"github.com/steigerbuild/steiger/pkg/progress"
)

// countingRegistry serves an in-memory registry and counts write traffic.
type countingRegistry struct {
	handler http.Handler

	mu           sync.Mutex
	uploads      int
	manifestPuts int
}

func (r *countingRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	switch {
	case req.Method == http.MethodPost && strings.Contains(req.URL.Path, "/blobs/uploads/"):
		r.uploads++
	case req.Method == http.MethodPut && strings.Contains(req.URL.Path, "/manifests/"):
		r.manifestPuts++
	}
	r.mu.Unlock()
	r.handler.ServeHTTP(w, req)
}

func (r *countingRegistry) counts() (uploads, manifestPuts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uploads, r.manifestPuts
}

func newTestRegistry(t *testing.T) (*countingRegistry, string) {
	t.Helper()
	reg := &countingRegistry{handler: ggcrregistry.New()}
	server := httptest.NewServer(reg)
	t.Cleanup(server.Close)
	return reg, strings.TrimPrefix(server.URL, "http://") + "/acme"
}

func newTestImage(t *testing.T, name string) *image.Image {
	t.Helper()
	img, err := random.Image(512, 2)
	require.NoError(t, err)
	out, err := image.New(name, img, "")
	require.NoError(t, err)
	return out
}

func fastBackoff() remote.Backoff {
	return remote.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 3}
}

func TestEnsurePushedSkipsPresentDigest(t *testing.T) {
	reg, repo := newTestRegistry(t)
	client := NewClient(nil, WithBackoff(fastBackoff()))
	img := newTestImage(t, "api")
	ctx := context.Background()

	first, err := client.EnsurePushed(ctx, img, repo, Options{})
	require.NoError(t, err)
	require.Equal(t, Pushed, first.Status)
	require.Equal(t, repo+"/api", first.Reference)
	require.Equal(t, img.Digest, first.Digest)

	uploads, puts := reg.counts()
	require.Positive(t, uploads)
	require.Equal(t, 1, puts)

	second, err := client.EnsurePushed(ctx, img, repo, Options{})
	require.NoError(t, err)
	require.Equal(t, Skipped, second.Status)
	require.Equal(t, img.Digest, second.Digest)

	uploadsAfter, putsAfter := reg.counts()
	assert.Equal(t, uploads, uploadsAfter, "no blob uploads for a present digest")
	assert.Equal(t, puts, putsAfter, "no manifest writes for a present digest")
}

func TestEnsurePushedWithTag(t *testing.T) {
	_, repo := newTestRegistry(t)
	client := NewClient(nil, WithBackoff(fastBackoff()))
	img := newTestImage(t, "web")

	outcome, err := client.EnsurePushed(context.Background(), img, repo, Options{Tag: "latest"})
	require.NoError(t, err)
	require.Equal(t, Pushed, outcome.Status)
	require.Equal(t, "latest", outcome.Tag)

	ref, err := name.ParseReference(repo + "/web:latest")
	require.NoError(t, err)
	desc, err := remote.Head(ref)
	require.NoError(t, err)
	require.Equal(t, img.Digest, desc.Digest)
}

func TestSkippedImageIsRetagged(t *testing.T) {
	reg, repo := newTestRegistry(t)
	client := NewClient(nil, WithBackoff(fastBackoff()))
	ctx := context.Background()
	a := newTestImage(t, "worker")
	b := newTestImage(t, "worker")

	_, err := client.EnsurePushed(ctx, a, repo, Options{Tag: "latest"})
	require.NoError(t, err)
	_, err = client.EnsurePushed(ctx, b, repo, Options{Tag: "latest"})
	require.NoError(t, err)

	uploads, puts := reg.counts()

	outcome, err := client.EnsurePushed(ctx, a, repo, Options{Tag: "latest"})
	require.NoError(t, err)
	require.Equal(t, Skipped, outcome.Status)
	require.True(t, outcome.Retagged)

	uploadsAfter, putsAfter := reg.counts()
	assert.Equal(t, uploads, uploadsAfter)
	assert.Equal(t, puts+1, putsAfter)

	ref, err := name.ParseReference(repo + "/worker:latest")
	require.NoError(t, err)
	desc, err := remote.Head(ref)
	require.NoError(t, err)
	require.Equal(t, a.Digest, desc.Digest)

	again, err := client.EnsurePushed(ctx, a, repo, Options{Tag: "latest"})
	require.NoError(t, err)
	require.False(t, again.Retagged)
}

func TestEnsurePushedReportsProgress(t *testing.T) {
	_, repo := newTestRegistry(t)
	client := NewClient(nil, WithBackoff(fastBackoff()))
	img := newTestImage(t, "api")
	rec := &progress.Recorder{}

	_, err := client.EnsurePushed(context.Background(), img, repo, Options{Progress: progress.For(rec, "api")})
	require.NoError(t, err)
	require.NotEmpty(t, rec.Messages("api", progress.Progress))
}

func TestAuthRejectionIsPushError(t *testing.T) {
	var mu sync.Mutex
	manifestRequests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if strings.Contains(r.URL.Path, "/manifests/") {
			mu.Lock()
			manifestRequests++
			mu.Unlock()
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(nil, WithBackoff(fastBackoff()))
	img := newTestImage(t, "api")
	repo := strings.TrimPrefix(server.URL, "http://") + "/acme"

	_, err := client.EnsurePushed(context.Background(), img, repo, Options{})
	require.Error(t, err)

	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	require.Equal(t, "api", pushErr.Image)
	require.True(t, isAuthError(err))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, manifestRequests)
}

func TestIsRetryableError(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", &transport.Error{StatusCode: http.StatusServiceUnavailable}, true},
		{"too many requests", &transport.Error{StatusCode: http.StatusTooManyRequests}, true},
		{"unauthorized", &transport.Error{StatusCode: http.StatusUnauthorized}, false},
		{"denied", &transport.Error{Errors: []transport.Diagnostic{{Code: transport.DeniedErrorCode}}}, false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(&transport.Error{StatusCode: http.StatusNotFound}))
	require.True(t, isNotFound(&transport.Error{Errors: []transport.Diagnostic{{Code: transport.ManifestUnknownErrorCode}}}))
	require.False(t, isNotFound(&transport.Error{StatusCode: http.StatusInternalServerError}))
}

func TestInsecureRegistries(t *testing.T) {
	client := NewClient(nil, WithInsecureRegistries("registry.internal"))

	require.True(t, client.isInsecure("registry.internal:5000"))
	require.True(t, client.isInsecure("localhost:5000"))
	require.False(t, client.isInsecure("ghcr.io"))

	repository, err := client.repository("registry.internal:5000/acme/api", false)
	require.NoError(t, err)
	require.Equal(t, "http", repository.Scheme())
}

type staticProvider map[string]*Credentials

func (p staticProvider) Credentials(_ context.Context, host string) (*Credentials, error) {
	return p[host], nil
}

func TestKeychainResolvesProviderCredentials(t *testing.T) {
	kc := keychain{ctx: context.Background(), provider: staticProvider{
		"ghcr.io": {Username: "bot", Password: "s3cret"},
	}}

	auth, err := kc.Resolve(name.MustParseReference("ghcr.io/acme/api").Context())
	require.NoError(t, err)
	cfg, err := auth.Authorization()
	require.NoError(t, err)
	require.Equal(t, "bot", cfg.Username)
	require.Equal(t, "s3cret", cfg.Password)

	anon, err := kc.Resolve(name.MustParseReference("quay.io/acme/api").Context())
	require.NoError(t, err)
	cfg, err = anon.Authorization()
	require.NoError(t, err)
	require.Empty(t, cfg.Username)
}
