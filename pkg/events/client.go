// Package events reports build progress to an external build-events API.
package events

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steigerbuild/steiger/pkg/git"
	steigerhttp "github.com/steigerbuild/steiger/pkg/http"
)

const (
	EndpointEnvVar = "STEIGER_BUILD_EVENTS_ENDPOINT"
	TokenEnvVar    = "STEIGER_BUILD_EVENTS_TOKEN"
)

// Tags describe where a build came from.
type Tags struct {
	GitRev         string  `json:"git.rev"`
	GitRefname     string  `json:"git.refname"`
	GithubRepo     *string `json:"github.repo"`
	GithubWorkflow *string `json:"github.workflow"`
}

// TagsFor builds Tags from a repository state and the GitHub Actions environment.
func TagsFor(state git.State) Tags {
	return Tags{
		GitRev:         state.Commit,
		GitRefname:     state.Ref,
		GithubRepo:     lookupEnv("GITHUB_REPOSITORY"),
		GithubWorkflow: lookupEnv("GITHUB_WORKFLOW"),
	}
}

func lookupEnv(key string) *string {
	if v, ok := os.LookupEnv(key); ok {
		return &v
	}
	return nil
}

type CreateBuildRequest struct {
	Target string `json:"target"`
	Tags   Tags   `json:"tags"`
}

type createBuildResponse struct {
	ID uuid.UUID `json:"id"`
}

// Elapsed is a duration as seconds plus nanoseconds.
type Elapsed struct {
	Secs  uint64 `json:"secs"`
	Nanos uint32 `json:"nanos"`
}

func NewElapsed(d time.Duration) Elapsed {
	return Elapsed{Secs: uint64(d / time.Second), Nanos: uint32(d % time.Second)}
}

// Event is one of the kinds "progress", "artifact" or "completed".
type Event struct {
	Kind string `json:"kind"`

	Phase   string `json:"phase,omitempty"`
	Total   int64  `json:"total,omitempty"`
	Current int64  `json:"current,omitempty"`

	URI string `json:"uri,omitempty"`

	Elapsed *Elapsed `json:"elapsed,omitempty"`
}

func ProgressEvent(phase string, current, total int64) Event {
	return Event{Kind: "progress", Phase: phase, Current: current, Total: total}
}

func ArtifactEvent(uri string) Event {
	return Event{Kind: "artifact", URI: uri}
}

func CompletedEvent(d time.Duration) Event {
	e := NewElapsed(d)
	return Event{Kind: "completed", Elapsed: &e}
}

type createEventRequest struct {
	Event Event `json:"event"`
}

// ErrorResponse is the body of a failed API call.
type ErrorResponse struct {
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: steigerhttp.NewClient(map[string]string{
			steigerhttp.AuthorizationHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(token)),
		}),
	}
}

// FromEnv returns a client when both the endpoint and token variables are set.
func FromEnv() *Client {
	endpoint, token := os.Getenv(EndpointEnvVar), os.Getenv(TokenEnvVar)
	if endpoint == "" || token == "" {
		return nil
	}
	return NewClient(endpoint, token)
}

func (c *Client) CreateBuild(ctx context.Context, req CreateBuildRequest) (uuid.UUID, error) {
	var resp createBuildResponse
	if err := c.post(ctx, c.baseURL+"/builds", req, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.ID, nil
}

func (c *Client) CreateEvent(ctx context.Context, build uuid.UUID, event Event) error {
	return c.post(ctx, fmt.Sprintf("%s/builds/%s/events", c.baseURL, build), createEventRequest{Event: event}, nil)
}

func (c *Client) post(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &ErrorResponse{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to deserialize response: %w", err)
	}
	return nil
}
