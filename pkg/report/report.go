// Package report collects per-service outcomes of a run and renders the build manifest.
package report

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/steigerbuild/steiger/pkg/config"
)

var (
	ErrDuplicateEntry = errors.New("service already recorded")
	ErrUnknownService = errors.New("service is not part of this run")
	ErrFrozen         = errors.New("report is frozen")
)

// ImageRef names one image in a registry, by tag when it has one.
type ImageRef struct {
	// Repository is the full image repository, e.g. "ghcr.io/acme/api".
	Repository string
	Tag        string
	Digest     string
}

// String is "repo:tag" when a human tag exists, otherwise "repo@digest".
func (r ImageRef) String() string {
	if r.Tag != "" {
		return r.Repository + ":" + r.Tag
	}
	return r.Repository + "@" + r.Digest
}

// PushStatus says what happened to an artifact after it was built.
type PushStatus string

const (
	StatusBuilt   PushStatus = "built"
	StatusPushed  PushStatus = "pushed"
	StatusSkipped PushStatus = "skipped"
)

// Artifact is one image produced by a service.
type Artifact struct {
	ImageName string
	Ref       ImageRef
	Status    PushStatus
}

// Entry is the outcome of one service. Err is set when it failed.
type Entry struct {
	Service   string
	Backend   config.BuildKind
	Artifacts []Artifact
	Duration  time.Duration
	Err       error
}

func (e Entry) Failed() bool {
	return e.Err != nil
}

// RunReport holds exactly one entry per service of a run.
type RunReport struct {
	mu       sync.Mutex
	services []string
	entries  map[string]Entry
	frozen   bool
}

// New creates an empty report expecting an entry for each of services.
func New(services []string) *RunReport {
	sorted := slices.Clone(services)
	sort.Strings(sorted)
	return &RunReport{services: sorted, entries: map[string]Entry{}}
}

// Record stores e. Each service may be recorded once.
func (r *RunReport) Record(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	if _, ok := slices.BinarySearch(r.services, e.Service); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, e.Service)
	}
	if _, ok := r.entries[e.Service]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Service)
	}
	r.entries[e.Service] = e
	return nil
}

// Has reports whether service has been recorded.
func (r *RunReport) Has(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[service]
	return ok
}

// Freeze stops further recording. It fails if any service has no entry.
func (r *RunReport) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var missing []string
	for _, s := range r.services {
		if _, ok := r.entries[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no outcome recorded for %s", strings.Join(missing, ", "))
	}
	r.frozen = true
	return nil
}

// Entries returns all entries ordered by service name.
func (r *RunReport) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, s := range r.services {
		if e, ok := r.entries[s]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Failures returns the failed entries ordered by service name.
func (r *RunReport) Failures() []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Failed() {
			out = append(out, e)
		}
	}
	return out
}

// Succeeded reports whether every service built (and pushed) successfully.
func (r *RunReport) Succeeded() bool {
	return len(r.Failures()) == 0
}
