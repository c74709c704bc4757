package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/steigerbuild/steiger/pkg/progress"
	"github.com/steigerbuild/steiger/pkg/report"
	"github.com/steigerbuild/steiger/pkg/util/console"
)

const queueSize = 64

// Reporter is a progress.Sink posting service completions to the events API.
// Delivery failures are logged and never fail the run.
type Reporter struct {
	client *Client
	ID     uuid.UUID

	total    int64
	finished atomic.Int64
	start    time.Time

	mu     sync.Mutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// Start registers a build for target expecting services completions.
func Start(ctx context.Context, client *Client, target string, tags Tags, services int) (*Reporter, error) {
	id, err := client.CreateBuild(ctx, CreateBuildRequest{Target: target, Tags: tags})
	if err != nil {
		return nil, err
	}
	console.Debugf("reporting build events as %s", id)

	r := &Reporter{
		client: client,
		ID:     id,
		total:  int64(services),
		start:  time.Now(),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go r.deliver(context.WithoutCancel(ctx))
	return r, nil
}

func (r *Reporter) deliver(ctx context.Context) {
	defer close(r.done)
	for e := range r.queue {
		if err := r.client.CreateEvent(ctx, r.ID, e); err != nil {
			console.Warnf("Failed to report %s build event: %v", e.Kind, err)
		}
	}
}

func (r *Reporter) send(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		console.Debugf("build event queue full, dropping %s event", e.Kind)
	}
}

func (r *Reporter) Emit(e progress.Event) {
	switch e.Kind {
	case progress.Finished, progress.Failed:
		if e.Service == "" {
			return
		}
		n := r.finished.Add(1)
		r.send(ProgressEvent("build", n, r.total))
	}
}

// Artifacts reports every image of m.
func (r *Reporter) Artifacts(m report.Manifest) {
	for _, b := range m.Builds {
		r.send(ArtifactEvent(b.Tag))
	}
}

// Close reports completion and waits for queued events to be delivered.
func (r *Reporter) Close() {
	r.send(CompletedEvent(time.Since(r.start)))

	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
