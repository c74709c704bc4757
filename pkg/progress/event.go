// Package progress carries build and push events from services to whatever renders them.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/steigerbuild/steiger/pkg/util/console"
)

// Kind classifies an event.
type Kind int

const (
	// Log is a line of tool output or an informational message.
	Log Kind = iota
	// Started marks a service entering a phase, e.g. building or pushing.
	Started
	// Progress reports bytes transferred for a push.
	Progress
	// Finished marks a service completing successfully.
	Finished
	// Failed marks a service giving up.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Log:
		return "log"
	case Started:
		return "started"
	case Progress:
		return "progress"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one observation about a service. Service is empty for run-wide events.
type Event struct {
	Service string
	Kind    Kind
	Level   console.Level
	Message string

	Current int64
	Total   int64

	Time time.Time
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Service binds a sink to one service so callers don't repeat the name.
type Service struct {
	Sink Sink
	Name string
}

func For(sink Sink, service string) *Service {
	if sink == nil {
		sink = Discard
	}
	return &Service{Sink: sink, Name: service}
}

func (s *Service) emit(e Event) {
	e.Service = s.Name
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.Sink.Emit(e)
}

func (s *Service) Logf(level console.Level, format string, args ...interface{}) {
	s.emit(Event{Kind: Log, Level: level, Message: fmt.Sprintf(format, args...)})
}

// Line forwards one line of tool output at debug level.
func (s *Service) Line(line string) {
	s.emit(Event{Kind: Log, Level: console.DebugLevel, Message: line})
}

func (s *Service) Start(format string, args ...interface{}) {
	s.emit(Event{Kind: Started, Level: console.InfoLevel, Message: fmt.Sprintf(format, args...)})
}

func (s *Service) Progress(message string, current, total int64) {
	s.emit(Event{Kind: Progress, Level: console.DebugLevel, Message: message, Current: current, Total: total})
}

func (s *Service) Finish(format string, args ...interface{}) {
	s.emit(Event{Kind: Finished, Level: console.InfoLevel, Message: fmt.Sprintf(format, args...)})
}

func (s *Service) Fail(err error) {
	s.emit(Event{Kind: Failed, Level: console.ErrorLevel, Message: err.Error()})
}

// Recorder keeps every event in memory. Useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Messages returns the messages of events of kind k for service.
func (r *Recorder) Messages(service string, k Kind) []string {
	var out []string
	for _, e := range r.Events() {
		if e.Service == service && e.Kind == k {
			out = append(out, e.Message)
		}
	}
	return out
}
