package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/steigerbuild/steiger/pkg/util/shell"
)

// Handler answers one command. Returning a nil result means empty output.
type Handler func(ctx context.Context, cmd shell.Command) (*shell.Result, error)

// FakeRunner records every command and answers them with handlers keyed by
// a prefix of "name arg1 arg2...". The longest matching prefix wins.
type FakeRunner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	commands []shell.Command
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{handlers: map[string]Handler{}}
}

// On registers h for commands starting with prefix.
func (r *FakeRunner) On(prefix string, h Handler) *FakeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = h
	return r
}

// OnOutput registers a handler returning stdout.
func (r *FakeRunner) OnOutput(prefix string, stdout string) *FakeRunner {
	return r.On(prefix, func(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
		return &shell.Result{Stdout: []byte(stdout)}, nil
	})
}

// OnError registers a handler failing with err.
func (r *FakeRunner) OnError(prefix string, err error) *FakeRunner {
	return r.On(prefix, func(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
		return &shell.Result{}, err
	})
}

func (r *FakeRunner) Run(ctx context.Context, cmd shell.Command) (*shell.Result, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	line := cmd.String()
	var best string
	var handler Handler
	for prefix, h := range r.handlers {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &shell.Result{}, err
	}
	if handler == nil {
		return &shell.Result{}, nil
	}
	res, err := handler(ctx, cmd)
	if res == nil {
		res = &shell.Result{}
	}
	return res, err
}

// Commands returns the command lines run so far.
func (r *FakeRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c.String())
	}
	return out
}

// Count returns how many commands started with prefix.
func (r *FakeRunner) Count(prefix string) int {
	n := 0
	for _, c := range r.Commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
