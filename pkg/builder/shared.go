package builder

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// sharedOnce runs a setup step once for every concurrent caller. The step
// runs detached from any single caller's context, bounded by timeout, so a
// caller giving up neither fails the others nor keeps them waiting.
type sharedOnce struct {
	timeout time.Duration
	// keepErrors remembers failures as well as success. Context errors are
	// never remembered.
	keepErrors bool

	group singleflight.Group

	mu   sync.Mutex
	done bool
	err  error
}

func (o *sharedOnce) result() (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done, o.err
}

func (o *sharedOnce) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if done, err := o.result(); done {
		return err
	}

	ch := o.group.DoChan("", func() (interface{}, error) {
		if done, err := o.result(); done {
			return nil, err
		}
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()

		err := fn(runCtx)
		if err == nil || (o.keepErrors && !isContextError(err)) {
			o.mu.Lock()
			o.done, o.err = true, err
			o.mu.Unlock()
		}
		return nil, err
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
