package executor

import (
	"context"
	"sync"
)

// Future is the deferred result of a submitted task.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Completed returns a future that is already done with err.
func Completed(err error) *Future {
	f := newFuture()
	f.complete(err)
	return f
}

// NewPromise returns a pending future and the func that completes it.
// Only the first completion takes effect.
func NewPromise() (*Future, func(error)) {
	f := newFuture()
	return f, f.complete
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the task has finished or was abandoned.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the task's error. Only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
