package workpool

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Fn is the unit of work a pool executes. Implementations should honour
// ctx so that cancellation and pool shutdown can interrupt them; a task
// that ignores ctx is simply abandoned in place and its eventual result
// discarded.
type Fn func(ctx context.Context) (any, error)

// Task is the handle returned by Submit. It can be cancelled or awaited;
// ownership of the result passes to the caller on completion.
type Task struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	done      chan struct{}
	finished  bool
	cancelled bool
	result    any
	err       error
}

func newTask(parent context.Context) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the opaque task identifier.
func (t *Task) ID() string { return t.id }

// Done returns a channel closed when the task has finished, failed or was
// cancelled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel requests cancellation. It reports whether the request was issued
// before the task completed; a true return does not guarantee the work
// stopped, only that its result will be discarded.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished || t.cancelled {
		return false
	}
	t.cancelled = true
	t.cancel()
	return true
}

// Wait blocks until the task completes or ctx expires. On completion it
// returns the task's result and error; on expiry it returns ctx's error.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.cancelled {
			return nil, context.Canceled
		}
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wasCancelled reports whether Cancel was called before completion.
func (t *Task) wasCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// finish records the outcome and releases all waiters. Subsequent calls
// are ignored so a task can never complete twice.
func (t *Task) finish(result any, err error) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.result = result
	t.err = err
	t.mu.Unlock()
	t.cancel()
	close(t.done)
}
