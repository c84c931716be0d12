// Package oneshot provides a single-use result slot shared by a manager and
// one waiting caller.
package oneshot

import (
	"context"
	"sync/atomic"
)

const (
	stateWaiting int32 = iota
	stateCompleted
	stateAbandoned
)

type result[T any] struct {
	value T
	err   error
}

// Waiter carries exactly one result from the goroutine completing it to the
// goroutine waiting on it. Whichever of Complete and abandonment happens first
// wins; the loser observes it.
type Waiter[T any] struct {
	state atomic.Int32
	ch    chan result[T]
}

// New creates a waiter.
func New[T any]() *Waiter[T] {
	return &Waiter[T]{ch: make(chan result[T], 1)}
}

// Complete stores the result. It never blocks and returns false if the caller
// already gave up waiting or the waiter was completed before.
func (w *Waiter[T]) Complete(value T, err error) bool {
	if !w.state.CompareAndSwap(stateWaiting, stateCompleted) {
		return false
	}
	w.ch <- result[T]{value: value, err: err}
	return true
}

// Abandoned reports whether the waiting caller gave up.
func (w *Waiter[T]) Abandoned() bool {
	return w.state.Load() == stateAbandoned
}

// Wait blocks until the waiter is completed, ctx ends, or done is closed.
// If done is closed first, doneErr is returned.
func (w *Waiter[T]) Wait(ctx context.Context, done <-chan struct{}, doneErr error) (T, error) {
	select {
	case r := <-w.ch:
		return r.value, r.err
	case <-ctx.Done():
		return w.abandon(ctx.Err())
	case <-done:
		return w.abandon(doneErr)
	}
}

func (w *Waiter[T]) abandon(err error) (T, error) {
	if w.state.CompareAndSwap(stateWaiting, stateAbandoned) {
		var zero T
		return zero, err
	}
	// Completed concurrently; the result is already buffered.
	r := <-w.ch
	return r.value, r.err
}
