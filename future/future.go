package future

import (
	"context"
	"sync"
)

// state is the cell shared by a Promise/Future pair. The done channel is
// closed exactly once, after value/err are set, so readers may access them
// without the mutex once Done is observed.
type state[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	resolved  bool
	value     T
	err       error
	callbacks []func(T, error)
}

// Promise is the write side of a one-shot asynchronous result.
type Promise[T any] struct {
	st *state[T]
}

// Future is the read side of a one-shot asynchronous result.
type Future[T any] struct {
	st *state[T]
}

// New creates a linked Promise/Future pair.
func New[T any]() (*Promise[T], *Future[T]) {
	st := &state[T]{done: make(chan struct{})}
	return &Promise[T]{st: st}, &Future[T]{st: st}
}

// Resolved returns a Future already resolved with v.
func Resolved[T any](v T) *Future[T] {
	p, f := New[T]()
	p.Resolve(v)
	return f
}

// Rejected returns a Future already rejected with err.
func Rejected[T any](err error) *Future[T] {
	p, f := New[T]()
	p.Reject(err)
	return f
}

// Resolve settles the promise with a value. It reports whether this call
// settled the promise; false means it was already settled and this call
// had no effect.
func (p *Promise[T]) Resolve(v T) bool {
	return p.settle(v, nil)
}

// Reject settles the promise with an error. It reports whether this call
// settled the promise.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

// Future returns the read side of this promise.
func (p *Promise[T]) Future() *Future[T] {
	return &Future[T]{st: p.st}
}

func (p *Promise[T]) settle(v T, err error) bool {
	st := p.st

	st.mu.Lock()
	if st.resolved {
		st.mu.Unlock()
		return false
	}
	st.resolved = true
	st.value = v
	st.err = err
	cbs := st.callbacks
	st.callbacks = nil
	close(st.done)
	st.mu.Unlock()

	// Run continuations outside the lock; OnComplete may be called from
	// within a continuation.
	for _, cb := range cbs {
		cb(v, err)
	}
	return true
}

// Done returns a channel that is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.st.done
}

// Result blocks until the future is settled and returns its value or error.
func (f *Future[T]) Result() (T, error) {
	<-f.st.done
	return f.st.value, f.st.err
}

// Wait blocks until the future is settled or ctx ends. On ctx expiry the
// future itself is untouched; only this wait is abandoned.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.st.done:
		return f.st.value, f.st.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run when the future settles. If the future is
// already settled, fn runs immediately on the calling goroutine; otherwise
// it runs on the goroutine that settles the promise. fn must not block.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	st := f.st

	st.mu.Lock()
	if st.resolved {
		v, err := st.value, st.err
		st.mu.Unlock()
		fn(v, err)
		return
	}
	st.callbacks = append(st.callbacks, fn)
	st.mu.Unlock()
}
