package throttle

import "context"

// Handler is the terminal function that executes a job's thunk.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the metadata of the job being executed, and the next
// handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
//
// The chain runs around the thunk itself, outside the throttle's lock, so
// middleware may block without stalling admission of other jobs.
type Middleware func(ctx context.Context, m *JobMeta, next Handler) error

// wrap composes the throttle's middleware around handler, first middleware
// outermost.
func wrap(mws []Middleware, m *JobMeta, handler Handler) Handler {
	h := handler
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		prev := h
		h = func(ctx context.Context) error {
			return mw(ctx, m, prev)
		}
	}
	return h
}
