package middleware

import (
	"context"

	"github.com/DavidAlphaFox/async-kernel/throttle"
)

// Handler is the terminal function that executes job logic.
type Handler = throttle.Handler

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the metadata of the job being executed, and the next
// handler to call.
type Middleware = throttle.Middleware

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, m *throttle.JobMeta, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, m, prev)
			}
		}
		return h(ctx)
	}
}
