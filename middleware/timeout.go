package middleware

import (
	"context"
	"time"

	"github.com/DavidAlphaFox/async-kernel/throttle"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// A context.WithTimeout wraps the handler call; when the deadline is
// exceeded the context is cancelled and a well-behaved thunk returns
// context.DeadlineExceeded, resolving the job Failed. The throttle core
// itself stays timeout-free: this is strictly an outer layer.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *throttle.JobMeta, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
