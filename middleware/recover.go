package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/DavidAlphaFox/async-kernel/throttle"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace, so the
// failing job resolves Failed instead of tearing the stack down silently.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *throttle.JobMeta, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job thunk panicked",
					slog.String("job_name", m.Name),
					slog.String("job_id", m.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in job %s: %v", m.ID.String(), r)
			}
		}()
		return next(ctx)
	}
}
