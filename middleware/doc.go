// Package middleware provides composable middleware for throttled job
// execution.
//
// A [Middleware] is a function that wraps a job handler. Middleware are
// composed into a chain using [Chain] or handed to a throttle with
// throttle.WithMiddleware, and run around each job's thunk. They are
// applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → thunk
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job name, id, duration, and outcome at each execution
//   - [Recover] — catches panics, logs the stack, and converts them to errors
//   - [Timeout] — cancels the job context after a configured duration
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-job duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, m *throttle.JobMeta, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, deadline already passed).
package middleware
