package throttle

import (
	"log/slog"

	"golang.org/x/time/rate"
)

// Option configures a Throttle.
type Option func(*config)

type config struct {
	continueOnError bool
	logger          *slog.Logger
	limiter         *rate.Limiter
	middleware      []Middleware
}

func defaultConfig() config {
	return config{
		logger: slog.Default(),
	}
}

// WithContinueOnError controls failure propagation. When false (the
// default) a failing job kills the throttle: the backlog is aborted and
// further enqueues are rejected. When true a failure affects only its own
// job's outcome.
func WithContinueOnError(continueOnError bool) Option {
	return func(c *config) { c.continueOnError = continueOnError }
}

// WithLogger sets the structured logger for the throttle.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRateLimit caps sustained job admissions per second with a
// token-bucket limiter. Admission is delayed, never reordered: the queue
// head waits for the next token. burst defaults to 1 if not positive.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *config) {
		if perSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMiddleware appends middleware run around every job's thunk, first
// middleware outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(c *config) { c.middleware = append(c.middleware, mws...) }
}
