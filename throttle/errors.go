package throttle

import "errors"

var (
	// ErrDead is returned by the enqueue operations once the throttle has
	// died. Death is permanent; callers must not treat this as transient.
	ErrDead = errors.New("throttle: throttle is dead")

	// ErrAborted surfaces on a value future when its job was discarded at
	// throttle death without ever starting.
	ErrAborted = errors.New("throttle: job aborted before it started")

	// ErrInvalidConcurrency is returned by New when the concurrency bound
	// is less than one.
	ErrInvalidConcurrency = errors.New("throttle: max concurrent jobs must be at least 1")

	// ErrNilThunk is returned when a job without work is enqueued.
	ErrNilThunk = errors.New("throttle: nil thunk")

	// ErrJobAlreadyEnqueued is returned when a Job is handed to a throttle
	// more than once.
	ErrJobAlreadyEnqueued = errors.New("throttle: job already enqueued")
)
