package throttle

import (
	"context"
	"time"

	"github.com/DavidAlphaFox/async-kernel/future"
	"github.com/DavidAlphaFox/async-kernel/id"
)

// Thunk is a unit of asynchronous work. It is invoked at most once, on the
// goroutine the throttle starts for it, and must honour ctx for blocking
// operations.
type Thunk[T any] func(ctx context.Context) (T, error)

// JobMeta carries a job's identity and lifecycle timestamps. It is what
// middleware and log lines see; the typed thunk and outcome stay on the Job.
type JobMeta struct {
	ID         id.JobID
	Name       string
	EnqueuedAt time.Time
	StartedAt  time.Time
}

// JobOption configures a Job at construction.
type JobOption func(*JobMeta)

// WithJobName sets a human-readable name used in logs, metrics, and spans.
func WithJobName(name string) JobOption {
	return func(m *JobMeta) { m.Name = name }
}

// Job wraps a thunk together with the cell its Outcome is resolved into.
// Create one with NewJob, hand it to a throttle with EnqueueJob, and
// observe it through Result. After submission the throttle owns the job's
// lifecycle; the caller keeps only the Result future.
type Job[T any] struct {
	meta    JobMeta
	thunk   Thunk[T]
	promise *future.Promise[Outcome[T]]
	result  *future.Future[Outcome[T]]

	// seq and enqueued are assigned by the owning throttle, under its lock.
	seq      uint64
	enqueued bool
}

// NewJob wraps thunk into a Job with an empty outcome cell. The thunk is
// not invoked until a throttle admits the job.
func NewJob[T any](thunk Thunk[T], opts ...JobOption) *Job[T] {
	p, f := future.New[Outcome[T]]()
	j := &Job[T]{
		meta:    JobMeta{ID: id.NewJobID()},
		thunk:   thunk,
		promise: p,
		result:  f,
	}
	for _, opt := range opts {
		opt(&j.meta)
	}
	return j
}

// Result returns a future resolving to the job's Outcome. Every call
// returns a view of the same cell; all observers see the same value.
func (j *Job[T]) Result() *future.Future[Outcome[T]] {
	return j.result
}

// Meta returns a snapshot of the job's metadata. EnqueuedAt and StartedAt
// are zero until the corresponding lifecycle point has been reached.
func (j *Job[T]) Meta() JobMeta {
	return j.meta
}

// resolve settles the job's outcome cell. The throttle's state machine
// reaches this exactly once per job; the promise's first-wins semantics
// back that up for observers.
func (j *Job[T]) resolve(out Outcome[T]) {
	j.promise.Resolve(out)
}
