package throttle

// State represents the terminal state of a job.
type State string

const (
	// StateSucceeded means the job's thunk returned a value.
	StateSucceeded State = "succeeded"
	// StateAborted means the throttle died before the job started; its
	// thunk was never invoked.
	StateAborted State = "aborted"
	// StateFailed means the job's thunk returned or panicked with an error.
	StateFailed State = "failed"
)

// Outcome is the terminal result of a job. Exactly one of the three states
// is assigned to a given job, exactly once.
type Outcome[T any] struct {
	state State
	value T
	err   error
}

// Succeeded builds a successful Outcome carrying v.
func Succeeded[T any](v T) Outcome[T] {
	return Outcome[T]{state: StateSucceeded, value: v}
}

// Aborted builds the Outcome of a job discarded before it started.
func Aborted[T any]() Outcome[T] {
	return Outcome[T]{state: StateAborted}
}

// Failed builds the Outcome of a job whose thunk failed with err.
func Failed[T any](err error) Outcome[T] {
	return Outcome[T]{state: StateFailed, err: err}
}

// State returns the outcome's terminal state.
func (o Outcome[T]) State() State { return o.state }

// Value returns the success value; it is the zero value unless the state
// is StateSucceeded.
func (o Outcome[T]) Value() T { return o.value }

// Err returns the failure error; it is nil unless the state is StateFailed.
func (o Outcome[T]) Err() error { return o.err }

// Unpack collapses the outcome into Go's usual (value, error) shape:
// the value for StateSucceeded, the job's error for StateFailed, and
// ErrAborted for StateAborted.
func (o Outcome[T]) Unpack() (T, error) {
	switch o.state {
	case StateSucceeded:
		return o.value, nil
	case StateAborted:
		var zero T
		return zero, ErrAborted
	default:
		var zero T
		return zero, o.err
	}
}
