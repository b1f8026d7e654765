package sequencer

import (
	"context"
	"log/slog"

	"github.com/DavidAlphaFox/async-kernel/future"
	"github.com/DavidAlphaFox/async-kernel/id"
	"github.com/DavidAlphaFox/async-kernel/throttle"
)

// Option configures a Sequencer.
type Option func(*config)

type config struct {
	continueOnError bool
	logger          *slog.Logger
}

// WithContinueOnError controls whether a failing operation kills the
// sequencer. The default is false: a failure aborts every later-enqueued
// operation, exactly as a throttle death.
func WithContinueOnError(continueOnError bool) Option {
	return func(c *config) { c.continueOnError = continueOnError }
}

// WithLogger sets the structured logger for the inner throttle.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Sequencer serializes operations over an owned state cell of type S.
// It is safe for concurrent use; at most one operation ever has access to
// the state at a time.
type Sequencer[S any] struct {
	id    id.SequencerID
	inner *throttle.Throttle[any]

	// state is read and written only inside operations admitted by the
	// bound-1 inner throttle, which serializes them.
	state S
}

// New creates a Sequencer owning initial as its state cell.
func New[S any](ctx context.Context, initial S, opts ...Option) *Sequencer[S] {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	inner, err := throttle.New[any](ctx, 1,
		throttle.WithContinueOnError(cfg.continueOnError),
		throttle.WithLogger(cfg.logger),
	)
	if err != nil {
		// Unreachable: the bound is hardwired to 1.
		panic(err)
	}

	return &Sequencer[S]{
		id:    id.NewSequencerID(),
		inner: inner,
		state: initial,
	}
}

// ID returns the sequencer's unique identifier.
func (q *Sequencer[S]) ID() id.SequencerID { return q.id }

// NumJobsWaitingToStart returns the number of enqueued operations that
// have not yet been given the state.
func (q *Sequencer[S]) NumJobsWaitingToStart() int {
	return q.inner.NumJobsWaitingToStart()
}

// Dead reports whether the sequencer has died.
func (q *Sequencer[S]) Dead() bool {
	return q.inner.Dead()
}

// Kill aborts all not-yet-started operations and rejects further enqueues.
// An operation currently holding the state completes normally.
func (q *Sequencer[S]) Kill() {
	q.inner.Kill()
}

// Enqueue schedules f with exclusive access to the sequencer's state.
// f receives the current state and returns the next state, a result, and
// an error; on error the state is left unchanged and, unless the sequencer
// was built with WithContinueOnError(true), the sequencer dies.
//
// The returned future resolves to f's result, fails with f's error, or
// fails with throttle.ErrAborted when the sequencer died before f ran.
// Enqueue itself returns throttle.ErrDead if the sequencer is already dead.
func Enqueue[S, R any](q *Sequencer[S], f func(ctx context.Context, state S) (S, R, error)) (*future.Future[R], error) {
	inner, err := q.inner.Enqueue(func(ctx context.Context) (any, error) {
		next, result, err := f(ctx, q.state)
		if err != nil {
			return nil, err
		}
		q.state = next
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	p, fut := future.New[R]()
	inner.OnComplete(func(v any, err error) {
		if err != nil {
			p.Reject(err)
			return
		}
		result, _ := v.(R)
		p.Resolve(result)
	})
	return fut, nil
}
