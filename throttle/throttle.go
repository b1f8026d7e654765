package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/DavidAlphaFox/async-kernel/future"
	"github.com/DavidAlphaFox/async-kernel/id"
)

// Throttle admits jobs into execution such that at most MaxConcurrentJobs
// run concurrently and jobs start in exactly enqueue order. It is safe for
// concurrent use.
//
// One mutex guards the pending queue, the running counter, and the death
// flag. Every admission step (capacity check, head pop, counter increment)
// and every death transition happens under that mutex as one indivisible
// step; the mutex is never held across a thunk, the middleware chain, or a
// future resolution.
type Throttle[T any] struct {
	id                id.ThrottleID
	ctx               context.Context
	maxConcurrentJobs int
	continueOnError   bool
	logger            *slog.Logger
	limiter           *rate.Limiter
	middleware        []Middleware

	mu         sync.Mutex
	pending    []*Job[T]
	running    int
	dead       bool
	nextSeq    uint64
	watchers   []*watcher
	admitTimer bool
}

// watcher tracks one PriorJobsDone snapshot: the jobs live at call time are
// exactly those with seq <= maxSeq that have not reached a terminal outcome.
type watcher struct {
	maxSeq    uint64
	remaining int
	promise   *future.Promise[struct{}]
}

// New creates a live, empty Throttle. maxConcurrentJobs must be at least 1;
// otherwise ErrInvalidConcurrency is returned. ctx is handed to every job's
// thunk; the throttle itself never cancels it.
func New[T any](ctx context.Context, maxConcurrentJobs int, opts ...Option) (*Throttle[T], error) {
	if maxConcurrentJobs < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidConcurrency, maxConcurrentJobs)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return &Throttle[T]{
		id:                id.NewThrottleID(),
		ctx:               ctx,
		maxConcurrentJobs: maxConcurrentJobs,
		continueOnError:   cfg.continueOnError,
		logger:            cfg.logger,
		limiter:           cfg.limiter,
		middleware:        cfg.middleware,
	}, nil
}

// ID returns the throttle's unique identifier.
func (t *Throttle[T]) ID() id.ThrottleID { return t.id }

// MaxConcurrentJobs returns the concurrency bound fixed at construction.
func (t *Throttle[T]) MaxConcurrentJobs() int { return t.maxConcurrentJobs }

// EnqueueJob appends j to the pending queue, preserving arrival order, and
// admits from the queue head if capacity allows. It returns ErrDead if the
// throttle has died; the job is then not enqueued and keeps its empty
// outcome cell.
func (t *Throttle[T]) EnqueueJob(j *Job[T]) error {
	if j == nil || j.thunk == nil {
		return ErrNilThunk
	}

	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return ErrDead
	}
	if j.enqueued {
		t.mu.Unlock()
		return ErrJobAlreadyEnqueued
	}
	j.enqueued = true
	j.seq = t.nextSeq
	t.nextSeq++
	j.meta.EnqueuedAt = time.Now()
	t.pending = append(t.pending, j)
	batch := t.admitLocked()
	t.mu.Unlock()

	t.logger.Debug("job enqueued",
		slog.String("throttle_id", t.id.String()),
		slog.String("job_id", j.meta.ID.String()),
		slog.String("job_name", j.meta.Name),
	)

	t.startBatch(batch)
	return nil
}

// Enqueue builds a Job from thunk, enqueues it, and returns a future of the
// job's value. Failure propagates as the job's error; abortion propagates
// as ErrAborted. It returns ErrDead synchronously if the throttle has died.
func (t *Throttle[T]) Enqueue(thunk Thunk[T], opts ...JobOption) (*future.Future[T], error) {
	j := NewJob(thunk, opts...)
	if err := t.EnqueueJob(j); err != nil {
		return nil, err
	}

	p, f := future.New[T]()
	j.Result().OnComplete(func(out Outcome[T], _ error) {
		if v, err := out.Unpack(); err != nil {
			p.Reject(err)
		} else {
			p.Resolve(v)
		}
	})
	return f, nil
}

// EnqueueOutcome is Enqueue but the returned future always resolves
// successfully, carrying the full Outcome as data. Use it to compose over
// failures and abortions without error handling.
func (t *Throttle[T]) EnqueueOutcome(thunk Thunk[T], opts ...JobOption) (*future.Future[Outcome[T]], error) {
	j := NewJob(thunk, opts...)
	if err := t.EnqueueJob(j); err != nil {
		return nil, err
	}
	return j.Result(), nil
}

// PriorJobsDone returns a future that resolves once every job that was
// pending or running at the moment of the call has reached a terminal
// outcome (Aborted counts). Jobs enqueued after the call never delay it.
func (t *Throttle[T]) PriorJobsDone() *future.Future[struct{}] {
	t.mu.Lock()
	outstanding := t.running + len(t.pending)
	if outstanding == 0 {
		t.mu.Unlock()
		return future.Resolved(struct{}{})
	}
	p, f := future.New[struct{}]()
	t.watchers = append(t.watchers, &watcher{
		maxSeq:    t.nextSeq - 1,
		remaining: outstanding,
		promise:   p,
	})
	t.mu.Unlock()
	return f
}

// NumJobsWaitingToStart returns the current pending-queue length.
func (t *Throttle[T]) NumJobsWaitingToStart() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// NumJobsRunning returns the number of started, not-yet-terminal jobs.
func (t *Throttle[T]) NumJobsRunning() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Dead reports whether the throttle has died. Death is monotonic.
func (t *Throttle[T]) Dead() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dead
}

// Kill puts the throttle into its terminal dead state: the backlog resolves
// Aborted without running and all later enqueues fail with ErrDead. Jobs
// already running are not interrupted. Kill is idempotent.
func (t *Throttle[T]) Kill() {
	t.mu.Lock()
	if t.dead {
		t.mu.Unlock()
		return
	}
	var fired []*future.Promise[struct{}]
	drained := t.killLocked(&fired)
	t.mu.Unlock()

	t.logger.Info("throttle killed",
		slog.String("throttle_id", t.id.String()),
		slog.Int("jobs_aborted", len(drained)),
	)
	t.settleAborted(drained, fired)
}

// ──────────────────────────────────────────────────
// State machine internals
// ──────────────────────────────────────────────────

// admitLocked pops jobs from the queue head while capacity and liveness
// allow, marking each started. Callers must hold t.mu and start the
// returned batch after unlocking.
func (t *Throttle[T]) admitLocked() []*Job[T] {
	if t.dead {
		return nil
	}

	var batch []*Job[T]
	for t.running < t.maxConcurrentJobs && len(t.pending) > 0 {
		if t.limiter != nil {
			res := t.limiter.Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				t.scheduleAdmitLocked(delay)
				break
			}
		}

		j := t.pending[0]
		t.pending[0] = nil
		t.pending = t.pending[1:]
		t.running++
		j.meta.StartedAt = time.Now()
		batch = append(batch, j)
	}
	return batch
}

// scheduleAdmitLocked re-runs admission once the rate limiter will hand out
// the next token. At most one retry is in flight at a time.
func (t *Throttle[T]) scheduleAdmitLocked(delay time.Duration) {
	if t.admitTimer {
		return
	}
	t.admitTimer = true
	time.AfterFunc(delay, func() {
		t.mu.Lock()
		t.admitTimer = false
		batch := t.admitLocked()
		t.mu.Unlock()
		t.startBatch(batch)
	})
}

func (t *Throttle[T]) startBatch(batch []*Job[T]) {
	for _, j := range batch {
		go t.runJob(j)
	}
}

// runJob drives one admitted job to its terminal outcome: middleware chain
// around the thunk, panic capture, then completion bookkeeping.
func (t *Throttle[T]) runJob(j *Job[T]) {
	t.logger.Debug("job started",
		slog.String("throttle_id", t.id.String()),
		slog.String("job_id", j.meta.ID.String()),
		slog.String("job_name", j.meta.Name),
	)

	var value T
	handler := func(ctx context.Context) error {
		v, err := j.thunk(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	}

	err := t.runProtected(wrap(t.middleware, &j.meta, handler))

	var out Outcome[T]
	if err != nil {
		out = Failed[T](err)
	} else {
		out = Succeeded(value)
	}
	t.finish(j, out)
}

// runProtected invokes h, converting a panic into an error so a job can
// never crash the process.
func (t *Throttle[T]) runProtected(h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("throttle: job panicked: %v", r)
		}
	}()
	return h(t.ctx)
}

// finish records a running job's terminal outcome, drives the death
// transition when the failure policy demands it, and re-enters admission.
func (t *Throttle[T]) finish(j *Job[T], out Outcome[T]) {
	died := false

	t.mu.Lock()
	t.running--
	var fired []*future.Promise[struct{}]
	t.jobTerminalLocked(j.seq, &fired)
	var drained []*Job[T]
	if out.State() == StateFailed && !t.continueOnError && !t.dead {
		died = true
		drained = t.killLocked(&fired)
	}
	batch := t.admitLocked()
	t.mu.Unlock()

	if out.State() == StateFailed {
		t.logger.Warn("job failed",
			slog.String("throttle_id", t.id.String()),
			slog.String("job_id", j.meta.ID.String()),
			slog.String("job_name", j.meta.Name),
			slog.String("error", out.Err().Error()),
		)
	}
	if died {
		t.logger.Info("throttle died",
			slog.String("throttle_id", t.id.String()),
			slog.String("failed_job_id", j.meta.ID.String()),
			slog.Int("jobs_aborted", len(drained)),
		)
	}

	j.resolve(out)
	t.settleAborted(drained, fired)
	t.startBatch(batch)
}

// killLocked flips the death flag and drains the backlog. Callers must hold
// t.mu; the returned jobs must be resolved Aborted after unlocking.
func (t *Throttle[T]) killLocked(fired *[]*future.Promise[struct{}]) []*Job[T] {
	t.dead = true
	drained := t.pending
	t.pending = nil
	for _, j := range drained {
		t.jobTerminalLocked(j.seq, fired)
	}
	return drained
}

// jobTerminalLocked updates PriorJobsDone watchers for a job that just
// reached a terminal outcome, collecting promises that became ready.
func (t *Throttle[T]) jobTerminalLocked(seq uint64, fired *[]*future.Promise[struct{}]) {
	remaining := t.watchers[:0]
	for _, w := range t.watchers {
		if seq <= w.maxSeq {
			w.remaining--
		}
		if w.remaining == 0 {
			*fired = append(*fired, w.promise)
			continue
		}
		remaining = append(remaining, w)
	}
	// Drop the tail so fired watchers are not retained.
	for i := len(remaining); i < len(t.watchers); i++ {
		t.watchers[i] = nil
	}
	t.watchers = remaining
}

// settleAborted resolves drained jobs and ready watchers, outside the lock.
func (t *Throttle[T]) settleAborted(drained []*Job[T], fired []*future.Promise[struct{}]) {
	for _, j := range drained {
		j.resolve(Aborted[T]())
	}
	for _, p := range fired {
		p.Resolve(struct{}{})
	}
}
