package throttle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DavidAlphaFox/async-kernel/future"
	"github.com/DavidAlphaFox/async-kernel/throttle"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newThrottle(t *testing.T, maxConcurrent int, opts ...throttle.Option) *throttle.Throttle[string] {
	t.Helper()
	opts = append([]throttle.Option{throttle.WithLogger(discardLogger())}, opts...)
	th, err := throttle.New[string](context.Background(), maxConcurrent, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return th
}

// waitOutcome blocks on a job's outcome with a test-failure timeout.
func waitOutcome[T any](t *testing.T, f *future.Future[throttle.Outcome[T]]) throttle.Outcome[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("outcome future did not resolve: %v", err)
	}
	return out
}

func waitDone(t *testing.T, f *future.Future[struct{}]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.Wait(ctx); err != nil {
		t.Fatalf("future did not resolve: %v", err)
	}
}

func TestNew_InvalidConcurrency(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := throttle.New[int](context.Background(), n)
		if !errors.Is(err, throttle.ErrInvalidConcurrency) {
			t.Errorf("New(%d) error = %v, want ErrInvalidConcurrency", n, err)
		}
	}
}

func TestBoundInvariant(t *testing.T) {
	const bound = 2
	const jobs = 20

	th := newThrottle(t, bound, throttle.WithContinueOnError(true))

	var inFlight, peak atomic.Int64
	var eg errgroup.Group
	for range jobs {
		eg.Go(func() error {
			_, err := th.Enqueue(func(_ context.Context) (string, error) {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return "", nil
			})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitDone(t, th.PriorJobsDone())
	if p := peak.Load(); p > bound {
		t.Errorf("observed %d concurrent jobs, bound is %d", p, bound)
	}
	if r := th.NumJobsRunning(); r != 0 {
		t.Errorf("NumJobsRunning = %d after drain, want 0", r)
	}
}

func TestFIFOStartOrder(t *testing.T) {
	const jobs = 10

	th := newThrottle(t, 1)

	var mu sync.Mutex
	var order []int
	for i := range jobs {
		_, err := th.Enqueue(func(_ context.Context) (string, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return "", nil
		})
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
	}

	waitDone(t, th.PriorJobsDone())
	mu.Lock()
	defer mu.Unlock()
	if len(order) != jobs {
		t.Fatalf("ran %d jobs, want %d", len(order), jobs)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("start order %v, want 0..%d in order", order, jobs-1)
		}
	}
}

// Scenario: bound 2, three jobs. The first two must start immediately, the
// third only once a slot frees.
func TestAdmission_WaitsForFreeSlot(t *testing.T) {
	th := newThrottle(t, 2)

	started := make(chan int, 3)
	release := make(chan struct{})
	enqueue := func(i int) *future.Future[throttle.Outcome[string]] {
		f, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
			started <- i
			<-release
			return "", nil
		})
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		return f
	}

	f1 := enqueue(1)
	f2 := enqueue(2)
	f3 := enqueue(3)

	// Jobs 1 and 2 are admitted together; their goroutines may reach the
	// channel in either order.
	first := map[int]bool{<-started: true, <-started: true}
	if !first[1] || !first[2] {
		t.Errorf("first admissions = %v, want jobs 1 and 2", first)
	}

	// Both slots busy: job 3 must still be pending.
	select {
	case got := <-started:
		t.Fatalf("job %d started with no free slot", got)
	case <-time.After(50 * time.Millisecond):
	}
	if n := th.NumJobsWaitingToStart(); n != 1 {
		t.Errorf("NumJobsWaitingToStart = %d, want 1", n)
	}

	close(release)
	if got := <-started; got != 3 {
		t.Errorf("third start = job %d, want 3", got)
	}
	for _, f := range []*future.Future[throttle.Outcome[string]]{f1, f2, f3} {
		if out := waitOutcome(t, f); out.State() != throttle.StateSucceeded {
			t.Errorf("outcome = %v, want succeeded", out.State())
		}
	}
}

// Scenario: continue_on_error = false. J1 succeeds, J2 fails, J3 has not
// started: J3 aborts and the throttle rejects everything afterwards.
func TestDeathPropagatesToBacklog(t *testing.T) {
	th := newThrottle(t, 1)

	jobErr := errors.New("job exploded")
	f1, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		return "one", nil
	})
	if err != nil {
		t.Fatalf("enqueue J1: %v", err)
	}
	f2, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		return "", jobErr
	})
	if err != nil {
		t.Fatalf("enqueue J2: %v", err)
	}
	f3, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		t.Error("J3 thunk must never run")
		return "three", nil
	})
	if err != nil {
		t.Fatalf("enqueue J3: %v", err)
	}

	out1 := waitOutcome(t, f1)
	if out1.State() != throttle.StateSucceeded || out1.Value() != "one" {
		t.Errorf("J1 outcome = (%v, %q), want succeeded \"one\"", out1.State(), out1.Value())
	}
	out2 := waitOutcome(t, f2)
	if out2.State() != throttle.StateFailed || !errors.Is(out2.Err(), jobErr) {
		t.Errorf("J2 outcome = (%v, %v), want failed with job error", out2.State(), out2.Err())
	}
	out3 := waitOutcome(t, f3)
	if out3.State() != throttle.StateAborted {
		t.Errorf("J3 outcome = %v, want aborted", out3.State())
	}

	if !th.Dead() {
		t.Error("throttle should be dead after a failure")
	}
	if n := th.NumJobsWaitingToStart(); n != 0 {
		t.Errorf("queue not drained: NumJobsWaitingToStart = %d", n)
	}
	if err := th.EnqueueJob(throttle.NewJob(func(_ context.Context) (string, error) {
		return "", nil
	})); !errors.Is(err, throttle.ErrDead) {
		t.Errorf("EnqueueJob on dead throttle: error = %v, want ErrDead", err)
	}
	if _, err := th.Enqueue(func(_ context.Context) (string, error) {
		return "", nil
	}); !errors.Is(err, throttle.ErrDead) {
		t.Errorf("Enqueue on dead throttle: error = %v, want ErrDead", err)
	}
}

// Same shape, continue_on_error = true: the failure is isolated.
func TestContinueOnError_Isolation(t *testing.T) {
	th := newThrottle(t, 1, throttle.WithContinueOnError(true))

	if _, err := th.Enqueue(func(_ context.Context) (string, error) {
		return "one", nil
	}); err != nil {
		t.Fatalf("enqueue J1: %v", err)
	}
	if _, err := th.Enqueue(func(_ context.Context) (string, error) {
		return "", errors.New("job exploded")
	}); err != nil {
		t.Fatalf("enqueue J2: %v", err)
	}
	f3, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		return "three", nil
	})
	if err != nil {
		t.Fatalf("enqueue J3: %v", err)
	}

	out3 := waitOutcome(t, f3)
	if out3.State() != throttle.StateSucceeded || out3.Value() != "three" {
		t.Errorf("J3 outcome = (%v, %q), want succeeded \"three\"", out3.State(), out3.Value())
	}
	if th.Dead() {
		t.Error("throttle must stay alive with continue-on-error")
	}
}

func TestEnqueue_ValueForm(t *testing.T) {
	th := newThrottle(t, 1, throttle.WithContinueOnError(true))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := th.Enqueue(func(_ context.Context) (string, error) {
		return "value", nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if v, err := f.Wait(ctx); err != nil || v != "value" {
		t.Errorf("Wait = (%q, %v), want (\"value\", nil)", v, err)
	}

	jobErr := errors.New("nope")
	f, err = th.Enqueue(func(_ context.Context) (string, error) {
		return "", jobErr
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := f.Wait(ctx); !errors.Is(err, jobErr) {
		t.Errorf("Wait error = %v, want job error", err)
	}
}

func TestEnqueue_AbortSurfacesAsErrAborted(t *testing.T) {
	th := newThrottle(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	release := make(chan struct{})
	if _, err := th.Enqueue(func(_ context.Context) (string, error) {
		<-release
		return "", errors.New("boom")
	}); err != nil {
		t.Fatalf("enqueue J1: %v", err)
	}
	f2, err := th.Enqueue(func(_ context.Context) (string, error) {
		return "never", nil
	})
	if err != nil {
		t.Fatalf("enqueue J2: %v", err)
	}

	close(release)
	if _, err := f2.Wait(ctx); !errors.Is(err, throttle.ErrAborted) {
		t.Errorf("aborted job: Wait error = %v, want ErrAborted", err)
	}
}

func TestPriorJobsDone_Scoping(t *testing.T) {
	th := newThrottle(t, 1)

	release12 := make(chan struct{})
	release3 := make(chan struct{})
	for range 2 {
		if _, err := th.Enqueue(func(_ context.Context) (string, error) {
			<-release12
			return "", nil
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	done := th.PriorJobsDone()

	// J3 arrives after the snapshot and blocks forever from done's view.
	f3, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		<-release3
		return "", nil
	})
	if err != nil {
		t.Fatalf("enqueue J3: %v", err)
	}

	select {
	case <-done.Done():
		t.Fatal("PriorJobsDone resolved while J1/J2 still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release12)
	waitDone(t, done) // resolves regardless of J3, which is still blocked

	close(release3)
	if out := waitOutcome(t, f3); out.State() != throttle.StateSucceeded {
		t.Errorf("J3 outcome = %v, want succeeded", out.State())
	}
}

func TestPriorJobsDone_EmptyThrottle(t *testing.T) {
	th := newThrottle(t, 3)
	select {
	case <-th.PriorJobsDone().Done():
	default:
		t.Error("PriorJobsDone on an idle throttle should already be resolved")
	}
}

func TestPriorJobsDone_CountsAbortedAsTerminal(t *testing.T) {
	th := newThrottle(t, 1)

	release := make(chan struct{})
	if _, err := th.Enqueue(func(_ context.Context) (string, error) {
		<-release
		return "", errors.New("boom")
	}); err != nil {
		t.Fatalf("enqueue J1: %v", err)
	}
	if _, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		return "", nil
	}); err != nil {
		t.Fatalf("enqueue J2: %v", err)
	}

	done := th.PriorJobsDone()
	close(release)
	// J1 fails, J2 aborts; both are terminal, so done must resolve.
	waitDone(t, done)
}

func TestExactlyOnceResolution(t *testing.T) {
	th := newThrottle(t, 1)

	j := throttle.NewJob(func(_ context.Context) (string, error) {
		return "once", nil
	})

	var calls atomic.Int64
	const observers = 5
	for range observers {
		j.Result().OnComplete(func(out throttle.Outcome[string], _ error) {
			if out.State() != throttle.StateSucceeded || out.Value() != "once" {
				t.Errorf("observer saw %v %q", out.State(), out.Value())
			}
			calls.Add(1)
		})
	}

	if err := th.EnqueueJob(j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitOutcome(t, j.Result())
	waitDone(t, th.PriorJobsDone())

	if n := calls.Load(); n != observers {
		t.Errorf("observer callbacks = %d, want %d", n, observers)
	}
}

func TestEnqueueJob_Validation(t *testing.T) {
	th := newThrottle(t, 1)

	if err := th.EnqueueJob(nil); !errors.Is(err, throttle.ErrNilThunk) {
		t.Errorf("EnqueueJob(nil) error = %v, want ErrNilThunk", err)
	}
	if err := th.EnqueueJob(throttle.NewJob[string](nil)); !errors.Is(err, throttle.ErrNilThunk) {
		t.Errorf("nil thunk error = %v, want ErrNilThunk", err)
	}

	j := throttle.NewJob(func(_ context.Context) (string, error) { return "", nil })
	if err := th.EnqueueJob(j); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := th.EnqueueJob(j); !errors.Is(err, throttle.ErrJobAlreadyEnqueued) {
		t.Errorf("re-enqueue error = %v, want ErrJobAlreadyEnqueued", err)
	}
}

func TestKill(t *testing.T) {
	th := newThrottle(t, 1)

	release := make(chan struct{})
	f1, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		<-release
		return "survivor", nil
	})
	if err != nil {
		t.Fatalf("enqueue J1: %v", err)
	}
	f2, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		return "", nil
	})
	if err != nil {
		t.Fatalf("enqueue J2: %v", err)
	}

	th.Kill()
	th.Kill() // idempotent

	if !th.Dead() {
		t.Error("throttle should be dead after Kill")
	}
	if out := waitOutcome(t, f2); out.State() != throttle.StateAborted {
		t.Errorf("pending job outcome = %v, want aborted", out.State())
	}
	if _, err := th.Enqueue(func(_ context.Context) (string, error) {
		return "", nil
	}); !errors.Is(err, throttle.ErrDead) {
		t.Errorf("Enqueue after Kill: error = %v, want ErrDead", err)
	}

	// The running job is not interrupted.
	close(release)
	out1 := waitOutcome(t, f1)
	if out1.State() != throttle.StateSucceeded || out1.Value() != "survivor" {
		t.Errorf("running job outcome = (%v, %q), want succeeded \"survivor\"", out1.State(), out1.Value())
	}
}

func TestPanicBecomesFailedOutcome(t *testing.T) {
	th := newThrottle(t, 1, throttle.WithContinueOnError(true))

	f, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		panic("thunk blew up")
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out := waitOutcome(t, f)
	if out.State() != throttle.StateFailed {
		t.Fatalf("outcome = %v, want failed", out.State())
	}
	if out.Err() == nil {
		t.Fatal("failed outcome must carry an error")
	}
}

func TestWithMiddleware_WrapsThunk(t *testing.T) {
	var mu sync.Mutex
	var events []string

	record := func(label string) throttle.Middleware {
		return func(ctx context.Context, m *throttle.JobMeta, next throttle.Handler) error {
			mu.Lock()
			events = append(events, label+":"+m.Name)
			mu.Unlock()
			return next(ctx)
		}
	}

	th := newThrottle(t, 1, throttle.WithMiddleware(record("outer"), record("inner")))
	f, err := th.EnqueueOutcome(func(_ context.Context) (string, error) {
		mu.Lock()
		events = append(events, "thunk")
		mu.Unlock()
		return "", nil
	}, throttle.WithJobName("greet"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitOutcome(t, f)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"outer:greet", "inner:greet", "thunk"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestWithRateLimit_DelaysWithoutReordering(t *testing.T) {
	th := newThrottle(t, 4, throttle.WithRateLimit(100, 1))

	var mu sync.Mutex
	var order []int
	start := time.Now()
	for i := range 3 {
		if _, err := th.Enqueue(func(_ context.Context) (string, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return "", nil
		}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	waitDone(t, th.PriorJobsDone())
	elapsed := time.Since(start)

	// Burst 1 at 100/s: the second and third admissions each wait ~10ms.
	if elapsed < 15*time.Millisecond {
		t.Errorf("3 jobs admitted in %v, expected rate limiting to spread them", elapsed)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("start order %v, want FIFO despite rate limiting", order)
		}
	}
}

func TestAccessors(t *testing.T) {
	th := newThrottle(t, 3)
	if got := th.MaxConcurrentJobs(); got != 3 {
		t.Errorf("MaxConcurrentJobs = %d, want 3", got)
	}
	if th.ID().IsNil() {
		t.Error("throttle ID should be assigned")
	}
	if th.Dead() {
		t.Error("fresh throttle should be alive")
	}
}
