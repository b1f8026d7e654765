// Package throttle admits asynchronous jobs into execution with a fixed
// concurrency bound, strict FIFO start ordering, and explicit
// failure-propagation semantics.
//
// A Throttle owns a FIFO queue of pending jobs and a running-job counter.
// Jobs start in exactly the order they were enqueued, and at most
// MaxConcurrentJobs of them are running at any instant. Every job resolves
// to exactly one terminal Outcome: Succeeded with a value, Failed with an
// error, or Aborted if the throttle died before the job started.
//
// By default a failing job kills the throttle: the death flag is set
// permanently, every not-yet-started job in the queue resolves Aborted
// without its thunk ever running, and all later enqueue calls fail with
// ErrDead. Jobs already running when death occurs complete normally.
// WithContinueOnError(true) disables death; a failure then affects only
// its own job's outcome.
//
// # Quick Start
//
//	th, err := throttle.New[string](ctx, 2)
//	if err != nil {
//	    return err
//	}
//	f, err := th.Enqueue(func(ctx context.Context) (string, error) {
//	    return fetch(ctx, url)
//	})
//	if err != nil {
//	    return err
//	}
//	body, err := f.Wait(ctx)
//
// Enqueue collapses failure and abortion into an error on the returned
// future; EnqueueOutcome instead returns the full Outcome as data, for
// failure-tolerant composition. EnqueueJob takes a pre-built Job when the
// caller wants to hold the Outcome future before submission.
package throttle
