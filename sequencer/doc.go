// Package sequencer builds mutual exclusion over a piece of mutable state
// by running operations through a throttle with a concurrency bound of one.
//
// A Sequencer owns its state cell outright: the cell is never exposed, and
// each enqueued operation receives it with exclusive access for the
// duration of its execution. The state an operation returns is exactly the
// state the next operation receives, so observers see one globally
// consistent sequence of states — no lock needed, because bound-1
// admission already serializes access.
//
// By default a failing operation kills the sequencer the same way a
// failing job kills a throttle: later-enqueued operations resolve aborted
// and further enqueues are rejected.
//
// # Quick Start
//
//	seq := sequencer.New(ctx, 0)
//	f, err := sequencer.Enqueue(seq, func(ctx context.Context, n int) (int, int, error) {
//	    return n + 1, n, nil // new state, result, error
//	})
package sequencer
