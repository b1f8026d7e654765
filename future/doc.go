// Package future provides the one-shot promise/future pair the throttle
// packages are written against.
//
// A Promise is the write side: it is resolved with a value or rejected with
// an error exactly once; every later Resolve/Reject call is a no-op. A
// Future is the read side: any number of observers may wait on it or
// register continuations, and all of them see the same result.
//
// # Quick Start
//
//	p, f := future.New[int]()
//	go func() { p.Resolve(42) }()
//	v, err := f.Wait(ctx)
//
// Continuations registered with OnComplete run synchronously on the
// goroutine that resolves the promise (or immediately on the caller's
// goroutine if the future is already resolved), so they must not block.
package future
