package correlator

import (
	"context"
	"sync"
)

// Result is the outcome of a settled Future. Exactly one of Value and Err is meaningful.
type Result[T any] struct {
	Value T
	Err   error
}

// Unwrap returns the value and error as a pair.
func (r Result[T]) Unwrap() (T, error) { return r.Value, r.Err }

// Future is a value that is settled at most once, either resolved or rejected.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	res  Result[T]
}

// NewFuture returns an unsettled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve settles the future with v. It reports false if the future was already settled.
func (f *Future[T]) Resolve(v T) bool { return f.settle(Result[T]{Value: v}) }

// Reject settles the future with err. It reports false if the future was already settled.
func (f *Future[T]) Reject(err error) bool { return f.settle(Result[T]{Err: err}) }

func (f *Future[T]) settle(res Result[T]) bool {
	settled := false
	f.once.Do(func() {
		f.res = res
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result returns the outcome without blocking. ok is false while the future is unsettled.
func (f *Future[T]) Result() (res Result[T], ok bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result[T]{}, false
	}
}

// Wait blocks until the future settles or ctx is done. A cancelled ctx stops the wait
// only; the future itself stays pending.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
