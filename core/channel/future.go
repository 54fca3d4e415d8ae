package channel

import (
	"context"
	"runtime/debug"
)

// Awaitable is the result of an asynchronous handler.
type Awaitable interface {
	// Await blocks until the result is available or ctx is done.
	Await(ctx context.Context) (any, error)
}

// Future is a one-shot asynchronous result.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

// Async runs fn in a new goroutine and returns its future result.
// A panic in fn rejects the future with a *HandlerPanicError.
//
// Code a handler runs before calling Async is its synchronous prefix: it
// executes during the run even when the run does not wait for the result.
func Async(fn func() (any, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = &HandlerPanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		f.value, f.err = fn()
	}()
	return f
}

// Resolved returns a future already fulfilled with v.
func Resolved(v any) *Future {
	f := &Future{done: make(chan struct{}), value: v}
	close(f.done)
	return f
}

// Rejected returns a future already failed with err.
func Rejected(err error) *Future {
	f := &Future{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Await implements Awaitable.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}
