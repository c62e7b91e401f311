// Package future provides an asynchronous cell that eventually holds
// exactly one result.Result.
//
// A Future is completed through its Promise. Completion closes a channel
// under a sync.Once, so at most one Result is ever stored no matter how
// many producers race. Callbacks registered with OnResult run once each,
// on the goroutine that completes the promise, or immediately on the
// registering goroutine if the future is already complete. Callbacks must
// not block.
//
// There is no cancellation. An owner that stops caring about a future
// simply makes its callback a no-op.
package future

import (
	"context"
	"sync"

	"arrowhead-go/internal/result"
)

type Promise[V any] struct {
	once      sync.Once
	done      chan struct{}
	mu        sync.Mutex
	result    result.Result[V]
	callbacks []func(result.Result[V])
}

type Future[V any] struct {
	p *Promise[V]
}

func NewPromise[V any]() *Promise[V] {
	return &Promise[V]{done: make(chan struct{})}
}

func (p *Promise[V]) Future() *Future[V] {
	return &Future[V]{p: p}
}

// Complete stores r and fires callbacks. Only the first call has any
// effect; it reports whether this call was the one that completed p.
func (p *Promise[V]) Complete(r result.Result[V]) bool {
	completed := false
	p.once.Do(func() {
		p.mu.Lock()
		p.result = r
		callbacks := p.callbacks
		p.callbacks = nil
		close(p.done)
		p.mu.Unlock()

		completed = true
		for _, cb := range callbacks {
			cb(r)
		}
	})
	return completed
}

func (p *Promise[V]) Succeed(value V) bool {
	return p.Complete(result.Success(value))
}

func (p *Promise[V]) Fail(err error) bool {
	return p.Complete(result.Failure[V](err))
}

// OnResult registers cb to be invoked exactly once with the result.
func (f *Future[V]) OnResult(cb func(result.Result[V])) {
	p := f.p
	p.mu.Lock()
	select {
	case <-p.done:
		r := p.result
		p.mu.Unlock()
		cb(r)
		return
	default:
	}
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
}

// Done is closed once the future holds its result.
func (f *Future[V]) Done() <-chan struct{} {
	return f.p.done
}

// Peek returns the result if the future is complete.
func (f *Future[V]) Peek() (result.Result[V], bool) {
	select {
	case <-f.p.done:
		f.p.mu.Lock()
		defer f.p.mu.Unlock()
		return f.p.result, true
	default:
		return result.Result[V]{}, false
	}
}

// Await blocks until completion or until ctx is done. It must not be used
// from a goroutine that the completion itself depends on.
func (f *Future[V]) Await(ctx context.Context) (V, error) {
	select {
	case <-f.p.done:
		r, _ := f.Peek()
		return r.Get()
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func FromResult[V any](r result.Result[V]) *Future[V] {
	p := NewPromise[V]()
	p.Complete(r)
	return p.Future()
}

func Succeeded[V any](value V) *Future[V] {
	return FromResult(result.Success(value))
}

func Failed[V any](err error) *Future[V] {
	return FromResult(result.Failure[V](err))
}

// Map applies fn to the value once f succeeds. Failures pass through and
// fn is not called.
func Map[V, U any](f *Future[V], fn func(V) (U, error)) *Future[U] {
	p := NewPromise[U]()
	f.OnResult(func(r result.Result[V]) {
		p.Complete(result.Map(r, fn))
	})
	return p.Future()
}

// FlatMap sequences a second asynchronous step after f succeeds.
func FlatMap[V, U any](f *Future[V], fn func(V) *Future[U]) *Future[U] {
	p := NewPromise[U]()
	f.OnResult(func(r result.Result[V]) {
		if r.IsFailure() {
			p.Fail(r.Err())
			return
		}
		fn(r.Value()).OnResult(func(next result.Result[U]) {
			p.Complete(next)
		})
	})
	return p.Future()
}

// Erase drops the value type of f.
func Erase[V any](f *Future[V]) *Future[any] {
	p := NewPromise[any]()
	f.OnResult(func(r result.Result[V]) {
		p.Complete(result.Erase(r))
	})
	return p.Future()
}
