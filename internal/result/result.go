// Package result holds the synchronous success/failure value used across
// the runtime wherever an outcome has to travel without being returned
// directly to the caller that caused it.
package result

import "fmt"

// Result is either a success carrying a value or a failure carrying a
// cause. The zero value is not a valid Result.
type Result[V any] struct {
	value V
	err   error
	ok    bool
}

func Success[V any](value V) Result[V] {
	return Result[V]{value: value, ok: true}
}

// Failure panics if err is nil; a failure without a cause is a programming
// error.
func Failure[V any](err error) Result[V] {
	if err == nil {
		panic("result: failure without cause")
	}
	return Result[V]{err: err}
}

// Of turns a Go (value, error) pair into a Result.
func Of[V any](value V, err error) Result[V] {
	if err != nil {
		return Failure[V](err)
	}
	return Success(value)
}

func (r Result[V]) IsSuccess() bool { return r.ok }
func (r Result[V]) IsFailure() bool { return !r.ok }

// Value returns the zero value of V for failures.
func (r Result[V]) Value() V { return r.value }

// Err returns nil for successes.
func (r Result[V]) Err() error { return r.err }

// Get yields the value or the stored cause.
func (r Result[V]) Get() (V, error) {
	if r.ok {
		return r.value, nil
	}
	var zero V
	return zero, r.err
}

// MustGet yields the value or panics with the stored cause.
func (r Result[V]) MustGet() V {
	if !r.ok {
		panic(r.err)
	}
	return r.value
}

func (r Result[V]) IfSuccess(fn func(V)) {
	if r.ok {
		fn(r.value)
	}
}

func (r Result[V]) IfFailure(fn func(error)) {
	if !r.ok {
		fn(r.err)
	}
}

func (r Result[V]) String() string {
	if r.ok {
		return fmt.Sprintf("Success(%v)", r.value)
	}
	return fmt.Sprintf("Failure(%v)", r.err)
}

// Map applies fn to the value of a success. A failure is passed on as is
// and fn is not called. An error returned by fn becomes a failure.
func Map[V, U any](r Result[V], fn func(V) (U, error)) Result[U] {
	if !r.ok {
		return Result[U]{err: r.err}
	}
	return Of(fn(r.value))
}

// FlatMap is Map for functions that already produce a Result.
func FlatMap[V, U any](r Result[V], fn func(V) Result[U]) Result[U] {
	if !r.ok {
		return Result[U]{err: r.err}
	}
	return fn(r.value)
}

// Erase drops the value type, keeping only the outcome.
func Erase[V any](r Result[V]) Result[any] {
	if !r.ok {
		return Result[any]{err: r.err}
	}
	return Success[any](r.value)
}
