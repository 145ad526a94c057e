// File: core/task/chain.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Chaining. Failures and cancellation flow downstream through a chain,
// never upstream: cancelling a child leaves its parent untouched.

package task

// Then returns a Task resolved by fn applied to t's value. If t fails, the
// result fails with the same error and fn is not called; if t is
// cancelled, the result is cancelled.
func Then[T, U any](t *Task[T], fn func(T) (U, error)) *Task[U] {
	next := New[U](t.d)
	t.onSettled(func(s State, v T, err error) {
		if next.State() != StatePending {
			return
		}
		switch s {
		case StateCancelled:
			next.Cancel()
		case StateFailed:
			next.Fail(err)
		default:
			next.Settle(Invoke(func() (U, error) { return fn(v) }))
		}
	})
	return next
}

// ThenAsync is Then for a continuation that itself suspends. Cancelling
// the returned Task also cancels the inner Task it is waiting on, which
// releases any backend registration the inner Task holds.
func ThenAsync[T, U any](t *Task[T], fn func(T) *Task[U]) *Task[U] {
	next := New[U](t.d)
	t.onSettled(func(s State, v T, err error) {
		if next.State() != StatePending {
			return
		}
		switch s {
		case StateCancelled:
			next.Cancel()
			return
		case StateFailed:
			next.Fail(err)
			return
		}
		inner, ierr := Invoke(func() (*Task[U], error) { return fn(v), nil })
		if ierr != nil {
			next.Fail(ierr)
			return
		}
		if inner == nil {
			next.Fail(ErrNilTask)
			return
		}
		Pipe(inner, next)
	})
	return next
}

// Pipe settles to with from's outcome. Cancelling to cancels from.
func Pipe[T any](from, to *Task[T]) {
	from.onSettled(func(s State, v T, err error) { forward(to, s, v, err) })
	to.onSettled(func(s State, _ T, _ error) {
		if s == StateCancelled {
			from.Cancel()
		}
	})
}

// Catch recovers a failed t through fn. Completed and cancelled outcomes
// pass through unchanged.
func Catch[T any](t *Task[T], fn func(error) (T, error)) *Task[T] {
	next := New[T](t.d)
	t.onSettled(func(s State, v T, err error) {
		if next.State() != StatePending {
			return
		}
		if s != StateFailed {
			forward(next, s, v, err)
			return
		}
		next.Settle(Invoke(func() (T, error) { return fn(err) }))
	})
	return next
}
