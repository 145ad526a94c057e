// File: core/task/combinators.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Races, timers and joins.

package task

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-rt/api"
)

// ErrNilTask fails a chain whose continuation returned no Task.
var ErrNilTask = &api.TaskFailure{Err: errors.New("continuation returned a nil task")}

// After returns a Task that completes once dur has elapsed. Cancelling it
// stops the timer.
func After(d Dispatcher, dur time.Duration) *Task[struct{}] {
	t := New[struct{}](d)
	timer := time.AfterFunc(dur, func() { t.Complete(struct{}{}) })
	t.onSettled(func(s State, _ struct{}, _ error) {
		if s == StateCancelled {
			timer.Stop()
		}
	})
	return t
}

// Race settles with the first of tasks to settle and cancels the rest.
// Race of no tasks never settles.
func Race[T any](d Dispatcher, tasks ...*Task[T]) *Task[T] {
	out := New[T](d)
	for _, t := range tasks {
		t.onSettled(func(s State, v T, err error) {
			if forward(out, s, v, err) {
				for _, other := range tasks {
					if other != t {
						other.Cancel()
					}
				}
			}
		})
	}
	out.onSettled(func(s State, _ T, _ error) {
		if s == StateCancelled {
			for _, t := range tasks {
				t.Cancel()
			}
		}
	})
	return out
}

// WithTimeout races t against a timer. If the timer wins, the result fails
// with api.ErrTimeout and t is cancelled; if t wins, the timer is stopped.
func WithTimeout[T any](t *Task[T], dur time.Duration) *Task[T] {
	out := New[T](t.d)
	timer := After(t.d, dur)
	t.onSettled(func(s State, v T, err error) {
		if forward(out, s, v, err) {
			timer.Cancel()
		}
	})
	timer.onSettled(func(s State, _ struct{}, _ error) {
		if s == StateCompleted && out.Fail(api.ErrTimeout) {
			t.Cancel()
		}
	})
	out.onSettled(func(s State, _ T, _ error) {
		if s == StateCancelled {
			t.Cancel()
			timer.Cancel()
		}
	})
	return out
}

// All completes with every value in order once all tasks complete. The
// first failure or cancellation settles the result and cancels the rest.
func All[T any](d Dispatcher, tasks ...*Task[T]) *Task[[]T] {
	out := New[[]T](d)
	if len(tasks) == 0 {
		out.Complete(nil)
		return out
	}
	values := make([]T, len(tasks))
	var remaining atomic.Int64
	remaining.Store(int64(len(tasks)))
	cancelAll := func() {
		for _, t := range tasks {
			t.Cancel()
		}
	}
	for i, t := range tasks {
		t.onSettled(func(s State, v T, err error) {
			switch s {
			case StateCompleted:
				values[i] = v
				if remaining.Add(-1) == 0 {
					out.Complete(values)
				}
			case StateCancelled:
				if out.Cancel() {
					cancelAll()
				}
			default:
				if out.Fail(err) {
					cancelAll()
				}
			}
		})
	}
	out.onSettled(func(s State, _ []T, _ error) {
		if s == StateCancelled {
			cancelAll()
		}
	})
	return out
}
