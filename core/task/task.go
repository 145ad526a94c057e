// File: core/task/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task is an explicit continuation-passing state machine:
// {Pending, Completed, Failed, Cancelled} plus an ordered continuation list.
// A Task settles exactly once; continuations registered after settlement
// are dispatched immediately, so there is no missed-wakeup window. A Task
// never runs two of its continuations at once.

package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/momentics/hioload-rt/api"
)

// State of a Task.
type State int32

const (
	StatePending State = iota
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s != StatePending }

// ErrPending is returned by Result while the Task has not settled.
var ErrPending = errors.New("task: still pending")

// Dispatcher runs continuations. The runtime binds one per Context so
// continuations land on the worker that owns the unit of work.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// Inline runs continuations on the goroutine that settles the Task.
var Inline Dispatcher = DispatcherFunc(func(fn func()) { fn() })

type continuation[T any] func(State, T, error)

// Task is a possibly-pending asynchronous result of type T.
type Task[T any] struct {
	mu    sync.Mutex
	state State
	value T
	err   error
	conts []continuation[T]
	// draining is set while a drain pass is dispatched or running. At most
	// one pass exists per Task, so continuations never run concurrently.
	draining bool
	done     chan struct{}
	d        Dispatcher
}

// New creates a Pending Task whose continuations run through d.
// A nil d runs them inline.
func New[T any](d Dispatcher) *Task[T] {
	if d == nil {
		d = Inline
	}
	return &Task[T]{d: d, done: make(chan struct{})}
}

// FromValue returns a Task already Completed with v.
func FromValue[T any](d Dispatcher, v T) *Task[T] {
	t := New[T](d)
	t.Complete(v)
	return t
}

// FromError returns a Task already Failed with err.
func FromError[T any](d Dispatcher, err error) *Task[T] {
	t := New[T](d)
	t.Fail(err)
	return t
}

// Dispatcher returns the dispatcher continuations of t run through.
func (t *Task[T]) Dispatcher() Dispatcher { return t.d }

// Complete settles t with v. It reports whether this call settled t.
func (t *Task[T]) Complete(v T) bool {
	return t.settle(StateCompleted, v, nil)
}

// Fail settles t with err. A nil err is replaced by a TaskFailure so a
// failed Task never carries a nil error.
func (t *Task[T]) Fail(err error) bool {
	if err == nil {
		err = &api.TaskFailure{Err: errors.New("nil error")}
	}
	var zero T
	return t.settle(StateFailed, zero, err)
}

// Settle completes t with v when err is nil, otherwise fails it.
func (t *Task[T]) Settle(v T, err error) bool {
	if err != nil {
		return t.Fail(err)
	}
	return t.Complete(v)
}

// Cancel moves a Pending Task to Cancelled. It is idempotent and reports
// whether this call cancelled t. Work already running is not rolled back;
// its eventual result is simply discarded.
func (t *Task[T]) Cancel() bool {
	var zero T
	return t.settle(StateCancelled, zero, api.ErrCancelled)
}

func (t *Task[T]) settle(s State, v T, err error) bool {
	t.mu.Lock()
	if t.state != StatePending {
		t.mu.Unlock()
		return false
	}
	t.state, t.value, t.err = s, v, err
	close(t.done)
	kick := t.kickLocked()
	t.mu.Unlock()

	if kick {
		t.d.Dispatch(t.drain)
	}
	return true
}

// onSettled registers c. Continuations run in registration order, one at
// a time, whether they were registered before or after t settled.
func (t *Task[T]) onSettled(c continuation[T]) {
	t.mu.Lock()
	t.conts = append(t.conts, c)
	kick := t.state != StatePending && t.kickLocked()
	t.mu.Unlock()
	if kick {
		t.d.Dispatch(t.drain)
	}
}

// kickLocked claims the drain pass when there is work and none is
// scheduled.
func (t *Task[T]) kickLocked() bool {
	if t.draining || len(t.conts) == 0 {
		return false
	}
	t.draining = true
	return true
}

// drain runs queued continuations until the queue is empty. A panicking
// continuation hands the rest to a fresh pass before propagating.
func (t *Task[T]) drain() {
	for {
		t.mu.Lock()
		batch := t.conts
		t.conts = nil
		if len(batch) == 0 {
			t.draining = false
			t.mu.Unlock()
			return
		}
		s, v, err := t.state, t.value, t.err
		t.mu.Unlock()

		for i, c := range batch {
			ok := false
			func() {
				defer func() {
					if ok {
						return
					}
					t.mu.Lock()
					t.conts = append(batch[i+1:len(batch):len(batch)], t.conts...)
					t.mu.Unlock()
					t.d.Dispatch(t.drain)
				}()
				c(s, v, err)
				ok = true
			}()
		}
	}
}

// OnComplete registers fn to observe the outcome. A cancelled Task reports
// api.ErrCancelled.
func (t *Task[T]) OnComplete(fn func(T, error)) {
	t.onSettled(func(_ State, v T, err error) { fn(v, err) })
}

// OnState is OnComplete with the terminal state.
func (t *Task[T]) OnState(fn func(State, T, error)) {
	t.onSettled(continuation[T](fn))
}

// State returns the current state.
func (t *Task[T]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once t settles.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Result returns the outcome without blocking, or ErrPending.
func (t *Task[T]) Result() (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StatePending {
		var zero T
		return zero, ErrPending
	}
	return t.value, t.err
}

// Await blocks the calling goroutine until t settles or ctx ends. It is
// meant for host goroutines; computations running on a worker chain with
// Then or ThenAsync instead so the worker is never blocked.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.err
}

// Run dispatches computation through d and returns its Task. The
// computation is skipped if the Task was cancelled before it started.
func Run[T any](d Dispatcher, computation func() (T, error)) *Task[T] {
	t := New[T](d)
	t.d.Dispatch(func() {
		if t.State() != StatePending {
			return
		}
		t.Settle(Invoke(computation))
	})
	return t
}

// Invoke calls fn, converting a panic into a TaskFailure.
func Invoke[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, &api.TaskFailure{Panic: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// forward copies a terminal outcome onto next.
func forward[T any](next *Task[T], s State, v T, err error) bool {
	switch s {
	case StateCompleted:
		return next.Complete(v)
	case StateCancelled:
		return next.Cancel()
	default:
		return next.Fail(err)
	}
}
