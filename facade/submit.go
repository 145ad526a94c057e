// File: facade/submit.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Submission API. Submit never blocks: saturation is reported as
// *api.BackpressureError and the work is not enqueued.

package facade

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/session"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/internal/concurrency"
)

// Submit schedules fn and returns its Task. A nil ctx gets a fresh
// Context. The Context is shared with fn, not moved; hand off ownership
// with ctx.Move() before submitting when the caller must not touch it.
func Submit[T any](rt *Runtime, ctx *session.Context, fn func(*session.Context) (T, error)) (*task.Task[T], error) {
	return submit(rt, ctx, func(c *session.Context, out *task.Task[T]) {
		out.Settle(task.Invoke(func() (T, error) { return fn(c) }))
	})
}

// SubmitAsync schedules fn, a computation that suspends by returning a
// Task. The returned Task settles with the inner Task; cancelling it
// cancels the inner Task too.
func SubmitAsync[T any](rt *Runtime, ctx *session.Context, fn func(*session.Context) *task.Task[T]) (*task.Task[T], error) {
	return submit(rt, ctx, func(c *session.Context, out *task.Task[T]) {
		inner, err := task.Invoke(func() (*task.Task[T], error) { return fn(c), nil })
		switch {
		case err != nil:
			out.Fail(err)
		case inner == nil:
			out.Fail(task.ErrNilTask)
		default:
			task.Pipe(inner, out)
		}
	})
}

func submit[T any](rt *Runtime, ctx *session.Context, body func(*session.Context, *task.Task[T])) (*task.Task[T], error) {
	if !rt.accepting() {
		return nil, api.ErrRuntimeClosed
	}
	if ctx == nil {
		ctx = rt.NewContext()
	}
	out := task.New[T](rt.Dispatcher(ctx))
	j := &concurrency.Job{
		Run: func(worker int) {
			if out.State() != task.StatePending {
				return
			}
			ctx.SetPreferredWorker(worker)
			body(ctx, out)
		},
		Abort: func(err error) {
			if errors.Is(err, api.ErrCancelled) {
				out.Cancel()
				return
			}
			out.Fail(err)
		},
		Priority: ctx.Priority(),
		Worker:   ctx.PreferredWorker(),
		Node:     ctx.IngressNode(),
	}

	start := time.Now()
	rt.outstanding.Add(1)
	if err := rt.sched.Submit(j); err != nil {
		rt.outstanding.Add(-1)
		if errors.Is(err, api.ErrBackpressure) {
			rt.stats.RecordRejected()
			rt.logRejected(err)
		}
		return nil, err
	}
	rt.stats.RecordSubmitted()
	trace := ctx.TraceID()
	out.OnState(func(s task.State, _ T, err error) {
		rt.settled(trace, s, err, time.Since(start))
	})
	return out, nil
}

// settled accounts for a submitted Task reaching a terminal state.
func (rt *Runtime) settled(trace string, s task.State, err error, latency time.Duration) {
	defer rt.outstanding.Add(-1)
	switch s {
	case task.StateCompleted:
		rt.stats.RecordCompleted(latency)
	case task.StateCancelled:
		rt.stats.RecordCancelled()
	default:
		rt.stats.RecordFailed(latency)
		rt.log.WithFields(logrus.Fields{"trace_id": trace, "code": api.Code(err)}).WithError(err).Debug("task failed")
		if rt.onFailure != nil {
			rt.onFailure(trace, err)
		}
	}
}

// Dispatcher returns a continuation dispatcher bound to ctx: jobs carry
// the Context's preferred worker, ingress node and priority, and running
// one updates the preferred worker. A nil or moved ctx gives no hints.
func (rt *Runtime) Dispatcher(ctx *session.Context) task.Dispatcher {
	return task.DispatcherFunc(func(fn func()) {
		j := concurrency.NewJob(func(worker int) {
			if worker != concurrency.NoHint && ctx.Valid() {
				ctx.SetPreferredWorker(worker)
			}
			fn()
		}, nil)
		if ctx.Valid() {
			j.Worker = ctx.PreferredWorker()
			j.Node = ctx.IngressNode()
			j.Priority = ctx.Priority()
		}
		if rt.sched == nil {
			fn()
			return
		}
		rt.sched.Dispatch(j)
	})
}
