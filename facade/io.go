// File: facade/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend registration API. A descriptor is always served by the same
// reactor, chosen by fd modulo the reactor count.

package facade

import (
	"errors"
	"slices"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/session"
	"github.com/momentics/hioload-rt/core/task"
)

func (rt *Runtime) backendFor(fd uintptr) (api.Backend, error) {
	if !rt.accepting() {
		return nil, api.ErrRuntimeClosed
	}
	return rt.backends[fd%uintptr(len(rt.backends))], nil
}

// RegisterInterest arms fd for interest. cont runs once, on a worker,
// when the descriptor is ready; register again to be notified again.
func (rt *Runtime) RegisterInterest(fd uintptr, interest api.Interest, cont api.Continuation) error {
	b, err := rt.backendFor(fd)
	if err != nil {
		return err
	}
	return b.RegisterInterest(fd, interest, cont)
}

// DeregisterInterest drops the pending registrations of fd for interest.
func (rt *Runtime) DeregisterInterest(fd uintptr, interest api.Interest) error {
	b, err := rt.backendFor(fd)
	if err != nil {
		return err
	}
	return b.DeregisterInterest(fd, interest)
}

// Deregister drops every pending registration of fd. Call it before
// closing the descriptor.
func (rt *Runtime) Deregister(fd uintptr) error {
	b, err := rt.backendFor(fd)
	if err != nil {
		return err
	}
	return b.Deregister(fd)
}

// ErrWaitSuperseded fails a WaitReady Task whose registration was taken
// over by a later WaitReady on the same descriptor and interest.
var ErrWaitSuperseded = errors.New("facade: wait superseded by a later WaitReady")

type waiter struct {
	cancel func() bool
	fail   func(error) bool
}

// waitSlot is one interest bit of one descriptor. At most one waiter owns
// a slot, matching the backend's one continuation per bit.
type waitSlot struct {
	fd  uintptr
	bit api.Interest
}

func interestBits(interest api.Interest) []api.Interest {
	var out []api.Interest
	for _, bit := range []api.Interest{api.InterestRead, api.InterestWrite} {
		if interest&bit != 0 {
			out = append(out, bit)
		}
	}
	return out
}

// claim makes w the owner of every bit of interest on fd and returns the
// waiters it displaced.
func (rt *Runtime) claim(w *waiter, fd uintptr, interest api.Interest) []*waiter {
	rt.slotsMu.Lock()
	defer rt.slotsMu.Unlock()
	var displaced []*waiter
	for _, bit := range interestBits(interest) {
		k := waitSlot{fd, bit}
		if old := rt.slots[k]; old != nil && !slices.Contains(displaced, old) {
			displaced = append(displaced, old)
		}
		rt.slots[k] = w
	}
	return displaced
}

// release drops the slots w still owns on fd and returns their bits.
func (rt *Runtime) release(w *waiter, fd uintptr, interest api.Interest) api.Interest {
	rt.slotsMu.Lock()
	defer rt.slotsMu.Unlock()
	var owned api.Interest
	for _, bit := range interestBits(interest) {
		k := waitSlot{fd, bit}
		if rt.slots[k] == w {
			delete(rt.slots, k)
			owned |= bit
		}
	}
	return owned
}

// WaitReady returns a Task that completes with the observed events once
// fd is ready for interest. Cancelling the Task deregisters the interest.
// A later WaitReady on the same fd and interest fails this one with
// ErrWaitSuperseded. Pending waits are cancelled when the Runtime shuts
// down.
func (rt *Runtime) WaitReady(ctx *session.Context, fd uintptr, interest api.Interest) *task.Task[api.Interest] {
	t := task.New[api.Interest](rt.Dispatcher(ctx))
	b, err := rt.backendFor(fd)
	if err != nil {
		t.Fail(err)
		return t
	}
	w := &waiter{cancel: t.Cancel, fail: t.Fail}
	rt.waits.Store(w, struct{}{})
	displaced := rt.claim(w, fd, interest)
	t.OnState(func(s task.State, ev api.Interest, _ error) {
		rt.waits.Delete(w)
		owned := rt.release(w, fd, interest)
		if s == task.StateCompleted {
			owned &^= ev
		}
		if owned != 0 {
			_ = b.DeregisterInterest(fd, owned)
		}
	})
	if err := b.RegisterInterest(fd, interest, func(ev api.Interest) { t.Complete(ev) }); err != nil {
		t.Fail(err)
	}
	for _, old := range displaced {
		old.fail(ErrWaitSuperseded)
	}
	return t
}

// cancelWaits cancels every pending WaitReady Task.
func (rt *Runtime) cancelWaits() {
	rt.waits.Range(func(k, _ any) bool {
		k.(*waiter).cancel()
		return true
	})
}
