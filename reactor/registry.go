// File: reactor/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registration table shared by every backend: (fd, interest) -> continuation.

package reactor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-rt/api"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("reactor: backend closed")

const registrable = api.InterestRead | api.InterestWrite

type slot struct {
	read  api.Continuation
	write api.Continuation
}

func (s *slot) mask() api.Interest {
	var m api.Interest
	if s.read != nil {
		m |= api.InterestRead
	}
	if s.write != nil {
		m |= api.InterestWrite
	}
	return m
}

// syncFunc mirrors a mask change into the kernel. It runs under the
// registry lock so kernel state and table never diverge.
type syncFunc func(fd uintptr, before, after api.Interest) error

type registry struct {
	mu     sync.Mutex
	fds    map[uintptr]*slot
	n      int
	closed bool
}

func newRegistry() *registry {
	return &registry{fds: make(map[uintptr]*slot)}
}

func validInterest(interest api.Interest) error {
	if interest == 0 || interest&^registrable != 0 {
		return fmt.Errorf("%w: interest %s", api.ErrInvalidArgument, interest)
	}
	return nil
}

// arm stores cont under each bit of interest, replacing earlier pending
// continuations for the same bits.
func (r *registry) arm(fd uintptr, interest api.Interest, cont api.Continuation, sync syncFunc) error {
	if err := validInterest(interest); err != nil {
		return err
	}
	if cont == nil {
		return fmt.Errorf("%w: nil continuation", api.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	s := r.fds[fd]
	if s == nil {
		s = &slot{}
	}
	before := s.mask()
	prev := *s
	if interest&api.InterestRead != 0 {
		s.read = cont
	}
	if interest&api.InterestWrite != 0 {
		s.write = cont
	}
	after := s.mask()
	if sync != nil {
		if err := sync(fd, before, after); err != nil {
			*s = prev
			return err
		}
	}
	r.fds[fd] = s
	r.n += bits(after) - bits(before)
	return nil
}

// disarm drops the pending continuations for interest. Missing
// registrations are not an error.
func (r *registry) disarm(fd uintptr, interest api.Interest, sync syncFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	s := r.fds[fd]
	if s == nil {
		return nil
	}
	before := s.mask()
	if interest&api.InterestRead != 0 {
		s.read = nil
	}
	if interest&api.InterestWrite != 0 {
		s.write = nil
	}
	after := s.mask()
	if after == before {
		return nil
	}
	r.n -= bits(before) - bits(after)
	if after == 0 {
		delete(r.fds, fd)
	}
	if sync != nil {
		return sync(fd, before, after)
	}
	return nil
}

// fire consumes the registrations satisfied by events and appends them to
// out. An error condition consumes every pending interest of fd.
func (r *registry) fire(fd uintptr, events api.Interest, out []api.Ready, sync syncFunc) []api.Ready {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.fds[fd]
	if s == nil || r.closed {
		return out
	}
	before := s.mask()
	failed := events&api.InterestError != 0
	if s.read != nil && (failed || events&api.InterestRead != 0) {
		out = append(out, api.Ready{Fd: fd, Events: events &^ api.InterestWrite, Cont: s.read})
		s.read = nil
	}
	if s.write != nil && (failed || events&api.InterestWrite != 0) {
		out = append(out, api.Ready{Fd: fd, Events: events &^ api.InterestRead, Cont: s.write})
		s.write = nil
	}
	after := s.mask()
	if after == before {
		return out
	}
	r.n -= bits(before) - bits(after)
	if after == 0 {
		delete(r.fds, fd)
	}
	if sync != nil {
		_ = sync(fd, before, after) // table stays authoritative

	}
	return out
}

func (r *registry) pending(fd uintptr) api.Interest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.fds[fd]; s != nil {
		return s.mask()
	}
	return 0
}

// snapshot calls fn for every fd with its pending mask.
func (r *registry) snapshot(fn func(fd uintptr, mask api.Interest)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fd, s := range r.fds {
		fn(fd, s.mask())
	}
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// close marks the table closed and drops every registration.
func (r *registry) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	r.fds = nil
	r.n = 0
	return true
}

func bits(m api.Interest) int {
	n := 0
	if m&api.InterestRead != 0 {
		n++
	}
	if m&api.InterestWrite != 0 {
		n++
	}
	return n
}
