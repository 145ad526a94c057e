// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for readiness notification backends
// (epoll, kqueue, poll) that wake suspended work when an I/O source is ready.

package api

import "time"

// Interest is a bitmask of readiness conditions.
type Interest uint32

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	// InterestError is only ever reported, never registered.
	InterestError
)

func (i Interest) String() string {
	s := ""
	if i&InterestRead != 0 {
		s += "r"
	}
	if i&InterestWrite != 0 {
		s += "w"
	}
	if i&InterestError != 0 {
		s += "e"
	}
	if s == "" {
		return "-"
	}
	return s
}

// Continuation is invoked once per readiness event with the observed events.
type Continuation func(events Interest)

// Ready pairs a fired registration with the events observed for it.
type Ready struct {
	Fd     uintptr
	Events Interest
	Cont   Continuation
}

// Backend is the capability set every readiness backend provides.
//
// Registrations are one-shot: a continuation fires at most once per
// RegisterInterest call, and a source that is still ready must be
// registered again. At most one registration exists per (fd, interest);
// registering again before delivery replaces the previous continuation.
type Backend interface {
	Kind() BackendKind

	// RegisterInterest arms fd for interest (read, write or both).
	RegisterInterest(fd uintptr, interest Interest, cont Continuation) error

	// DeregisterInterest drops pending registrations of fd for interest.
	DeregisterInterest(fd uintptr, interest Interest) error

	// Deregister drops every pending registration of fd.
	Deregister(fd uintptr) error

	// Poll blocks the calling goroutine for at most timeout (negative
	// blocks until an event or Wake) and returns the fired registrations.
	Poll(timeout time.Duration) ([]Ready, error)

	// Wake interrupts a concurrent Poll.
	Wake() error

	// Registrations returns the number of pending (fd, interest) pairs.
	Registrations() int

	Close() error
}
