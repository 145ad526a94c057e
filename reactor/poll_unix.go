//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

// File: reactor/poll_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable poll(2) backend. The descriptor set is rebuilt from the
// registration table on every Poll; registrations made while a Poll is in
// flight wake it so the new set takes effect.

package reactor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
)

type pollBackend struct {
	wake    wakePipe
	reg     *registry
	fds     []unix.PollFd
	polling atomic.Bool
	closed  atomic.Bool
}

func newPoll() (api.Backend, error) {
	wake, err := newWakePipe()
	if err != nil {
		return nil, &api.BackendSetupError{Backend: api.BackendPoll, Op: "pipe", Err: err}
	}
	return &pollBackend{wake: wake, reg: newRegistry()}, nil
}

func (b *pollBackend) Kind() api.BackendKind { return api.BackendPoll }

func (b *pollBackend) RegisterInterest(fd uintptr, interest api.Interest, cont api.Continuation) error {
	if int(fd) == b.wake.r || int(fd) == b.wake.w {
		return fmt.Errorf("%w: fd %d is reserved", api.ErrInvalidArgument, fd)
	}
	if err := b.reg.arm(fd, interest, cont, nil); err != nil {
		return err
	}
	return b.refresh()
}

func (b *pollBackend) DeregisterInterest(fd uintptr, interest api.Interest) error {
	return b.reg.disarm(fd, interest, nil)
}

func (b *pollBackend) Deregister(fd uintptr) error {
	return b.reg.disarm(fd, registrable, nil)
}

func (b *pollBackend) Registrations() int { return b.reg.count() }

// refresh interrupts an in-flight Poll so it picks up the new set.
func (b *pollBackend) refresh() error {
	if b.polling.Load() {
		return b.wake.wake()
	}
	return nil
}

func (b *pollBackend) Poll(timeout time.Duration) ([]api.Ready, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	// Publish polling before the snapshot so a concurrent registration
	// either lands in the set or wakes us.
	b.polling.Store(true)
	b.fds = append(b.fds[:0], unix.PollFd{Fd: int32(b.wake.r), Events: unix.POLLIN})
	b.reg.snapshot(func(fd uintptr, m api.Interest) {
		b.fds = append(b.fds, unix.PollFd{Fd: int32(fd), Events: toPoll(m)})
	})

	n, err := unix.Poll(b.fds, timeoutMillis(timeout))
	b.polling.Store(false)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	var out []api.Ready
	for _, p := range b.fds {
		if p.Revents == 0 {
			continue
		}
		if int(p.Fd) == b.wake.r {
			b.wake.drain()
			continue
		}
		out = b.reg.fire(uintptr(p.Fd), fromPoll(p.Revents), out, nil)
	}
	return out, nil
}

func (b *pollBackend) Wake() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.wake.wake()
}

func (b *pollBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.reg.close()
	b.wake.close()
	return nil
}

func toPoll(m api.Interest) int16 {
	var ev int16
	if m&api.InterestRead != 0 {
		ev |= unix.POLLIN
	}
	if m&api.InterestWrite != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func fromPoll(rev int16) api.Interest {
	var m api.Interest
	if rev&unix.POLLIN != 0 {
		m |= api.InterestRead
	}
	if rev&unix.POLLOUT != 0 {
		m |= api.InterestWrite
	}
	if rev&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		m |= api.InterestError
	}
	return m
}
