//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// File: reactor/kqueue_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// kqueue(2) backend for Darwin and the BSDs. Each interest is an
// EV_ONESHOT filter, so the kernel drops it on delivery. Wake uses a
// self-pipe.

package reactor

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
)

const kqueueBatch = 256

type kqueueBackend struct {
	kq     int
	wake   wakePipe
	reg    *registry
	buf    [kqueueBatch]unix.Kevent_t
	closed atomic.Bool
}

func newKqueue() (api.Backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, &api.BackendSetupError{Backend: api.BackendKqueue, Op: "kqueue", Err: err}
	}
	unix.CloseOnExec(kq)
	wake, err := newWakePipe()
	if err != nil {
		_ = unix.Close(kq)
		return nil, &api.BackendSetupError{Backend: api.BackendKqueue, Op: "pipe", Err: err}
	}
	var ev unix.Kevent_t
	unix.SetKevent(&ev, wake.r, unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		wake.close()
		_ = unix.Close(kq)
		return nil, &api.BackendSetupError{Backend: api.BackendKqueue, Op: "kevent wake", Err: err}
	}
	return &kqueueBackend{kq: kq, wake: wake, reg: newRegistry()}, nil
}

func (b *kqueueBackend) Kind() api.BackendKind { return api.BackendKqueue }

func (b *kqueueBackend) RegisterInterest(fd uintptr, interest api.Interest, cont api.Continuation) error {
	if int(fd) == b.wake.r || int(fd) == b.wake.w {
		return fmt.Errorf("%w: fd %d is reserved", api.ErrInvalidArgument, fd)
	}
	return b.reg.arm(fd, interest, cont, b.ctl)
}

func (b *kqueueBackend) DeregisterInterest(fd uintptr, interest api.Interest) error {
	return b.reg.disarm(fd, interest, b.ctl)
}

func (b *kqueueBackend) Deregister(fd uintptr) error {
	return b.reg.disarm(fd, registrable, b.ctl)
}

func (b *kqueueBackend) Registrations() int { return b.reg.count() }

// ctl adds filters for bits gained and deletes filters for bits lost.
// Re-arming an existing filter refreshes its one-shot state.
func (b *kqueueBackend) ctl(fd uintptr, before, after api.Interest) error {
	var changes []unix.Kevent_t
	add := func(filter int, flags int) {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, int(fd), filter, flags)
		changes = append(changes, ev)
	}
	for _, f := range []struct {
		bit    api.Interest
		filter int
	}{{api.InterestRead, unix.EVFILT_READ}, {api.InterestWrite, unix.EVFILT_WRITE}} {
		switch {
		case after&f.bit != 0:
			add(f.filter, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
		case before&f.bit != 0:
			add(f.filter, unix.EV_DELETE)
		}
	}
	for _, ev := range changes {
		_, err := unix.Kevent(b.kq, []unix.Kevent_t{ev}, nil, nil)
		if err == nil || (ev.Flags&unix.EV_DELETE != 0 && (errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF))) {
			continue
		}
		return err
	}
	return nil
}

func (b *kqueueBackend) Poll(timeout time.Duration) ([]api.Ready, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(b.kq, nil, b.buf[:], ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("kevent: %w", err)
	}
	var out []api.Ready
	for i := 0; i < n; i++ {
		ev := b.buf[i]
		fd := int(ev.Ident)
		if fd == b.wake.r {
			b.wake.drain()
			continue
		}
		out = b.reg.fire(uintptr(fd), fromKevent(ev), out, b.refire)
	}
	return out, nil
}

// refire keeps still-pending filters armed after a delivery. The fired
// filter was removed by the kernel.
func (b *kqueueBackend) refire(fd uintptr, before, after api.Interest) error {
	lost := before &^ after
	if after == 0 && lost&(lost-1) == 0 {
		return nil
	}
	return b.ctl(fd, before, after)
}

func (b *kqueueBackend) Wake() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.wake.wake()
}

func (b *kqueueBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.reg.close()
	b.wake.close()
	return unix.Close(b.kq)
}

func fromKevent(ev unix.Kevent_t) api.Interest {
	var m api.Interest
	switch ev.Filter {
	case unix.EVFILT_READ:
		m |= api.InterestRead
	case unix.EVFILT_WRITE:
		m |= api.InterestWrite
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		m |= api.InterestError
	}
	if ev.Flags&unix.EV_EOF != 0 && ev.Fflags != 0 {
		m |= api.InterestError
	}
	return m
}
