//go:build linux
// +build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) backend. Sources are watched level-triggered and the
// watch mask is narrowed as registrations fire, which gives one-shot
// delivery per (fd, interest). Wake uses an eventfd.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
)

const epollBatch = 256

type epollBackend struct {
	epfd   int
	wakefd int
	reg    *registry
	buf    [epollBatch]unix.EpollEvent
	closed atomic.Bool
}

func newEpoll() (api.Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &api.BackendSetupError{Backend: api.BackendEpoll, Op: "epoll_create1", Err: err}
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, &api.BackendSetupError{Backend: api.BackendEpoll, Op: "eventfd", Err: err}
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, &api.BackendSetupError{Backend: api.BackendEpoll, Op: "epoll_ctl wakefd", Err: err}
	}
	return &epollBackend{epfd: epfd, wakefd: wakefd, reg: newRegistry()}, nil
}

func (b *epollBackend) Kind() api.BackendKind { return api.BackendEpoll }

func (b *epollBackend) RegisterInterest(fd uintptr, interest api.Interest, cont api.Continuation) error {
	if fd == uintptr(b.wakefd) {
		return fmt.Errorf("%w: fd %d is reserved", api.ErrInvalidArgument, fd)
	}
	return b.reg.arm(fd, interest, cont, b.ctl)
}

func (b *epollBackend) DeregisterInterest(fd uintptr, interest api.Interest) error {
	return b.reg.disarm(fd, interest, b.ctl)
}

func (b *epollBackend) Deregister(fd uintptr) error {
	return b.reg.disarm(fd, registrable, b.ctl)
}

func (b *epollBackend) Registrations() int { return b.reg.count() }

// ctl mirrors a mask change into the epoll set.
func (b *epollBackend) ctl(fd uintptr, before, after api.Interest) error {
	if after == 0 {
		err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
			return nil // fd was closed by its owner
		}
		return err
	}
	ev := &unix.EpollEvent{Events: toEpoll(after), Fd: int32(fd)}
	if before != 0 {
		err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, int(fd), ev)
		if !errors.Is(err, unix.ENOENT) {
			return err
		}
	}
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, int(fd), ev)
}

func (b *epollBackend) Poll(timeout time.Duration) ([]api.Ready, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	n, err := unix.EpollWait(b.epfd, b.buf[:], timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	var out []api.Ready
	for i := 0; i < n; i++ {
		ev := b.buf[i]
		if int(ev.Fd) == b.wakefd {
			b.drainWake()
			continue
		}
		out = b.reg.fire(uintptr(ev.Fd), fromEpoll(ev.Events), out, b.ctl)
	}
	return out, nil
}

func (b *epollBackend) Wake() error {
	if b.closed.Load() {
		return ErrClosed
	}
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, err := unix.Write(b.wakefd, one[:])
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

func (b *epollBackend) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(b.wakefd, buf[:])
}

func (b *epollBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.reg.close()
	err := unix.Close(b.wakefd)
	if cerr := unix.Close(b.epfd); err == nil {
		err = cerr
	}
	return err
}

func toEpoll(m api.Interest) uint32 {
	var ev uint32
	if m&api.InterestRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if m&api.InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) api.Interest {
	var m api.Interest
	if ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		m |= api.InterestRead
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= api.InterestWrite
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		m |= api.InterestError
	}
	return m
}
