//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

// File: reactor/wakeup_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Self-pipe wakeup and helpers shared by the unix backends.

package reactor

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

type wakePipe struct {
	r, w int
}

// newWakePipe creates a non-blocking, close-on-exec pipe.
func newWakePipe() (wakePipe, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return wakePipe{-1, -1}, err
	}
	p := wakePipe{fds[0], fds[1]}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			p.close()
			return wakePipe{-1, -1}, err
		}
	}
	return p, nil
}

func (p wakePipe) wake() error {
	_, err := unix.Write(p.w, []byte{1})
	if errors.Is(err, unix.EAGAIN) {
		return nil // already pending
	}
	return err
}

func (p wakePipe) drain() {
	var buf [64]byte
	for {
		if n, err := unix.Read(p.r, buf[:]); n <= 0 || err != nil {
			return
		}
	}
}

func (p wakePipe) close() {
	if p.r >= 0 {
		_ = unix.Close(p.r)
	}
	if p.w >= 0 {
		_ = unix.Close(p.w)
	}
}

// timeoutMillis converts a Poll timeout for the millisecond syscalls.
// Sub-millisecond waits round up so a short timeout never spins.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
