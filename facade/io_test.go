//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package facade_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/task"
	"github.com/momentics/hioload-rt/facade"
)

func newPipe(t *testing.T) (r, w int) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestWaitReady(t *testing.T) {
	rt := startRuntime(t, testConfig(2))
	r, w := newPipe(t)

	ready := rt.WaitReady(rt.NewContext(), uintptr(r), api.InterestRead)
	assert.Equal(t, task.StatePending, ready.State())
	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	ev, err := ready.Await(t.Context())
	require.NoError(t, err)
	assert.NotZero(t, ev&api.InterestRead)
	require.Eventually(t, func() bool { return rt.Stats().BackendRegistrations == 0 }, time.Second, time.Millisecond)
}

func TestCancelledWaitDeregisters(t *testing.T) {
	rt := startRuntime(t, testConfig(1))
	r, _ := newPipe(t)

	ready := rt.WaitReady(nil, uintptr(r), api.InterestRead)
	require.Equal(t, 1, rt.Stats().BackendRegistrations)
	require.True(t, ready.Cancel())
	require.Eventually(t, func() bool { return rt.Stats().BackendRegistrations == 0 }, time.Second, time.Millisecond)
}

func TestRegisterInterestRunsOnWorker(t *testing.T) {
	rt := startRuntime(t, testConfig(2))
	r, w := newPipe(t)

	got := make(chan api.Interest, 1)
	require.NoError(t, rt.RegisterInterest(uintptr(r), api.InterestRead, func(ev api.Interest) { got <- ev }))
	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)
	select {
	case ev := <-got:
		assert.NotZero(t, ev&api.InterestRead)
	case <-time.After(time.Second):
		t.Fatal("continuation not delivered")
	}
	require.NoError(t, rt.Deregister(uintptr(r)))
}

func TestShutdownCancelsPendingWaits(t *testing.T) {
	rt := startRuntime(t, testConfig(1))
	r, _ := newPipe(t)
	ready := rt.WaitReady(nil, uintptr(r), api.InterestRead)

	require.NoError(t, rt.Shutdown(time.Second))
	_, err := ready.Await(t.Context())
	assert.ErrorIs(t, err, api.ErrCancelled)
}

func TestSecondWaitSupersedesFirst(t *testing.T) {
	rt := startRuntime(t, testConfig(2))
	r, w := newPipe(t)

	first := rt.WaitReady(nil, uintptr(r), api.InterestRead)
	second := rt.WaitReady(nil, uintptr(r), api.InterestRead)

	_, err := first.Await(t.Context())
	require.ErrorIs(t, err, facade.ErrWaitSuperseded)
	assert.False(t, first.Cancel())

	// The superseded waiter must not take the live registration with it.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, rt.Stats().BackendRegistrations)
	assert.Equal(t, task.StatePending, second.State())

	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)
	ev, err := second.Await(t.Context())
	require.NoError(t, err)
	assert.NotZero(t, ev&api.InterestRead)
	require.Eventually(t, func() bool { return rt.Stats().BackendRegistrations == 0 }, time.Second, time.Millisecond)
}
