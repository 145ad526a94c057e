// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop drives one backend on a dedicated goroutine. Fired continuations
// are never run on the loop itself; they are handed to the dispatcher.

package reactor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/api"
)

// Loop polls a backend until stopped.
type Loop struct {
	id       int
	backend  api.Backend
	dispatch func(func())
	timeout  time.Duration
	log      *logrus.Entry

	running  atomic.Bool
	stopping atomic.Bool
	events   atomic.Uint64
	done     chan struct{}
}

// NewLoop binds backend to dispatch. timeout bounds each Poll so Stop is
// observed even if Wake is lost.
func NewLoop(id int, backend api.Backend, dispatch func(func()), timeout time.Duration, log *logrus.Entry) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{
		id:       id,
		backend:  backend,
		dispatch: dispatch,
		timeout:  timeout,
		log:      log.WithFields(logrus.Fields{"component": "reactor", "reactor": id, "backend": backend.Kind()}),
		done:     make(chan struct{}),
	}
}

// Backend returns the driven backend.
func (l *Loop) Backend() api.Backend { return l.backend }

// Events returns the number of readiness deliveries so far.
func (l *Loop) Events() uint64 { return l.events.Load() }

// Run polls until Stop, ctx is done, or the backend fails. A backend
// failure is returned; a requested stop returns nil. Run may be called
// once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return nil
	}
	defer close(l.done)
	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()

	l.log.Debug("reactor loop started")
	for !l.stopping.Load() {
		ready, err := l.backend.Poll(l.timeout)
		if err != nil {
			if l.stopping.Load() {
				break
			}
			l.log.WithError(err).Error("reactor loop terminated")
			return err
		}
		for _, r := range ready {
			cont, ev := r.Cont, r.Events
			l.events.Add(1)
			l.dispatch(func() { cont(ev) })
		}
	}
	l.log.Debug("reactor loop stopped")
	return nil
}

// Stop asks Run to return and wakes a blocked Poll.
func (l *Loop) Stop() {
	if l.stopping.Swap(true) {
		return
	}
	_ = l.backend.Wake()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
