// File: internal/concurrency/supervisor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fault supervision: detection, requeue, and restart with exponential
// backoff until the restart budget is spent.

package concurrency

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/api"
)

type fault struct {
	w     *worker
	inc   *incarnation
	cause string
	at    time.Time
}

func (s *Scheduler) supervise() {
	defer close(s.supDone)
	var tick <-chan time.Time
	if hb := s.cfg.HeartbeatTimeout; hb > 0 {
		t := time.NewTicker(hb / 2)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case f := <-s.faults:
			s.handleFault(f)
		case now := <-tick:
			s.checkHeartbeats(now)
		case <-s.quit:
			return
		}
	}
}

// checkHeartbeats faults workers stuck in a single job past the timeout.
// Parked workers refresh their beat every idle poll and are never flagged.
func (s *Scheduler) checkHeartbeats(now time.Time) {
	for _, w := range s.workers {
		inc := w.inc.Load()
		if inc == nil || w.dead.Load() || inc.current.Load() == nil {
			continue
		}
		if now.Sub(time.Unix(0, inc.beat.Load())) > s.cfg.HeartbeatTimeout {
			s.handleFault(fault{w: w, inc: inc, cause: "heartbeat timeout", at: now})
		}
	}
}

func (s *Scheduler) handleFault(f fault) {
	if !f.inc.handled.CompareAndSwap(false, true) {
		return
	}
	w := f.w
	w.dead.Store(true)
	s.metrics.RecordWorkerFault(w.id)

	attempt := int(s.restarts.Add(1))
	exhausted := s.cfg.MaxRestarts >= 0 && attempt > s.cfg.MaxRestarts
	if exhausted {
		s.restarts.Add(-1)
	}
	wf := &api.WorkerFault{
		WorkerID:  w.id,
		Restarts:  int(s.restarts.Load()),
		Cause:     f.cause,
		Exhausted: exhausted,
		At:        f.at,
	}

	if j := f.inc.current.Swap(nil); j != nil {
		s.inflight.Add(-1)
		j.abort(wf)
	}
	if requeued := w.rq.drain(); len(requeued) > 0 {
		s.overflow.push(requeued...)
		s.metrics.RecordRequeued(len(requeued))
	}

	log := s.log.WithFields(logrus.Fields{"worker": w.id, "gen": f.inc.gen, "cause": f.cause})
	if exhausted {
		s.degraded.Store(true)
		if int(s.lost.Add(1)) == len(s.workers) {
			n := s.starve(wf)
			log.WithField("aborted", n).Error("worker fault: no live workers left, failing queued work")
		}
	}
	if s.cfg.OnFault != nil {
		s.cfg.OnFault(wf)
	}
	s.wakeAll()
	if exhausted {
		log.WithField("restarts", wf.Restarts).Error("worker fault: restart budget exhausted, scheduler degraded")
		return
	}

	delay := s.backoff(f.at)
	log.WithField("backoff", delay).Error("worker fault: restarting")
	time.AfterFunc(delay, func() { s.respawn(w) })
}

// backoff grows with consecutive faults and resets once the pool has run
// fault-free for longer than the backoff ceiling.
func (s *Scheduler) backoff(at time.Time) time.Duration {
	if !s.lastFault.IsZero() && at.Sub(s.lastFault) > s.cfg.MaxRestartBackoff {
		s.consecutive = 0
	}
	s.lastFault = at
	s.consecutive++
	d := float64(s.cfg.RestartBackoff) * math.Pow(s.cfg.BackoffMultiplier, float64(s.consecutive-1))
	if limit := float64(s.cfg.MaxRestartBackoff); d > limit {
		d = limit
	}
	return time.Duration(d)
}

// starve marks the pool as having no live workers and aborts everything
// still queued with wf. Jobs are aborted outside the lifecycle lock since
// their abort handlers may dispatch.
func (s *Scheduler) starve(wf *api.WorkerFault) int {
	s.lifecycle.Lock()
	s.starved.Store(wf)
	var queued []*Job
	for _, w := range s.workers {
		queued = append(queued, w.rq.drain()...)
	}
	queued = append(queued, s.overflow.drain()...)
	for {
		j, ok := s.injector.Dequeue()
		if !ok {
			break
		}
		queued = append(queued, j)
	}
	s.lifecycle.Unlock()
	for _, j := range queued {
		j.abort(wf)
	}
	return len(queued)
}

func (s *Scheduler) respawn(w *worker) {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.closed {
		return
	}
	s.spawn(w)
	w.restarts.Add(1)
	s.metrics.RecordWorkerRestart(w.id)
	s.log.WithFields(logrus.Fields{"worker": w.id, "gen": w.inc.Load().gen}).Info("worker restarted")
}
