// File: internal/concurrency/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker loop: local queue, then steal, then shared queues, then park.

package concurrency

import (
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
)

// worker is a slot in the pool. A slot outlives the goroutines that run
// it: after a fault a new incarnation takes over the same queue.
type worker struct {
	id   int
	node int
	cpus []int
	rq   *runQueue
	wake chan struct{}

	parked   atomic.Bool
	dead     atomic.Bool
	restarts atomic.Int32
	inc      atomic.Pointer[incarnation]
}

func (w *worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// incarnation is one goroutine running a worker slot.
type incarnation struct {
	gen      int
	beat     atomic.Int64
	current  atomic.Pointer[Job]
	kill     chan struct{}
	killOnce sync.Once
	exited   chan struct{}
	stopped  atomic.Bool
	handled  atomic.Bool
}

func (inc *incarnation) touch() { inc.beat.Store(time.Now().UnixNano()) }

func (inc *incarnation) killed() bool {
	select {
	case <-inc.kill:
		return true
	default:
		return false
	}
}

func (s *Scheduler) spawn(w *worker) {
	gen := 0
	if prev := w.inc.Load(); prev != nil {
		gen = prev.gen + 1
	}
	inc := &incarnation{gen: gen, kill: make(chan struct{}), exited: make(chan struct{})}
	inc.touch()
	w.inc.Store(inc)
	w.dead.Store(false)
	go s.runWorker(w, inc)
}

func (s *Scheduler) runWorker(w *worker, inc *incarnation) {
	defer s.workerExit(w, inc)
	log := s.log.WithFields(logrus.Fields{"worker": w.id, "gen": inc.gen})
	if s.cfg.NUMA && len(w.cpus) > 0 {
		if err := affinity.PinCurrentThread(w.cpus); err != nil {
			log.WithError(err).Warn("cpu pinning unavailable")
		}
	}
	log.Debug("worker started")

	idle := time.NewTimer(s.cfg.IdlePollInterval)
	defer idle.Stop()
	for {
		select {
		case <-s.quit:
			inc.stopped.Store(true)
			return
		case <-inc.kill:
			return
		default:
		}
		inc.touch()

		j := s.next(w)
		if j == nil {
			// Publish parked before the last look so a producer either
			// sees us parked or we see its job.
			w.parked.Store(true)
			if j = s.next(w); j == nil {
				idle.Reset(s.cfg.IdlePollInterval)
				select {
				case <-w.wake:
				case <-idle.C:
				case <-s.quit:
					w.parked.Store(false)
					inc.stopped.Store(true)
					return
				case <-inc.kill:
					w.parked.Store(false)
					return
				}
				w.parked.Store(false)
				continue
			}
			w.parked.Store(false)
		}

		if s.cfg.Policy != api.PolicyRoundRobin && w.rq.len() > 0 {
			s.wakeOne()
		}
		s.execute(w, inc, j)
		if inc.handled.Load() {
			// Declared hung and replaced while running j.
			return
		}
	}
}

// workerExit classifies how the incarnation ended. Anything other than a
// requested stop is a fault handed to the supervisor.
func (s *Scheduler) workerExit(w *worker, inc *incarnation) {
	r := recover()
	w.parked.Store(false)
	close(inc.exited)
	if inc.stopped.Load() || inc.handled.Load() {
		return
	}
	cause := "goexit"
	switch {
	case r != nil:
		cause = "panic"
	case inc.killed():
		cause = "injected"
	}
	select {
	case s.faults <- fault{w: w, inc: inc, cause: cause, at: time.Now()}:
	case <-s.quit:
	}
}

// execute runs j. A panic fails the job, not the worker. If j never
// returns (runtime.Goexit) current stays set for the supervisor.
func (s *Scheduler) execute(w *worker, inc *incarnation, j *Job) {
	inc.current.Store(j)
	s.inflight.Add(1)
	defer func() {
		if r := recover(); r != nil {
			if inc.current.CompareAndSwap(j, nil) {
				s.inflight.Add(-1)
			}
			s.log.WithFields(logrus.Fields{"worker": w.id, "panic": r}).Warn("job panicked")
			j.abort(&api.TaskFailure{Panic: r, Stack: debug.Stack()})
		}
	}()
	j.Run(w.id)
	if inc.current.CompareAndSwap(j, nil) {
		s.inflight.Add(-1)
	}
}

func (s *Scheduler) next(w *worker) *Job {
	now := time.Now()
	if j := w.rq.pop(now, s.cfg.AgingThreshold); j != nil {
		return j
	}
	if s.cfg.Policy != api.PolicyRoundRobin {
		if j := s.steal(w, now); j != nil {
			return j
		}
	}
	if j := s.overflow.pop(); j != nil {
		return j
	}
	if s.cfg.Policy == api.PolicyPriority {
		return s.pullBatch(w, now)
	}
	j, _ := s.injector.Dequeue()
	return j
}

// pullBatch moves up to BatchSize injector jobs into w's banded queue so
// priorities apply across them.
func (s *Scheduler) pullBatch(w *worker, now time.Time) *Job {
	batch := make([]*Job, 0, s.cfg.BatchSize)
	for len(batch) < s.cfg.BatchSize {
		j, ok := s.injector.Dequeue()
		if !ok {
			break
		}
		batch = append(batch, j)
	}
	if len(batch) == 0 {
		return nil
	}
	w.rq.pushAll(batch, now)
	return w.rq.pop(now, s.cfg.AgingThreshold)
}

// steal takes half of a random sibling's queue, at most BatchSize jobs.
// Siblings on the same NUMA node are tried first.
func (s *Scheduler) steal(w *worker, now time.Time) *Job {
	n := len(s.workers)
	if n < 2 {
		return nil
	}
	start := rand.IntN(n)
	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i++ {
			v := s.workers[(start+i)%n]
			if v == w || (v.node == w.node) != (pass == 0) || v.rq.len() == 0 {
				continue
			}
			got := v.rq.steal(s.cfg.BatchSize)
			if len(got) == 0 {
				continue
			}
			s.metrics.RecordSteal(len(got))
			if len(got) > 1 {
				w.rq.pushAll(got[1:], now)
			}
			return got[0]
		}
	}
	return nil
}
