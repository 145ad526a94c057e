// File: internal/concurrency/scheduler.go
// Package concurrency implements the multi-worker task scheduler.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler distributes jobs across a fixed pool of workers. External
// submissions go through a bounded lock-free injector or a worker's local
// queue and are rejected synchronously when everything is full. Internal
// dispatches (continuations, readiness, requeued work) go to an unbounded
// overflow queue and are never rejected.

package concurrency

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
)

// Config is the scheduler's slice of the runtime configuration.
type Config struct {
	Workers  int
	Policy   api.SchedulingPolicy
	NUMA     bool
	Topology affinity.Topology

	// MaxQueueDepth bounds each worker queue and the injector for external
	// submissions. Zero leaves worker queues unbounded.
	MaxQueueDepth    int
	BatchSize        int
	IdlePollInterval time.Duration
	AgingThreshold   time.Duration

	// MaxRestarts is the total restart budget; negative is unlimited.
	MaxRestarts       int
	RestartBackoff    time.Duration
	MaxRestartBackoff time.Duration
	BackoffMultiplier float64
	// HeartbeatTimeout > 0 treats a worker stuck in one job for longer as
	// faulted.
	HeartbeatTimeout time.Duration

	// OnFault is called from the supervisor for every worker fault.
	OnFault func(*api.WorkerFault)
}

const (
	defaultInjectorDepth = 4096
	defaultBatchSize     = 32
	defaultIdlePoll      = 10 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Policy == "" {
		c.Policy = api.PolicyWorkStealing
	}
	if len(c.Topology.Nodes) == 0 {
		c.Topology = affinity.Flat(runtime.NumCPU())
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.IdlePollInterval <= 0 {
		c.IdlePollInterval = defaultIdlePoll
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 2
	}
	if c.MaxRestartBackoff < c.RestartBackoff {
		c.MaxRestartBackoff = c.RestartBackoff
	}
	return c
}

// Scheduler owns the workers and their queues.
type Scheduler struct {
	cfg     Config
	metrics Metrics
	log     *logrus.Entry

	workers  []*worker
	injector *LockFreeQueue[*Job]
	overflow *fifo

	// lifecycle is held shared by producers and exclusively by Stop, so
	// nothing is enqueued after the final drain.
	lifecycle sync.RWMutex
	started   bool
	draining  bool
	closed    bool

	quit    chan struct{}
	faults  chan fault
	supDone chan struct{}

	rr       atomic.Uint64
	inflight atomic.Int64
	restarts atomic.Int64
	degraded atomic.Bool
	lost     atomic.Int32
	// starved holds the fault that took down the last live worker. Once
	// set, Submit fails with it and Dispatch runs inline.
	starved atomic.Pointer[api.WorkerFault]

	// supervisor-owned
	consecutive int
	lastFault   time.Time
}

// NewScheduler validates cfg and builds an unstarted scheduler.
func NewScheduler(cfg Config, metrics Metrics, log *logrus.Entry) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	switch cfg.Policy {
	case api.PolicyRoundRobin, api.PolicyWorkStealing, api.PolicyPriority:
	default:
		return nil, fmt.Errorf("%w: scheduling policy %q", api.ErrInvalidArgument, cfg.Policy)
	}
	if metrics == nil {
		metrics = NilMetrics{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	injectorDepth := cfg.MaxQueueDepth
	if injectorDepth <= 0 {
		injectorDepth = defaultInjectorDepth
	}
	s := &Scheduler{
		cfg:      cfg,
		metrics:  metrics,
		log:      log.WithField("component", "scheduler"),
		injector: NewLockFreeQueue[*Job](injectorDepth),
		overflow: newFIFO(),
		quit:     make(chan struct{}),
		faults:   make(chan fault, cfg.Workers),
		supDone:  make(chan struct{}),
	}
	s.workers = make([]*worker, cfg.Workers)
	for i := range s.workers {
		node := cfg.Topology.NodeForWorker(i)
		s.workers[i] = &worker{
			id:   i,
			node: node,
			cpus: cfg.Topology.CPUs(node),
			rq:   newRunQueue(cfg.MaxQueueDepth, cfg.Policy == api.PolicyPriority),
			wake: make(chan struct{}, 1),
		}
	}
	return s, nil
}

// Start spawns the workers and the supervisor.
func (s *Scheduler) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed {
		return api.ErrRuntimeClosed
	}
	if s.started {
		return errors.New("scheduler: already started")
	}
	s.started = true
	for _, w := range s.workers {
		s.spawn(w)
	}
	go s.supervise()
	s.log.WithFields(logrus.Fields{
		"workers": len(s.workers),
		"policy":  s.cfg.Policy,
		"numa":    s.cfg.NUMA,
		"nodes":   s.cfg.Topology.NumNodes(),
	}).Info("scheduler started")
	return nil
}

// Submit enqueues externally submitted work. It fails synchronously with
// *api.BackpressureError when every queue that may hold j is full; the job
// is then not enqueued.
func (s *Scheduler) Submit(j *Job) error {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if !s.started || s.draining || s.closed {
		return api.ErrRuntimeClosed
	}
	if wf := s.starved.Load(); wf != nil {
		return wf
	}
	now := time.Now()
	if s.cfg.Policy.AffinityAware() {
		if w := s.workerAt(j.Worker); w != nil && w.rq.push(j, now, false) {
			w.notify()
			return nil
		}
		if s.cfg.NUMA && j.Node >= 0 {
			if w := s.leastLoaded(j.Node); w != nil && w.rq.push(j, now, false) {
				w.notify()
				return nil
			}
		}
	}
	j.enqueued = now
	if s.injector.Enqueue(j) {
		s.wakeOne()
		return nil
	}
	n := len(s.workers)
	start := int(s.rr.Add(1) % uint64(n))
	for i := 0; i < n; i++ {
		w := s.workers[(start+i)%n]
		if !w.dead.Load() && w.rq.push(j, now, false) {
			w.notify()
			return nil
		}
	}
	return &api.BackpressureError{Queued: s.Pending(), Capacity: s.Capacity()}
}

// Dispatch enqueues internal work. It never fails: once the scheduler is
// stopped the job runs inline on the caller with worker id NoHint.
func (s *Scheduler) Dispatch(j *Job) {
	s.lifecycle.RLock()
	if s.closed || s.starved.Load() != nil {
		s.lifecycle.RUnlock()
		s.runInline(j)
		return
	}
	if s.cfg.Policy.AffinityAware() {
		if w := s.workerAt(j.Worker); w != nil {
			w.rq.push(j, time.Now(), true)
			s.lifecycle.RUnlock()
			w.notify()
			return
		}
	}
	s.overflow.push(j)
	s.lifecycle.RUnlock()
	s.wakeOne()
}

func (s *Scheduler) runInline(j *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Warn("inline job panicked")
			j.abort(&api.TaskFailure{Panic: r})
		}
	}()
	j.Run(NoHint)
}

// BeginDrain stops accepting external submissions. Internal dispatches
// are still accepted so in-flight chains can finish.
func (s *Scheduler) BeginDrain() {
	s.lifecycle.Lock()
	s.draining = true
	s.lifecycle.Unlock()
}

// Idle reports whether nothing is queued or running.
func (s *Scheduler) Idle() bool { return s.Pending() == 0 }

// Stop halts the workers, waits for them until ctx ends, and aborts every
// job that never ran with api.ErrCancelled. It returns the number of
// aborted jobs. Later calls return 0.
func (s *Scheduler) Stop(ctx context.Context) int {
	s.lifecycle.Lock()
	if s.closed {
		s.lifecycle.Unlock()
		return 0
	}
	s.closed = true
	started := s.started
	close(s.quit)
	s.lifecycle.Unlock()

	if started {
		for _, w := range s.workers {
			inc := w.inc.Load()
			if inc == nil || inc.handled.Load() {
				continue
			}
			select {
			case <-inc.exited:
			case <-ctx.Done():
				s.log.WithField("worker", w.id).Warn("worker did not stop in time")
			}
		}
		select {
		case <-s.supDone:
		case <-ctx.Done():
		}
	}

	var aborted []*Job
	for _, w := range s.workers {
		if inc := w.inc.Load(); inc != nil {
			if j := inc.current.Swap(nil); j != nil {
				s.inflight.Add(-1)
				aborted = append(aborted, j)
			}
		}
		aborted = append(aborted, w.rq.drain()...)
	}
	aborted = append(aborted, s.overflow.drain()...)
	for {
		j, ok := s.injector.Dequeue()
		if !ok {
			break
		}
		aborted = append(aborted, j)
	}
	for _, j := range aborted {
		j.abort(api.ErrCancelled)
	}
	s.log.WithField("aborted", len(aborted)).Info("scheduler stopped")
	return len(aborted)
}

// Starved returns the fault that left the pool without a live worker, or
// nil.
func (s *Scheduler) Starved() *api.WorkerFault { return s.starved.Load() }

// NumWorkers returns the pool size.
func (s *Scheduler) NumWorkers() int { return len(s.workers) }

// Pending returns queued plus running jobs.
func (s *Scheduler) Pending() int {
	n := s.injector.Len() + s.overflow.len() + int(s.inflight.Load())
	for _, w := range s.workers {
		n += w.rq.len()
	}
	return n
}

// Capacity is the number of external submissions the queues can hold.
func (s *Scheduler) Capacity() int {
	c := s.injector.Cap()
	if s.cfg.MaxQueueDepth > 0 {
		c += s.cfg.MaxQueueDepth * len(s.workers)
	}
	return c
}

// QueueDepths returns each worker's local queue length.
func (s *Scheduler) QueueDepths() []int {
	out := make([]int, len(s.workers))
	for i, w := range s.workers {
		out[i] = w.rq.len()
	}
	return out
}

// InjectorDepth returns the shared queue lengths: injector and overflow.
func (s *Scheduler) InjectorDepth() (injector, overflow int) {
	return s.injector.Len(), s.overflow.len()
}

// Degraded reports whether the restart budget is exhausted.
func (s *Scheduler) Degraded() bool { return s.degraded.Load() }

// Restarts returns the total number of worker restarts.
func (s *Scheduler) Restarts() int { return int(s.restarts.Load()) }

// WorkerInfo describes one worker slot.
type WorkerInfo struct {
	ID         int    `json:"id"`
	Node       int    `json:"node"`
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
	Restarts   int    `json:"restarts"`
}

// Workers reports every worker slot.
func (s *Scheduler) Workers() []WorkerInfo {
	s.lifecycle.RLock()
	draining := s.draining || s.closed
	s.lifecycle.RUnlock()
	out := make([]WorkerInfo, len(s.workers))
	for i, w := range s.workers {
		status := "running"
		switch {
		case w.dead.Load():
			status = "dead"
		case draining:
			status = "draining"
		case w.parked.Load():
			status = "idle"
		}
		out[i] = WorkerInfo{ID: w.id, Node: w.node, Status: status, QueueDepth: w.rq.len(), Restarts: int(w.restarts.Load())}
	}
	return out
}

// InjectFault makes worker id exit as if it had crashed, once it finishes
// its current job. It reports whether a live worker was signalled.
func (s *Scheduler) InjectFault(id int) bool {
	if id < 0 || id >= len(s.workers) {
		return false
	}
	w := s.workers[id]
	inc := w.inc.Load()
	if inc == nil || w.dead.Load() {
		return false
	}
	inc.killOnce.Do(func() { close(inc.kill) })
	return true
}

func (s *Scheduler) workerAt(id int) *worker {
	if id < 0 || id >= len(s.workers) {
		return nil
	}
	w := s.workers[id]
	if w.dead.Load() {
		return nil
	}
	return w
}

// leastLoaded picks the live worker on node with the shortest queue that
// still has room.
func (s *Scheduler) leastLoaded(node int) *worker {
	var best *worker
	bestLen := 0
	for _, w := range s.workers {
		if w.node != node || w.dead.Load() || w.rq.full() {
			continue
		}
		if n := w.rq.len(); best == nil || n < bestLen {
			best, bestLen = w, n
		}
	}
	return best
}

// wakeOne signals one parked worker, if any.
func (s *Scheduler) wakeOne() {
	n := len(s.workers)
	start := int(s.rr.Add(1) % uint64(n))
	for i := 0; i < n; i++ {
		w := s.workers[(start+i)%n]
		if w.parked.Load() && !w.dead.Load() {
			w.notify()
			return
		}
	}
}

func (s *Scheduler) wakeAll() {
	for _, w := range s.workers {
		w.notify()
	}
}
