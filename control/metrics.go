// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RuntimeStats collects runtime counters from many goroutines at once.
// Hot counters are sharded across padded cache lines; gauges are read
// through bound functions at snapshot time so producers never block.

package control

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-rt/api"
)

const (
	statShards = 16
	cacheLine  = 64

	// ewmaAlpha weights the newest latency sample.
	ewmaAlpha = 0.1
)

type counterShard struct {
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
	rejected  atomic.Uint64
	_         [cacheLine - 5*8]byte
}

// RuntimeStats is safe for concurrent use. The zero value is not usable;
// call NewRuntimeStats.
type RuntimeStats struct {
	shards [statShards]counterShard

	latency    atomic.Uint64 // float64 bits, nanoseconds
	latencyMax atomic.Int64
	steals     atomic.Uint64
	faults     atomic.Uint64
	restarts   atomic.Uint64
	requeued   atomic.Uint64

	health    atomic.Pointer[api.Health]
	lastFault atomic.Pointer[api.WorkerFault]
	started   time.Time

	mu            sync.RWMutex
	queueDepths   func() []int
	registrations func() int
}

// NewRuntimeStats returns stats reporting HealthOK.
func NewRuntimeStats() *RuntimeStats {
	s := &RuntimeStats{started: time.Now()}
	s.SetHealth(api.HealthOK)
	return s
}

func (s *RuntimeStats) shard() *counterShard {
	return &s.shards[rand.Uint32()&(statShards-1)]
}

// RecordSubmitted counts an accepted submission.
func (s *RuntimeStats) RecordSubmitted() { s.shard().submitted.Add(1) }

// RecordRejected counts a submission refused with backpressure.
func (s *RuntimeStats) RecordRejected() { s.shard().rejected.Add(1) }

// RecordCompleted counts a successful task and folds its latency, measured
// from submission, into the moving average.
func (s *RuntimeStats) RecordCompleted(latency time.Duration) {
	s.shard().completed.Add(1)
	s.observe(latency)
}

// RecordFailed counts a task that failed.
func (s *RuntimeStats) RecordFailed(latency time.Duration) {
	s.shard().failed.Add(1)
	s.observe(latency)
}

// RecordCancelled counts a cancelled task.
func (s *RuntimeStats) RecordCancelled() { s.shard().cancelled.Add(1) }

func (s *RuntimeStats) observe(d time.Duration) {
	ns := float64(d)
	for {
		old := s.latency.Load()
		next := ns
		if old != 0 {
			prev := math.Float64frombits(old)
			next = prev + ewmaAlpha*(ns-prev)
		}
		if s.latency.CompareAndSwap(old, math.Float64bits(next)) {
			break
		}
	}
	for {
		m := s.latencyMax.Load()
		if int64(d) <= m || s.latencyMax.CompareAndSwap(m, int64(d)) {
			return
		}
	}
}

// RecordSteal counts n jobs moved by stealing.
func (s *RuntimeStats) RecordSteal(n int) { s.steals.Add(uint64(n)) }

// RecordWorkerFault counts a worker fault.
func (s *RuntimeStats) RecordWorkerFault(int) { s.faults.Add(1) }

// RecordWorkerRestart counts a replacement worker.
func (s *RuntimeStats) RecordWorkerRestart(int) { s.restarts.Add(1) }

// RecordRequeued counts jobs moved off a faulted worker.
func (s *RuntimeStats) RecordRequeued(n int) { s.requeued.Add(uint64(n)) }

// RecordFault keeps f as the most recent fault.
func (s *RuntimeStats) RecordFault(f *api.WorkerFault) { s.lastFault.Store(f) }

// SetHealth publishes the runtime health.
func (s *RuntimeStats) SetHealth(h api.Health) { s.health.Store(&h) }

// Health returns the last published health.
func (s *RuntimeStats) Health() api.Health { return *s.health.Load() }

// BindQueueDepths sets the gauge source for per-worker queue depths.
func (s *RuntimeStats) BindQueueDepths(fn func() []int) {
	s.mu.Lock()
	s.queueDepths = fn
	s.mu.Unlock()
}

// BindRegistrations sets the gauge source for pending backend
// registrations.
func (s *RuntimeStats) BindRegistrations(fn func() int) {
	s.mu.Lock()
	s.registrations = fn
	s.mu.Unlock()
}

// StatsSnapshot is a point-in-time copy of RuntimeStats. Counters are
// summed shard by shard, so a snapshot taken under load is consistent per
// counter but not across counters.
type StatsSnapshot struct {
	TotalSubmitted uint64 `json:"total_submitted"`
	TotalCompleted uint64 `json:"total_completed"`
	TotalFailed    uint64 `json:"total_failed"`
	TotalCancelled uint64 `json:"total_cancelled"`
	TotalRejected  uint64 `json:"total_rejected"`

	PerWorkerQueueDepth []int `json:"per_worker_queue_depth"`
	// AvgLatency is an exponentially weighted moving average.
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`

	BackendRegistrations int    `json:"backend_registrations"`
	WorkerFaults         uint64 `json:"worker_faults"`
	WorkerRestarts       uint64 `json:"worker_restarts"`
	Requeued             uint64 `json:"requeued"`
	Steals               uint64 `json:"steals"`

	Health    api.Health    `json:"health"`
	LastFault string        `json:"last_fault,omitempty"`
	Uptime    time.Duration `json:"uptime"`
}

// Snapshot reads every counter and bound gauge.
func (s *RuntimeStats) Snapshot() StatsSnapshot {
	var out StatsSnapshot
	for i := range s.shards {
		sh := &s.shards[i]
		out.TotalSubmitted += sh.submitted.Load()
		out.TotalCompleted += sh.completed.Load()
		out.TotalFailed += sh.failed.Load()
		out.TotalCancelled += sh.cancelled.Load()
		out.TotalRejected += sh.rejected.Load()
	}
	out.AvgLatency = time.Duration(math.Float64frombits(s.latency.Load()))
	out.MaxLatency = time.Duration(s.latencyMax.Load())
	out.WorkerFaults = s.faults.Load()
	out.WorkerRestarts = s.restarts.Load()
	out.Requeued = s.requeued.Load()
	out.Steals = s.steals.Load()
	out.Health = s.Health()
	if f := s.lastFault.Load(); f != nil {
		out.LastFault = f.Error()
	}
	out.Uptime = time.Since(s.started)

	s.mu.RLock()
	depths, regs := s.queueDepths, s.registrations
	s.mu.RUnlock()
	if depths != nil {
		out.PerWorkerQueueDepth = depths()
	}
	if out.PerWorkerQueueDepth == nil {
		out.PerWorkerQueueDepth = []int{}
	}
	if regs != nil {
		out.BackendRegistrations = regs()
	}
	return out
}

// Map renders the snapshot for api.Control consumers.
func (s StatsSnapshot) Map() map[string]any {
	return map[string]any{
		"total_submitted":        s.TotalSubmitted,
		"total_completed":        s.TotalCompleted,
		"total_failed":           s.TotalFailed,
		"total_cancelled":        s.TotalCancelled,
		"total_rejected":         s.TotalRejected,
		"per_worker_queue_depth": s.PerWorkerQueueDepth,
		"avg_latency":            s.AvgLatency,
		"max_latency":            s.MaxLatency,
		"backend_registrations":  s.BackendRegistrations,
		"worker_faults":          s.WorkerFaults,
		"worker_restarts":        s.WorkerRestarts,
		"requeued":               s.Requeued,
		"steals":                 s.Steals,
		"health":                 string(s.Health),
		"uptime":                 s.Uptime,
	}
}
