package control

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
)

func TestStatsConcurrentCounters(t *testing.T) {
	s := NewRuntimeStats()
	const goroutines, each = 8, 1000
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				s.RecordSubmitted()
				s.RecordCompleted(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	snap := s.Snapshot()
	assert.EqualValues(t, goroutines*each, snap.TotalSubmitted)
	assert.EqualValues(t, goroutines*each, snap.TotalCompleted)
	assert.Equal(t, time.Millisecond, snap.AvgLatency)
	assert.Equal(t, time.Millisecond, snap.MaxLatency)
}

func TestStatsMovingAverage(t *testing.T) {
	s := NewRuntimeStats()
	s.RecordCompleted(100 * time.Millisecond)
	s.RecordFailed(0)
	snap := s.Snapshot()
	assert.InDelta(t, float64(90*time.Millisecond), float64(snap.AvgLatency), float64(time.Microsecond))
	assert.Equal(t, 100*time.Millisecond, snap.MaxLatency)
	assert.EqualValues(t, 1, snap.TotalFailed)
}

func TestStatsGaugesAndHealth(t *testing.T) {
	s := NewRuntimeStats()
	snap := s.Snapshot()
	assert.Equal(t, []int{}, snap.PerWorkerQueueDepth)
	assert.Equal(t, api.HealthOK, snap.Health)

	s.BindQueueDepths(func() []int { return []int{3, 0, 1} })
	s.BindRegistrations(func() int { return 7 })
	s.RecordWorkerFault(1)
	s.RecordRequeued(3)
	s.RecordFault(&api.WorkerFault{WorkerID: 1, Cause: "panic"})
	s.SetHealth(api.HealthDegraded)

	snap = s.Snapshot()
	assert.Equal(t, []int{3, 0, 1}, snap.PerWorkerQueueDepth)
	assert.Equal(t, 7, snap.BackendRegistrations)
	assert.EqualValues(t, 1, snap.WorkerFaults)
	assert.EqualValues(t, 3, snap.Requeued)
	assert.Equal(t, api.HealthDegraded, snap.Health)
	assert.Contains(t, snap.LastFault, "worker 1")

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	for _, key := range []string{"total_submitted", "total_completed", "total_failed", "total_cancelled", "per_worker_queue_depth", "avg_latency"} {
		assert.Contains(t, string(raw), `"`+key+`"`)
	}
}

func TestCollector(t *testing.T) {
	s := NewRuntimeStats()
	s.RecordSubmitted()
	s.RecordSubmitted()
	s.RecordCancelled()
	s.BindQueueDepths(func() []int { return []int{5} })

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector("hioload_rt", s)))
	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	depth := byName["hioload_rt_worker_queue_depth"]
	require.NotNil(t, depth)
	require.Len(t, depth.GetMetric(), 1)
	assert.Equal(t, 5.0, depth.GetMetric()[0].GetGauge().GetValue())

	tasks := byName["hioload_rt_tasks_total"]
	require.NotNil(t, tasks)
	outcomes := map[string]float64{}
	for _, m := range tasks.GetMetric() {
		outcomes[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, 2.0, outcomes["submitted"])
	assert.Equal(t, 1.0, outcomes["cancelled"])
	assert.Equal(t, 1.0, byName["hioload_rt_healthy"].GetMetric()[0].GetGauge().GetValue())
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("answer", func() any { return 42 })
	dp.RegisterProbe("broken", func() any { panic("boom") })
	RegisterPlatformProbes(dp)

	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Contains(t, state["broken"], "boom")
	assert.Contains(t, dp.Names(), "platform.cpus")

	var _ api.Debug = dp
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn", true)
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	l.Info("hidden")
	l.WithField("component", "test").Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}
