// File: control/prometheus.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-rt/api"
)

// Collector exports a RuntimeStats snapshot on every scrape. Register it
// on a per-runtime registry, not the global one.
type Collector struct {
	stats *RuntimeStats

	tasks         *prometheus.Desc
	queueDepth    *prometheus.Desc
	latency       *prometheus.Desc
	latencyMax    *prometheus.Desc
	registrations *prometheus.Desc
	faults        *prometheus.Desc
	restarts      *prometheus.Desc
	requeued      *prometheus.Desc
	steals        *prometheus.Desc
	healthy       *prometheus.Desc
}

// NewCollector builds a collector with metric names under namespace.
func NewCollector(namespace string, stats *RuntimeStats) *Collector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		stats:         stats,
		tasks:         d("tasks_total", "Tasks by outcome.", "outcome"),
		queueDepth:    d("worker_queue_depth", "Jobs waiting in a worker's local queue.", "worker"),
		latency:       d("task_latency_avg_seconds", "Moving average of submit-to-settle latency."),
		latencyMax:    d("task_latency_max_seconds", "Largest submit-to-settle latency observed."),
		registrations: d("backend_registrations", "Pending readiness registrations."),
		faults:        d("worker_faults_total", "Unexpected worker terminations."),
		restarts:      d("worker_restarts_total", "Replacement workers spawned."),
		requeued:      d("requeued_jobs_total", "Jobs moved off faulted workers."),
		steals:        d("stolen_jobs_total", "Jobs moved between workers by stealing."),
		healthy:       d("healthy", "1 when the runtime is healthy."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.tasks, c.queueDepth, c.latency, c.latencyMax, c.registrations,
		c.faults, c.restarts, c.requeued, c.steals, c.healthy,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter(c.tasks, s.TotalSubmitted, "submitted")
	counter(c.tasks, s.TotalCompleted, "completed")
	counter(c.tasks, s.TotalFailed, "failed")
	counter(c.tasks, s.TotalCancelled, "cancelled")
	counter(c.tasks, s.TotalRejected, "rejected")
	for i, depth := range s.PerWorkerQueueDepth {
		gauge(c.queueDepth, float64(depth), strconv.Itoa(i))
	}
	gauge(c.latency, s.AvgLatency.Seconds())
	gauge(c.latencyMax, s.MaxLatency.Seconds())
	gauge(c.registrations, float64(s.BackendRegistrations))
	counter(c.faults, s.WorkerFaults)
	counter(c.restarts, s.WorkerRestarts)
	counter(c.requeued, s.Requeued)
	counter(c.steals, s.Steals)
	healthy := 0.0
	if s.Health == api.HealthOK {
		healthy = 1
	}
	gauge(c.healthy, healthy)
}
