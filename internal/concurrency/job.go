// File: internal/concurrency/job.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Job is the unit the scheduler moves between queues.

package concurrency

import (
	"time"

	"github.com/momentics/hioload-rt/api"
)

// NoHint marks an unset worker or node hint.
const NoHint = -1

// Job is a unit of schedulable work.
type Job struct {
	// Run executes the job on worker workerID.
	Run func(workerID int)
	// Abort is called instead of Run when the job will never run, or
	// when the worker running it faulted. May be nil.
	Abort func(err error)

	Priority api.Priority
	// Worker is the preferred worker, or NoHint.
	Worker int
	// Node is the ingress NUMA node index, or NoHint.
	Node int

	enqueued time.Time
	band     int
}

// NewJob returns a Job without hints.
func NewJob(run func(workerID int), abort func(error)) *Job {
	return &Job{Run: run, Abort: abort, Worker: NoHint, Node: NoHint}
}

func (j *Job) abort(err error) {
	if j.Abort != nil {
		j.Abort(err)
	}
}

// Metrics receives scheduler events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordSteal(n int)
	RecordWorkerFault(workerID int)
	RecordWorkerRestart(workerID int)
	RecordRequeued(n int)
}

// NilMetrics discards every event.
type NilMetrics struct{}

func (NilMetrics) RecordSteal(int)         {}
func (NilMetrics) RecordWorkerFault(int)   {}
func (NilMetrics) RecordWorkerRestart(int) {}
func (NilMetrics) RecordRequeued(int)      {}
