// File: adapters/executor_adapter.go
// Package adapters provides glue between the runtime and api.Executor.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ExecutorAdapter runs plain functions as Tasks, so hosts written against
// api.Executor get the runtime's backpressure, accounting and recovery.

package adapters

import (
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/core/session"
	"github.com/momentics/hioload-rt/facade"
)

// ExecutorAdapter satisfies api.Executor over a Runtime.
type ExecutorAdapter struct {
	rt *facade.Runtime
}

// NewExecutorAdapter wraps rt.
func NewExecutorAdapter(rt *facade.Runtime) *ExecutorAdapter {
	return &ExecutorAdapter{rt: rt}
}

// Submit schedules task without blocking. A panic in task is reported to
// the runtime's failure handler like any failed Task.
func (ea *ExecutorAdapter) Submit(task func()) error {
	_, err := facade.Submit(ea.rt, nil, func(*session.Context) (struct{}, error) {
		task()
		return struct{}{}, nil
	})
	return err
}

// NumWorkers returns the configured worker count.
func (ea *ExecutorAdapter) NumWorkers() int {
	return ea.rt.Config().WorkerCount
}

var _ api.Executor = (*ExecutorAdapter)(nil)
