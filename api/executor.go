// Package api
// Author: momentics
//
// Executor contract for plain-function task dispatch onto the runtime.

package api

// Executor abstracts parallel task execution for hosts that do not use Tasks.
type Executor interface {
	// Submit schedules task for execution without blocking.
	// It returns ErrBackpressure when saturated and ErrRuntimeClosed once draining.
	Submit(task func()) error

	// NumWorkers returns the configured number of worker routines.
	NumWorkers() int
}
