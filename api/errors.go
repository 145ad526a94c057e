// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by the runtime, scheduler and backends.
// Every typed error matches its sentinel through errors.Is.

package api

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors used across the library.
var (
	ErrConfig          = errors.New("invalid runtime configuration")
	ErrBackendSetup    = errors.New("event loop backend setup failed")
	ErrBackpressure    = errors.New("runtime queues at capacity")
	ErrTaskFailure     = errors.New("task failed")
	ErrWorkerFault     = errors.New("worker terminated unexpectedly")
	ErrRuntimeClosed   = errors.New("runtime is not accepting work")
	ErrCancelled       = errors.New("task cancelled")
	ErrTimeout         = errors.New("task timed out")
	ErrDrainTimeout    = errors.New("shutdown drain timeout exceeded")
	ErrNotSupported    = errors.New("operation not supported")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorCode classifies errors for hosts that map them onto responses.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeConfig
	ErrCodeBackendSetup
	ErrCodeBackpressure
	ErrCodeTaskFailure
	ErrCodeWorkerFault
	ErrCodeCancelled
	ErrCodeTimeout
	ErrCodeClosed
	ErrCodeInternal
)

// Code maps err onto an ErrorCode.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeOK
	case errors.Is(err, ErrConfig):
		return ErrCodeConfig
	case errors.Is(err, ErrBackendSetup):
		return ErrCodeBackendSetup
	case errors.Is(err, ErrBackpressure):
		return ErrCodeBackpressure
	case errors.Is(err, ErrCancelled):
		return ErrCodeCancelled
	case errors.Is(err, ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, ErrWorkerFault):
		return ErrCodeWorkerFault
	case errors.Is(err, ErrTaskFailure):
		return ErrCodeTaskFailure
	case errors.Is(err, ErrRuntimeClosed):
		return ErrCodeClosed
	default:
		return ErrCodeInternal
	}
}

// ConfigError reports an invalid or missing configuration field.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error        { return e.Err }
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// BackendSetupError reports a failure while constructing or arming a backend.
// It is fatal to Runtime startup and never triggers a fallback to another kind.
type BackendSetupError struct {
	Backend BackendKind
	Op      string
	Err     error
}

func (e *BackendSetupError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendSetupError) Unwrap() error        { return e.Err }
func (e *BackendSetupError) Is(target error) bool { return target == ErrBackendSetup }

// BackpressureError is returned synchronously by Submit when every worker
// queue and the injector are full. The rejected work was not enqueued.
type BackpressureError struct {
	Queued   int
	Capacity int
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("backpressure: %d queued, capacity %d", e.Queued, e.Capacity)
}

func (e *BackpressureError) Is(target error) bool { return target == ErrBackpressure }

// TaskFailure is the structured form of a computation error or panic.
type TaskFailure struct {
	TraceID string
	Err     error
	Panic   any
	Stack   []byte
}

func (e *TaskFailure) Error() string {
	switch {
	case e.Panic != nil && e.TraceID != "":
		return fmt.Sprintf("task %s panicked: %v", e.TraceID, e.Panic)
	case e.Panic != nil:
		return fmt.Sprintf("task panicked: %v", e.Panic)
	case e.TraceID != "":
		return fmt.Sprintf("task %s failed: %v", e.TraceID, e.Err)
	default:
		return fmt.Sprintf("task failed: %v", e.Err)
	}
}

func (e *TaskFailure) Unwrap() error        { return e.Err }
func (e *TaskFailure) Is(target error) bool { return target == ErrTaskFailure }

// WorkerFault describes an unexpected worker termination. Exhausted is set
// once the restart budget is spent and the runtime is degraded.
type WorkerFault struct {
	WorkerID  int
	Restarts  int
	Cause     string
	Exhausted bool
	At        time.Time
}

func (e *WorkerFault) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("worker %d fault (%s): restart budget exhausted after %d restarts", e.WorkerID, e.Cause, e.Restarts)
	}
	return fmt.Sprintf("worker %d fault (%s)", e.WorkerID, e.Cause)
}

func (e *WorkerFault) Is(target error) bool { return target == ErrWorkerFault }
