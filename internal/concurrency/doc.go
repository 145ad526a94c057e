// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency implements the worker pool behind the runtime:
// per-worker banded run queues, a bounded lock-free injector for external
// submissions, an unbounded overflow queue for internal dispatches, work
// stealing with NUMA locality, priority aging, and fault supervision with
// bounded restarts.
package concurrency
