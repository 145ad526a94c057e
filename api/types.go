// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import "fmt"

// BackendKind selects the readiness notification mechanism.
type BackendKind string

const (
	BackendAuto   BackendKind = "auto"
	BackendEpoll  BackendKind = "epoll"
	BackendKqueue BackendKind = "kqueue"
	BackendPoll   BackendKind = "poll"
)

// ParseBackendKind validates s as a BackendKind.
func ParseBackendKind(s string) (BackendKind, error) {
	switch k := BackendKind(s); k {
	case BackendAuto, BackendEpoll, BackendKqueue, BackendPoll:
		return k, nil
	case "":
		return BackendAuto, nil
	}
	return "", fmt.Errorf("%w: unknown backend kind %q", ErrInvalidArgument, s)
}

// SchedulingPolicy selects how workers find work.
type SchedulingPolicy string

const (
	PolicyRoundRobin   SchedulingPolicy = "round-robin"
	PolicyWorkStealing SchedulingPolicy = "work-stealing"
	PolicyPriority     SchedulingPolicy = "priority"
)

// ParseSchedulingPolicy validates s as a SchedulingPolicy.
func ParseSchedulingPolicy(s string) (SchedulingPolicy, error) {
	switch p := SchedulingPolicy(s); p {
	case PolicyRoundRobin, PolicyWorkStealing, PolicyPriority:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown scheduling policy %q", ErrInvalidArgument, s)
}

// AffinityAware reports whether submissions honour preferred-worker hints.
func (p SchedulingPolicy) AffinityAware() bool {
	return p == PolicyWorkStealing || p == PolicyPriority
}

// Priority of a unit of work. Only the priority policy orders by it.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// Health is the advertised runtime health.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthStopped  Health = "stopped"
)
