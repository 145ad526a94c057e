// Package api
// Author: momentics@gmail.com
//
// CPU/NUMA affinity and thread pinning definitions.

package api

// AffinityScope is the entity an affinity binding applies to.
type AffinityScope int

const (
	ScopeThread AffinityScope = iota
	ScopeProcess
)

// AffinityDescriptor is an immutable view of a binding.
type AffinityDescriptor struct {
	CPUID  int
	NUMAID int
	Scope  AffinityScope
	Pinned bool
}

// Affinity controls execution on particular CPUs/NUMA nodes.
type Affinity interface {
	// Pin locks the current goroutine to a CPU or NUMA node.
	// A negative cpuID selects every CPU of numaID.
	Pin(cpuID int, numaID int) error
	// Unpin removes affinity.
	Unpin() error
	// Get returns current CPU and NUMA node.
	Get() (cpuID int, numaID int, err error)
}
