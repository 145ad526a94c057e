// File: adapters/affinity_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
// Description:
//   Adapter implementing the api.Affinity interface, delegating to the
//   affinity package for CPU and NUMA pinning.

package adapters

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
)

// AffinityAdapter implements api.Affinity over a NUMA topology. It tracks
// the binding it last applied; pinning affects the calling OS thread, so a
// goroutine pinned through it stays locked to that thread until Unpin.
type AffinityAdapter struct {
	topo affinity.Topology

	mu          sync.Mutex
	currentCPU  int
	currentNUMA int
	pinned      bool
	scope       api.AffinityScope
}

// NewAffinityAdapter creates an adapter over the discovered host topology.
func NewAffinityAdapter() *AffinityAdapter {
	return NewAffinityAdapterFor(affinity.Discover())
}

// NewAffinityAdapterFor creates an adapter over topo.
func NewAffinityAdapterFor(topo affinity.Topology) *AffinityAdapter {
	return &AffinityAdapter{
		topo:        topo,
		currentCPU:  -1,
		currentNUMA: -1,
		scope:       api.ScopeThread,
	}
}

// Pin binds the calling thread. A negative cpuID selects every CPU of the
// node at index numaID; a negative numaID is derived from cpuID.
func (a *AffinityAdapter) Pin(cpuID int, numaID int) error {
	var cpus []int
	switch {
	case cpuID >= 0:
		cpus = []int{cpuID}
		if numaID < 0 {
			numaID = a.topo.NodeOf(cpuID)
		}
	case numaID >= 0:
		cpus = a.topo.CPUs(numaID)
		if len(cpus) == 0 {
			return fmt.Errorf("%w: numa node %d has no cpus", api.ErrInvalidArgument, numaID)
		}
	default:
		return fmt.Errorf("%w: neither cpu nor numa node given", api.ErrInvalidArgument)
	}
	if err := affinity.PinCurrentThread(cpus); err != nil {
		return err
	}

	a.mu.Lock()
	a.currentCPU = cpuID
	a.currentNUMA = numaID
	a.pinned = true
	a.mu.Unlock()
	return nil
}

// Unpin clears the binding and releases the goroutine from its thread.
func (a *AffinityAdapter) Unpin() error {
	if err := affinity.UnpinCurrentThread(); err != nil {
		return err
	}
	a.mu.Lock()
	a.pinned = false
	a.currentCPU = -1
	a.currentNUMA = -1
	a.mu.Unlock()
	return nil
}

// Get returns the CPU the calling thread runs on and its node index. Both
// are -1 when the platform cannot tell.
func (a *AffinityAdapter) Get() (cpuID int, numaID int, err error) {
	cpu := affinity.CurrentCPU()
	if cpu < 0 {
		return -1, -1, api.ErrNotSupported
	}
	return cpu, a.topo.NodeOf(cpu), nil
}

// Descriptor returns a snapshot of the binding last applied.
func (a *AffinityAdapter) Descriptor() api.AffinityDescriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return api.AffinityDescriptor{
		CPUID:  a.currentCPU,
		NUMAID: a.currentNUMA,
		Scope:  a.scope,
		Pinned: a.pinned,
	}
}

var _ api.Affinity = (*AffinityAdapter)(nil)
