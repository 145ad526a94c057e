// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral API for CPU affinity and NUMA topology. Platform-specific
// implementations are located in separate files guarded by build tags.

package affinity

import (
	"fmt"
	"io/fs"
	"path"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// Node is one NUMA node and the logical CPUs it owns.
type Node struct {
	ID   int   `json:"id"`
	CPUs []int `json:"cpus"`
}

// Topology is the machine's NUMA layout. A machine without NUMA
// information is reported as a single node holding every CPU.
type Topology struct {
	Nodes []Node
}

// Discover returns the host topology. It never fails: when the platform
// exposes nothing, a flat single-node topology is returned.
func Discover() Topology {
	if t, err := discoverPlatform(); err == nil && len(t.Nodes) > 0 {
		return t
	}
	return Flat(runtime.NumCPU())
}

// Flat is a single-node topology with n CPUs.
func Flat(n int) Topology {
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return Topology{Nodes: []Node{{ID: 0, CPUs: cpus}}}
}

// FromSysfs reads node*/cpulist entries from a sysfs node directory, such
// as os.DirFS("/sys/devices/system/node").
func FromSysfs(fsys fs.FS) (Topology, error) {
	dirs, err := fs.Glob(fsys, "node[0-9]*")
	if err != nil {
		return Topology{}, err
	}
	var t Topology
	for _, d := range dirs {
		id, err := strconv.Atoi(strings.TrimPrefix(d, "node"))
		if err != nil {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(d, "cpulist"))
		if err != nil {
			return Topology{}, err
		}
		cpus, err := ParseCPUList(string(raw))
		if err != nil {
			return Topology{}, fmt.Errorf("affinity: node %d: %w", id, err)
		}
		if len(cpus) == 0 {
			continue
		}
		t.Nodes = append(t.Nodes, Node{ID: id, CPUs: cpus})
	}
	sort.Slice(t.Nodes, func(i, j int) bool { return t.Nodes[i].ID < t.Nodes[j].ID })
	return t, nil
}

// ParseCPUList parses the kernel list format, e.g. "0-3,8,10-11".
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("affinity: bad cpu list %q", s)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil || b < a {
				return nil, fmt.Errorf("affinity: bad cpu range %q", part)
			}
		}
		for c := a; c <= b; c++ {
			cpus = append(cpus, c)
		}
	}
	return cpus, nil
}

// NumNodes returns the node count, at least 1.
func (t Topology) NumNodes() int {
	if len(t.Nodes) == 0 {
		return 1
	}
	return len(t.Nodes)
}

// NodeForWorker spreads workers round-robin across nodes and returns the
// node index for worker id.
func (t Topology) NodeForWorker(id int) int {
	return id % t.NumNodes()
}

// CPUs returns the CPUs of node index i, or nil.
func (t Topology) CPUs(i int) []int {
	if i < 0 || i >= len(t.Nodes) {
		return nil
	}
	return t.Nodes[i].CPUs
}

// NodeOf returns the index of the node owning cpu, or -1.
func (t Topology) NodeOf(cpu int) int {
	for i, n := range t.Nodes {
		for _, c := range n.CPUs {
			if c == cpu {
				return i
			}
		}
	}
	return -1
}

// SetAffinity pins the current OS thread to a given logical CPU on
// supported platforms. The caller must hold runtime.LockOSThread.
func SetAffinity(cpuID int) error {
	return PinCurrentThread([]int{cpuID})
}

// PinCurrentThread locks the calling goroutine to its OS thread and
// restricts that thread to cpus.
func PinCurrentThread(cpus []int) error {
	if len(cpus) == 0 {
		return fmt.Errorf("affinity: empty cpu set")
	}
	runtime.LockOSThread()
	return setAffinityPlatform(cpus)
}

// UnpinCurrentThread allows the thread on every CPU again and releases the
// goroutine from it.
func UnpinCurrentThread() error {
	defer runtime.UnlockOSThread()
	return setAffinityPlatform(Flat(runtime.NumCPU()).Nodes[0].CPUs)
}

// CurrentCPU returns the CPU the calling thread last ran on, or -1.
func CurrentCPU() int {
	return currentCPUPlatform()
}
