//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation for platforms without thread affinity support.

package affinity

import (
	"fmt"

	"github.com/momentics/hioload-rt/api"
)

func setAffinityPlatform(cpus []int) error {
	return fmt.Errorf("affinity: %w on this platform", api.ErrNotSupported)
}

func currentCPUPlatform() int { return -1 }

func discoverPlatform() (Topology, error) {
	return Topology{}, api.ErrNotSupported
}
