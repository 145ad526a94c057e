//go:build linux
// +build linux

// File: affinity/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux-specific implementation for thread CPU affinity and NUMA discovery.

package affinity

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const sysfsNodeDir = "/sys/devices/system/node"

// setAffinityPlatform restricts the calling thread to cpus.
func setAffinityPlatform(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity: %w", err)
	}
	return nil
}

func currentCPUPlatform() int {
	var cpu, node uint32
	if _, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0); errno != 0 {
		return -1
	}
	return int(cpu)
}

func discoverPlatform() (Topology, error) {
	return FromSysfs(os.DirFS(sysfsNodeDir))
}
