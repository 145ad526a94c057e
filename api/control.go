// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control exposes read-only configuration, runtime metrics and debug probes.
type Control interface {
	GetConfig() map[string]any
	Stats() map[string]any
	Health() Health
	RegisterDebugProbe(name string, fn func() any)
}
