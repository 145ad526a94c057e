// File: api/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Live introspection of a running runtime.

package api

// Debug exposes named state probes. Probes are evaluated lazily on every
// DumpState call and must be safe for concurrent use.
type Debug interface {
	// DumpState evaluates every probe.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a probe.
	RegisterProbe(name string, fn func() any)
}
