// File: adapters/context_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package adapters

import (
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/facade"
)

// ContextAdapter implements api.ContextFactory over a Runtime, so every
// Context carries the runtime logger and a fresh trace id.
type ContextAdapter struct {
	rt *facade.Runtime
}

// NewContextAdapter returns a factory bound to rt.
func NewContextAdapter(rt *facade.Runtime) *ContextAdapter {
	return &ContextAdapter{rt: rt}
}

// NewContext creates an ingress Context.
func (a *ContextAdapter) NewContext() api.Context {
	return a.rt.NewContext()
}

var _ api.ContextFactory = (*ContextAdapter)(nil)
