// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control over a running Runtime.

package adapters

import (
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/facade"
)

// ControlAdapter exposes a Runtime's config, stats and probes as plain
// maps for hosts that do not import the control package.
type ControlAdapter struct {
	rt *facade.Runtime
}

// NewControlAdapter wraps rt.
func NewControlAdapter(rt *facade.Runtime) *ControlAdapter {
	return &ControlAdapter{rt: rt}
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.rt.Config().Map()
}

// Stats merges the stats snapshot with every debug probe under "debug.".
func (c *ControlAdapter) Stats() map[string]any {
	combined := c.rt.Stats().Map()
	for k, v := range c.rt.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) Health() api.Health {
	return c.rt.Stats().Health
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.rt.Probes().RegisterProbe(name, fn)
}

var _ api.Control = (*ControlAdapter)(nil)
