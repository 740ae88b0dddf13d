// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/control"
	"github.com/momentics/hioload-evcore/event"
)

// ControlAdapter serves configuration, stats and probes of one worker.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
	stats   func() event.Stats
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter wires a configuration snapshot and a stats source. A nil
// source reports configuration and probes only.
func NewControlAdapter(cfg control.Config, stats func() event.Stats) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(cfg),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
		stats:   stats,
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) Stats() map[string]any {
	if c.stats != nil {
		c.metrics.Publish(c.stats())
	}
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Annotate records a runtime-derived configuration value.
func (c *ControlAdapter) Annotate(key string, value any) {
	c.config.Annotate(key, value)
}

// Collector returns a Prometheus collector over the same stats source.
func (c *ControlAdapter) Collector(namespace string, labels prometheus.Labels) prometheus.Collector {
	src := c.stats
	if src == nil {
		src = func() event.Stats { return event.Stats{} }
	}
	return control.NewStatsCollector(namespace, labels, src)
}

// RegisterLoop exposes the loop stats and backend name as probes.
func (c *ControlAdapter) RegisterLoop(backend string) {
	src := c.stats
	if src == nil {
		return
	}
	control.RegisterLoopProbes(c.debug, backend, src)
}
