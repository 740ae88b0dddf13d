// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Stub-status metrics: a map snapshot for the control plane and a
// Prometheus collector reading the same counters on scrape.

package control

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-evcore/event"
)

// MetricsRegistry holds the last published values.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Publish copies a loop stats snapshot into the registry.
func (mr *MetricsRegistry) Publish(s event.Stats) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	for k, v := range statsMap(s) {
		mr.metrics[k] = v
	}
	mr.updated = time.Now()
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics)+1)
	for k, v := range mr.metrics {
		out[k] = v
	}
	if !mr.updated.IsZero() {
		out["updated"] = mr.updated
	}
	return out
}

func statsMap(s event.Stats) map[string]any {
	return map[string]any{
		"accepted":        s.Accepted,
		"handled":         s.Handled,
		"active":          s.Active,
		"requests":        s.Requests,
		"reading":         s.Reading,
		"writing":         s.Writing,
		"waiting":         s.Waiting,
		"pool.capacity":   s.Capacity,
		"pool.free":       s.Free,
		"pool.reusable":   s.Reusable,
		"timers":          s.Timers,
		"accept_disabled": s.AcceptDisabled,
		"accept_mutex":    s.MutexHeld,
	}
}

// StatsCollector exports loop stats to Prometheus. The source is read on
// every scrape, so it must be safe to call from the scrape goroutine;
// zone counters are atomics, pool gauges are advisory.
type StatsCollector struct {
	source func() event.Stats

	accepted, handled, requests     *prometheus.Desc
	active, reading, writing, wait  *prometheus.Desc
	capacity, free, reusable, timer *prometheus.Desc
	disabled, mutex                 *prometheus.Desc
}

// NewStatsCollector builds a collector under namespace.
func NewStatsCollector(namespace string, labels prometheus.Labels, source func() event.Stats) *StatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}
	return &StatsCollector{
		source:   source,
		accepted: desc("connections_accepted_total", "Connections accepted from listening sockets."),
		handled:  desc("connections_handled_total", "Accepted connections that got a pool slot."),
		requests: desc("requests_total", "Requests counted by the protocol layer."),
		active:   desc("connections_active", "Open client connections."),
		reading:  desc("connections_reading", "Connections reading a request."),
		writing:  desc("connections_writing", "Connections writing a response."),
		wait:     desc("connections_waiting", "Idle keep-alive connections."),
		capacity: desc("pool_capacity", "Connection slots of this worker."),
		free:     desc("pool_free", "Free connection slots of this worker."),
		reusable: desc("pool_reusable", "Idle connections that may be closed early."),
		timer:    desc("timers", "Armed timers."),
		disabled: desc("accept_disabled", "Accept backpressure value; positive means throttled."),
		mutex:    desc("accept_mutex_held", "1 while this worker watches the listeners."),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.accepted, c.handled, c.requests, c.active, c.reading, c.writing, c.wait,
		c.capacity, c.free, c.reusable, c.timer, c.disabled, c.mutex,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	counter(c.accepted, s.Accepted)
	counter(c.handled, s.Handled)
	counter(c.requests, s.Requests)
	gauge(c.active, s.Active)
	gauge(c.reading, s.Reading)
	gauge(c.writing, s.Writing)
	gauge(c.wait, s.Waiting)
	gauge(c.capacity, int64(s.Capacity))
	gauge(c.free, int64(s.Free))
	gauge(c.reusable, int64(s.Reusable))
	gauge(c.timer, int64(s.Timers))
	gauge(c.disabled, int64(s.AcceptDisabled))
	held := int64(0)
	if s.MutexHeld {
		held = 1
	}
	gauge(c.mutex, held)
}
