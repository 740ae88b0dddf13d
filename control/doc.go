// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics and debug introspection for the event core.
//
// Provides:
//   - TOML configuration with defaults, read once at start-up
//   - A read-only snapshot store served to the control plane
//   - A Prometheus collector over the stub-status counters and pool gauges
//   - Debug probe registration, including platform probes
package control
