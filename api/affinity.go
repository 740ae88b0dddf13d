// Package api
// Author: momentics@gmail.com
//
// CPU affinity and thread pinning definitions.

package api

// Affinity controls execution on particular CPUs.
type Affinity interface {
	// Pin locks the current OS thread to a CPU; -1 selects the worker default.
	Pin(cpuID int) error
	// Unpin removes affinity.
	Unpin() error
	// Get returns the CPUs the current thread may run on.
	Get() ([]int, error)
}
