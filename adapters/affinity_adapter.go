// File: adapters/affinity_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
// Description:
//   Adapter implementing the api.Affinity interface for one worker loop,
//   delegating to the affinity package.
//
// Package adapters provides glue code between the core API contracts
// and the internal implementation.

package adapters

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-evcore/affinity"
	"github.com/momentics/hioload-evcore/api"
)

// AffinityAdapter implements api.Affinity for one worker using
// a worker_cpu_affinity value.
type AffinityAdapter struct {
	masks  string
	worker int
	pinned []int
	log    logrus.FieldLogger
}

var _ api.Affinity = (*AffinityAdapter)(nil)

// NewAffinityAdapter binds a worker number to a worker_cpu_affinity value.
func NewAffinityAdapter(masks string, worker int, log logrus.FieldLogger) *AffinityAdapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AffinityAdapter{masks: masks, worker: worker, log: log}
}

// Pin binds the calling thread. With cpuID -1 the CPU set comes from the
// configured value; an empty value leaves the thread unbound.
func (a *AffinityAdapter) Pin(cpuID int) error {
	var cpus []int
	if cpuID >= 0 {
		cpus = []int{cpuID}
	} else {
		var err error
		if cpus, err = affinity.ForWorker(a.masks, a.worker); err != nil {
			return err
		}
		if cpus == nil {
			return nil
		}
	}
	if err := affinity.SetAffinitySet(cpus); err != nil {
		return err
	}
	a.pinned = cpus
	a.log.WithFields(logrus.Fields{"worker": a.worker, "cpus": affinity.FormatSet(cpus)}).Debug("worker pinned")
	return nil
}

// Unpin clears any CPU binding, allowing the OS scheduler to migrate the thread.
func (a *AffinityAdapter) Unpin() error {
	if a.pinned == nil {
		return nil
	}
	if err := affinity.ClearAffinity(); err != nil {
		return err
	}
	a.pinned = nil
	return nil
}

// Get returns the CPUs the calling thread may currently run on.
func (a *AffinityAdapter) Get() ([]int, error) {
	return affinity.Current()
}

// Pinned reports the set applied by the last Pin.
func (a *AffinityAdapter) Pinned() []int {
	return a.pinned
}
