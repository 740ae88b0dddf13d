// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import (
	"sync"
	"sync/atomic"
)

// SyncPool is a typed sync.Pool that counts objects in flight.
type SyncPool[T any] struct {
	pool  sync.Pool
	reset func(T) T
	out   atomic.Int64
}

// NewSyncPool creates a pool; reset, if set, runs on every Put.
func NewSyncPool[T any](creator func() T, reset func(T) T) *SyncPool[T] {
	sp := &SyncPool[T]{reset: reset}
	sp.pool.New = func() any { return creator() }
	return sp
}

func (sp *SyncPool[T]) Get() T {
	sp.out.Add(1)
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil {
		obj = sp.reset(obj)
	}
	sp.out.Add(-1)
	sp.pool.Put(obj)
}

// InFlight returns Gets minus Puts.
func (sp *SyncPool[T]) InFlight() int64 {
	return sp.out.Load()
}
