// File: internal/concurrency/spinlock.go
// Author: momentics <momentics@gmail.com>
//
// Busy-wait mutual exclusion over a single 64-bit word. The word may live in
// process memory or in a shared mapping; only atomic CAS touches it.
// There is no timeout: guard counter updates and tree mutation only, never I/O.

package concurrency

import (
	"runtime"
	"sync/atomic"
)

// Free is the value of an unlocked word.
const Free int64 = 0

// DefaultSpin is the default cap of the pause schedule.
const DefaultSpin = 2048

// Spinner acquires lock words with exponential pause rounds.
type Spinner struct {
	// NCPU is the number of usable processors; 0 means runtime.NumCPU().
	NCPU int
	// MaxSpin caps the pause count of one round; 0 means DefaultSpin.
	MaxSpin uint

	pause func()
	yield func()
}

// NewSpinner returns a spinner sized for this host.
func NewSpinner(maxSpin uint) Spinner {
	return Spinner{NCPU: runtime.NumCPU(), MaxSpin: maxSpin}
}

// Lock spins until *word moves from Free to value.
func (s Spinner) Lock(word *int64, value int64) {
	ncpu := s.NCPU
	if ncpu <= 0 {
		ncpu = runtime.NumCPU()
	}
	spin := s.MaxSpin
	if spin == 0 {
		spin = DefaultSpin
	}
	pause := s.pause
	if pause == nil {
		pause = cpuPause
	}
	yield := s.yield
	if yield == nil {
		yield = osYield
	}

	for {
		if TryLock(word, value) {
			return
		}
		if ncpu > 1 {
			for n := uint(1); n < spin; n <<= 1 {
				for i := uint(0); i < n; i++ {
					pause()
				}
				if TryLock(word, value) {
					return
				}
			}
		}
		yield()
	}
}

// TryLock makes a single attempt; the plain load avoids a CAS on a busy word.
func TryLock(word *int64, value int64) bool {
	return atomic.LoadInt64(word) == Free && atomic.CompareAndSwapInt64(word, Free, value)
}

// Unlock frees the word only if it still holds value.
func Unlock(word *int64, value int64) bool {
	return atomic.CompareAndSwapInt64(word, value, Free)
}

// Owner returns the current holder value, Free when unlocked.
func Owner(word *int64) int64 {
	return atomic.LoadInt64(word)
}

// Spinlock is an in-process lock built on the same word protocol.
type Spinlock struct {
	word int64
}

const spinlockOwner int64 = 1

// Lock acquires the lock.
func (l *Spinlock) Lock() {
	defaultSpinner.Lock(&l.word, spinlockOwner)
}

// TryLock reports whether the lock was acquired without spinning.
func (l *Spinlock) TryLock() bool {
	return TryLock(&l.word, spinlockOwner)
}

// Unlock releases the lock.
func (l *Spinlock) Unlock() {
	atomic.StoreInt64(&l.word, Free)
}

// Locked reports whether somebody holds the lock.
func (l *Spinlock) Locked() bool {
	return atomic.LoadInt64(&l.word) != Free
}

var defaultSpinner = Spinner{NCPU: runtime.NumCPU(), MaxSpin: DefaultSpin}

var pauseSink atomic.Uint32

// cpuPause burns one short round without giving up the processor. Go has
// no portable PAUSE instruction, so this is an atomic add and not a CPU
// spin-wait hint.
func cpuPause() {
	pauseSink.Add(1)
}
