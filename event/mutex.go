// File: event/mutex.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/internal/concurrency"
	"github.com/momentics/hioload-evcore/internal/shm"
)

// AcceptMutex is the cross-process advisory lock deciding which worker
// watches the listening sockets. It never blocks.
type AcceptMutex struct {
	word  *int64
	value int64
}

// NewAcceptMutex binds a mutex to the zone word; value identifies this
// process, usually its pid, and must not be zero.
func NewAcceptMutex(z *shm.Zone, value int64) *AcceptMutex {
	return &AcceptMutex{word: z.Word(shm.AcceptMutex), value: value}
}

// TryLock makes one compare-and-swap attempt.
func (m *AcceptMutex) TryLock() bool {
	return concurrency.TryLock(m.word, m.value)
}

// Unlock releases the word if this process holds it.
func (m *AcceptMutex) Unlock() bool {
	return concurrency.Unlock(m.word, m.value)
}

// ForceUnlock frees the word held by value, used by a supervisor after the
// holder died.
func (m *AcceptMutex) ForceUnlock(value int64) bool {
	return concurrency.Unlock(m.word, value)
}

// ReleaseAcceptMutex frees the accept mutex word of z if the worker
// identified by value still holds it. A supervisor calls it after reaping
// that worker.
func ReleaseAcceptMutex(z *shm.Zone, value int64) bool {
	return NewAcceptMutex(z, value).ForceUnlock(value)
}

// Owner returns the value of the current holder, 0 when free.
func (m *AcceptMutex) Owner() int64 {
	return concurrency.Owner(m.word)
}

// Value returns the identity this process locks with.
func (m *AcceptMutex) Value() int64 { return m.value }

// trylockAcceptMutex runs once per loop iteration. Acquiring enables accept
// interest unless it is already on; failing while marked held disables it.
func (l *Loop) trylockAcceptMutex() error {
	if l.mutex.TryLock() {
		if l.mutexHeld && l.acceptEvents == 0 {
			return nil
		}
		if err := l.enableAcceptEvents(); err != nil {
			l.mutex.Unlock()
			return err
		}
		l.acceptEvents = 0
		l.mutexHeld = true
		return nil
	}

	if l.mutexHeld {
		if err := l.disableAcceptEvents(); err != nil {
			return err
		}
		l.mutexHeld = false
	}
	return nil
}

// MutexHeld reports the cached holder flag.
func (l *Loop) MutexHeld() bool { return l.mutexHeld }

func (l *Loop) enableAcceptEvents() error {
	for _, ls := range l.registry.Listenings() {
		c := ls.conn
		if c == nil || c.Read.Active {
			continue
		}
		if err := l.backend.Add(c.Read, 0); err != nil {
			l.log.WithError(err).WithField("addr", ls.AddrText).Error("enable accept events")
			return err
		}
		c.Read.AcceptState = AcceptWatching
	}
	return nil
}

func (l *Loop) disableAcceptEvents() error {
	for _, ls := range l.registry.Listenings() {
		c := ls.conn
		if c == nil || !c.Read.Active {
			continue
		}
		if err := l.backend.Delete(c.Read, api.FlagDisable); err != nil {
			l.log.WithError(err).WithField("addr", ls.AddrText).Error("disable accept events")
			return err
		}
		c.Read.AcceptState = AcceptIdle
	}
	return nil
}
