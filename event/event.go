// File: event/event.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/internal/concurrency"
)

// AcceptState tracks a listening read event through the accept cycle.
type AcceptState uint8

const (
	// AcceptIdle: accept interest is not registered.
	AcceptIdle AcceptState = iota
	// AcceptWatching: registered and waiting for readiness.
	AcceptWatching
	// AcceptDraining: the dispatcher is pulling pending connections.
	AcceptDraining
)

func (s AcceptState) String() string {
	switch s {
	case AcceptWatching:
		return "watching"
	case AcceptDraining:
		return "draining"
	}
	return "idle"
}

// Handler runs when an event fires, times out or is posted.
type Handler func(ev *Event)

// Event is one readiness or timer channel of a connection.
type Event struct {
	// Data is the owning connection.
	Data    *Connection
	Handler Handler

	Write  bool
	Accept bool

	Ready      bool
	Active     bool
	Error      bool
	EOF        bool
	PendingEOF bool
	TimedOut   bool
	Disabled   bool
	Deferred   bool
	Oneshot    bool

	// Available is the number of pending connections a counted backend
	// reported, or the multi-accept toggle otherwise.
	Available   int
	AcceptState AcceptState

	// Index is the slot in a backend descriptor table, -1 when absent.
	Index int

	posted  *PostedQueue
	postSeq uint64

	timerSet bool
	deadline int64
	seq      uint64

	lock concurrency.Spinlock
}

// Kind returns the readiness channel of the event.
func (ev *Event) Kind() api.EventKind {
	if ev.Write {
		return api.WriteEvent
	}
	return api.ReadEvent
}

// TimerSet reports whether the event sits in the timer tree.
func (ev *Event) TimerSet() bool { return ev.timerSet }

// Deadline returns the armed deadline in loop milliseconds.
func (ev *Event) Deadline() int64 { return ev.deadline }

// Posted reports whether the event waits in a posted queue.
func (ev *Event) Posted() bool { return ev.posted != nil }

// Claim marks the event as being worked on by an auxiliary goroutine.
// Timer expiry skips claimed events for the current scan.
func (ev *Event) Claim() bool { return ev.lock.TryLock() }

// Unclaim releases a Claim.
func (ev *Event) Unclaim() { ev.lock.Unlock() }

func (ev *Event) reset() {
	write := ev.Write
	*ev = Event{Write: write, Index: -1}
}
