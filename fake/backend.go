// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides an in-memory readiness backend for tests. Readiness
// is injected by handle, so stale notifications can be produced on purpose.
package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

type readiness struct {
	h         event.Handle
	write     bool
	available int
	eof       bool
}

// Backend records registrations and replays injected readiness.
type Backend struct {
	Caps api.Capability

	mu       sync.Mutex
	sink     event.Sink
	pending  []readiness
	notified chan struct{}
	done     bool

	// Polls counts ProcessEvents calls, Stale the dropped notifications.
	Polls    int
	Stale    int
	Timeouts []time.Duration
	Flags    []api.ProcessFlag
	Ops      []string

	// AddConnErr, when set, fails every AddConn.
	AddConnErr error
}

// New returns a backend reporting caps.
func New(caps api.Capability) *Backend {
	return &Backend{Caps: caps, notified: make(chan struct{}, 1)}
}

func (b *Backend) Name() string                  { return "fake" }
func (b *Backend) Capabilities() api.Capability { return b.Caps }

func (b *Backend) Init(sink event.Sink, cfg event.BackendConfig) error {
	b.sink = sink
	return nil
}

func (b *Backend) Done() error {
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) op(s string) {
	b.mu.Lock()
	b.Ops = append(b.Ops, s)
	b.mu.Unlock()
}

func (b *Backend) Add(ev *event.Event, flags api.EventFlag) error {
	ev.Active = true
	ev.Disabled = false
	b.op("add " + ev.Kind().String())
	return nil
}

func (b *Backend) Delete(ev *event.Event, flags api.EventFlag) error {
	ev.Active = false
	if flags&api.FlagDisable != 0 {
		ev.Disabled = true
	}
	b.op("del " + ev.Kind().String())
	return nil
}

func (b *Backend) Enable(ev *event.Event, flags api.EventFlag) error  { return b.Add(ev, flags) }
func (b *Backend) Disable(ev *event.Event, flags api.EventFlag) error { return b.Delete(ev, flags|api.FlagDisable) }

func (b *Backend) AddConn(c *event.Connection) error {
	if b.AddConnErr != nil {
		b.op("add conn failed")
		return b.AddConnErr
	}
	c.Read.Active = true
	c.Write.Active = true
	b.op("add conn")
	return nil
}

func (b *Backend) DeleteConn(c *event.Connection, flags api.EventFlag) error {
	c.Read.Active = false
	c.Write.Active = false
	b.op("del conn")
	return nil
}

func (b *Backend) ProcessChanges(nowait bool) error { return nil }

// Ready queues a read notification for h. available is the pending count
// reported to counted-accept and auto-register backends.
func (b *Backend) Ready(h event.Handle, available int) {
	b.mu.Lock()
	b.pending = append(b.pending, readiness{h: h, available: available})
	b.mu.Unlock()
}

// Writable queues a write notification for h.
func (b *Backend) Writable(h event.Handle) {
	b.mu.Lock()
	b.pending = append(b.pending, readiness{h: h, write: true})
	b.mu.Unlock()
}

// Hangup queues a read notification with EOF set.
func (b *Backend) Hangup(h event.Handle) {
	b.mu.Lock()
	b.pending = append(b.pending, readiness{h: h, eof: true})
	b.mu.Unlock()
}

// ProcessEvents delivers everything injected so far. It never blocks unless
// nothing is pending and the timeout is positive, in which case it waits
// for Notify up to timeout.
func (b *Backend) ProcessEvents(timeout time.Duration, flags api.ProcessFlag) error {
	b.mu.Lock()
	b.Polls++
	b.Timeouts = append(b.Timeouts, timeout)
	b.Flags = append(b.Flags, flags)
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 && timeout != 0 {
		wait := timeout
		if wait < 0 || wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		select {
		case <-b.notified:
		case <-time.After(wait):
		}
		return nil
	}

	for _, r := range batch {
		c := b.sink.Resolve(r.h.Index, r.h.Generation)
		if c == nil {
			b.mu.Lock()
			b.Stale++
			b.mu.Unlock()
			continue
		}
		ev := c.Read
		if r.write {
			ev = c.Write
		}
		if !ev.Active && !b.Caps.Has(api.CapAutoRegister) {
			continue
		}
		ev.Ready = true
		ev.EOF = r.eof
		if ev.Accept && b.Caps.Any(api.CapCountedAccept|api.CapAutoRegister) {
			ev.Available = r.available
		}
		b.sink.Deliver(ev, flags)
	}
	return nil
}

func (b *Backend) Notify() error {
	select {
	case b.notified <- struct{}{}:
	default:
	}
	return nil
}

// Operations returns a copy of the registration log.
func (b *Backend) Operations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Ops...)
}

// Closed reports whether Done was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}
