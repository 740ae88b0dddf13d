// File: event/posted.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-evcore/internal/concurrency"
)

type postedEntry struct {
	ev  *Event
	seq uint64
}

// PostedQueue holds events whose handlers run later in the same loop
// iteration. Deleting an event only unmarks it; the stale entry is skipped
// when it reaches the head.
type PostedQueue struct {
	q   *queue.Queue
	seq uint64
	n   int
}

// NewPostedQueue returns an empty queue.
func NewPostedQueue() *PostedQueue {
	return &PostedQueue{q: queue.New()}
}

// Post appends ev unless it is already posted somewhere.
func (p *PostedQueue) Post(ev *Event) {
	if ev.posted != nil {
		return
	}
	p.seq++
	ev.posted = p
	ev.postSeq = p.seq
	p.q.Add(postedEntry{ev: ev, seq: p.seq})
	p.n++
}

// DeletePosted removes ev from whatever queue holds it.
func DeletePosted(ev *Event) {
	if ev.posted == nil {
		return
	}
	ev.posted.n--
	ev.posted = nil
}

// Len returns the number of live entries.
func (p *PostedQueue) Len() int { return p.n }

// Process runs every posted event, including ones posted while running.
func (p *PostedQueue) Process(run func(*Event)) int {
	ran := 0
	for p.q.Length() > 0 {
		e := p.q.Remove().(postedEntry)
		ev := e.ev
		if ev.posted != p || ev.postSeq != e.seq {
			continue
		}
		ev.posted = nil
		p.n--
		ran++
		run(ev)
	}
	return ran
}

// threadEntry remembers connection events by handle; the slot may be
// recycled before the loop picks the entry up.
type threadEntry struct {
	ev    *Event
	h     Handle
	write bool
	bound bool
}

// threadQueue receives events from auxiliary goroutines.
type threadQueue struct {
	lock concurrency.Spinlock
	q    *queue.Queue
}

func newThreadQueue() *threadQueue {
	return &threadQueue{q: queue.New()}
}

func (t *threadQueue) push(ev *Event) {
	e := threadEntry{ev: ev}
	if c := ev.Data; c != nil {
		e = threadEntry{h: c.Handle(), write: ev == c.Write, bound: true}
	}
	t.lock.Lock()
	t.q.Add(e)
	t.lock.Unlock()
}

// moveTo transfers everything queued so far into dst. Connection events
// whose handle no longer resolves are dropped and counted as stale.
func (t *threadQueue) moveTo(dst *PostedQueue, resolve func(index int32, gen uint32) *Connection) (moved, stale int) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for t.q.Length() > 0 {
		e := t.q.Remove().(threadEntry)
		ev := e.ev
		if e.bound {
			c := resolve(e.h.Index, e.h.Generation)
			if c == nil {
				stale++
				continue
			}
			ev = c.Read
			if e.write {
				ev = c.Write
			}
		}
		dst.Post(ev)
		moved++
	}
	return moved, stale
}
