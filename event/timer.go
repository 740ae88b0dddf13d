// File: event/timer.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"time"

	"code.cloudfoundry.org/clock"
	rbt "github.com/emirpasic/gods/trees/redblacktree"

	"github.com/momentics/hioload-evcore/internal/concurrency"
)

// TimerInfinite is returned by FindEarliest when no timer is armed.
const TimerInfinite time.Duration = -1

// TimerLazyDelay is the slack under which re-arming a timer keeps the old
// deadline instead of touching the tree.
const TimerLazyDelay = 300 // ms

type timerKey struct {
	deadline int64
	seq      uint64
}

func compareTimerKeys(a, b interface{}) int {
	x, y := a.(timerKey), b.(timerKey)
	switch {
	case x.deadline < y.deadline:
		return -1
	case x.deadline > y.deadline:
		return 1
	case x.seq < y.seq:
		return -1
	case x.seq > y.seq:
		return 1
	}
	return 0
}

// Timers is the deadline tree of one loop. Deadlines are whole milliseconds
// since the tree was created, read from the injected clock.
type Timers struct {
	clock  clock.Clock
	origin time.Time
	tree   *rbt.Tree
	seq    uint64
	lock   concurrency.Spinlock

	// run invokes an expired event; the loop routes it through its panic guard.
	run func(*Event)
}

// NewTimers creates an empty tree. A nil clock means the wall clock.
func NewTimers(clk clock.Clock) *Timers {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Timers{
		clock:  clk,
		origin: clk.Now(),
		tree:   rbt.NewWith(compareTimerKeys),
		run:    func(ev *Event) { ev.Handler(ev) },
	}
}

// Current returns the clock reading in tree milliseconds.
func (t *Timers) Current() int64 {
	return t.clock.Since(t.origin).Milliseconds()
}

// Len returns the number of armed timers.
func (t *Timers) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.tree.Size()
}

// Add arms ev to fire after d. Re-arming within TimerLazyDelay of the
// current deadline is ignored.
func (t *Timers) Add(ev *Event, d time.Duration) {
	deadline := t.Current() + d.Milliseconds()

	t.lock.Lock()
	defer t.lock.Unlock()
	if ev.timerSet {
		diff := deadline - ev.deadline
		if diff > -TimerLazyDelay && diff < TimerLazyDelay {
			return
		}
		t.tree.Remove(timerKey{ev.deadline, ev.seq})
	}
	t.insert(ev, deadline)
}

// Delete disarms ev.
func (t *Timers) Delete(ev *Event) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !ev.timerSet {
		return
	}
	t.tree.Remove(timerKey{ev.deadline, ev.seq})
	ev.timerSet = false
}

func (t *Timers) insert(ev *Event, deadline int64) {
	t.seq++
	ev.deadline = deadline
	ev.seq = t.seq
	ev.timerSet = true
	t.tree.Put(timerKey{deadline, ev.seq}, ev)
}

// FindEarliest returns the time until the nearest deadline, zero if one is
// already due, TimerInfinite if nothing is armed.
func (t *Timers) FindEarliest() time.Duration {
	t.lock.Lock()
	node := t.tree.Left()
	t.lock.Unlock()
	if node == nil {
		return TimerInfinite
	}
	left := node.Key.(timerKey).deadline - t.Current()
	if left <= 0 {
		return 0
	}
	return time.Duration(left) * time.Millisecond
}

// Expire fires every timer due at the current clock reading.
func (t *Timers) Expire() int {
	return t.ExpireAt(t.Current())
}

// ExpireAt removes and fires every timer with deadline <= now in deadline
// order. Handlers may arm new timers; those are seen by the same scan.
// Events claimed by another goroutine are put back for the next scan.
func (t *Timers) ExpireAt(now int64) int {
	var skipped []*Event
	fired := 0
	for {
		t.lock.Lock()
		node := t.tree.Left()
		if node == nil {
			t.lock.Unlock()
			break
		}
		key := node.Key.(timerKey)
		if key.deadline > now {
			t.lock.Unlock()
			break
		}
		ev := node.Value.(*Event)
		t.tree.Remove(key)
		ev.timerSet = false
		t.lock.Unlock()

		if !ev.Claim() {
			skipped = append(skipped, ev)
			continue
		}
		ev.Unclaim()
		ev.TimedOut = true
		fired++
		t.run(ev)
	}

	if len(skipped) > 0 {
		t.lock.Lock()
		for _, ev := range skipped {
			if !ev.timerSet {
				t.insert(ev, ev.deadline)
			}
		}
		t.lock.Unlock()
	}
	return fired
}
