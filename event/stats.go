// File: event/stats.go
// Author: momentics <momentics@gmail.com>

package event

import "github.com/momentics/hioload-evcore/internal/shm"

// Stats is a snapshot of the zone counters and the local pool.
type Stats struct {
	Accepted int64
	Handled  int64
	Active   int64
	Requests int64
	Reading  int64
	Writing  int64
	Waiting  int64

	Capacity       int
	Free           int
	Reusable       int
	Timers         int
	AcceptDisabled int
	MutexHeld      bool
}

// Stats reads the counters. Zone values are process-wide when the zone is
// shared.
func (l *Loop) Stats() Stats {
	z := l.zone
	return Stats{
		Accepted:       z.Load(shm.StatAccepted),
		Handled:        z.Load(shm.StatHandled),
		Active:         z.Load(shm.StatActive),
		Requests:       z.Load(shm.StatRequests),
		Reading:        z.Load(shm.StatReading),
		Writing:        z.Load(shm.StatWriting),
		Waiting:        z.Load(shm.StatWaiting),
		Capacity:       l.pool.Capacity(),
		Free:           l.pool.FreeLen(),
		Reusable:       l.pool.ReusableLen(),
		Timers:         l.timers.Len(),
		AcceptDisabled: l.acceptDisabled,
		MutexHeld:      l.mutexHeld,
	}
}

var phaseSlot = [...]shm.Slot{
	PhaseReading: shm.StatReading,
	PhaseWriting: shm.StatWriting,
	PhaseWaiting: shm.StatWaiting,
}

// SetPhase moves c between the reading, writing and waiting counters.
func (l *Loop) SetPhase(c *Connection, p Phase) { l.setPhase(c, p) }

func (l *Loop) setPhase(c *Connection, p Phase) {
	if c.Phase == p {
		return
	}
	if c.Phase != PhaseNone {
		l.zone.Add(phaseSlot[c.Phase], -1)
	}
	if p != PhaseNone {
		l.zone.Add(phaseSlot[p], 1)
	}
	c.Phase = p
}

// CountRequest records one request served on c.
func (l *Loop) CountRequest(c *Connection) {
	c.Requests++
	l.zone.Add(shm.StatRequests, 1)
}

// SetReusable marks c as an idle connection that may be closed early when
// the pool runs dry.
func (l *Loop) SetReusable(c *Connection, reusable bool) {
	l.pool.SetReusable(c, reusable)
}
