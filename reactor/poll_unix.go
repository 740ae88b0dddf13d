//go:build unix

// File: reactor/poll_unix.go
// Author: momentics <momentics@gmail.com>
//
// poll(2) backend. Level-triggered, with an explicit descriptor table; each
// table row remembers the handle of the connection that owns it.

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

// PollBackend implements event.Backend with poll(2). Row 0 of the table is
// the wake-up pipe.
type PollBackend struct {
	fds    []unix.PollFd
	owners []event.Handle
	wake   [2]int
	sink   event.Sink
	ready  []pollReady
	log    logrus.FieldLogger
}

type pollReady struct {
	h       event.Handle
	revents int16
}

// NewPoll returns an uninitialized poll backend.
func NewPoll() *PollBackend {
	return &PollBackend{wake: [2]int{-1, -1}}
}

func newPoll() (event.Backend, error) { return NewPoll(), nil }

func (b *PollBackend) Name() string { return Poll }

func (b *PollBackend) Capabilities() api.Capability {
	return api.CapLevel | api.CapFDTable
}

func (b *PollBackend) Init(sink event.Sink, cfg event.BackendConfig) error {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return errors.Wrap(err, "pipe")
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return errors.Wrap(err, "pipe nonblocking")
		}
	}
	b.wake = p
	b.sink = sink
	b.fds = make([]unix.PollFd, 1, cfg.Connections+1)
	b.fds[0] = unix.PollFd{Fd: int32(p[0]), Events: unix.POLLIN}
	b.owners = make([]event.Handle, 1, cfg.Connections+1)
	b.owners[0] = event.Handle{Index: -1}
	b.log = cfg.Log
	if b.log == nil {
		b.log = logrus.StandardLogger()
	}
	b.log = b.log.WithField("component", "poll")
	return nil
}

func (b *PollBackend) Done() error {
	var first error
	for _, fd := range b.wake {
		if fd >= 0 {
			if err := unix.Close(fd); err != nil && first == nil {
				first = err
			}
		}
	}
	b.wake = [2]int{-1, -1}
	b.fds, b.owners = nil, nil
	return first
}

func pollBits(ev *event.Event) int16 {
	if ev.Write {
		return unix.POLLOUT
	}
	return unix.POLLIN
}

func otherEvent(ev *event.Event) *event.Event {
	if ev.Write {
		return ev.Data.Read
	}
	return ev.Data.Write
}

func (b *PollBackend) Add(ev *event.Event, flags api.EventFlag) error {
	c := ev.Data
	if ev.Index > 0 {
		b.fds[ev.Index].Events |= pollBits(ev)
	} else if other := otherEvent(ev); other.Index > 0 {
		b.fds[other.Index].Events |= pollBits(ev)
		ev.Index = other.Index
	} else {
		b.fds = append(b.fds, unix.PollFd{Fd: int32(c.Fd), Events: pollBits(ev)})
		b.owners = append(b.owners, c.Handle())
		ev.Index = len(b.fds) - 1
	}
	ev.Active = true
	ev.Disabled = false
	return nil
}

func (b *PollBackend) Delete(ev *event.Event, flags api.EventFlag) error {
	ev.Active = false
	if flags&api.FlagDisable != 0 {
		ev.Disabled = true
	}
	idx := ev.Index
	if idx <= 0 {
		return nil
	}
	ev.Index = -1
	if other := otherEvent(ev); other.Index == idx {
		b.fds[idx].Events &^= pollBits(ev)
		return nil
	}
	b.removeRow(idx)
	return nil
}

// removeRow moves the last row into idx and repoints its events.
func (b *PollBackend) removeRow(idx int) {
	last := len(b.fds) - 1
	if idx != last {
		b.fds[idx] = b.fds[last]
		b.owners[idx] = b.owners[last]
		h := b.owners[idx]
		if moved := b.sink.Resolve(h.Index, h.Generation); moved != nil {
			if moved.Read.Index == last {
				moved.Read.Index = idx
			}
			if moved.Write.Index == last {
				moved.Write.Index = idx
			}
		}
	}
	b.fds = b.fds[:last]
	b.owners = b.owners[:last]
}

func (b *PollBackend) Enable(ev *event.Event, flags api.EventFlag) error {
	return b.Add(ev, flags)
}

func (b *PollBackend) Disable(ev *event.Event, flags api.EventFlag) error {
	return b.Delete(ev, flags|api.FlagDisable)
}

// AddConn registers read interest; write interest would fire on every wait.
func (b *PollBackend) AddConn(c *event.Connection) error {
	return b.Add(c.Read, 0)
}

func (b *PollBackend) DeleteConn(c *event.Connection, flags api.EventFlag) error {
	if c.Read.Index > 0 {
		b.Delete(c.Read, flags)
	}
	if c.Write.Index > 0 {
		b.Delete(c.Write, flags)
	}
	c.Read.Active = false
	c.Write.Active = false
	return nil
}

func (b *PollBackend) ProcessChanges(nowait bool) error { return nil }

func (b *PollBackend) ProcessEvents(timeout time.Duration, flags api.ProcessFlag) error {
	n, err := unix.Poll(b.fds, waitMillis(timeout))
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "poll")
	}
	if n == 0 {
		return nil
	}

	// Handlers reshuffle the table, so snapshot first.
	b.ready = b.ready[:0]
	for i := range b.fds {
		if b.fds[i].Revents == 0 {
			continue
		}
		if i == 0 {
			b.drainWake()
			b.fds[0].Revents = 0
			continue
		}
		b.ready = append(b.ready, pollReady{h: b.owners[i], revents: b.fds[i].Revents})
		b.fds[i].Revents = 0
	}

	for _, r := range b.ready {
		revents := r.revents
		if revents&unix.POLLNVAL != 0 {
			b.log.WithField("slot", r.h.Index).Error("poll: invalid descriptor")
			continue
		}
		if revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			revents |= unix.POLLIN | unix.POLLOUT
		}
		c := b.sink.Resolve(r.h.Index, r.h.Generation)
		if c == nil {
			b.log.WithField("slot", r.h.Index).Debug("stale poll event")
			continue
		}
		if revents&unix.POLLIN != 0 && c.Read.Active {
			c.Read.Ready = true
			b.sink.Deliver(c.Read, flags)
		}
		if c = b.sink.Resolve(r.h.Index, r.h.Generation); c == nil {
			continue
		}
		if revents&unix.POLLOUT != 0 && c.Write.Active {
			c.Write.Ready = true
			b.sink.Deliver(c.Write, flags)
		}
	}
	return nil
}

func (b *PollBackend) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(b.wake[0], buf[:]); err != nil {
			return
		}
	}
}

func (b *PollBackend) Notify() error {
	if _, err := unix.Write(b.wake[1], []byte{1}); err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "wake pipe")
	}
	return nil
}
