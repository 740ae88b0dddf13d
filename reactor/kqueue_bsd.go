//go:build darwin || freebsd

// File: reactor/kqueue_bsd.go
// Author: momentics <momentics@gmail.com>
//
// kqueue(2) backend. Read filters on listening sockets report the number of
// pending connections, which the accept path drains exactly. Udata is left
// alone; descriptors map to connection handles through a table.

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

const kqueueWakeIdent = 0

// KqueueBackend implements event.Backend with kqueue.
type KqueueBackend struct {
	kq     int
	sink   event.Sink
	owners map[int]event.Handle
	events []unix.Kevent_t
	ready  []kqReady
	log    logrus.FieldLogger
}

type kqReady struct {
	h  event.Handle
	ev unix.Kevent_t
}

// NewKqueue returns an uninitialized kqueue backend.
func NewKqueue() *KqueueBackend {
	return &KqueueBackend{kq: -1}
}

func (b *KqueueBackend) Name() string { return Kqueue }

func (b *KqueueBackend) Capabilities() api.Capability {
	return api.CapClear | api.CapCountedAccept | api.CapLowat
}

func (b *KqueueBackend) Init(sink event.Sink, cfg event.BackendConfig) error {
	kq, err := unix.Kqueue()
	if err != nil {
		return errors.Wrap(err, "kqueue")
	}
	unix.CloseOnExec(kq)
	var wake [1]unix.Kevent_t
	unix.SetKevent(&wake[0], kqueueWakeIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, wake[:], nil, nil); err != nil {
		unix.Close(kq)
		return errors.Wrap(err, "kevent(EVFILT_USER)")
	}
	b.kq = kq
	b.sink = sink
	b.owners = make(map[int]event.Handle, cfg.Connections)
	b.events = make([]unix.Kevent_t, max(cfg.MaxEvents, 1))
	b.log = cfg.Log
	if b.log == nil {
		b.log = logrus.StandardLogger()
	}
	b.log = b.log.WithField("component", "kqueue")
	return nil
}

func (b *KqueueBackend) Done() error {
	if b.kq < 0 {
		return nil
	}
	err := unix.Close(b.kq)
	b.kq = -1
	return err
}

func kqFilter(ev *event.Event) int {
	if ev.Write {
		return unix.EVFILT_WRITE
	}
	return unix.EVFILT_READ
}

func (b *KqueueBackend) change(fd, filter, flags int) error {
	var ch [1]unix.Kevent_t
	unix.SetKevent(&ch[0], fd, filter, flags)
	if _, err := unix.Kevent(b.kq, ch[:], nil, nil); err != nil {
		return errors.Wrapf(err, "kevent(%d, %d)", fd, filter)
	}
	return nil
}

func (b *KqueueBackend) Add(ev *event.Event, flags api.EventFlag) error {
	c := ev.Data
	kf := unix.EV_ADD | unix.EV_ENABLE
	if flags&api.FlagClear != 0 {
		kf |= unix.EV_CLEAR
	}
	if flags&api.FlagOneshot != 0 {
		kf |= unix.EV_ONESHOT
	}
	if err := b.change(c.Fd, kqFilter(ev), kf); err != nil {
		return err
	}
	b.owners[c.Fd] = c.Handle()
	ev.Active = true
	ev.Disabled = false
	ev.Oneshot = flags&api.FlagOneshot != 0
	return nil
}

func (b *KqueueBackend) Delete(ev *event.Event, flags api.EventFlag) error {
	ev.Active = false
	// Closing the descriptor removes its filters.
	if flags&api.FlagClose != 0 {
		return nil
	}
	kf := unix.EV_DELETE
	if flags&api.FlagDisable != 0 {
		kf = unix.EV_DISABLE
		ev.Disabled = true
	}
	return b.change(ev.Data.Fd, kqFilter(ev), kf)
}

func (b *KqueueBackend) Enable(ev *event.Event, flags api.EventFlag) error {
	return b.Add(ev, flags)
}

func (b *KqueueBackend) Disable(ev *event.Event, flags api.EventFlag) error {
	return b.Delete(ev, flags|api.FlagDisable)
}

func (b *KqueueBackend) AddConn(c *event.Connection) error {
	if err := b.Add(c.Read, api.FlagClear); err != nil {
		return err
	}
	if err := b.Add(c.Write, api.FlagClear); err != nil {
		b.Delete(c.Read, 0)
		return err
	}
	return nil
}

func (b *KqueueBackend) DeleteConn(c *event.Connection, flags api.EventFlag) error {
	var first error
	for _, ev := range []*event.Event{c.Read, c.Write} {
		if !ev.Active {
			continue
		}
		if err := b.Delete(ev, flags); err != nil && first == nil {
			first = err
		}
	}
	delete(b.owners, c.Fd)
	return first
}

func (b *KqueueBackend) ProcessChanges(nowait bool) error { return nil }

func (b *KqueueBackend) ProcessEvents(timeout time.Duration, flags api.ProcessFlag) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(b.kq, nil, b.events, ts)
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "kevent")
	}

	b.ready = b.ready[:0]
	for i := 0; i < n; i++ {
		k := b.events[i]
		if k.Filter == unix.EVFILT_USER {
			continue
		}
		if k.Flags&unix.EV_ERROR != 0 {
			b.log.WithField("fd", k.Ident).WithError(unix.Errno(k.Data)).Error("kevent error")
			continue
		}
		h, ok := b.owners[int(k.Ident)]
		if !ok {
			continue
		}
		b.ready = append(b.ready, kqReady{h: h, ev: k})
	}

	for _, r := range b.ready {
		c := b.sink.Resolve(r.h.Index, r.h.Generation)
		if c == nil {
			b.log.WithField("slot", r.h.Index).Debug("stale kevent")
			continue
		}
		ev := c.Read
		if r.ev.Filter == unix.EVFILT_WRITE {
			ev = c.Write
		}
		if !ev.Active {
			continue
		}
		ev.Ready = true
		ev.Available = int(r.ev.Data)
		if r.ev.Flags&unix.EV_EOF != 0 {
			ev.PendingEOF = true
			ev.EOF = true
			if r.ev.Fflags != 0 {
				ev.Error = true
			}
		}
		if ev.Oneshot {
			ev.Active = false
		}
		b.sink.Deliver(ev, flags)
	}
	return nil
}

func (b *KqueueBackend) Notify() error {
	var ch [1]unix.Kevent_t
	unix.SetKevent(&ch[0], kqueueWakeIdent, unix.EVFILT_USER, 0)
	ch[0].Fflags = unix.NOTE_TRIGGER
	if _, err := unix.Kevent(b.kq, ch[:], nil, nil); err != nil {
		return errors.Wrap(err, "kevent(NOTE_TRIGGER)")
	}
	return nil
}
