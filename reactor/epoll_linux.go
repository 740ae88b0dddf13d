//go:build linux
// +build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) backend. Connections are registered edge-triggered,
// listening sockets level-triggered. The epoll data word carries the slot
// index in Fd and the slot generation in Pad.

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

const (
	epollRead  = unix.EPOLLIN | unix.EPOLLRDHUP
	epollWrite = unix.EPOLLOUT
	wakeIndex  = -1
)

// EpollBackend implements event.Backend with epoll.
type EpollBackend struct {
	epfd   int
	wakefd int
	sink   event.Sink
	events []unix.EpollEvent
	log    logrus.FieldLogger
}

// NewEpoll returns an uninitialized epoll backend.
func NewEpoll() *EpollBackend {
	return &EpollBackend{epfd: -1, wakefd: -1}
}

func (b *EpollBackend) Name() string { return Epoll }

func (b *EpollBackend) Capabilities() api.Capability {
	return api.CapClear | api.CapGreedy
}

func (b *EpollBackend) Init(sink event.Sink, cfg event.BackendConfig) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errors.Wrap(err, "epoll_create1")
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return errors.Wrap(err, "eventfd")
	}
	ee := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: wakeIndex}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ee); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return errors.Wrap(err, "epoll_ctl(eventfd)")
	}
	b.epfd, b.wakefd = epfd, wakefd
	b.sink = sink
	b.events = make([]unix.EpollEvent, max(cfg.MaxEvents, 1))
	b.log = cfg.Log
	if b.log == nil {
		b.log = logrus.StandardLogger()
	}
	b.log = b.log.WithField("component", "epoll")
	return nil
}

func (b *EpollBackend) Done() error {
	var first error
	for _, fd := range []int{b.wakefd, b.epfd} {
		if fd < 0 {
			continue
		}
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	b.epfd, b.wakefd = -1, -1
	return first
}

func epollData(c *event.Connection, events uint32) unix.EpollEvent {
	h := c.Handle()
	return unix.EpollEvent{Events: events, Fd: h.Index, Pad: int32(h.Generation)}
}

func (b *EpollBackend) Add(ev *event.Event, flags api.EventFlag) error {
	c := ev.Data
	events, other, prev := uint32(epollRead), c.Write, uint32(epollWrite)
	if ev.Write {
		events, other, prev = epollWrite, c.Read, epollRead
	}
	op := unix.EPOLL_CTL_ADD
	if other.Active {
		op = unix.EPOLL_CTL_MOD
		events |= prev
	}
	if flags&api.FlagClear != 0 {
		events |= unix.EPOLLET
	}
	ee := epollData(c, events)
	if err := unix.EpollCtl(b.epfd, op, c.Fd, &ee); err != nil {
		return errors.Wrapf(err, "epoll_ctl(%d, %d)", op, c.Fd)
	}
	ev.Active = true
	ev.Disabled = false
	return nil
}

func (b *EpollBackend) Delete(ev *event.Event, flags api.EventFlag) error {
	c := ev.Data
	ev.Active = false
	if flags&api.FlagDisable != 0 {
		ev.Disabled = true
	}
	// The kernel drops registrations of closed descriptors by itself.
	if flags&api.FlagClose != 0 {
		return nil
	}
	other, prev := c.Write, uint32(epollWrite)
	if ev.Write {
		other, prev = c.Read, epollRead
	}
	op, ee := unix.EPOLL_CTL_DEL, unix.EpollEvent{}
	if other.Active {
		op = unix.EPOLL_CTL_MOD
		ee = epollData(c, prev)
	}
	if err := unix.EpollCtl(b.epfd, op, c.Fd, &ee); err != nil {
		return errors.Wrapf(err, "epoll_ctl(%d, %d)", op, c.Fd)
	}
	return nil
}

func (b *EpollBackend) Enable(ev *event.Event, flags api.EventFlag) error {
	return b.Add(ev, flags)
}

func (b *EpollBackend) Disable(ev *event.Event, flags api.EventFlag) error {
	return b.Delete(ev, flags|api.FlagDisable)
}

func (b *EpollBackend) AddConn(c *event.Connection) error {
	ee := epollData(c, epollRead|epollWrite|unix.EPOLLET)
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, c.Fd, &ee); err != nil {
		return errors.Wrapf(err, "epoll_ctl(add, %d)", c.Fd)
	}
	c.Read.Active = true
	c.Write.Active = true
	return nil
}

func (b *EpollBackend) DeleteConn(c *event.Connection, flags api.EventFlag) error {
	c.Read.Active = false
	c.Write.Active = false
	if flags&api.FlagClose != 0 {
		return nil
	}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, c.Fd, &unix.EpollEvent{}); err != nil {
		return errors.Wrapf(err, "epoll_ctl(del, %d)", c.Fd)
	}
	return nil
}

func (b *EpollBackend) ProcessChanges(nowait bool) error { return nil }

func (b *EpollBackend) ProcessEvents(timeout time.Duration, flags api.ProcessFlag) error {
	n, err := unix.EpollWait(b.epfd, b.events, waitMillis(timeout))
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "epoll_wait")
	}

	for i := 0; i < n; i++ {
		e := b.events[i]
		if e.Fd == wakeIndex {
			b.drainWake()
			continue
		}
		gen := uint32(e.Pad)
		c := b.sink.Resolve(e.Fd, gen)
		if c == nil {
			b.log.WithField("slot", e.Fd).Debug("stale epoll event")
			continue
		}

		revents := e.Events
		if revents&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			revents |= unix.EPOLLIN | unix.EPOLLOUT
		}
		if revents&unix.EPOLLIN != 0 && c.Read.Active {
			rev := c.Read
			rev.Ready = true
			if revents&unix.EPOLLRDHUP != 0 {
				rev.PendingEOF = true
			}
			b.sink.Deliver(rev, flags)
		}

		// The read handler may have closed and recycled the slot.
		if c = b.sink.Resolve(e.Fd, gen); c == nil {
			continue
		}
		if revents&unix.EPOLLOUT != 0 && c.Write.Active {
			c.Write.Ready = true
			b.sink.Deliver(c.Write, flags)
		}
	}
	return nil
}

func (b *EpollBackend) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(b.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (b *EpollBackend) Notify() error {
	buf := [8]byte{1}
	if _, err := unix.Write(b.wakefd, buf[:]); err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "eventfd write")
	}
	return nil
}
