// File: event/accept.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/internal/shm"
	"github.com/momentics/hioload-evcore/internal/transport"
)

// acceptHandler drains a ready listening socket. Counted backends drain the
// reported number of connections and auto-register backends drain while
// they report more pending. Other backends keep going while multi-accept is
// on, and a single connection is taken otherwise.
func (l *Loop) acceptHandler(ev *Event) {
	lc := ev.Data
	ls := lc.Listening
	log := lc.Log

	if ev.TimedOut {
		if err := l.enableAcceptEvents(); err != nil {
			return
		}
		ev.TimedOut = false
	}

	counted := l.caps.Has(api.CapCountedAccept)
	if !counted && !l.caps.Has(api.CapAutoRegister) {
		ev.Available = 0
		if l.cfg.MultiAccept {
			ev.Available = 1
		}
	}
	ev.Ready = false
	ev.AcceptState = AcceptDraining
	defer func() {
		if ev.Active {
			ev.AcceptState = AcceptWatching
		} else {
			ev.AcceptState = AcceptIdle
		}
	}()

	for {
		fd, sa, nonblocking, err := l.accept(ls.Fd)
		if err != nil {
			switch transport.Classify(err) {
			case transport.Transient:
				log.Debug("accept: no pending connections")
				return
			case transport.PerConnection:
				log.WithError(err).Warn("accept")
				if counted {
					ev.Available--
				}
				if ev.Available > 0 {
					continue
				}
				return
			case transport.Exhaustion:
				l.critical.Do(func() {
					log.WithError(err).Error("accept: out of descriptors, disabling accept")
				})
				l.throttleAccept(ev)
				return
			default:
				log.WithError(err).Error("accept")
				return
			}
		}

		l.zone.Add(shm.StatAccepted, 1)
		l.acceptDisabled = l.pool.AcceptDisabled()

		c, err := l.acquire(fd, ls.PoolSize)
		if err != nil {
			log.WithError(err).WithField("fd", fd).Error("accept: no connection slot")
			transport.Close(fd)
			return
		}
		l.zone.Add(shm.StatActive, 1)
		c.Listening = ls

		if !l.setupAccepted(c, sa, nonblocking) {
			return
		}
		if ls.PostAcceptTimeout > 0 {
			l.timers.Add(c.Read, ls.PostAcceptTimeout)
		}
		ls.Handler(c)

		if counted {
			ev.Available--
		}
		if ev.Available <= 0 {
			return
		}
	}
}

// setupAccepted finishes a fresh connection. On failure the slot is
// released and the descriptor closed.
func (l *Loop) setupAccepted(c *Connection, sa unix.Sockaddr, nonblocking bool) bool {
	ls := c.Listening
	fail := func(err error, what string) bool {
		c.Log.WithError(err).Error(what)
		l.closeAccepted(c)
		return false
	}

	raw, err := c.Arena.Alloc(transport.EncodedLen(sa))
	if err != nil {
		return fail(err, "accept: copy peer address")
	}
	if _, err := transport.EncodeSockaddr(raw, sa); err != nil {
		return fail(err, "accept: copy peer address")
	}
	c.RawAddr = raw
	c.Sockaddr = sa

	if l.caps.Has(api.CapAIO) {
		if nonblocking {
			if err := transport.SetNonblock(c.Fd, false); err != nil {
				return fail(err, "accept: set blocking")
			}
		}
	} else if !nonblocking {
		if err := transport.SetNonblock(c.Fd, true); err != nil {
			return fail(err, "accept: set nonblocking")
		}
	}

	c.Write.Ready = true
	if l.caps.Has(api.CapAIO) || ls.DeferredAccept {
		c.Read.Ready = true
	}
	c.Number = l.zone.Add(shm.ConnectionCounter, 1)
	l.zone.Add(shm.StatHandled, 1)
	if ls.AddrNtop {
		c.AddrText = transport.SockaddrString(sa)
	}
	c.Log = c.Log.WithFields(logrus.Fields{"conn": c.Number, "addr": ls.AddrText})

	if !l.caps.Any(api.CapAutoRegister | api.CapAIO) {
		if err := l.backend.AddConn(c); err != nil {
			return fail(err, "accept: register connection")
		}
	}
	c.Log.Debug("accepted")
	return true
}

func (l *Loop) closeAccepted(c *Connection) {
	fd := c.Fd
	l.zone.Add(shm.StatActive, -1)
	l.pool.Release(c)
	if err := transport.Close(fd); err != nil {
		l.log.WithError(err).WithField("fd", fd).Error("close accepted socket")
	}
}

// throttleAccept reacts to descriptor exhaustion: stop watching every
// listener, and either give up the mutex for one iteration or retry after
// the mutex delay.
func (l *Loop) throttleAccept(ev *Event) {
	if err := l.disableAcceptEvents(); err != nil {
		return
	}
	if l.useAcceptMutex {
		if l.mutexHeld {
			l.mutex.Unlock()
			l.mutexHeld = false
		}
		l.acceptDisabled = 1
		return
	}
	l.timers.Add(ev, l.cfg.AcceptMutexDelay)
}
