// File: event/connect.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/internal/transport"
)

// PeerConnection describes an outbound connection attempt.
type PeerConnection struct {
	Sockaddr unix.Sockaddr
	Name     string
	// Tries counts remaining attempts; a refused connect decrements it.
	Tries  int
	RcvBuf int

	Conn *Connection
}

// Connect opens a non-blocking connection to pc.Sockaddr. It returns nil
// when connected at once, api.ErrAgain while the handshake is in progress
// (wait for the write event, then call Connected), or an error after
// cleaning up.
func (l *Loop) Connect(pc *PeerConnection) error {
	fd, err := transport.Socket(pc.Sockaddr)
	if err != nil {
		return err
	}
	if pc.RcvBuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, pc.RcvBuf); err != nil {
			l.log.WithError(err).WithField("peer", pc.Name).Warn("setsockopt(SO_RCVBUF)")
		}
	}

	c, err := l.acquire(fd, 0)
	if err != nil {
		transport.Close(fd)
		return err
	}
	c.Log = c.Log.WithField("peer", pc.Name)
	c.Sockaddr = pc.Sockaddr

	if !l.caps.Any(api.CapAutoRegister | api.CapAIO) {
		if err := l.backend.AddConn(c); err != nil {
			l.freeOutbound(c)
			return errors.Wrapf(err, "register %s", pc.Name)
		}
	}

	err = transport.Connect(fd, pc.Sockaddr)
	switch {
	case err == nil:
		c.Write.Ready = true
		pc.Conn = c
		return nil
	case errors.Is(err, api.ErrAgain):
		pc.Conn = c
		c.Log.Debug("connect in progress")
		return api.ErrAgain
	}

	if err == unix.ECONNREFUSED {
		pc.Tries--
	}
	c.Log.WithError(err).Warn("connect")
	l.CloseConnection(c)
	return errors.Wrapf(err, "connect to %s", pc.Name)
}

// Connected reports the outcome of an in-progress connect once the write
// event fired.
func (l *Loop) Connected(c *Connection) error {
	if err := transport.SocketError(c.Fd); err != nil {
		return errors.Wrap(err, "connect")
	}
	return nil
}

func (l *Loop) freeOutbound(c *Connection) {
	fd := c.Fd
	l.pool.Release(c)
	transport.Close(fd)
}
