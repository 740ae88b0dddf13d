// File: event/listening.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/internal/transport"
)

// Listening is one bound socket with its options and accept callback.
type Listening struct {
	Network string
	Address string

	Sockaddr unix.Sockaddr
	AddrText string
	Fd       int

	Backlog        int
	RcvBuf         int
	SndBuf         int
	KeepAlive      bool
	KeepIdle       int
	KeepIntvl      int
	KeepCnt        int
	DeferredAccept bool

	// PoolSize is the arena size of accepted connections.
	PoolSize          int
	PostAcceptTimeout time.Duration
	AddrNtop          bool

	// Handler takes ownership of every accepted connection.
	Handler func(c *Connection)

	Open        bool
	Inherited   bool
	Shared      bool
	Bound       bool
	Listen      bool
	Nonblocking bool
	// Remain keeps the descriptor open across Registry.Close.
	Remain bool

	conn *Connection
}

// Connection returns the pooled slot of the listening socket once a loop
// has started.
func (ls *Listening) Connection() *Connection { return ls.conn }

func (ls *Listening) options() transport.SocketOptions {
	return transport.SocketOptions{
		Backlog:        ls.Backlog,
		RcvBuf:         ls.RcvBuf,
		SndBuf:         ls.SndBuf,
		KeepAlive:      ls.KeepAlive,
		KeepIdle:       ls.KeepIdle,
		KeepIntvl:      ls.KeepIntvl,
		KeepCnt:        ls.KeepCnt,
		DeferredAccept: ls.DeferredAccept,
	}
}

// Registry owns the listening sockets of the process.
type Registry struct {
	entries   []*Listening
	inherited []*Listening
	log       logrus.FieldLogger
}

// NewRegistry returns an empty registry.
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{log: log.WithField("component", "listening")}
}

// Add configures a new endpoint. Addresses are compared after resolution.
func (r *Registry) Add(ls *Listening) error {
	if ls == nil || ls.Handler == nil {
		return errors.Wrap(api.ErrInvalidArgument, "listening needs a handler")
	}
	if ls.Network == "" {
		ls.Network = "tcp"
	}
	sa, _, err := transport.Resolve(ls.Network, ls.Address)
	if err != nil {
		return err
	}
	text := transport.SockaddrString(sa)
	for _, o := range r.entries {
		if o.AddrText == text && !isWildcardPort(sa) {
			return api.NewError(api.ErrCodeAlreadyExists, "duplicate listen address").
				WithContext("addr", text).
				WithContext("network", ls.Network)
		}
	}
	ls.Sockaddr = sa
	ls.AddrText = text
	ls.Fd = -1
	r.entries = append(r.entries, ls)
	return nil
}

// Listenings returns the configured endpoints.
func (r *Registry) Listenings() []*Listening { return r.entries }

// Inherited returns adopted descriptors not yet matched to an endpoint.
func (r *Registry) Inherited() []*Listening { return r.inherited }

// adopt records an inherited descriptor.
func (r *Registry) adopt(fd int) (*Listening, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "getsockname(%d)", fd)
	}
	ls := &Listening{
		Network:   transport.Network(sa),
		Sockaddr:  sa,
		AddrText:  transport.SockaddrString(sa),
		Fd:        fd,
		Inherited: true,
		Bound:     true,
		Listen:    true,
	}
	r.inherited = append(r.inherited, ls)
	r.log.WithFields(logrus.Fields{"fd": fd, "addr": ls.AddrText}).Debug("adopted listening socket")
	return ls, nil
}

// Open binds every configured endpoint, taking over a matching inherited
// descriptor where one exists. On failure everything opened by this call is
// closed again so no partial server remains. Inherited descriptors that
// match nothing are closed.
func (r *Registry) Open() error {
	var opened []*Listening
	for _, ls := range r.entries {
		if ls.Open {
			continue
		}
		if in := r.takeInherited(ls.AddrText); in != nil {
			ls.Fd = in.Fd
			ls.Sockaddr = in.Sockaddr
			ls.Inherited, ls.Bound, ls.Listen = true, true, true
			if err := transport.SetNonblock(ls.Fd, true); err != nil {
				r.abort(opened)
				return errors.Wrapf(err, "set nonblocking %s", ls.AddrText)
			}
		} else {
			fd, bound, err := transport.Listen(ls.Network, ls.Address, ls.options())
			if err != nil {
				r.abort(opened)
				return err
			}
			ls.Fd = fd
			ls.Sockaddr = bound
			ls.AddrText = transport.SockaddrString(bound)
			ls.Bound, ls.Listen = true, true
		}
		ls.Open = true
		ls.Nonblocking = true
		opened = append(opened, ls)
		r.log.WithFields(logrus.Fields{"fd": ls.Fd, "addr": ls.AddrText, "inherited": ls.Inherited}).Info("listening")
	}

	for _, in := range r.inherited {
		r.log.WithFields(logrus.Fields{"fd": in.Fd, "addr": in.AddrText}).Warn("closing unused inherited socket")
		_ = transport.Close(in.Fd)
	}
	r.inherited = nil
	return nil
}

func (r *Registry) takeInherited(addr string) *Listening {
	for i, in := range r.inherited {
		if in.AddrText == addr {
			r.inherited = append(r.inherited[:i], r.inherited[i+1:]...)
			return in
		}
	}
	return nil
}

func (r *Registry) abort(opened []*Listening) {
	for _, ls := range opened {
		if err := transport.Close(ls.Fd); err != nil {
			r.log.WithError(err).WithField("addr", ls.AddrText).Error("close listening socket")
		}
		ls.Fd = -1
		ls.Open, ls.Bound, ls.Listen = false, false, false
	}
}

// Configure applies socket options to every open endpoint. Option errors
// are logged and returned but do not close anything.
func (r *Registry) Configure() []error {
	var errs []error
	for _, ls := range r.entries {
		if !ls.Open {
			continue
		}
		for _, err := range transport.Configure(ls.Fd, ls.options()) {
			r.log.WithError(err).WithField("addr", ls.AddrText).Warn("socket option")
			errs = append(errs, err)
		}
	}
	return errs
}

// Close closes every open endpoint except those marked Remain.
func (r *Registry) Close() error {
	var first error
	for _, ls := range r.entries {
		if !ls.Open || ls.Remain {
			continue
		}
		if err := transport.Close(ls.Fd); err != nil && first == nil {
			first = errors.Wrapf(err, "close %s", ls.AddrText)
		}
		ls.Fd = -1
		ls.Open = false
	}
	return first
}

func isWildcardPort(sa unix.Sockaddr) bool {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port == 0
	case *unix.SockaddrInet6:
		return a.Port == 0
	}
	return false
}
