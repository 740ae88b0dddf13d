//go:build unix

// File: internal/transport/socket_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
)

// SocketOptions are applied to listening sockets, fresh or inherited.
// Zero values leave the kernel default in place.
type SocketOptions struct {
	Backlog        int
	RcvBuf         int
	SndBuf         int
	KeepAlive      bool
	KeepIdle       int // seconds
	KeepIntvl      int // seconds
	KeepCnt        int
	DeferredAccept bool
	DeferTimeout   int // seconds, used by TCP_DEFER_ACCEPT
}

// DefaultBacklog mirrors the usual listen(2) backlog of busy servers.
const DefaultBacklog = 511

// Resolve turns a network/address pair into a sockaddr and its domain.
func Resolve(network, address string) (unix.Sockaddr, int, error) {
	switch network {
	case "unix":
		return &unix.SockaddrUnix{Name: address}, unix.AF_UNIX, nil
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, 0, errors.Wrapf(api.ErrNotSupported, "network %q", network)
	}
	tcp, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "resolve %s", address)
	}
	if ip4 := tcp.IP.To4(); ip4 != nil && network != "tcp6" {
		sa := &unix.SockaddrInet4{Port: tcp.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if tcp.IP == nil && network != "tcp6" {
		return &unix.SockaddrInet4{Port: tcp.Port}, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: tcp.Port}
	copy(sa.Addr[:], tcp.IP.To16())
	if tcp.Zone != "" {
		if ifi, err := net.InterfaceByName(tcp.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa, unix.AF_INET6, nil
}

// Listen creates, binds and listens on a non-blocking socket.
func Listen(network, address string, opts SocketOptions) (int, unix.Sockaddr, error) {
	sa, family, err := Resolve(network, address)
	if err != nil {
		return -1, nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, errors.Wrap(err, "socket")
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (int, unix.Sockaddr, error) {
		_ = unix.Close(fd)
		return -1, nil, errors.Wrapf(err, "%s %s", op, address)
	}
	if family != unix.AF_UNIX {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fail("setsockopt(SO_REUSEADDR)", err)
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set nonblocking", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	return fd, bound, nil
}

// Configure applies buffer, keepalive and deferred-accept options. Errors are
// collected per option; the socket stays usable.
func Configure(fd int, opts SocketOptions) []error {
	var errs []error
	set := func(level, opt, v int, name string) {
		if err := unix.SetsockoptInt(fd, level, opt, v); err != nil {
			errs = append(errs, errors.Wrapf(err, "setsockopt(%s, %d)", name, v))
		}
	}
	if opts.RcvBuf > 0 {
		set(unix.SOL_SOCKET, unix.SO_RCVBUF, opts.RcvBuf, "SO_RCVBUF")
	}
	if opts.SndBuf > 0 {
		set(unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SndBuf, "SO_SNDBUF")
	}
	if opts.KeepAlive {
		set(unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1, "SO_KEEPALIVE")
		errs = append(errs, setKeepaliveTunables(fd, opts)...)
	}
	if opts.DeferredAccept {
		if err := setDeferredAccept(fd, opts.DeferTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// SetNonblock switches the descriptor mode.
func SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

// Close closes a descriptor, ignoring negative values.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

// Socket opens a non-blocking stream socket for an outbound connection.
func Socket(sa unix.Sockaddr) (int, error) {
	fd, err := unix.Socket(Family(sa), unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, errors.Wrap(err, "socket")
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, errors.Wrap(err, "set nonblocking")
	}
	return fd, nil
}

// Connect starts a non-blocking connect. It returns api.ErrAgain while the
// handshake is in progress.
func Connect(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	switch err {
	case nil:
		return nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return api.ErrAgain
	}
	return err
}

// SocketError fetches and clears the pending SO_ERROR of a descriptor.
func SocketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// Family returns the address family of a sockaddr.
func Family(sa unix.Sockaddr) int {
	switch sa.(type) {
	case *unix.SockaddrInet4:
		return unix.AF_INET
	case *unix.SockaddrInet6:
		return unix.AF_INET6
	case *unix.SockaddrUnix:
		return unix.AF_UNIX
	}
	return unix.AF_UNSPEC
}

// SockaddrString renders a sockaddr the way it is written in configuration.
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		if a.Name == "" {
			return "unix:"
		}
		return "unix:" + a.Name
	}
	return ""
}

// Network guesses the network name of a bound socket.
func Network(sa unix.Sockaddr) string {
	switch sa.(type) {
	case *unix.SockaddrInet4:
		return "tcp4"
	case *unix.SockaddrInet6:
		return "tcp6"
	case *unix.SockaddrUnix:
		return "unix"
	}
	return ""
}
