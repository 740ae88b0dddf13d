//go:build linux || freebsd || netbsd || openbsd || dragonfly

// File: internal/transport/accept4.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// accept4Missing latches once the kernel reports ENOSYS.
var accept4Missing atomic.Bool

// Accept takes one pending connection off a listening socket. The returned
// flag reports whether the descriptor is already non-blocking and
// close-on-exec. When accept4 is unavailable it falls back to accept and
// remembers that for subsequent calls.
func Accept(fd int) (int, unix.Sockaddr, bool, error) {
	if !accept4Missing.Load() {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != unix.ENOSYS {
			return nfd, sa, err == nil, err
		}
		accept4Missing.Store(true)
	}
	nfd, sa, err := unix.Accept(fd)
	if err == nil {
		unix.CloseOnExec(nfd)
	}
	return nfd, sa, false, err
}

// HasAccept4 reports whether accept4 is still believed to be available.
func HasAccept4() bool { return !accept4Missing.Load() }
