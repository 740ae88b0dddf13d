//go:build darwin

// File: internal/transport/accept_darwin.go
// Author: momentics <momentics@gmail.com>

package transport

import "golang.org/x/sys/unix"

// Accept takes one pending connection; darwin has no accept4, so the
// descriptor is always returned in blocking mode.
func Accept(fd int) (int, unix.Sockaddr, bool, error) {
	nfd, sa, err := unix.Accept(fd)
	if err == nil {
		unix.CloseOnExec(nfd)
	}
	return nfd, sa, false, err
}

// HasAccept4 is always false on darwin.
func HasAccept4() bool { return false }
