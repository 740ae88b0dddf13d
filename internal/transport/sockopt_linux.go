//go:build linux

// File: internal/transport/sockopt_linux.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func setDeferredAccept(fd, timeout int) error {
	if timeout <= 0 {
		timeout = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, timeout); err != nil {
		return errors.Wrap(err, "setsockopt(TCP_DEFER_ACCEPT)")
	}
	return nil
}

func setKeepaliveTunables(fd int, opts SocketOptions) []error {
	var errs []error
	set := func(opt, v int, name string) {
		if v <= 0 {
			return
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, opt, v); err != nil {
			errs = append(errs, errors.Wrapf(err, "setsockopt(%s, %d)", name, v))
		}
	}
	set(unix.TCP_KEEPIDLE, opts.KeepIdle, "TCP_KEEPIDLE")
	set(unix.TCP_KEEPINTVL, opts.KeepIntvl, "TCP_KEEPINTVL")
	set(unix.TCP_KEEPCNT, opts.KeepCnt, "TCP_KEEPCNT")
	return errs
}
