//go:build unix && !linux

// File: internal/transport/sockopt_other.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
)

// Accept filters (SO_ACCEPTFILTER) are not wired on BSD yet.
func setDeferredAccept(fd, timeout int) error {
	return errors.Wrap(api.ErrNotSupported, "deferred accept")
}

func setKeepaliveTunables(fd int, opts SocketOptions) []error {
	if opts.KeepIdle > 0 || opts.KeepIntvl > 0 || opts.KeepCnt > 0 {
		return []error{errors.Wrap(api.ErrNotSupported, "keepalive tunables")}
	}
	return nil
}
