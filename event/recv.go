// File: event/recv.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/api"
)

// Recv reads once from c into buf and keeps c.Read.Ready in step with the
// backend. EAGAIN clears readiness and returns api.ErrAgain; end of stream
// clears it and sets EOF. A short read clears readiness too unless the
// backend is greedy, in which case the caller must read again until EAGAIN.
func (l *Loop) Recv(c *Connection, buf []byte) (int, error) {
	rev := c.Read
	for {
		n, err := unix.Read(c.Fd, buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			rev.Ready = false
			return 0, api.ErrAgain
		case err != nil:
			rev.Ready = false
			rev.Error = true
			return 0, errors.Wrapf(err, "recv fd %d", c.Fd)
		case n == 0:
			rev.Ready = false
			rev.EOF = true
			return 0, nil
		}
		if n < len(buf) && !l.caps.Has(api.CapGreedy) {
			rev.Ready = false
		}
		return n, nil
	}
}
