// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Backend selection by name.

package reactor

import (
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

// Names accepted by New.
const (
	Auto   = "auto"
	Epoll  = "epoll"
	Poll   = "poll"
	Kqueue = "kqueue"
)

// New returns a backend by name; "" and "auto" pick the best one for the
// platform.
func New(name string) (event.Backend, error) {
	switch name {
	case "", Auto:
		return newDefault()
	case Epoll:
		return newEpoll()
	case Poll:
		return newPoll()
	case Kqueue:
		return newKqueue()
	}
	return nil, errors.Wrapf(api.ErrNotSupported, "event backend %q", name)
}

// waitMillis converts a wait timeout, rounding sub-millisecond waits up so
// a due timer never turns into a busy loop.
func waitMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := int(timeout / time.Millisecond)
	if ms == 0 && timeout > 0 {
		ms = 1
	}
	return ms
}
