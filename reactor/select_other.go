//go:build unix && !linux && !darwin && !freebsd

// File: reactor/select_other.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

func newDefault() (event.Backend, error) { return newPoll() }

func newEpoll() (event.Backend, error) {
	return nil, errors.Wrap(api.ErrNotSupported, "reactor: epoll outside linux")
}

func newKqueue() (event.Backend, error) {
	return nil, errors.Wrap(api.ErrNotSupported, "reactor: kqueue on this platform")
}
