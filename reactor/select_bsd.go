//go:build darwin || freebsd

// File: reactor/select_bsd.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

func newDefault() (event.Backend, error) { return newKqueue() }

func newKqueue() (event.Backend, error) { return NewKqueue(), nil }

func newEpoll() (event.Backend, error) {
	return nil, errors.Wrap(api.ErrNotSupported, "reactor: epoll outside linux")
}
