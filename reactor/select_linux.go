//go:build linux

// File: reactor/select_linux.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

func newDefault() (event.Backend, error) { return newEpoll() }

func newEpoll() (event.Backend, error) { return NewEpoll(), nil }

func newKqueue() (event.Backend, error) {
	return nil, errors.Wrap(api.ErrNotSupported, "reactor: kqueue on linux")
}
