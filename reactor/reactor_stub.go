//go:build !unix

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/event"
)

func unsupported(name string) (event.Backend, error) {
	return nil, errors.Wrapf(api.ErrNotSupported, "reactor: %s on this platform", name)
}

func newDefault() (event.Backend, error) { return unsupported(Auto) }
func newEpoll() (event.Backend, error)   { return unsupported(Epoll) }
func newPoll() (event.Backend, error)    { return unsupported(Poll) }
func newKqueue() (event.Backend, error)  { return unsupported(Kqueue) }
