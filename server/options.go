// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-evcore/event"
	"github.com/momentics/hioload-evcore/internal/shm"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the logger handed to every component.
func WithLogger(log logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithBackend overrides the backend selected by Config.Backend.
func WithBackend(b event.Backend) ServerOption {
	return func(s *Server) {
		s.backend = b
	}
}

// WithClock sets the clock behind loop timers.
func WithClock(clk clock.Clock) ServerOption {
	return func(s *Server) {
		s.loopOpts = append(s.loopOpts, event.WithClock(clk))
	}
}

// WithZone shares counters and the accept mutex word with sibling workers.
func WithZone(z *shm.Zone) ServerOption {
	return func(s *Server) {
		s.loopOpts = append(s.loopOpts, event.WithZone(z))
	}
}

// WithAcceptFunc replaces the accept syscall.
func WithAcceptFunc(f event.AcceptFunc) ServerOption {
	return func(s *Server) {
		s.loopOpts = append(s.loopOpts, event.WithAcceptFunc(f))
	}
}

// WithRegistry supplies a registry that already adopted inherited sockets.
func WithRegistry(r *event.Registry) ServerOption {
	return func(s *Server) {
		s.registry = r
	}
}

// WithWorker sets the worker number used for CPU affinity.
func WithWorker(n int) ServerOption {
	return func(s *Server) {
		s.worker = n
	}
}
