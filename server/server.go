// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server facade wiring the listening registry, an event backend, the event
// loop and the control plane of one worker.

package server

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-evcore/adapters"
	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/control"
	"github.com/momentics/hioload-evcore/event"
	"github.com/momentics/hioload-evcore/reactor"
)

var ErrAlreadyRunning = errors.New("server already running")

// Server is one worker: listening sockets, a backend and the loop over them.
type Server struct {
	cfg      control.Config
	log      logrus.FieldLogger
	registry *event.Registry
	backend  event.Backend
	loop     *event.Loop
	control  *adapters.ControlAdapter
	affinity *adapters.AffinityAdapter
	loopOpts []event.LoopOption
	worker   int
	running  atomic.Bool
}

// NewServer validates cfg, opens its listening sockets and builds the loop.
// handler runs for every accepted connection.
func NewServer(cfg control.Config, handler func(*event.Connection), opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.Wrap(api.ErrInvalidArgument, "server needs a connection handler")
	}
	s := &Server{cfg: cfg, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = event.NewRegistry(s.log)
	}
	for _, ls := range cfg.Listenings(handler) {
		if err := s.registry.Add(ls); err != nil {
			return nil, err
		}
	}
	if err := s.registry.Open(); err != nil {
		return nil, err
	}
	for _, err := range s.registry.Configure() {
		s.log.WithError(err).Warn("listening socket option not applied")
	}

	if s.backend == nil {
		b, err := reactor.New(cfg.Backend)
		if err != nil {
			_ = s.registry.Close()
			return nil, err
		}
		s.backend = b
	}
	loopOpts := append([]event.LoopOption{event.WithLogger(s.log)}, s.loopOpts...)
	loop, err := event.NewLoop(cfg.LoopConfig(), s.backend, s.registry, loopOpts...)
	if err != nil {
		_ = s.registry.Close()
		return nil, err
	}
	s.loop = loop

	s.control = adapters.NewControlAdapter(cfg, s.loop.Stats)
	s.control.RegisterLoop(s.backend.Name())
	s.control.Annotate("backend", s.backend.Name())
	s.control.Annotate("worker", s.worker)
	s.affinity = adapters.NewAffinityAdapter(cfg.CPUAffinity, s.worker, s.log)
	return s, nil
}

// Run pins the calling thread per worker_cpu_affinity and runs the loop
// until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := s.affinity.Pin(-1); err != nil {
		s.log.WithError(err).Warn("cpu affinity not applied")
	}
	defer func() { _ = s.affinity.Unpin() }()

	s.log.WithFields(logrus.Fields{
		"backend":    s.backend.Name(),
		"listenings": len(s.registry.Listenings()),
		"worker":     s.worker,
	}).Info("worker loop started")
	return s.loop.Run(ctx)
}

// Close shuts the loop down and closes the listening sockets.
func (s *Server) Close() error {
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	err := s.loop.Close()
	if cerr := s.registry.Close(); err == nil {
		err = cerr
	}
	return err
}

// Loop exposes the event loop for connection handlers.
func (s *Server) Loop() *event.Loop {
	return s.loop
}

// Registry exposes the listening registry, e.g. for hand-off to children.
func (s *Server) Registry() *event.Registry {
	return s.registry
}

// GetControl exposes runtime metrics and debug control.
func (s *Server) GetControl() *adapters.ControlAdapter {
	return s.control
}

// Stats reads the loop counters.
func (s *Server) Stats() event.Stats {
	return s.loop.Stats()
}
