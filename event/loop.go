// File: event/loop.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/internal/shm"
	"github.com/momentics/hioload-evcore/internal/transport"
	"github.com/momentics/hioload-evcore/pool"
)

// LoopConfig is read once when the loop is built.
type LoopConfig struct {
	// Connections is the pool capacity, listening sockets included.
	Connections int
	MultiAccept bool
	// AcceptMutex turns on accept arbitration through the zone.
	AcceptMutex      bool
	AcceptMutexDelay time.Duration
	// MutexValue identifies this worker in the zone; 0 means the pid.
	MutexValue int64
	// TimerResolution > 0 waits without timer-derived timeouts and wakes
	// on a ticker instead.
	TimerResolution time.Duration
	MaxEvents       int
	ArenaSize       int
}

// AcceptFunc accepts one connection from a listening descriptor.
type AcceptFunc func(fd int) (nfd int, sa unix.Sockaddr, nonblocking bool, err error)

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(log logrus.FieldLogger) LoopOption {
	return func(l *Loop) { l.log = log }
}

// WithClock sets the clock behind timers.
func WithClock(clk clock.Clock) LoopOption {
	return func(l *Loop) { l.clock = clk }
}

// WithZone sets the shared zone; without one a private zone is used and
// the accept mutex stays off.
func WithZone(z *shm.Zone) LoopOption {
	return func(l *Loop) { l.zone = z }
}

// WithAcceptFunc replaces the accept syscall.
func WithAcceptFunc(f AcceptFunc) LoopOption {
	return func(l *Loop) { l.accept = f }
}

const (
	defaultConnections      = 512
	defaultAcceptMutexDelay = 500 * time.Millisecond
	defaultMaxEvents        = 512
	drainBatch              = 32
)

// Loop is the event loop of one worker.
type Loop struct {
	cfg      LoopConfig
	backend  Backend
	caps     api.Capability
	registry *Registry
	pool     *Pool
	timers   *Timers
	zone     *shm.Zone
	clock    clock.Clock
	accept   AcceptFunc
	log      logrus.FieldLogger

	posted       *PostedQueue
	postedAccept *PostedQueue
	thread       *threadQueue

	mutex          *AcceptMutex
	useAcceptMutex bool
	mutexHeld      bool
	acceptEvents   int
	acceptDisabled int

	critical rate.Sometimes
}

// NewLoop builds a loop over an opened registry. Every listening socket
// takes one pool slot. Without the accept mutex, accept interest is
// enabled right away.
func NewLoop(cfg LoopConfig, backend Backend, reg *Registry, opts ...LoopOption) (*Loop, error) {
	if backend == nil || reg == nil {
		return nil, errors.Wrap(api.ErrInvalidArgument, "loop needs a backend and a registry")
	}
	if cfg.Connections <= 0 {
		cfg.Connections = defaultConnections
	}
	if cfg.AcceptMutexDelay <= 0 {
		cfg.AcceptMutexDelay = defaultAcceptMutexDelay
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}

	l := &Loop{
		cfg:          cfg,
		backend:      backend,
		registry:     reg,
		accept:       transport.Accept,
		log:          logrus.StandardLogger(),
		posted:       NewPostedQueue(),
		postedAccept: NewPostedQueue(),
		thread:       newThreadQueue(),
		critical:     rate.Sometimes{First: 1, Interval: time.Second},
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.WithFields(logrus.Fields{"component": "event", "backend": backend.Name()})
	if l.zone == nil {
		l.zone = shm.NewPrivate()
	}
	l.timers = NewTimers(l.clock)
	l.timers.run = l.dispatch
	l.pool = NewPool(cfg.Connections, cfg.ArenaSize)

	if err := backend.Init(l, BackendConfig{
		MaxEvents:   cfg.MaxEvents,
		Connections: cfg.Connections,
		Log:         l.log,
	}); err != nil {
		return nil, errors.Wrapf(err, "init %s backend", backend.Name())
	}
	l.caps = backend.Capabilities()

	l.useAcceptMutex = cfg.AcceptMutex && l.zone.Shared() && !l.caps.Has(api.CapAIO)
	if l.useAcceptMutex {
		value := cfg.MutexValue
		if value == 0 {
			value = int64(unix.Getpid())
		}
		l.mutex = NewAcceptMutex(l.zone, value)
	}

	for _, ls := range reg.Listenings() {
		if !ls.Open {
			continue
		}
		c, err := l.pool.Acquire(ls.Fd, pool.MinArenaSize)
		if err != nil {
			l.Close()
			return nil, errors.Wrapf(err, "slot for %s", ls.AddrText)
		}
		c.Listening = ls
		c.Log = l.log.WithField("addr", ls.AddrText)
		c.Read.Accept = true
		c.Read.Handler = l.acceptHandler
		ls.conn = c
	}
	if !l.useAcceptMutex {
		if err := l.enableAcceptEvents(); err != nil {
			l.Close()
			return nil, err
		}
	}
	return l, nil
}

// Pool exposes the connection pool.
func (l *Loop) Pool() *Pool { return l.pool }

// Timers exposes the timer tree.
func (l *Loop) Timers() *Timers { return l.timers }

// Zone returns the shared zone in use.
func (l *Loop) Zone() *shm.Zone { return l.zone }

// Backend returns the readiness backend.
func (l *Loop) Backend() Backend { return l.backend }

// Capabilities returns what the backend reported at start-up.
func (l *Loop) Capabilities() api.Capability { return l.caps }

// AcceptDisabled returns the current backpressure value.
func (l *Loop) AcceptDisabled() int { return l.acceptDisabled }

// Resolve implements Sink.
func (l *Loop) Resolve(index int32, gen uint32) *Connection {
	return l.pool.Resolve(index, gen)
}

// Deliver implements Sink.
func (l *Loop) Deliver(ev *Event, flags api.ProcessFlag) {
	if ev.Accept && l.caps.Has(api.CapOneshot) {
		ev.Active = false
		l.acceptEvents++
	}
	if flags&api.FlagPostEvents != 0 {
		if ev.Accept {
			l.postedAccept.Post(ev)
		} else {
			l.posted.Post(ev)
		}
		return
	}
	l.dispatch(ev)
}

// Post queues ev for the current iteration.
func (l *Loop) Post(ev *Event) { l.posted.Post(ev) }

// PostFromThread hands an event over from another goroutine and wakes the
// loop. A connection event is dropped if the connection is closed before
// the loop gets to it.
func (l *Loop) PostFromThread(ev *Event) error {
	l.thread.push(ev)
	return l.backend.Notify()
}

// AddTimer arms ev.
func (l *Loop) AddTimer(ev *Event, d time.Duration) { l.timers.Add(ev, d) }

// DeleteTimer disarms ev.
func (l *Loop) DeleteTimer(ev *Event) { l.timers.Delete(ev) }

// dispatch runs a handler; a panic is logged and the loop goes on.
func (l *Loop) dispatch(ev *Event) {
	if ev.Handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			fields := logrus.Fields{"panic": r, "stack": string(debug.Stack())}
			if c := ev.Data; c != nil {
				fields["fd"] = c.Fd
				fields["conn"] = c.Number
			}
			l.log.WithFields(fields).Error("event handler panic")
		}
	}()
	ev.Handler(ev)
}

// ProcessEventsAndTimers runs one loop iteration: arbitrate accept, wait
// for readiness, run posted accept events, release the mutex word, expire
// timers and run the remaining posted events. With a timer resolution or a
// backend that keeps its own timers the wait is not bounded by the timer
// tree.
func (l *Loop) ProcessEventsAndTimers() error {
	var (
		timeout time.Duration
		flags   api.ProcessFlag
	)
	if l.cfg.TimerResolution > 0 || l.caps.Has(api.CapTimer) {
		timeout = TimerInfinite
	} else {
		timeout = l.timers.FindEarliest()
		flags = api.FlagUpdateTime
	}

	if l.useAcceptMutex {
		if l.acceptDisabled > 0 {
			l.acceptDisabled--
			if l.mutexHeld {
				if err := l.disableAcceptEvents(); err != nil {
					return err
				}
				l.mutexHeld = false
			}
		} else {
			if err := l.trylockAcceptMutex(); err != nil {
				return err
			}
			if l.mutexHeld {
				flags |= api.FlagPostEvents
			} else if timeout == TimerInfinite || timeout > l.cfg.AcceptMutexDelay {
				timeout = l.cfg.AcceptMutexDelay
			}
		}
	}
	if l.posted.Len() > 0 || l.postedAccept.Len() > 0 {
		timeout = 0
	}

	err := l.backend.ProcessEvents(timeout, flags)
	if err != nil {
		l.log.WithError(err).Error("process events")
	}
	if _, stale := l.thread.moveTo(l.posted, l.pool.Resolve); stale > 0 {
		l.log.WithField("stale", stale).Debug("dropped cross-thread events for closed connections")
	}

	l.postedAccept.Process(l.dispatch)
	if l.mutexHeld {
		l.mutex.Unlock()
	}
	l.timers.Expire()
	l.posted.Process(l.dispatch)
	return err
}

// Run iterates until ctx is done. The loop goroutine is pinned to its OS
// thread.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stop := context.AfterFunc(ctx, func() { _ = l.backend.Notify() })
	defer stop()

	if res := l.cfg.TimerResolution; res > 0 {
		ticker := l.timers.clock.NewTicker(res)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C():
					_ = l.backend.Notify()
				}
			}
		}()
	}

	for ctx.Err() == nil {
		if err := l.ProcessEventsAndTimers(); err != nil && ctx.Err() == nil {
			l.log.WithError(err).Warn("loop iteration failed")
		}
	}
	return nil
}

// Close releases listening slots, drops the accept mutex and shuts the
// backend down. Listening descriptors stay open; they belong to the
// registry.
func (l *Loop) Close() error {
	for _, ls := range l.registry.Listenings() {
		c := ls.conn
		if c == nil {
			continue
		}
		l.timers.Delete(c.Read)
		if c.Read.Active {
			_ = l.backend.Delete(c.Read, 0)
		}
		DeletePosted(c.Read)
		ls.conn = nil
		l.pool.Release(c)
	}
	if l.mutex != nil && l.mutex.Owner() == l.mutex.Value() {
		l.mutex.Unlock()
	}
	l.mutexHeld = false
	return l.backend.Done()
}

// CloseConnection tears a connection down: timers, posted entries,
// registrations and descriptor, then returns the slot to the pool.
func (l *Loop) CloseConnection(c *Connection) {
	if c.Fd == -1 || c.State == ConnFree {
		l.log.Warn("connection already closed")
		return
	}
	l.timers.Delete(c.Read)
	l.timers.Delete(c.Write)
	if !l.caps.Any(api.CapAutoRegister | api.CapAIO) {
		if err := l.backend.DeleteConn(c, api.FlagClose); err != nil {
			l.log.WithError(err).WithField("fd", c.Fd).Debug("delete connection")
		}
	}
	DeletePosted(c.Read)
	DeletePosted(c.Write)
	c.State = ConnClosing

	l.setPhase(c, PhaseNone)
	if c.Listening != nil {
		l.zone.Add(shm.StatActive, -1)
	}
	fd := c.Fd
	l.pool.Release(c)
	if err := transport.Close(fd); err != nil {
		l.log.WithError(err).WithField("fd", fd).Error("close socket")
	}
}

// acquire takes a slot, draining reusable connections once if the pool is
// empty.
func (l *Loop) acquire(fd, arenaSize int) (*Connection, error) {
	c, err := l.pool.Acquire(fd, arenaSize)
	if errors.Is(err, ErrPoolExhausted) && l.drainConnections() > 0 {
		c, err = l.pool.Acquire(fd, arenaSize)
	}
	if err != nil {
		if errors.Is(err, ErrPoolExhausted) {
			l.critical.Do(func() {
				l.log.WithField("connections", l.pool.Capacity()).Error("worker connections are not enough")
			})
		}
		return nil, err
	}
	c.Log = l.log.WithField("fd", fd)
	return c, nil
}

// drainConnections closes up to drainBatch reusable connections by running
// their read handlers in closing state.
func (l *Loop) drainConnections() int {
	n := 0
	for ; n < drainBatch; n++ {
		c := l.pool.oldestReusable()
		if c == nil {
			break
		}
		c.State = ConnClosing
		l.dispatch(c.Read)
	}
	if n > 0 {
		l.critical.Do(func() {
			l.log.WithField("drained", n).Warn("connections are not enough, reusing idle connections")
		})
	}
	return n
}
