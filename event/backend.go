// File: event/backend.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-evcore/api"
)

// Sink is the loop side of a backend. Backends map every kernel
// notification back to a connection through Resolve and drop it when the
// slot was recycled in the meantime.
type Sink interface {
	// Resolve returns the live connection for a slot and generation, or nil.
	Resolve(index int32, gen uint32) *Connection
	// Deliver runs the handler of a ready event, or posts it when
	// flags carries api.FlagPostEvents.
	Deliver(ev *Event, flags api.ProcessFlag)
}

// BackendConfig carries start-up parameters for Init.
type BackendConfig struct {
	// MaxEvents bounds the notifications taken per wait.
	MaxEvents int
	// Connections is the pool capacity, used to size descriptor tables.
	Connections int
	Log         logrus.FieldLogger
}

// Backend is one OS readiness mechanism. A loop selects one at start and
// never switches.
type Backend interface {
	Name() string
	Capabilities() api.Capability

	Init(sink Sink, cfg BackendConfig) error
	Done() error

	// Add registers ev. api.FlagClear asks for edge-triggered delivery.
	Add(ev *Event, flags api.EventFlag) error
	// Delete unregisters ev. api.FlagClose means the descriptor is about to
	// be closed, api.FlagDisable keeps the registration but mutes it.
	Delete(ev *Event, flags api.EventFlag) error
	Enable(ev *Event, flags api.EventFlag) error
	Disable(ev *Event, flags api.EventFlag) error

	// AddConn registers both events of c edge-triggered. Level-triggered
	// backends register read interest only.
	AddConn(c *Connection) error
	DeleteConn(c *Connection, flags api.EventFlag) error

	// ProcessChanges flushes batched registrations.
	ProcessChanges(nowait bool) error
	// ProcessEvents waits up to timeout (TimerInfinite blocks) and delivers
	// every ready notification once. It is the only blocking call.
	ProcessEvents(timeout time.Duration, flags api.ProcessFlag) error
	// Notify wakes a ProcessEvents call from any goroutine.
	Notify() error
}
