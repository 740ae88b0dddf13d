// File: event/connection.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"container/list"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evcore/pool"
)

// ConnState is the mutually exclusive lifecycle state of a slot.
type ConnState uint8

const (
	ConnFree ConnState = iota
	ConnActive
	ConnIdle
	ConnClosing
)

func (s ConnState) String() string {
	switch s {
	case ConnActive:
		return "active"
	case ConnIdle:
		return "idle"
	case ConnClosing:
		return "closing"
	}
	return "free"
}

// Phase is the stub-status bucket a connection is counted in.
type Phase uint8

const (
	PhaseNone Phase = iota
	PhaseReading
	PhaseWriting
	PhaseWaiting
)

// Handle names a connection slot at one generation. A handle taken before
// the slot was recycled no longer resolves.
type Handle struct {
	Index      int32
	Generation uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

// Connection is one pooled accepted, listening or outbound socket.
type Connection struct {
	index int32
	gen   uint32

	Fd    int
	Read  *Event
	Write *Event

	// Arena lives exactly as long as the connection.
	Arena *pool.Arena

	Sockaddr unix.Sockaddr
	// RawAddr is the encoded peer address, allocated from Arena.
	RawAddr  []byte
	AddrText string

	Listening *Listening
	Number    int64
	Sent      int64
	Requests  int64

	State         ConnState
	Phase         Phase
	Reusable      bool
	TimedOut      bool
	Error         bool
	UnexpectedEOF bool

	// Data belongs to the protocol layer.
	Data any
	Log  logrus.FieldLogger

	reuse *list.Element
}

// Handle returns the current generation handle of the connection.
func (c *Connection) Handle() Handle {
	return Handle{Index: c.index, Generation: c.gen}
}

// Generation returns the reuse counter of the slot.
func (c *Connection) Generation() uint32 { return c.gen }
