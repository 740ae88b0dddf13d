// File: api/capability.go
// Author: momentics <momentics@gmail.com>
//
// Backend capability set and event registration flags. A backend reports its
// capabilities once at start-up; the accept path and the timer code branch on
// them and never renegotiate at runtime.

package api

import "strings"

// Capability describes how a readiness backend delivers notifications.
type Capability uint32

const (
	// CapLevel: notifications repeat while the descriptor stays ready (poll, select).
	CapLevel Capability = 1 << iota
	// CapOneshot: the registration is dropped after one notification.
	CapOneshot
	// CapClear: only state changes are reported (edge-triggered epoll, EV_CLEAR).
	CapClear
	// CapCountedAccept: accept notifications carry the number of pending connections.
	CapCountedAccept
	// CapLowat: the backend honours low-water marks.
	CapLowat
	// CapGreedy: I/O must be repeated until EAGAIN.
	CapGreedy
	// CapAutoRegister: descriptors need no explicit add or delete.
	CapAutoRegister
	// CapAIO: completion semantics, descriptors stay in blocking mode.
	CapAIO
	// CapFDTable: the backend keeps an explicit descriptor table.
	CapFDTable
	// CapTimer: the backend manages timers on its own.
	CapTimer
)

var capNames = []struct {
	c    Capability
	name string
}{
	{CapLevel, "level"},
	{CapOneshot, "oneshot"},
	{CapClear, "clear"},
	{CapCountedAccept, "counted-accept"},
	{CapLowat, "lowat"},
	{CapGreedy, "greedy"},
	{CapAutoRegister, "auto-register"},
	{CapAIO, "aio"},
	{CapFDTable, "fd-table"},
	{CapTimer, "timer"},
}

// Has reports whether all bits of o are set.
func (c Capability) Has(o Capability) bool { return c&o == o }

// Any reports whether at least one bit of o is set.
func (c Capability) Any(o Capability) bool { return c&o != 0 }

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range capNames {
		if c&n.c != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// EventKind selects the readiness channel of a registration.
type EventKind uint8

const (
	ReadEvent EventKind = iota
	WriteEvent
)

func (k EventKind) String() string {
	if k == WriteEvent {
		return "write"
	}
	return "read"
}

// EventFlag modifies Add/Delete requests.
type EventFlag uint32

const (
	// FlagClose: the descriptor is about to be closed; backends that drop
	// registrations on close may skip the syscall.
	FlagClose EventFlag = 1 << iota
	// FlagDisable: temporarily disable instead of removing.
	FlagDisable
	// FlagFlush: push the change to the kernel now.
	FlagFlush
	// FlagOneshot: request a oneshot registration.
	FlagOneshot
	// FlagClear: request an edge-triggered registration.
	FlagClear
)

// ProcessFlag modifies one ProcessEvents call.
type ProcessFlag uint32

const (
	// FlagUpdateTime asks the loop to refresh its cached time after waiting.
	FlagUpdateTime ProcessFlag = 1 << iota
	// FlagPostEvents queues ready events instead of running their handlers.
	FlagPostEvents
)
