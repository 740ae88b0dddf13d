// File: internal/shm/zone.go
// Author: momentics <momentics@gmail.com>
//
// Package shm holds the only state shared between worker processes: the
// accept mutex word and a handful of monotonic counters. The zone is a single
// shared mapping; every word sits on its own cache line and is touched only
// through sync/atomic or the spinlock.

package shm

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Slot names one word of the zone.
type Slot int

const (
	AcceptMutex Slot = iota
	ConnectionCounter
	StatAccepted
	StatHandled
	StatRequests
	StatActive
	StatReading
	StatWriting
	StatWaiting
	numSlots
)

var slotNames = [...]string{
	AcceptMutex:       "accept_mutex",
	ConnectionCounter: "connection_counter",
	StatAccepted:      "accepted",
	StatHandled:       "handled",
	StatRequests:      "requests",
	StatActive:        "active",
	StatReading:       "reading",
	StatWriting:       "writing",
	StatWaiting:       "waiting",
}

func (s Slot) String() string {
	if s < 0 || s >= numSlots {
		return "unknown"
	}
	return slotNames[s]
}

const (
	cacheLine = 64
	zoneSize  = int(numSlots) * cacheLine
)

// Zone is a mapped shared-state region.
type Zone struct {
	mem    []byte
	file   *os.File
	mapped bool
	keep   []int64
}

// NewPrivate returns a heap-backed zone for a single process.
func NewPrivate() *Zone {
	keep := make([]int64, zoneSize/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&keep[0])), zoneSize)
	return &Zone{mem: mem, keep: keep}
}

// Create allocates a new shared zone backed by an anonymous file that can be
// handed to child processes with File.
func Create(name string) (*Zone, error) {
	f, err := createBacking(name)
	if err != nil {
		return nil, errors.Wrap(err, "shm: create backing file")
	}
	if err := unix.Ftruncate(int(f.Fd()), int64(zoneSize)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "shm: ftruncate")
	}
	z, err := mapFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return z, nil
}

// Open maps an inherited zone descriptor.
func Open(f *os.File) (*Zone, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return nil, errors.Wrap(err, "shm: fstat")
	}
	if st.Size < int64(zoneSize) {
		return nil, errors.Errorf("shm: zone file too small: %d < %d", st.Size, zoneSize)
	}
	return mapFile(f)
}

func mapFile(f *os.File) (*Zone, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, zoneSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "shm: mmap")
	}
	return &Zone{mem: mem, file: f, mapped: true}, nil
}

// Word returns the address of a slot. The pointer stays valid until Close.
func (z *Zone) Word(s Slot) *int64 {
	if s < 0 || s >= numSlots {
		panic("shm: slot out of range")
	}
	return (*int64)(unsafe.Pointer(&z.mem[int(s)*cacheLine]))
}

// Add atomically adds delta to a counter slot and returns the new value.
func (z *Zone) Add(s Slot, delta int64) int64 {
	return atomic.AddInt64(z.Word(s), delta)
}

// Load atomically reads a slot.
func (z *Zone) Load(s Slot) int64 {
	return atomic.LoadInt64(z.Word(s))
}

// Snapshot reads every counter slot.
func (z *Zone) Snapshot() map[string]int64 {
	out := make(map[string]int64, numSlots)
	for s := Slot(0); s < numSlots; s++ {
		out[s.String()] = z.Load(s)
	}
	return out
}

// File returns the backing descriptor, nil for private zones.
func (z *Zone) File() *os.File {
	return z.file
}

// Shared reports whether the zone is visible to other processes.
func (z *Zone) Shared() bool {
	return z.mapped
}

// Close unmaps the zone. The backing file stays open for the caller to close.
func (z *Zone) Close() error {
	if !z.mapped || z.mem == nil {
		z.mem = nil
		return nil
	}
	err := unix.Munmap(z.mem)
	z.mem = nil
	return err
}
