// File: event/pool.go
// Author: momentics <momentics@gmail.com>

package event

import (
	"container/list"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/pool"
)

var (
	// ErrPoolExhausted is returned by Acquire when no slot is free. The
	// caller still owns, and must close, the descriptor it tried to bind.
	ErrPoolExhausted = errors.WithMessage(api.ErrResourceExhausted, "connection pool exhausted")
	// ErrStaleHandle is returned by Lookup for a recycled or free slot.
	ErrStaleHandle = errors.WithMessage(api.ErrStale, "connection handle is stale")
)

// Pool is a fixed array of connection slots with an explicit free stack.
// It is owned by one loop and never shared between processes.
type Pool struct {
	slots  []Connection
	reads  []Event
	writes []Event
	free   []int32

	arenaSize int
	bytes     *pool.BytePool
	reusable  *list.List
}

// NewPool preallocates capacity slots. arenaSize is the default arena size
// for Acquire calls that pass 0.
func NewPool(capacity, arenaSize int) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool{
		slots:     make([]Connection, capacity),
		reads:     make([]Event, capacity),
		writes:    make([]Event, capacity),
		free:      make([]int32, 0, capacity),
		arenaSize: arenaSize,
		bytes:     pool.NewBytePool(),
		reusable:  list.New(),
	}
	// Push in reverse so slot 0 is handed out first.
	for i := capacity - 1; i >= 0; i-- {
		c := &p.slots[i]
		c.index = int32(i)
		c.Fd = -1
		c.Read = &p.reads[i]
		c.Write = &p.writes[i]
		c.Read.reset()
		c.Write.Write = true
		c.Write.reset()
		c.Read.Data = c
		c.Write.Data = c
		p.free = append(p.free, int32(i))
	}
	return p
}

// Capacity returns the number of slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// FreeLen returns the number of free slots.
func (p *Pool) FreeLen() int { return len(p.free) }

// InUse returns the number of acquired slots.
func (p *Pool) InUse() int { return len(p.slots) - len(p.free) }

// AcceptDisabled is the soft backpressure threshold: positive values mean
// fewer than one eighth of the pool is free.
func (p *Pool) AcceptDisabled() int {
	return len(p.slots)/8 - len(p.free)
}

// Acquire pops a free slot, bumps its generation, binds fd and gives it a
// fresh arena. On any error the slot stays free and fd is left untouched.
func (p *Pool) Acquire(fd, arenaSize int) (*Connection, error) {
	if fd < 0 {
		return nil, errors.Wrapf(api.ErrInvalidArgument, "acquire fd %d", fd)
	}
	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]

	if arenaSize == 0 {
		arenaSize = p.arenaSize
	}
	arena, err := pool.NewArena(arenaSize, p.bytes)
	if err != nil {
		p.free = append(p.free, idx)
		return nil, errors.Wrap(err, "connection arena")
	}

	c := &p.slots[idx]
	c.gen++
	c.Fd = fd
	c.Arena = arena
	c.State = ConnActive
	c.Read.Data = c
	c.Write.Data = c
	return c, nil
}

// Release returns c to the free stack. Releasing a free or foreign
// connection is a no-op.
func (p *Pool) Release(c *Connection) {
	if c == nil || !p.owns(c) || c.State == ConnFree {
		return
	}
	if c.reuse != nil {
		p.reusable.Remove(c.reuse)
		c.reuse = nil
	}
	if c.Arena != nil {
		c.Arena.Destroy()
	}
	idx, gen := c.index, c.gen
	read, write := c.Read, c.Write
	read.reset()
	write.reset()
	*c = Connection{index: idx, gen: gen, Fd: -1, Read: read, Write: write}
	read.Data = c
	write.Data = c
	p.free = append(p.free, idx)
}

// Lookup resolves a handle to its connection if the slot still holds the
// same generation.
func (p *Pool) Lookup(h Handle) (*Connection, error) {
	if c := p.Resolve(h.Index, h.Generation); c != nil {
		return c, nil
	}
	return nil, errors.Wrapf(ErrStaleHandle, "handle %s", h)
}

// Resolve is Lookup without the error, for backends validating
// notifications.
func (p *Pool) Resolve(index int32, gen uint32) *Connection {
	if index < 0 || int(index) >= len(p.slots) {
		return nil
	}
	c := &p.slots[index]
	if c.gen != gen || c.State == ConnFree {
		return nil
	}
	return c
}

// SetReusable adds c to, or removes it from, the list of idle connections
// that may be closed early when the pool runs dry.
func (p *Pool) SetReusable(c *Connection, reusable bool) {
	if c.reuse != nil {
		p.reusable.Remove(c.reuse)
		c.reuse = nil
	}
	c.Reusable = reusable
	if reusable {
		c.reuse = p.reusable.PushFront(c)
	}
}

// ReusableLen returns the number of reusable connections.
func (p *Pool) ReusableLen() int { return p.reusable.Len() }

// oldestReusable unlinks and returns the least recently marked reusable
// connection.
func (p *Pool) oldestReusable() *Connection {
	e := p.reusable.Back()
	if e == nil {
		return nil
	}
	c := p.reusable.Remove(e).(*Connection)
	c.reuse = nil
	c.Reusable = false
	return c
}

func (p *Pool) owns(c *Connection) bool {
	i := int(c.index)
	return i >= 0 && i < len(p.slots) && &p.slots[i] == c
}
