// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
//
// Arena is a per-connection bump allocator. Everything a connection allocates
// while it lives is released at once by Destroy.

package pool

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-evcore/api"
)

const (
	// MinArenaSize is the smallest accepted block size.
	MinArenaSize = 128
	// MaxArenaSize caps the block size.
	MaxArenaSize = 1 << 20
	// DefaultArenaSize is used when a listener does not configure one.
	DefaultArenaSize = 256
)

// ErrArenaSize is returned for block sizes outside [MinArenaSize, MaxArenaSize].
var ErrArenaSize = errors.WithMessage(api.ErrInvalidArgument, "arena size out of range")

// Arena allocates from blocks of a fixed size; larger requests get their own block.
type Arena struct {
	src       *BytePool
	blockSize int
	blocks    [][]byte
	large     [][]byte
	cur       []byte
	allocated int
	destroyed bool
}

// NewArena creates an arena with the given block size.
func NewArena(size int, src *BytePool) (*Arena, error) {
	if size == 0 {
		size = DefaultArenaSize
	}
	if size < MinArenaSize || size > MaxArenaSize {
		return nil, errors.Wrapf(ErrArenaSize, "size %d", size)
	}
	if src == nil {
		src = defaultBytePool
	}
	return &Arena{src: src, blockSize: size}, nil
}

// Alloc returns n bytes owned by the arena.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if a.destroyed {
		return nil, api.ErrClosed
	}
	if n <= 0 {
		return nil, api.ErrInvalidArgument
	}
	a.allocated += n
	if n > a.blockSize {
		b := a.src.GetBuffer(n)[:n]
		clear(b)
		a.large = append(a.large, b)
		return b, nil
	}
	if len(a.cur) < n {
		blk := a.src.GetBuffer(a.blockSize)[:a.blockSize]
		a.blocks = append(a.blocks, blk)
		a.cur = blk
	}
	out := a.cur[:n:n]
	a.cur = a.cur[n:]
	clear(out)
	return out, nil
}

// Copy stores a copy of b in the arena.
func (a *Arena) Copy(b []byte) ([]byte, error) {
	out, err := a.Alloc(len(b))
	if err != nil {
		return nil, err
	}
	copy(out, b)
	return out, nil
}

// Allocated returns the number of bytes handed out so far.
func (a *Arena) Allocated() int {
	return a.allocated
}

// Size returns the block size.
func (a *Arena) Size() int {
	return a.blockSize
}

// Destroy returns every block to the source pool. Further allocations fail.
func (a *Arena) Destroy() {
	if a.destroyed {
		return
	}
	for _, b := range a.blocks {
		a.src.PutBuffer(b)
	}
	for _, b := range a.large {
		a.src.PutBuffer(b)
	}
	a.blocks, a.large, a.cur = nil, nil, nil
	a.destroyed = true
}
