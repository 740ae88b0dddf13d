// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync"

// minClass is the smallest block size handed out.
const minClass = 64

// BytePool hands out power-of-two sized blocks from per-class pools.
type BytePool struct {
	mu      sync.RWMutex
	classes map[int]*SyncPool[*[]byte]
}

// NewBytePool creates an empty pool; classes are created on first use.
func NewBytePool() *BytePool {
	return &BytePool{classes: make(map[int]*SyncPool[*[]byte])}
}

var defaultBytePool = NewBytePool()

// DefaultBytePool returns the process-wide block pool.
func DefaultBytePool() *BytePool {
	return defaultBytePool
}

// GetBuffer returns a zeroed-length block with capacity >= n.
func (b *BytePool) GetBuffer(n int) []byte {
	class := classFor(n)
	p := b.class(class)
	return (*p.Get())[:0]
}

// PutBuffer returns a block obtained from GetBuffer.
func (b *BytePool) PutBuffer(buf []byte) {
	c := cap(buf)
	if c < minClass || c&(c-1) != 0 {
		// not one of ours
		return
	}
	b.class(c).Put(&buf)
}

// Outstanding returns the number of blocks handed out and not yet returned.
func (b *BytePool) Outstanding() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for _, p := range b.classes {
		n += p.InFlight()
	}
	return n
}

func (b *BytePool) class(size int) *SyncPool[*[]byte] {
	b.mu.RLock()
	p, ok := b.classes[size]
	b.mu.RUnlock()
	if ok {
		return p
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok = b.classes[size]; ok {
		return p
	}
	p = NewSyncPool(func() *[]byte {
		buf := make([]byte, 0, size)
		return &buf
	}, func(buf *[]byte) *[]byte {
		*buf = (*buf)[:0]
		return buf
	})
	b.classes[size] = p
	return p
}

func classFor(n int) int {
	c := minClass
	for c < n {
		c <<= 1
	}
	return c
}
