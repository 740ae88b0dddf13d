// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for the event core: per-connection arenas that are created on
// accept and destroyed in one step on close, backed by size-classed block
// pools so a recycled connection reuses the blocks of its predecessor.
// See arena.go and bytepool.go for implementation details.
package pool
