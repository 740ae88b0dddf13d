package pool_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/pool"
)

func TestArenaAllocAndDestroyReturnsBlocks(t *testing.T) {
	src := pool.NewBytePool()
	a, err := pool.NewArena(256, src)
	require.NoError(t, err)

	b1, err := a.Alloc(100)
	require.NoError(t, err)
	b2, err := a.Alloc(100)
	require.NoError(t, err)
	b3, err := a.Alloc(100) // spills into a second block
	require.NoError(t, err)
	big, err := a.Alloc(4000)
	require.NoError(t, err)

	assert.Len(t, b1, 100)
	assert.Len(t, b2, 100)
	assert.Len(t, b3, 100)
	assert.Len(t, big, 4000)
	assert.Equal(t, 4300, a.Allocated())
	assert.Equal(t, int64(3), src.Outstanding())

	a.Destroy()
	assert.Zero(t, src.Outstanding())

	_, err = a.Alloc(1)
	assert.ErrorIs(t, err, api.ErrClosed)
	a.Destroy() // idempotent
}

func TestArenaLargeBlocksAreZeroed(t *testing.T) {
	src := pool.NewBytePool()
	for round := 0; round < 4; round++ {
		a, err := pool.NewArena(pool.MinArenaSize, src)
		require.NoError(t, err)
		big, err := a.Alloc(3000)
		require.NoError(t, err)
		for i, b := range big {
			if b != 0 {
				t.Fatalf("round %d: byte %d is %#x", round, i, b)
			}
		}
		for i := range big {
			big[i] = 0xAB
		}
		a.Destroy()
	}
}

func TestArenaRejectsBadSizes(t *testing.T) {
	_, err := pool.NewArena(8, nil)
	assert.True(t, errors.Is(err, pool.ErrArenaSize))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	a, err := pool.NewArena(0, nil)
	require.NoError(t, err)
	assert.Equal(t, pool.DefaultArenaSize, a.Size())

	_, err = a.Alloc(0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestArenaCopyIsIndependent(t *testing.T) {
	a, err := pool.NewArena(pool.MinArenaSize, pool.NewBytePool())
	require.NoError(t, err)
	src := []byte{1, 2, 3}
	dst, err := a.Copy(src)
	require.NoError(t, err)
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, dst)
}

func TestBytePoolIgnoresForeignBuffers(t *testing.T) {
	bp := pool.NewBytePool()
	bp.PutBuffer(make([]byte, 100))
	assert.Zero(t, bp.Outstanding())

	b := bp.GetBuffer(65)
	assert.Equal(t, 128, cap(b))
	bp.PutBuffer(b)
	assert.Zero(t, bp.Outstanding())
}
