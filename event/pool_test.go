package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/momentics/hioload-evcore/api"
	"github.com/momentics/hioload-evcore/pool"
)

func checkPoolInvariant(t require.TestingT, p *Pool) {
	require.Equal(t, p.Capacity(), p.InUse()+p.FreeLen())
	for _, idx := range p.free {
		c := &p.slots[idx]
		require.Equal(t, -1, c.Fd)
		require.Nil(t, c.Arena)
		require.Nil(t, c.Read.Handler)
		require.Nil(t, c.Write.Handler)
		require.Equal(t, ConnFree, c.State)
	}
}

func TestPoolInvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(0, 16).Draw(t, "capacity")
		p := NewPool(capacity, 0)
		var live []*Connection

		t.Repeat(map[string]func(*rapid.T){
			"acquire": func(t *rapid.T) {
				c, err := p.Acquire(100+len(live), 0)
				if len(live) == capacity {
					require.ErrorIs(t, err, ErrPoolExhausted)
					require.Nil(t, c)
					return
				}
				require.NoError(t, err)
				c.Read.Handler = func(*Event) {}
				live = append(live, c)
			},
			"release": func(t *rapid.T) {
				if len(live) == 0 {
					t.Skip("nothing to release")
				}
				i := rapid.IntRange(0, len(live)-1).Draw(t, "i")
				p.Release(live[i])
				p.Release(live[i])
				live = append(live[:i], live[i+1:]...)
			},
			"": func(t *rapid.T) {
				checkPoolInvariant(t, p)
				require.Equal(t, len(live), p.InUse())
			},
		})
	})
}

func TestPoolCapacityZeroAlwaysExhausted(t *testing.T) {
	p := NewPool(0, 0)
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(7, 0)
		assert.Nil(t, c)
		assert.ErrorIs(t, err, ErrPoolExhausted)
		assert.ErrorIs(t, err, api.ErrResourceExhausted)
	}
	assert.Equal(t, 0, p.InUse())
}

func TestPoolGenerationDetectsStaleHandles(t *testing.T) {
	p := NewPool(1, 0)
	c, err := p.Acquire(5, 0)
	require.NoError(t, err)
	h := c.Handle()

	got, err := p.Lookup(h)
	require.NoError(t, err)
	assert.Same(t, c, got)

	p.Release(c)
	_, err = p.Lookup(h)
	assert.ErrorIs(t, err, ErrStaleHandle)

	c2, err := p.Acquire(6, 0)
	require.NoError(t, err)
	assert.Same(t, c, c2, "single slot is reused")
	assert.Equal(t, h.Generation+1, c2.Generation())
	_, err = p.Lookup(h)
	assert.ErrorIs(t, err, api.ErrStale)
	assert.Nil(t, p.Resolve(h.Index, h.Generation))
	assert.Nil(t, p.Resolve(42, 1))
}

func TestPoolArenaFailureKeepsSlotFree(t *testing.T) {
	p := NewPool(2, 0)
	_, err := p.Acquire(9, pool.MinArenaSize-1)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	checkPoolInvariant(t, p)
	assert.Equal(t, 2, p.FreeLen())
}

func TestPoolAcceptDisabledThreshold(t *testing.T) {
	p := NewPool(16, 0)
	assert.Equal(t, 2-16, p.AcceptDisabled())
	var cs []*Connection
	for i := 0; i < 15; i++ {
		c, err := p.Acquire(i+3, 0)
		require.NoError(t, err)
		cs = append(cs, c)
	}
	assert.Equal(t, 1, p.AcceptDisabled())
	p.Release(cs[0])
	assert.Equal(t, 0, p.AcceptDisabled())
}

func TestPoolReusableOrder(t *testing.T) {
	p := NewPool(3, 0)
	a, _ := p.Acquire(3, 0)
	b, _ := p.Acquire(4, 0)
	p.SetReusable(a, true)
	p.SetReusable(b, true)
	assert.Equal(t, 2, p.ReusableLen())

	assert.Same(t, a, p.oldestReusable())
	assert.False(t, a.Reusable)
	p.Release(b)
	assert.Equal(t, 0, p.ReusableLen(), "release unlinks reusable connections")
	assert.Nil(t, p.oldestReusable())
}
