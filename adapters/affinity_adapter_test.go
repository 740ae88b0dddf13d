package adapters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-evcore/adapters"
	"github.com/momentics/hioload-evcore/api"
)

func TestAffinityAdapterEmptySpecLeavesThreadUnbound(t *testing.T) {
	a := adapters.NewAffinityAdapter("", 0, nil)
	require.NoError(t, a.Pin(-1))
	assert.Nil(t, a.Pinned())
	require.NoError(t, a.Unpin())
}

func TestAffinityAdapterRejectsBadMask(t *testing.T) {
	a := adapters.NewAffinityAdapter("01z", 0, nil)
	assert.ErrorIs(t, a.Pin(-1), api.ErrInvalidArgument)
	assert.Nil(t, a.Pinned())
}
