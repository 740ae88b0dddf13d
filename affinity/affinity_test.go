package affinity_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-evcore/affinity"
	"github.com/momentics/hioload-evcore/api"
)

func TestParseMask(t *testing.T) {
	cpus, err := affinity.ParseMask("0101")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, cpus)

	cpus, err = affinity.ParseMask("1000")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, cpus)

	for _, bad := range []string{"", "0000", "01x1"} {
		_, err := affinity.ParseMask(bad)
		assert.ErrorIs(t, err, api.ErrInvalidArgument, bad)
	}
}

func TestForWorker(t *testing.T) {
	cpus, err := affinity.ForWorker("", 3)
	require.NoError(t, err)
	assert.Nil(t, cpus)

	cpus, err = affinity.ForWorker("01 10", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, cpus)

	cpus, err = affinity.ForWorker("01 10", 5)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, cpus, "last mask repeats")

	cpus, err = affinity.ForWorker("auto", runtime.NumCPU()+1)
	require.NoError(t, err)
	require.Len(t, cpus, 1)
	assert.GreaterOrEqual(t, cpus[0], 0)
}

func TestSetAffinityRejectsOutOfRange(t *testing.T) {
	assert.ErrorIs(t, affinity.SetAffinity(-1), api.ErrInvalidArgument)
	assert.ErrorIs(t, affinity.SetAffinity(affinity.MaxCPU), api.ErrInvalidArgument)
	assert.ErrorIs(t, affinity.SetAffinitySet(nil), api.ErrInvalidArgument)
}

func TestFormatSet(t *testing.T) {
	assert.Equal(t, "0,2,5", affinity.FormatSet([]int{0, 2, 5}))
}
