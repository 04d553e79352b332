package queuealloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMat struct {
	calls [][3]int
}

func (f *fakeMat) MaterializeQueue(dir Direction, lcore int, index uint32) error {
	f.calls = append(f.calls, [3]int{int(dir), lcore, int(index)})
	return nil
}

func TestAssignIsIdempotent(t *testing.T) {
	mat := &fakeMat{}
	a, err := New(4, mat)
	require.NoError(t, err)

	idx1, err := a.Assign(RX, 0)
	require.NoError(t, err)
	idx2, err := a.Assign(RX, 0)
	require.NoError(t, err)

	assert.Equal(t, idx1, idx2)
	assert.Len(t, mat.calls, 1, "materialize must run exactly once per (dir,lcore)")
}

func TestAssignDistinctLcoresGetDistinctIndices(t *testing.T) {
	mat := &fakeMat{}
	a, err := New(4, mat)
	require.NoError(t, err)

	i0, err := a.Assign(RX, 0)
	require.NoError(t, err)
	i1, err := a.Assign(RX, 1)
	require.NoError(t, err)

	assert.NotEqual(t, i0, i1)
}

func TestExhaustion(t *testing.T) {
	mat := &fakeMat{}
	a, err := New(1, mat)
	require.NoError(t, err)

	_, err = a.Assign(RX, 0)
	require.NoError(t, err)
	_, err = a.Assign(RX, 1)
	assert.ErrorIs(t, err, ErrCounterExhausted)
}

func TestUnsafeQueueCountRejected(t *testing.T) {
	_, err := New(Unallocated, &fakeMat{})
	assert.ErrorIs(t, err, ErrQueueCountUnsafe)
}

func TestLookupMissing(t *testing.T) {
	mat := &fakeMat{}
	a, err := New(4, mat)
	require.NoError(t, err)

	_, ok := a.Lookup(TX, 0)
	assert.False(t, ok)

	idx, err := a.Assign(TX, 0)
	require.NoError(t, err)

	got, ok := a.Lookup(TX, 0)
	require.True(t, ok)
	assert.Equal(t, idx, got)
}
