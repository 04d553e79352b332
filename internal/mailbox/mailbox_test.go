package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocSendDequeueFIFO(t *testing.T) {
	m := New(4)

	var ids []Kind
	for i := 0; i < 3; i++ {
		req, err := m.Alloc()
		require.NoError(t, err)
		req.Kind = Kind(i)
		ids = append(ids, req.Kind)
		require.NoError(t, m.Send(req))
	}

	got := m.DequeueBurst(10)
	require.Len(t, got, 3)
	for i, req := range got {
		assert.Equal(t, ids[i], req.Kind, "dequeue order must match send order (FIFO)")
	}

	for _, req := range got {
		m.Free(req)
	}
	assert.Equal(t, 0, m.Len())
}

func TestAllocExhaustion(t *testing.T) {
	m := New(1)

	req, err := m.Alloc()
	require.NoError(t, err)

	_, err = m.Alloc()
	assert.ErrorIs(t, err, ErrSlabExhausted)

	m.Free(req)
	_, err = m.Alloc()
	assert.NoError(t, err)
}

func TestFreeWithoutSendReturnsSlotForReuse(t *testing.T) {
	m := New(1)

	req, err := m.Alloc()
	require.NoError(t, err)
	m.Free(req) // never sent

	_, err = m.Alloc()
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len(), "a freed-without-send slot must not appear on the consumer ring")
}

func TestDequeueBurstCapsAtAvailable(t *testing.T) {
	m := New(4)
	for i := 0; i < 2; i++ {
		req, err := m.Alloc()
		require.NoError(t, err)
		require.NoError(t, m.Send(req))
	}

	got := m.DequeueBurst(10)
	assert.Len(t, got, 2)
}
