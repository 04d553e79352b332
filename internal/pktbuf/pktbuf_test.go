package pktbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAllocAndFree(t *testing.T) {
	p := NewPool(0, 2, 64, 1500)
	require.Equal(t, 2, p.Available())

	b1, err := p.Alloc()
	require.NoError(t, err)
	require.Equal(t, 1, p.Available())

	_, err = p.Alloc()
	require.NoError(t, err)
	require.Equal(t, 0, p.Available())

	_, err = p.Alloc()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	b1.Free()
	assert.Equal(t, 1, p.Available())
}

func TestPrependAndAdvanceRoundTrip(t *testing.T) {
	p := NewPool(0, 1, 64, 1500)
	b, err := p.Alloc()
	require.NoError(t, err)

	payload, err := b.Append(10)
	require.NoError(t, err)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.Equal(t, 10, b.Len())

	prefix, err := b.Prepend(4)
	require.NoError(t, err)
	require.Len(t, prefix, 4)
	assert.Equal(t, 14, b.Len())

	require.NoError(t, b.Advance(4))
	assert.Equal(t, 10, b.Len())
	assert.Equal(t, payload, b.Bytes())
}

func TestPrependBeyondHeadroomFails(t *testing.T) {
	p := NewPool(0, 1, 8, 1500)
	b, err := p.Alloc()
	require.NoError(t, err)

	_, err = b.Prepend(9)
	assert.Error(t, err)
}
