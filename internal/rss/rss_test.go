package rss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	size  int
	table []uint16
}

func (d *fakeDevice) RETASize() int            { return d.size }
func (d *fakeDevice) SetRETA(t []uint16) error { d.table = t; return nil }

func TestConfigureSpreadsQueues(t *testing.T) {
	dev := &fakeDevice{size: 8}
	require.NoError(t, Configure(dev, []uint16{1, 2, 3}))

	want := []uint16{1, 2, 3, 1, 2, 3, 1, 2}
	assert.Equal(t, want, dev.table)
}

func TestConfigureRejectsEmptyQueueSet(t *testing.T) {
	dev := &fakeDevice{size: 8}
	assert.ErrorIs(t, Configure(dev, nil), ErrNoQueues)
}

func TestConfigureRejectsOversizedReta(t *testing.T) {
	dev := &fakeDevice{size: MaxRETASize + 1}
	assert.ErrorIs(t, Configure(dev, []uint16{0}), ErrRETASizeInvalid)
}

func TestGenerateKeyNeverDegenerate(t *testing.T) {
	for i := 0; i < 200; i++ {
		k, err := GenerateKey()
		require.NoError(t, err)
		assert.False(t, isDegenerate(k.Native()))
	}
}

func TestGenerateKeyByteSwapIsConsistent(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)

	native := k.Native()
	be := k.BigEndian()
	require.Len(t, be, KeySize)
	for i := 0; i < KeySize; i++ {
		assert.Equal(t, native[i], be[KeySize-1-i])
	}
}
