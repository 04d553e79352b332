package iface

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNoProtocol(t *testing.T) {
	_, err := New(Config{PortNames: []string{"eth0"}})
	assert.ErrorIs(t, err, ErrNoProtocol)
}

func TestNewRejectsNoPorts(t *testing.T) {
	_, err := New(Config{Protocols: ProtoV4})
	assert.ErrorIs(t, err, ErrNoPorts)
}

func TestNewRejectsBadV4Prefix(t *testing.T) {
	_, err := New(Config{
		PortNames:   []string{"eth0"},
		Protocols:   ProtoV4,
		V4PrefixLen: 33,
	})
	assert.ErrorIs(t, err, ErrBadPrefixV4)
}

func TestNewRejectsBadV6Prefix(t *testing.T) {
	_, err := New(Config{
		PortNames:   []string{"eth0"},
		Protocols:   ProtoV6,
		V6PrefixLen: 200,
	})
	assert.ErrorIs(t, err, ErrBadPrefixV6)
}

func TestNewDeclaredState(t *testing.T) {
	ifc, err := New(Config{
		PortNames:         []string{"eth0"},
		Protocols:         ProtoV4 | ProtoV6,
		RequestedRXQueues: 4,
		RequestedTXQueues: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, StateDeclared, ifc.State())
	assert.Equal(t, "declared", ifc.State().String())
}

func TestStage1InitRejectedOutsideDeclaredState(t *testing.T) {
	ifc, err := New(Config{
		PortNames: []string{"eth0"},
		Protocols: ProtoV4,
	})
	require.NoError(t, err)

	ifc.state = StateRunning
	err = ifc.Stage1Init()
	assert.ErrorIs(t, err, ErrWrongState)
}
