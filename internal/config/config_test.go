package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.FrontNet.Name = "front0"
	cfg.BackNet.Name = "back0"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsZeroMailbox(t *testing.T) {
	cfg := Default()
	cfg.MailboxEntries = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNoNUMANodes(t *testing.T) {
	cfg := Default()
	cfg.NUMANodes = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroBGPPort(t *testing.T) {
	cfg := Default()
	cfg.BGPPort = 0
	assert.Error(t, cfg.Validate())
}
