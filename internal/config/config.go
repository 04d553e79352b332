// Package config holds Gatekeeper's construction-time configuration
// (spec.md §6): the values that are fixed when the dataplane starts and
// never change while it runs.
package config

import (
	"fmt"
	"time"

	"github.com/H3xHunter/gatekeeper/internal/iface"
)

// Defaults matching spec.md §6.
const (
	DefaultBGPPort        = 179
	DefaultScanInterval   = 5 * time.Second
	DefaultRequestBurst   = 32
	DefaultMailboxEntries = 2048
	DefaultCacheTimeout   = 7 * 24 * time.Hour
)

// Config is the full set of values needed to bring up one Gatekeeper
// instance: a front-network interface, a back-network interface, and the
// control-plane parameters that tie them together.
type Config struct {
	FrontNet iface.Config
	BackNet  iface.Config

	BGPPort        uint16
	ScanInterval   time.Duration
	RequestBurst   int
	MailboxEntries int
	CacheTimeout   time.Duration

	NUMANodes []int
}

// Default returns a Config with every control-plane parameter set to its
// spec.md §6 default; callers still must fill in FrontNet/BackNet.
func Default() Config {
	return Config{
		BGPPort:        DefaultBGPPort,
		ScanInterval:   DefaultScanInterval,
		RequestBurst:   DefaultRequestBurst,
		MailboxEntries: DefaultMailboxEntries,
		CacheTimeout:   DefaultCacheTimeout,
		NUMANodes:      []int{0},
	}
}

// Validate checks the invariants spec.md §7 requires before bring-up:
// nonzero mailbox capacity, a sane scan interval, and at least one
// NUMA node to replicate ACL contexts onto.
func (c Config) Validate() error {
	if c.MailboxEntries <= 0 {
		return fmt.Errorf("config: mailbox entries must be positive")
	}
	if c.RequestBurst <= 0 {
		return fmt.Errorf("config: request burst must be positive")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("config: scan interval must be positive")
	}
	if len(c.NUMANodes) == 0 {
		return fmt.Errorf("config: at least one NUMA node is required")
	}
	if c.BGPPort == 0 {
		return fmt.Errorf("config: bgp port must be nonzero")
	}
	return nil
}
