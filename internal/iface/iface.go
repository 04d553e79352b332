// Package iface implements the Interface model of SPEC_FULL.md component 2:
// a logical NIC, optionally bonding several physical ports, that owns
// queue assignment, addresses, and per-NUMA ACL context ownership (§3, §4.1,
// §4.9).
package iface

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	"github.com/H3xHunter/gatekeeper/internal/queuealloc"
	"github.com/H3xHunter/gatekeeper/internal/rss"
)

// BondMode mirrors spec.md's `none | active-backup | 802.3ad | ...`.
type BondMode int

const (
	BondNone BondMode = iota
	BondActiveBackup
	Bond8023ad
)

// Protocol is a bitmask of the address families an interface carries.
type Protocol uint8

const (
	ProtoV4 Protocol = 1 << iota
	ProtoV6
)

// State is the interface lifecycle of §4.1: declared -> initialized ->
// running -> stopped.
type State int

const (
	StateDeclared State = iota
	StateInitialized
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDeclared:
		return "declared"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	ErrNoProtocol    = errors.New("iface: at least one of v4/v6 must be configured")
	ErrNoPorts       = errors.New("iface: at least one underlying port is required")
	ErrBadPrefixV4   = errors.New("iface: v4 prefix length must be in [0,32]")
	ErrBadPrefixV6   = errors.New("iface: v6 prefix length must be in [0,128]")
	ErrWrongState    = errors.New("iface: operation invalid in current lifecycle state")
)

// Config is the construction-time description of one Gatekeeper interface.
type Config struct {
	Name string

	// PortNames are the underlying physical NIC names (netlink link names).
	// If len(PortNames) > 1, or BondMode is Bond8023ad, a bonded pseudo-port
	// is created and used for all further configuration.
	PortNames []string
	BondMode  BondMode

	RequestedRXQueues uint32
	RequestedTXQueues uint32

	Protocols Protocol

	V4Addr     net.IP
	V4PrefixLen int

	V6Addr      net.IP
	V6PrefixLen int

	NUMANodes []int

	CacheTimeout time.Duration
}

// Interface is one logical Gatekeeper NIC.
type Interface struct {
	cfg Config

	mu    sync.Mutex
	state State

	// id is the port that further configuration (queues, addresses) is
	// applied to: the bond's master link if bonded, otherwise the sole
	// underlying port.
	id       string
	slaveIDs []string

	mac net.HardwareAddr

	v4Addr      net.IP
	v4Mask      net.IPMask
	v4PrefixLen int

	v6GlobalAddr       net.IP
	v6Mask             net.IPMask
	v6PrefixLen        int
	v6LinkLocal        net.IP
	v6SNGlobal         net.IP
	v6SNLinkLocal      net.IP
	v6MCastMACGlobal   net.HardwareAddr
	v6MCastMACLinkLoc  net.HardwareAddr

	rxAlloc *queuealloc.Allocator
	txAlloc *queuealloc.Allocator

	retaSize  int
	retaTable []uint16
	rssKey    rss.Key
}

// New validates cfg and returns a declared (not yet initialized) Interface.
func New(cfg Config) (*Interface, error) {
	if cfg.Protocols&(ProtoV4|ProtoV6) == 0 {
		return nil, ErrNoProtocol
	}
	if len(cfg.PortNames) == 0 {
		return nil, ErrNoPorts
	}
	if cfg.Protocols&ProtoV4 != 0 && (cfg.V4PrefixLen < 0 || cfg.V4PrefixLen > 32) {
		return nil, ErrBadPrefixV4
	}
	if cfg.Protocols&ProtoV6 != 0 && (cfg.V6PrefixLen < 0 || cfg.V6PrefixLen > 128) {
		return nil, ErrBadPrefixV6
	}

	ifc := &Interface{cfg: cfg, state: StateDeclared, retaSize: defaultRETASize}

	var err error
	ifc.rxAlloc, err = queuealloc.New(cfg.RequestedRXQueues, (*rxMaterializer)(ifc))
	if err != nil {
		return nil, fmt.Errorf("iface: rx queue allocator: %w", err)
	}
	ifc.txAlloc, err = queuealloc.New(cfg.RequestedTXQueues, (*txMaterializer)(ifc))
	if err != nil {
		return nil, fmt.Errorf("iface: tx queue allocator: %w", err)
	}

	return ifc, nil
}

// rxMaterializer/txMaterializer adapt Interface to queuealloc.Materializer
// for each direction, so a single Interface type can back both allocators.
type rxMaterializer Interface
type txMaterializer Interface

func (i *rxMaterializer) MaterializeQueue(dir queuealloc.Direction, lcore int, index uint32) error {
	return (*Interface)(i).materializeQueue(queuealloc.RX, lcore, index)
}

func (i *txMaterializer) MaterializeQueue(dir queuealloc.Direction, lcore int, index uint32) error {
	return (*Interface)(i).materializeQueue(queuealloc.TX, lcore, index)
}

// materializeQueue records a queue assignment against every underlying
// port, including bond slaves and the bond itself. Real NIC queue-count
// programming (the DPDK rte_eth_rx_queue_setup equivalent) requires a
// driver-specific ioctl (ethtool -L) outside this module's dependency
// set; this core only needs the assignment to be idempotent and
// materialized against the interface's full port set, which it records
// here for the queue allocator's bookkeeping and for logging.
func (ifc *Interface) materializeQueue(dir queuealloc.Direction, lcore int, index uint32) error {
	ports := append([]string{ifc.id}, ifc.slaveIDs...)
	logrus.WithFields(logrus.Fields{
		"iface": ifc.cfg.Name,
		"dir":   dir,
		"lcore": lcore,
		"index": index,
		"ports": ports,
	}).Debug("materialized queue assignment")
	return nil
}

// RXQueue assigns (or returns the cached) RX queue index for lcore.
func (ifc *Interface) RXQueue(lcore int) (uint32, error) {
	return ifc.rxAlloc.Assign(queuealloc.RX, lcore)
}

// TXQueue assigns (or returns the cached) TX queue index for lcore.
func (ifc *Interface) TXQueue(lcore int) (uint32, error) {
	return ifc.txAlloc.Assign(queuealloc.TX, lcore)
}

// defaultRETASize matches the indirection-table size common to NICs in
// the retrieved corpus's target deployment (ixgbe/i40e-class adapters);
// a real driver binding would read this from the device instead.
const defaultRETASize = 128

// RETASize implements rss.Device: the size of this interface's
// redirection table.
func (ifc *Interface) RETASize() int {
	return ifc.retaSize
}

// SetRETA implements rss.Device: records the redirection table rss.
// Configure computed for this interface. Real hardware programming (the
// per-driver RETA-write ioctl) is outside this module's dependency set,
// matching materializeQueue's precedent of recording queue assignments
// rather than issuing a real device ioctl; the table is kept so
// diagnostics and tests can read it back through RETA.
func (ifc *Interface) SetRETA(table []uint16) error {
	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	ifc.retaTable = append([]uint16(nil), table...)
	return nil
}

// RETA returns the currently programmed redirection table, for
// diagnostics and tests.
func (ifc *Interface) RETA() []uint16 {
	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	return append([]uint16(nil), ifc.retaTable...)
}

// RSSKey returns the interface's randomized RSS key in NIC byte order,
// generated during Stage1Init (original_source/lib/net.c).
func (ifc *Interface) RSSKey() []byte { return ifc.rssKey.Native() }

// RSSKeyBE returns the byte-swapped copy used for software hash
// emulation.
func (ifc *Interface) RSSKeyBE() []byte { return ifc.rssKey.BigEndian() }

// Stage1Init identifies underlying ports, creates the bond if needed (but
// does not start it), and derives addresses. The CPI shim for this
// interface must be created after Stage1Init returns but before Stage2Start
// runs (SPEC_FULL.md §4.4 / spec.md DESIGN NOTES "CPI creation order").
func (ifc *Interface) Stage1Init() error {
	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	if ifc.state != StateDeclared {
		return fmt.Errorf("%w: Stage1Init requires StateDeclared, got %v", ErrWrongState, ifc.state)
	}

	links := make([]netlink.Link, 0, len(ifc.cfg.PortNames))
	for _, name := range ifc.cfg.PortNames {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return fmt.Errorf("iface: lookup port %q: %w", name, err)
		}
		links = append(links, link)
	}

	if len(links) > 1 || ifc.cfg.BondMode == Bond8023ad {
		bondName := ifc.cfg.Name + "-bond0"
		bond := netlink.NewLinkBond(netlink.NewLinkAttrs())
		bond.Name = bondName
		bond.Mode = bondModeToNetlink(ifc.cfg.BondMode)

		if err := netlink.LinkAdd(bond); err != nil {
			return fmt.Errorf("iface: create bond %q: %w", bondName, err)
		}

		for _, link := range links {
			if err := netlink.LinkSetBondSlave(link, bond); err != nil {
				return fmt.Errorf("iface: add slave %q to bond %q: %w", link.Attrs().Name, bondName, err)
			}
			ifc.slaveIDs = append(ifc.slaveIDs, link.Attrs().Name)
		}

		ifc.id = bondName
		ifc.mac = bond.Attrs().HardwareAddr
	} else {
		ifc.id = links[0].Attrs().Name
		ifc.mac = links[0].Attrs().HardwareAddr
	}

	if err := ifc.deriveAddresses(); err != nil {
		return err
	}

	key, err := rss.GenerateKey()
	if err != nil {
		return fmt.Errorf("iface: generate rss key: %w", err)
	}
	ifc.rssKey = key

	ifc.state = StateInitialized
	return nil
}

func bondModeToNetlink(m BondMode) netlink.BondMode {
	switch m {
	case Bond8023ad:
		return netlink.BOND_MODE_802_3AD
	case BondActiveBackup:
		return netlink.BOND_MODE_ACTIVE_BACKUP
	default:
		return netlink.BOND_MODE_802_3AD
	}
}

func (ifc *Interface) deriveAddresses() error {
	if ifc.cfg.Protocols&ProtoV4 != 0 {
		ifc.v4Addr = ifc.cfg.V4Addr.To4()
		ifc.v4PrefixLen = ifc.cfg.V4PrefixLen
		ifc.v4Mask = net.CIDRMask(ifc.v4PrefixLen, 32)
	}

	if ifc.cfg.Protocols&ProtoV6 != 0 {
		ifc.v6GlobalAddr = ifc.cfg.V6Addr.To16()
		ifc.v6PrefixLen = ifc.cfg.V6PrefixLen
		ifc.v6Mask = net.CIDRMask(ifc.v6PrefixLen, 128)

		if len(ifc.mac) != 6 {
			return fmt.Errorf("iface: cannot derive v6 addresses without a 6-byte MAC")
		}
		ifc.v6LinkLocal = LinkLocalFromMAC(ifc.mac)
		ifc.v6SNGlobal = SolicitedNodeMulticast(ifc.v6GlobalAddr)
		ifc.v6SNLinkLocal = SolicitedNodeMulticast(ifc.v6LinkLocal)
		ifc.v6MCastMACGlobal = MulticastMACFromIPv6(ifc.v6SNGlobal)
		ifc.v6MCastMACLinkLoc = MulticastMACFromIPv6(ifc.v6SNLinkLocal)
	}

	return nil
}

// Stage2Start brings the underlying ports and the bond up, waiting for
// link-up with the bounded retry of §4.9.
func (ifc *Interface) Stage2Start(onWaitAttempt func(attempt int)) error {
	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	if ifc.state != StateInitialized {
		return fmt.Errorf("%w: Stage2Start requires StateInitialized, got %v", ErrWrongState, ifc.state)
	}

	for _, slaveName := range ifc.slaveIDs {
		link, err := netlink.LinkByName(slaveName)
		if err != nil {
			return fmt.Errorf("iface: lookup slave %q: %w", slaveName, err)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("iface: start slave %q: %w", slaveName, err)
		}
	}

	link, err := netlink.LinkByName(ifc.id)
	if err != nil {
		return fmt.Errorf("iface: lookup %q: %w", ifc.id, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("iface: start %q: %w", ifc.id, err)
	}

	if len(ifc.slaveIDs) > 0 {
		if err := WaitLinkUp(&linkChecker{name: ifc.id}, onWaitAttempt); err != nil {
			return err
		}
	}

	ifc.state = StateRunning
	return nil
}

// Stop brings the interface down.
func (ifc *Interface) Stop() error {
	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	if ifc.state != StateRunning {
		return fmt.Errorf("%w: Stop requires StateRunning, got %v", ErrWrongState, ifc.state)
	}

	link, err := netlink.LinkByName(ifc.id)
	if err != nil {
		return fmt.Errorf("iface: lookup %q: %w", ifc.id, err)
	}
	if err := netlink.LinkSetDown(link); err != nil {
		return fmt.Errorf("iface: stop %q: %w", ifc.id, err)
	}

	ifc.state = StateStopped
	return nil
}

type linkChecker struct {
	name string
}

func (c *linkChecker) LinkUp() (bool, error) {
	link, err := netlink.LinkByName(c.name)
	if err != nil {
		return false, err
	}
	return link.Attrs().OperState == netlink.OperUp, nil
}

// --- accessors ---

func (ifc *Interface) Name() string             { return ifc.cfg.Name }
func (ifc *Interface) State() State              { return ifc.state }
func (ifc *Interface) ID() string                { return ifc.id }
func (ifc *Interface) MAC() net.HardwareAddr     { return ifc.mac }
func (ifc *Interface) Protocols() Protocol       { return ifc.cfg.Protocols }
func (ifc *Interface) CacheTimeout() time.Duration { return ifc.cfg.CacheTimeout }

func (ifc *Interface) V4Addr() net.IP { return ifc.v4Addr }
func (ifc *Interface) V4PrefixLen() int { return ifc.v4PrefixLen }

func (ifc *Interface) V6GlobalAddr() net.IP      { return ifc.v6GlobalAddr }
func (ifc *Interface) V6LinkLocal() net.IP       { return ifc.v6LinkLocal }
func (ifc *Interface) V6SolicitedNodeGlobal() net.IP { return ifc.v6SNGlobal }
func (ifc *Interface) V6SolicitedNodeLinkLocal() net.IP { return ifc.v6SNLinkLocal }
func (ifc *Interface) V6MulticastMACGlobal() net.HardwareAddr { return ifc.v6MCastMACGlobal }
func (ifc *Interface) V6MulticastMACLinkLocal() net.HardwareAddr { return ifc.v6MCastMACLinkLoc }

// OwnsV6Address reports whether addr is one of this interface's own
// addresses (global or link-local), used by the CPS worker to recognize
// ND traffic sourced from this interface (§4.6 step 3).
func (ifc *Interface) OwnsV6Address(addr net.IP) bool {
	return addr.Equal(ifc.v6GlobalAddr) || addr.Equal(ifc.v6LinkLocal)
}
