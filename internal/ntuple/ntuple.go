// Package ntuple programs the n-tuple/ethertype BGP steering filters of
// SPEC_FULL.md component 6 (spec.md §4.3): packets carrying the
// configured BGP TCP port are steered to the control-plane queue instead
// of the normal ACL classification path, using the same vishvananda/
// netlink primitives internal/iface uses for link and bond management.
package ntuple

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"
)

// Direction is which side of a connection the filter matches: BGP
// sessions are steered on both source and destination port, since either
// side of the TCP handshake can originate.
type Direction int

const (
	MatchDstPort Direction = iota
	MatchSrcPort
)

// Filter describes one steering rule: TCP segments to/from bgpPort,
// optionally scoped to a specific peer address, get redirected to
// cpsQueue instead of falling through to ACL classification.
type Filter struct {
	BGPPort  uint16
	PeerAddr net.IP // nil matches any peer
	Dir      Direction
	CPSQueue uint32
}

// Steering owns the set of tc filters installed on one interface's
// ingress qdisc for control-plane steering.
type Steering struct {
	linkName string
	handles  []uint32
}

const ingressParent = netlink.HANDLE_MIN_INGRESS

// New prepares a Steering for linkName. The caller must have already
// ensured an ingress qdisc exists (EnsureIngressQdisc does this).
func New(linkName string) *Steering {
	return &Steering{linkName: linkName}
}

// EnsureIngressQdisc attaches a clsact/ingress qdisc to the link if one
// is not already present, mirroring the bond/link setup sequence
// internal/iface uses before attaching further netlink objects.
func EnsureIngressQdisc(linkName string) error {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("ntuple: link %s: %w", linkName, err)
	}

	qdisc := &netlink.GenericQdisc{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: link.Attrs().Index,
			Parent:    netlink.HANDLE_CLSACT,
		},
		QdiscType: "clsact",
	}
	if err := netlink.QdiscAdd(qdisc); err != nil && !errors.Is(err, syscall.EEXIST) {
		return fmt.Errorf("ntuple: add clsact qdisc on %s: %w", linkName, err)
	}
	return nil
}

// Install programs one BGP steering filter as a u32 match on TCP port,
// redirecting matching traffic to a tc classid tagged with the CPS
// queue number so the dataplane's RX path can recognize and dispatch it
// to the mailbox instead of the ACL pipeline.
func (s *Steering) Install(f Filter) error {
	link, err := netlink.LinkByName(s.linkName)
	if err != nil {
		return fmt.Errorf("ntuple: link %s: %w", s.linkName, err)
	}

	sel := netlink.TcU32Sel{
		Nkeys: 1,
		Flags: netlink.TC_U32_TERMINAL,
		Keys: []netlink.TcU32Key{
			portMatchKey(f),
		},
	}

	filter := &netlink.U32{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: link.Attrs().Index,
			Parent:    ingressParent,
			Priority:  1,
			Protocol:  unixETHP_IP,
		},
		Sel:       &sel,
		ClassId:   classIDFor(f.CPSQueue),
		Actions:   nil,
		Terminal:  1,
	}

	if err := netlink.FilterAdd(filter); err != nil {
		return fmt.Errorf("ntuple: install filter on %s: %w", s.linkName, err)
	}
	s.handles = append(s.handles, filter.Handle)
	return nil
}

// classIDFor encodes the target CPS queue into a tc classid of the form
// 1:<queue+1>, avoiding the reserved 1:0 classid.
func classIDFor(queue uint32) uint32 {
	return netlink.MakeHandle(1, uint16(queue+1))
}

// portMatchKey builds the u32 selector key matching a TCP port at the
// fixed offset used when there are no IP options (basic IPv4/TCP), which
// is the common case BGP sessions run over.
func portMatchKey(f Filter) netlink.TcU32Key {
	const tcpHeaderOffset = 20 // after a 20-byte IPv4 header with no options
	var off int32 = tcpHeaderOffset
	var mask uint32 = 0x0000ffff
	var val uint32

	// The 32-bit word at the TCP header holds srcPort<<16 | dstPort.
	if f.Dir == MatchDstPort {
		val = uint32(f.BGPPort)
		mask = 0x0000ffff
		off = tcpHeaderOffset
	} else {
		val = uint32(f.BGPPort) << 16 & 0xffff0000
		mask = 0xffff0000
		off = tcpHeaderOffset
	}

	return netlink.TcU32Key{
		Mask:    mask,
		Val:     val,
		Off:     off,
		OffMask: 0,
	}
}

const unixETHP_IP = 0x0800

// Clear removes every filter this Steering has installed.
func (s *Steering) Clear() error {
	link, err := netlink.LinkByName(s.linkName)
	if err != nil {
		return fmt.Errorf("ntuple: link %s: %w", s.linkName, err)
	}
	for _, h := range s.handles {
		filter := &netlink.U32{
			FilterAttrs: netlink.FilterAttrs{
				LinkIndex: link.Attrs().Index,
				Parent:    ingressParent,
				Handle:    h,
				Priority:  1,
				Protocol:  unixETHP_IP,
			},
		}
		if err := netlink.FilterDel(filter); err != nil {
			return fmt.Errorf("ntuple: remove filter %d on %s: %w", h, s.linkName, err)
		}
	}
	s.handles = nil
	return nil
}
