// Package wire builds and parses the bit-exact wire formats of
// SPEC_FULL.md §6 and component 7 (spec.md §4.8): ARP replies, ICMPv6
// Neighbor Advertisements, and the IP-in-IP codec. Ethernet framing is
// built with gvisor's header package exactly as the teacher's link
// endpoint does it (header.Ethernet.Encode); the remaining headers are
// hand-marshaled with encoding/binary in the same manual-layout style the
// teacher uses for its virtio-net header (see cblink/endpoint.go
// virtioNetHdrV1.marshal), because this module has no verified dependency
// that serializes ARP/NDP options while guaranteeing the byte-exact
// layout spec.md's testable properties require.
package wire

import (
	"net"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// EtherType values used throughout this package.
const (
	EtherTypeARP  tcpip.NetworkProtocolNumber = 0x0806
	EtherTypeIPv4 tcpip.NetworkProtocolNumber = 0x0800
	EtherTypeIPv6 tcpip.NetworkProtocolNumber = 0x86DD
)

// EthernetMinimumSize re-exports the teacher's constant so callers don't
// need to import gvisor's header package directly just for sizing.
const EthernetMinimumSize = header.EthernetMinimumSize

func linkAddress(mac net.HardwareAddr) tcpip.LinkAddress {
	return tcpip.LinkAddress(mac)
}

// EncodeEthernet writes an Ethernet header into buf[:EthernetMinimumSize]
// (buf must be at least that long) with the given src/dst MACs and
// ethertype, the same way cblink.CallbackEndpoint.AddHeader does via
// header.Ethernet.Encode.
func EncodeEthernet(buf []byte, src, dst net.HardwareAddr, etherType tcpip.NetworkProtocolNumber) {
	eth := header.Ethernet(buf[:header.EthernetMinimumSize])
	eth.Encode(&header.EthernetFields{
		SrcAddr: linkAddress(src),
		DstAddr: linkAddress(dst),
		Type:    etherType,
	})
}

// DecodeEthernet reads the type/src/dst out of an Ethernet header.
func DecodeEthernet(buf []byte) (src, dst net.HardwareAddr, etherType tcpip.NetworkProtocolNumber, ok bool) {
	if len(buf) < header.EthernetMinimumSize {
		return nil, nil, 0, false
	}
	eth := header.Ethernet(buf[:header.EthernetMinimumSize])
	return net.HardwareAddr(eth.SourceAddress()), net.HardwareAddr(eth.DestinationAddress()), eth.Type(), true
}
