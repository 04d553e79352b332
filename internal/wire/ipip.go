// ipip.go implements the IP-in-IP encapsulator/decapsulator of spec.md
// §4.8 (SPEC_FULL.md component 7). The codec is agnostic to the inner
// packet's IP version: it only cares that the buffer's current bytes
// begin with an Ethernet header, and rewrites that header in place while
// inserting the outer IP header immediately after it — so the previously
// inner payload (whatever follows the old Ethernet header) ends up
// exactly where it needs to be without any additional copying.
package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/H3xHunter/gatekeeper/internal/pktbuf"
)

// Flow is the outer (src, dst) pair used to route an encapsulated packet
// to its Grantor.
type Flow struct {
	Src, Dst net.IP
}

// TunnelInfo is spec.md §3's "Ipv4/Ipv6 tunnel descriptor": the outer flow
// plus the MACs needed to reach the next hop. Decapsulate fills it in;
// Encapsulate consumes it.
type TunnelInfo struct {
	Flow       Flow
	SourceMAC  net.HardwareAddr
	NexthopMAC net.HardwareAddr
}

const (
	ipv4HeaderSize  = 20
	ipv4FlagsDF     = 0x4000
	ipv4DefaultTTL  = 64
	ipv6DefaultHop  = 255
	minPriorityCopy = 2 // §4.8: "when priority >= 2, copy ... into info"
)

// EncapsulateV4 prepends a v4 outer header per spec.md §4.8/§6: VHL=0x45,
// TOS=priority<<2, ID=0, DF set, TTL=64, proto=IPIP(4), checksum
// offloaded (left zero, flagged).
func EncapsulateV4(pkt *pktbuf.Buffer, priority uint8, info TunnelInfo) error {
	if pkt.Len() < EthernetMinimumSize {
		return fmt.Errorf("wire: encapsulate: packet shorter than an ethernet header")
	}
	src4, dst4 := info.Flow.Src.To4(), info.Flow.Dst.To4()
	if src4 == nil || dst4 == nil {
		return fmt.Errorf("wire: encapsulatev4 requires ipv4 flow addresses")
	}

	if _, err := pkt.Prepend(ipv4HeaderSize); err != nil {
		return fmt.Errorf("wire: encapsulatev4: %w", err)
	}
	full := pkt.Bytes()

	EncodeEthernet(full, info.SourceMAC, info.NexthopMAC, EtherTypeIPv4)

	outer := full[EthernetMinimumSize : EthernetMinimumSize+ipv4HeaderSize]
	outer[0] = 0x45
	outer[1] = priority << 2
	binary.BigEndian.PutUint16(outer[2:4], uint16(len(full)-EthernetMinimumSize))
	binary.BigEndian.PutUint16(outer[4:6], 0) // id
	binary.BigEndian.PutUint16(outer[6:8], ipv4FlagsDF)
	outer[8] = ipv4DefaultTTL
	outer[9] = IPIPProtocol
	binary.BigEndian.PutUint16(outer[10:12], 0) // checksum offloaded
	copy(outer[12:16], src4)
	copy(outer[16:20], dst4)

	pkt.OuterL2Len = EthernetMinimumSize
	pkt.OuterL3Len = ipv4HeaderSize
	pkt.Offload |= pktbuf.OffloadIPv4Csum | pktbuf.OffloadOuterIPv4
	return nil
}

// EncapsulateV6 prepends a v6 outer header per spec.md §4.8/§6:
// vtc_flow=0x60000000|(priority<<22), hop-limit 255, next-header IPIP(4).
func EncapsulateV6(pkt *pktbuf.Buffer, priority uint8, info TunnelInfo) error {
	if pkt.Len() < EthernetMinimumSize {
		return fmt.Errorf("wire: encapsulate: packet shorter than an ethernet header")
	}
	src6, dst6 := info.Flow.Src.To16(), info.Flow.Dst.To16()
	if src6 == nil || dst6 == nil {
		return fmt.Errorf("wire: encapsulatev6 requires ipv6 flow addresses")
	}

	if _, err := pkt.Prepend(IPv6HeaderSize); err != nil {
		return fmt.Errorf("wire: encapsulatev6: %w", err)
	}
	full := pkt.Bytes()

	EncodeEthernet(full, info.SourceMAC, info.NexthopMAC, EtherTypeIPv6)

	payloadLen := uint16(len(full) - EthernetMinimumSize - IPv6HeaderSize)
	outer := full[EthernetMinimumSize : EthernetMinimumSize+IPv6HeaderSize]
	if err := EncodeIPv6(outer, priority<<2, 0, payloadLen, IPIPProtocol, ipv6DefaultHop, src6, dst6); err != nil {
		return err
	}

	pkt.OuterL2Len = EthernetMinimumSize
	pkt.OuterL3Len = IPv6HeaderSize
	pkt.Offload |= pktbuf.OffloadOuterIPv6
	return nil
}

// Decapsulate reads the outer ethertype, parses the matching outer header,
// extracts the DSCP-derived priority, requires the outer protocol/next-
// header to be IPIP, and — when priority >= minPriorityCopy — fills in
// info with the MACs and flow that carry back to the sender. It then
// strips the outer Ethernet+IP by advancing the buffer's data pointer.
func Decapsulate(pkt *pktbuf.Buffer) (priority uint8, info TunnelInfo, err error) {
	full := pkt.Bytes()
	srcMAC, dstMAC, etherType, ok := DecodeEthernet(full)
	if !ok {
		return 0, TunnelInfo{}, fmt.Errorf("wire: decapsulate: packet too short for ethernet header")
	}

	switch etherType {
	case EtherTypeIPv4:
		if len(full) < EthernetMinimumSize+ipv4HeaderSize {
			return 0, TunnelInfo{}, fmt.Errorf("wire: decapsulate: packet too short for ipv4 header")
		}
		outer := full[EthernetMinimumSize : EthernetMinimumSize+ipv4HeaderSize]
		tos := outer[1]
		proto := outer[9]
		if proto != IPIPProtocol {
			return 0, TunnelInfo{}, fmt.Errorf("wire: decapsulate: unexpected ipv4 proto %d, want IPIP", proto)
		}
		priority = tos >> 2
		if priority >= minPriorityCopy {
			info = TunnelInfo{
				Flow:       Flow{Src: net.IP(append([]byte(nil), outer[12:16]...)), Dst: net.IP(append([]byte(nil), outer[16:20]...))},
				SourceMAC:  srcMAC,
				NexthopMAC: dstMAC,
			}
		}
		return priority, info, pkt.Advance(EthernetMinimumSize + ipv4HeaderSize)

	case EtherTypeIPv6:
		parsed, perr := DecodeIPv6(full[EthernetMinimumSize:])
		if perr != nil {
			return 0, TunnelInfo{}, fmt.Errorf("wire: decapsulate: %w", perr)
		}
		if parsed.Next != IPIPProtocol {
			return 0, TunnelInfo{}, fmt.Errorf("wire: decapsulate: unexpected ipv6 next-header %d, want IPIP", parsed.Next)
		}
		priority = parsed.TrafficClass >> 2
		if priority >= minPriorityCopy {
			info = TunnelInfo{
				Flow:       Flow{Src: parsed.Src, Dst: parsed.Dst},
				SourceMAC:  srcMAC,
				NexthopMAC: dstMAC,
			}
		}
		return priority, info, pkt.Advance(EthernetMinimumSize + IPv6HeaderSize)

	default:
		return 0, TunnelInfo{}, fmt.Errorf("wire: decapsulate: unexpected outer ethertype 0x%04x", uint32(etherType))
	}
}
