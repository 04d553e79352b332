package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ICMPv6 Neighbor Advertisement layout (RFC 4861 §4.4):
//
//	type(1) code(1) checksum(2) flags(4) target(16) [options...]
//
// followed here by exactly one Target Link-Layer Address option:
//
//	type(1)=2 length(1)=1 (in units of 8 bytes) linkLayerAddr(6)
const (
	icmpv6TypeNeighborSolicit = 135
	icmpv6TypeNeighborAdvert  = 136
	icmpv6CodeZero            = 0

	ndpFlagOverride  = 1 << 5
	ndpFlagSolicited = 1 << 6

	ndpOptTargetLinkLayerAddr = 2
	ndpOptTLLALenUnits        = 1 // 8 bytes

	naHeaderSize  = 24 // type+code+checksum+flags+target
	tllaOptSize   = 8
	naMessageSize = naHeaderSize + tllaOptSize // 32, matches spec's payload-len
)

// NDAdvertFrame builds the bit-exact frame of spec.md §6: Ethernet(dst=
// ifaceMAC, src=resolvedMAC, type=0x86DD) . IPv6(src=targetV6, dst=
// ifaceLinkLocal, next=58, hop=255) . ICMPv6(type=136 NA) with the
// Override|Solicited flags and a Target Link-Layer Address option
// carrying resolvedMAC.
func NDAdvertFrame(ifaceMAC, resolvedMAC net.HardwareAddr, targetV6, ifaceLinkLocal net.IP) ([]byte, error) {
	if len(ifaceMAC) != 6 || len(resolvedMAC) != 6 {
		return nil, fmt.Errorf("wire: nd advert requires 6-byte MACs")
	}
	src16, dst16 := targetV6.To16(), ifaceLinkLocal.To16()
	if src16 == nil || dst16 == nil {
		return nil, fmt.Errorf("wire: nd advert requires IPv6 addresses")
	}

	frame := make([]byte, EthernetMinimumSize+IPv6HeaderSize+naMessageSize)
	EncodeEthernet(frame, resolvedMAC, ifaceMAC, EtherTypeIPv6)

	ipv6Buf := frame[EthernetMinimumSize : EthernetMinimumSize+IPv6HeaderSize]
	if err := EncodeIPv6(ipv6Buf, 0, 0, naMessageSize, IPv6NextICMPv6, 255, src16, dst16); err != nil {
		return nil, err
	}

	msg := frame[EthernetMinimumSize+IPv6HeaderSize:]
	msg[0] = icmpv6TypeNeighborAdvert
	msg[1] = icmpv6CodeZero
	// msg[2:4] checksum filled below
	msg[4] = ndpFlagOverride | ndpFlagSolicited
	// msg[5:8] reserved, already zero
	copy(msg[8:24], src16) // target address = resolved/target IPv6

	opt := msg[naHeaderSize:]
	opt[0] = ndpOptTargetLinkLayerAddr
	opt[1] = ndpOptTLLALenUnits
	copy(opt[2:8], resolvedMAC)

	var src16a, dst16a [16]byte
	copy(src16a[:], src16)
	copy(dst16a[:], dst16)
	sum := pseudoHeaderSumV6(src16a, dst16a, uint32(len(msg)), IPv6NextICMPv6)
	cksum := checksum(msg, sum)
	binary.BigEndian.PutUint16(msg[2:4], cksum)

	return frame, nil
}

// ParsedNDAdvert is a decoded Neighbor Advertisement.
type ParsedNDAdvert struct {
	Flags   byte
	Target  net.IP
	TLLAMAC net.HardwareAddr
}

// DecodeNDAdvert parses an ICMPv6 Neighbor Advertisement message (the
// bytes following the IPv6 header).
func DecodeNDAdvert(msg []byte) (ParsedNDAdvert, error) {
	if len(msg) < naHeaderSize {
		return ParsedNDAdvert{}, fmt.Errorf("wire: nd advert too short: %d", len(msg))
	}
	if msg[0] != icmpv6TypeNeighborAdvert {
		return ParsedNDAdvert{}, fmt.Errorf("wire: not a neighbor advertisement: type=%d", msg[0])
	}

	p := ParsedNDAdvert{
		Flags:  msg[4],
		Target: net.IP(append([]byte(nil), msg[8:24]...)),
	}

	if len(msg) >= naHeaderSize+tllaOptSize {
		opt := msg[naHeaderSize:]
		if opt[0] == ndpOptTargetLinkLayerAddr {
			p.TLLAMAC = net.HardwareAddr(append([]byte(nil), opt[2:8]...))
		}
	}

	return p, nil
}

// ParsedNDSolicit is a decoded Neighbor Solicitation (the outbound message
// a kernel stack emits to resolve a peer's link-layer address).
type ParsedNDSolicit struct {
	Target net.IP
}

// nsHeaderSize is the fixed portion of an ICMPv6 Neighbor Solicitation
// (type+code+checksum+reserved+target), RFC 4861 §4.3.
const nsHeaderSize = 24

// DecodeNDSolicit parses an ICMPv6 Neighbor Solicitation message (the
// bytes following the IPv6 header), used by the CPS worker to recognize
// an outbound resolution request it must intercept rather than forward.
func DecodeNDSolicit(msg []byte) (ParsedNDSolicit, error) {
	if len(msg) < nsHeaderSize {
		return ParsedNDSolicit{}, fmt.Errorf("wire: nd solicit too short: %d", len(msg))
	}
	if msg[0] != icmpv6TypeNeighborSolicit {
		return ParsedNDSolicit{}, fmt.Errorf("wire: not a neighbor solicitation: type=%d", msg[0])
	}
	return ParsedNDSolicit{
		Target: net.IP(append([]byte(nil), msg[8:24]...)),
	}, nil
}
