package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IPv6HeaderSize is the fixed IPv6 header size (no extension headers).
const IPv6HeaderSize = 40

// IPv6Next values relevant to this module.
const (
	IPv6NextICMPv6 = 58
	IPIPProtocol   = 4 // IP-in-IP, RFC 2003
)

// EncodeIPv6 writes a 40-byte IPv6 header into buf[:40].
func EncodeIPv6(buf []byte, trafficClass uint8, flowLabel uint32, payloadLen uint16, next byte, hopLimit uint8, src, dst net.IP) error {
	if len(buf) < IPv6HeaderSize {
		return fmt.Errorf("wire: ipv6 buffer too short")
	}
	src16, dst16 := src.To16(), dst.To16()
	if src16 == nil || dst16 == nil {
		return fmt.Errorf("wire: ipv6 requires 16-byte addresses")
	}

	vtc := uint32(6)<<28 | uint32(trafficClass)<<20 | (flowLabel & 0xFFFFF)
	binary.BigEndian.PutUint32(buf[0:4], vtc)
	binary.BigEndian.PutUint16(buf[4:6], payloadLen)
	buf[6] = next
	buf[7] = hopLimit
	copy(buf[8:24], src16)
	copy(buf[24:40], dst16)
	return nil
}

// ParsedIPv6 is a decoded fixed IPv6 header.
type ParsedIPv6 struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	Next         byte
	HopLimit     uint8
	Src, Dst     net.IP
}

// DecodeIPv6 parses a 40-byte fixed IPv6 header.
func DecodeIPv6(buf []byte) (ParsedIPv6, error) {
	if len(buf) < IPv6HeaderSize {
		return ParsedIPv6{}, fmt.Errorf("wire: ipv6 header too short: %d", len(buf))
	}
	vtc := binary.BigEndian.Uint32(buf[0:4])
	return ParsedIPv6{
		TrafficClass: uint8((vtc >> 20) & 0xFF),
		FlowLabel:    vtc & 0xFFFFF,
		PayloadLen:   binary.BigEndian.Uint16(buf[4:6]),
		Next:         buf[6],
		HopLimit:     buf[7],
		Src:          net.IP(append([]byte(nil), buf[8:24]...)),
		Dst:          net.IP(append([]byte(nil), buf[24:40]...)),
	}, nil
}
