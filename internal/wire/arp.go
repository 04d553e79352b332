package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ARPSize is the length of an Ethernet/IPv4 ARP packet body (no Ethernet
// header).
const ARPSize = 28

const (
	arpHardwareEthernet = 1
	arpProtocolIPv4      = 0x0800
	ARPOpRequest         = 1
	ARPOpReply           = 2
)

// ARPReplyFrame is the bit-exact frame of spec.md §6: Ethernet(dst=ifaceMAC,
// src=resolvedMAC, type=0x0806) . ARP(hrd=1, pro=0x0800, hln=6, pln=4,
// op=2, sha=resolvedMAC, sip=targetIPv4, tha=ifaceMAC, tip=ifaceIPv4).
func ARPReplyFrame(ifaceMAC, resolvedMAC net.HardwareAddr, targetIPv4, ifaceIPv4 net.IP) ([]byte, error) {
	if len(ifaceMAC) != 6 || len(resolvedMAC) != 6 {
		return nil, fmt.Errorf("wire: arp reply requires 6-byte MACs")
	}
	ip4Target := targetIPv4.To4()
	ip4Iface := ifaceIPv4.To4()
	if ip4Target == nil || ip4Iface == nil {
		return nil, fmt.Errorf("wire: arp reply requires IPv4 addresses")
	}

	frame := make([]byte, EthernetMinimumSize+ARPSize)
	EncodeEthernet(frame, resolvedMAC, ifaceMAC, EtherTypeARP)

	a := frame[EthernetMinimumSize:]
	binary.BigEndian.PutUint16(a[0:2], arpHardwareEthernet)
	binary.BigEndian.PutUint16(a[2:4], arpProtocolIPv4)
	a[4] = 6 // hln
	a[5] = 4 // pln
	binary.BigEndian.PutUint16(a[6:8], ARPOpReply)
	copy(a[8:14], resolvedMAC)
	copy(a[14:18], ip4Target)
	copy(a[18:24], ifaceMAC)
	copy(a[24:28], ip4Iface)

	return frame, nil
}

// ParsedARP is a decoded ARP packet body.
type ParsedARP struct {
	Op                                   uint16
	SenderMAC, TargetMAC                 net.HardwareAddr
	SenderIP, TargetIP                   net.IP
}

// DecodeARP parses the 28-byte ARP body following an Ethernet header.
func DecodeARP(body []byte) (ParsedARP, error) {
	if len(body) < ARPSize {
		return ParsedARP{}, fmt.Errorf("wire: arp body too short: %d", len(body))
	}
	return ParsedARP{
		Op:        binary.BigEndian.Uint16(body[6:8]),
		SenderMAC: net.HardwareAddr(append([]byte(nil), body[8:14]...)),
		SenderIP:  net.IP(append([]byte(nil), body[14:18]...)),
		TargetMAC: net.HardwareAddr(append([]byte(nil), body[18:24]...)),
		TargetIP:  net.IP(append([]byte(nil), body[24:28]...)),
	}, nil
}
