package iface

import "net"

// LinkLocalFromMAC derives the RFC 4291 EUI-64 link-local address fe80::/64
// + EUI-64(mac), with the universal/local bit flipped (testable property 5).
func LinkLocalFromMAC(mac net.HardwareAddr) net.IP {
	eui := eui64FromMAC(mac)

	ip := make(net.IP, net.IPv6len)
	ip[0] = 0xfe
	ip[1] = 0x80
	copy(ip[8:], eui[:])
	return ip
}

// eui64FromMAC expands a 48-bit MAC into a 64-bit interface identifier by
// inserting 0xFFFE in the middle and flipping the universal/local bit of
// the first byte.
func eui64FromMAC(mac net.HardwareAddr) [8]byte {
	var eui [8]byte
	eui[0] = mac[0] ^ 0x02
	eui[1] = mac[1]
	eui[2] = mac[2]
	eui[3] = 0xff
	eui[4] = 0xfe
	eui[5] = mac[3]
	eui[6] = mac[4]
	eui[7] = mac[5]
	return eui
}

// SolicitedNodeMulticast derives ff02::1:ffXX:XXXX from any unicast address
// a, taking the low 24 bits of a (testable property 6).
func SolicitedNodeMulticast(a net.IP) net.IP {
	a16 := a.To16()
	ip := make(net.IP, net.IPv6len)
	ip[0] = 0xff
	ip[1] = 0x02
	ip[11] = 0x01
	ip[12] = 0xff
	ip[13] = a16[13]
	ip[14] = a16[14]
	ip[15] = a16[15]
	return ip
}

// MulticastMACFromIPv6 derives the 33:33:xx:xx:xx:xx Ethernet multicast MAC
// from the last 32 bits of an IPv6 multicast address (testable property 6).
func MulticastMACFromIPv6(a net.IP) net.HardwareAddr {
	a16 := a.To16()
	mac := make(net.HardwareAddr, 6)
	mac[0] = 0x33
	mac[1] = 0x33
	copy(mac[2:], a16[12:16])
	return mac
}
