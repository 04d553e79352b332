package iface

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkLocalFromMACRFC4291(t *testing.T) {
	mac := net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02}
	ll := LinkLocalFromMAC(mac)

	want := net.ParseIP("fe80::0042:acff:fe11:0002")
	assert.True(t, ll.Equal(want), "got %s want %s", ll, want)
}

func TestSolicitedNodeMulticast(t *testing.T) {
	a := net.ParseIP("2001:db8::abcd:1234")
	sn := SolicitedNodeMulticast(a)

	want := net.ParseIP("ff02::1:ffcd:1234")
	assert.True(t, sn.Equal(want), "got %s want %s", sn, want)
}

func TestMulticastMACFromIPv6(t *testing.T) {
	sn := net.ParseIP("ff02::1:ffcd:1234")
	mac := MulticastMACFromIPv6(sn)

	want := net.HardwareAddr{0x33, 0x33, 0xff, 0xcd, 0x12, 0x34}
	assert.Equal(t, want, mac)
}
