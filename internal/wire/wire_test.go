package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H3xHunter/gatekeeper/internal/pktbuf"
)

var (
	ifaceMAC    = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	resolvedMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
)

func TestARPReplyFrameLayout(t *testing.T) {
	target := net.ParseIP("10.0.0.1")
	self := net.ParseIP("10.0.0.254")

	frame, err := ARPReplyFrame(ifaceMAC, resolvedMAC, target, self)
	require.NoError(t, err)
	require.Len(t, frame, EthernetMinimumSize+ARPSize)

	src, dst, etherType, ok := DecodeEthernet(frame)
	require.True(t, ok)
	assert.Equal(t, resolvedMAC, src)
	assert.Equal(t, ifaceMAC, dst)
	assert.Equal(t, EtherTypeARP, etherType)

	parsed, err := DecodeARP(frame[EthernetMinimumSize:])
	require.NoError(t, err)
	assert.Equal(t, uint16(ARPOpReply), parsed.Op)
	assert.Equal(t, resolvedMAC, parsed.SenderMAC)
	assert.True(t, parsed.SenderIP.Equal(target))
	assert.Equal(t, ifaceMAC, parsed.TargetMAC)
	assert.True(t, parsed.TargetIP.Equal(self))
}

func TestNDAdvertFrameLayout(t *testing.T) {
	target := net.ParseIP("2001:db8::1")
	linkLocal := net.ParseIP("fe80::1")

	frame, err := NDAdvertFrame(ifaceMAC, resolvedMAC, target, linkLocal)
	require.NoError(t, err)

	_, _, etherType, ok := DecodeEthernet(frame)
	require.True(t, ok)
	assert.Equal(t, EtherTypeIPv6, etherType)

	ipv6, err := DecodeIPv6(frame[EthernetMinimumSize:])
	require.NoError(t, err)
	assert.Equal(t, byte(IPv6NextICMPv6), ipv6.Next)
	assert.Equal(t, uint8(255), ipv6.HopLimit)

	msg := frame[EthernetMinimumSize+IPv6HeaderSize:]
	na, err := DecodeNDAdvert(msg)
	require.NoError(t, err)
	assert.Equal(t, byte(0x60), na.Flags, "override|solicited flags")
	assert.True(t, na.Target.Equal(target))
	assert.Equal(t, resolvedMAC, na.TLLAMAC)
}

func TestIPIPRoundTripV4(t *testing.T) {
	pool := pktbuf.NewPool(0, 1, 64, 1500)
	pkt, err := pool.Alloc()
	require.NoError(t, err)

	inner, err := pkt.Append(EthernetMinimumSize + 32)
	require.NoError(t, err)
	for i := range inner {
		inner[i] = byte(i)
	}
	EncodeEthernet(inner, ifaceMAC, resolvedMAC, EtherTypeIPv4)
	innerCopy := append([]byte(nil), inner...)

	info := TunnelInfo{
		Flow:       Flow{Src: net.ParseIP("192.0.2.1"), Dst: net.ParseIP("192.0.2.2")},
		SourceMAC:  ifaceMAC,
		NexthopMAC: resolvedMAC,
	}

	const priority uint8 = 5
	require.NoError(t, EncapsulateV4(pkt, priority, info))

	gotPriority, gotInfo, err := Decapsulate(pkt)
	require.NoError(t, err)
	assert.Equal(t, priority, gotPriority)
	assert.True(t, gotInfo.Flow.Src.Equal(info.Flow.Src))
	assert.True(t, gotInfo.Flow.Dst.Equal(info.Flow.Dst))
	assert.Equal(t, innerCopy, pkt.Bytes())
}

func TestIPIPRoundTripV6(t *testing.T) {
	pool := pktbuf.NewPool(0, 1, 64, 1500)
	pkt, err := pool.Alloc()
	require.NoError(t, err)

	inner, err := pkt.Append(EthernetMinimumSize + 32)
	require.NoError(t, err)
	for i := range inner {
		inner[i] = byte(i)
	}
	EncodeEthernet(inner, ifaceMAC, resolvedMAC, EtherTypeIPv6)
	innerCopy := append([]byte(nil), inner...)

	info := TunnelInfo{
		Flow:       Flow{Src: net.ParseIP("2001:db8::1"), Dst: net.ParseIP("2001:db8::2")},
		SourceMAC:  ifaceMAC,
		NexthopMAC: resolvedMAC,
	}

	const priority uint8 = 10
	require.NoError(t, EncapsulateV6(pkt, priority, info))

	gotPriority, gotInfo, err := Decapsulate(pkt)
	require.NoError(t, err)
	assert.Equal(t, priority, gotPriority)
	assert.True(t, gotInfo.Flow.Src.Equal(info.Flow.Src))
	assert.True(t, gotInfo.Flow.Dst.Equal(info.Flow.Dst))
	assert.Equal(t, innerCopy, pkt.Bytes())
}

func TestIPIPDecapsulateLowPriorityOmitsInfo(t *testing.T) {
	pool := pktbuf.NewPool(0, 1, 64, 1500)
	pkt, err := pool.Alloc()
	require.NoError(t, err)
	_, err = pkt.Append(EthernetMinimumSize + 8)
	require.NoError(t, err)
	EncodeEthernet(pkt.Bytes(), ifaceMAC, resolvedMAC, EtherTypeIPv4)

	info := TunnelInfo{
		Flow:       Flow{Src: net.ParseIP("192.0.2.1"), Dst: net.ParseIP("192.0.2.2")},
		SourceMAC:  ifaceMAC,
		NexthopMAC: resolvedMAC,
	}
	require.NoError(t, EncapsulateV4(pkt, 1, info))

	_, gotInfo, err := Decapsulate(pkt)
	require.NoError(t, err)
	assert.Nil(t, gotInfo.Flow.Src)
}
