package cpsworker

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H3xHunter/gatekeeper/internal/mailbox"
	"github.com/H3xHunter/gatekeeper/internal/neigh"
	"github.com/H3xHunter/gatekeeper/internal/wire"
)

func testWorker(t *testing.T) *Worker {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(log.WithField("test", true), Network{Name: "front"}, Network{Name: "back"}, mailbox.New(8), neigh.New(), 16, time.Hour)
}

func arpRequestFrame(t *testing.T, target [4]byte) []byte {
	t.Helper()
	frame := make([]byte, wire.EthernetMinimumSize+wire.ARPSize)
	wire.EncodeEthernet(frame, []byte{0xaa, 0, 0, 0, 0, 1}, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, wire.EtherTypeARP)
	body := frame[wire.EthernetMinimumSize:]
	body[0], body[1] = 0, 1
	body[2], body[3] = 0x08, 0x00
	body[4], body[5] = 6, 4
	body[6], body[7] = 0, wire.ARPOpRequest
	copy(body[14:18], []byte{10, 0, 0, 1})
	copy(body[24:28], target[:])
	return frame
}

func ndSolicitFrame(t *testing.T, target [16]byte) []byte {
	t.Helper()
	frame := make([]byte, wire.EthernetMinimumSize+wire.IPv6HeaderSize+24)
	wire.EncodeEthernet(frame, []byte{0xaa, 0, 0, 0, 0, 1}, []byte{0x33, 0x33, 0, 0, 0, 1}, wire.EtherTypeIPv6)
	ipv6 := frame[wire.EthernetMinimumSize : wire.EthernetMinimumSize+wire.IPv6HeaderSize]
	src := make([]byte, 16)
	src[0] = 0xfe
	src[1] = 0x80
	src[15] = 1
	require.NoError(t, wire.EncodeIPv6(ipv6, 0, 0, 24, wire.IPv6NextICMPv6, 255, src, target[:]))
	msg := frame[wire.EthernetMinimumSize+wire.IPv6HeaderSize:]
	msg[0] = 135 // neighbor solicitation
	copy(msg[8:24], target[:])
	return frame
}

func TestInterceptNeighborRequestRecordsOutboundARPRequest(t *testing.T) {
	w := testWorker(t)
	var target [4]byte
	copy(target[:], []byte{192, 168, 1, 1})

	ok := w.interceptNeighborRequest(&w.front, arpRequestFrame(t, target))

	assert.True(t, ok)
	assert.True(t, w.tracker.HasARP(target))
}

func TestInterceptNeighborRequestRecordsOutboundNDSolicit(t *testing.T) {
	w := testWorker(t)
	var target [16]byte
	target[0] = 0x20
	target[15] = 0x42

	ok := w.interceptNeighborRequest(&w.front, ndSolicitFrame(t, target))

	assert.True(t, ok)
	assert.True(t, w.tracker.HasND(target))
}

func TestInterceptNeighborRequestIgnoresUnrelatedTraffic(t *testing.T) {
	w := testWorker(t)
	frame := make([]byte, wire.EthernetMinimumSize+wire.IPv6HeaderSize+8)
	wire.EncodeEthernet(frame, []byte{0xaa, 0, 0, 0, 0, 1}, []byte{0xbb, 0, 0, 0, 0, 2}, wire.EtherTypeIPv6)
	ipv6 := frame[wire.EthernetMinimumSize : wire.EthernetMinimumSize+wire.IPv6HeaderSize]
	require.NoError(t, wire.EncodeIPv6(ipv6, 0, 0, 8, 6 /* TCP */, 64, make([]byte, 16), make([]byte, 16)))

	assert.False(t, w.interceptNeighborRequest(&w.front, frame))
}

func TestHandleBGPDropsPayloadWithoutDestinationHandle(t *testing.T) {
	w := testWorker(t)
	req := &mailbox.Request{Kind: mailbox.KindBGP, BGP: mailbox.BGPPayload{Pkts: []byte("hello"), Kni: mailbox.CpiUnset}}

	assert.NotPanics(t, func() { w.handleBGP(req) })
}

func TestHandleBGPIgnoresNonByteSlicePayload(t *testing.T) {
	w := testWorker(t)
	req := &mailbox.Request{Kind: mailbox.KindBGP, BGP: mailbox.BGPPayload{Pkts: 42, Kni: mailbox.CpiFront}}

	assert.NotPanics(t, func() { w.handleBGP(req) })
}

func TestTickEvictsOnlyAfterTwoScans(t *testing.T) {
	w := testWorker(t)
	var addr [4]byte
	copy(addr[:], []byte{10, 0, 0, 9})
	w.tracker.TouchARP(addr)

	w.tick()
	assert.True(t, w.tracker.HasARP(addr), "must survive the first scan unevicted")

	w.tick()
	assert.False(t, w.tracker.HasARP(addr), "must be evicted by the second scan with no renewal")
}

func TestClassifyEgressNoOpsWithoutACLOrPool(t *testing.T) {
	w := testWorker(t)
	assert.NotPanics(t, func() { w.classifyEgress(&w.front, []byte("not-a-real-frame")) })
}

func TestDrainRoutesNoOpsWithoutWatcher(t *testing.T) {
	w := testWorker(t)
	assert.NotPanics(t, func() { w.drainRoutes(&w.front) })
}
