package acl6

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/H3xHunter/gatekeeper/internal/pktbuf"
)

func buildTCPPacket(t *testing.T, dstAddr [4]uint32, srcPort, dstPort uint16) *pktbuf.Buffer {
	t.Helper()
	pool := pktbuf.NewPool(0, 1, 0, 128)
	pkt, err := pool.Alloc()
	require.NoError(t, err)

	b, err := pkt.Append(44)
	require.NoError(t, err)
	b[6] = 6 // proto TCP
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint32(b[24+i*4:28+i*4], dstAddr[i])
	}
	binary.BigEndian.PutUint16(b[40:42], srcPort)
	binary.BigEndian.PutUint16(b[42:44], dstPort)
	return pkt
}

func TestClassifyRoutesToRegisteredCategory(t *testing.T) {
	reg := NewRegistry()

	var captured pktbuf.Burst
	catID, err := reg.RegisterCategory(func(b pktbuf.Burst) { captured = b }, nil)
	require.NoError(t, err)

	require.NoError(t, reg.AddRules([]Rule{{
		Proto:       6,
		DstPort:     179,
		DstPortMask: 0xFFFF,
		Category:    catID,
		Priority:    10,
	}}))

	ctx, err := reg.Finalize(0)
	require.NoError(t, err)

	pkt := buildTCPPacket(t, [4]uint32{0, 0, 0, 0}, 4321, 179)
	ctx.Classify(pktbuf.Burst{pkt})

	require.Len(t, captured, 1)
}

func TestClassifyDropsUnmatchedAsNoMatchCategory(t *testing.T) {
	reg := NewRegistry()
	ctx, err := reg.Finalize(0)
	require.NoError(t, err)

	pkt := buildTCPPacket(t, [4]uint32{0, 0, 0, 0}, 1, 2)
	ctx.Classify(pktbuf.Burst{pkt})
	// no assertion needed beyond "does not panic": dropNoMatch frees the
	// buffer internally, which is the reserved-category behavior (property 3).
}

func TestClassifyIsDeterministicAcrossContexts(t *testing.T) {
	reg := NewRegistry()
	catID, err := reg.RegisterCategory(func(pktbuf.Burst) {}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.AddRules([]Rule{{
		Proto:       6,
		DstPort:     179,
		DstPortMask: 0xFFFF,
		Category:    catID,
		Priority:    1,
	}}))

	ctx1, err := reg.Finalize(0)
	require.NoError(t, err)
	ctx2, err := reg.Finalize(1)
	require.NoError(t, err)

	pkt := buildTCPPacket(t, [4]uint32{0, 0, 0, 0}, 1111, 179)
	id1, err := ctx1.classifyOne(pkt.Bytes())
	require.NoError(t, err)
	assert.Equal(t, catID, id1)
	id2, err := ctx2.classifyOne(pkt.Bytes())
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestHighestPriorityRuleWins(t *testing.T) {
	reg := NewRegistry()
	lowID, err := reg.RegisterCategory(func(pktbuf.Burst) {}, nil)
	require.NoError(t, err)
	highID, err := reg.RegisterCategory(func(pktbuf.Burst) {}, nil)
	require.NoError(t, err)

	require.NoError(t, reg.AddRules([]Rule{
		{Proto: 6, DstPort: 179, DstPortMask: 0xFFFF, Category: lowID, Priority: 1},
		{Proto: 6, DstPort: 179, DstPortMask: 0xFFFF, Category: highID, Priority: 100},
	}))

	ctx, err := reg.Finalize(0)
	require.NoError(t, err)

	pkt := buildTCPPacket(t, [4]uint32{0, 0, 0, 0}, 1, 179)
	got, err := ctx.classifyOne(pkt.Bytes())
	require.NoError(t, err)
	assert.Equal(t, highID, got)
}

func TestCategoryBudgetExhausted(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < MaxCategories-1; i++ {
		_, err := reg.RegisterCategory(func(pktbuf.Burst) {}, nil)
		require.NoError(t, err)
	}
	_, err := reg.RegisterCategory(func(pktbuf.Burst) {}, nil)
	assert.ErrorIs(t, err, ErrTooManyCategories)
}
