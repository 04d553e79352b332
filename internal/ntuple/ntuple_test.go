package ntuple

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPortMatchKeyDstPort(t *testing.T) {
	key := portMatchKey(Filter{BGPPort: 179, Dir: MatchDstPort})
	assert.Equal(t, uint32(0x0000ffff), key.Mask)
	assert.Equal(t, uint32(179), key.Val)
}

func TestPortMatchKeySrcPort(t *testing.T) {
	key := portMatchKey(Filter{BGPPort: 179, Dir: MatchSrcPort})
	assert.Equal(t, uint32(0xffff0000), key.Mask)
	assert.Equal(t, uint32(179)<<16, key.Val)
}

func TestClassIDForAvoidsReservedZero(t *testing.T) {
	id := classIDFor(0)
	assert.NotEqual(t, uint32(0), id&0xffff)
}

func TestClassIDForIsStableForSameQueue(t *testing.T) {
	assert.Equal(t, classIDFor(3), classIDFor(3))
	assert.NotEqual(t, classIDFor(1), classIDFor(2))
}
