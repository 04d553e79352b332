package routeevent

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

func TestDecodeMapsRouteAddAndRemove(t *testing.T) {
	dst := net.IPNet{IP: net.ParseIP("2001:db8::"), Mask: net.CIDRMask(64, 128)}
	gw := net.ParseIP("fe80::1")

	add := decode(FrontNet, netlink.RouteUpdate{Type: 24, Route: netlink.Route{Dst: &dst, Gw: gw}})
	assert.Equal(t, RouteAdd, add.Kind)
	assert.Equal(t, FrontNet, add.Net)
	assert.Equal(t, dst, add.Dest)
	assert.True(t, gw.Equal(add.Gw))

	del := decode(BackNet, netlink.RouteUpdate{Type: 25, Route: netlink.Route{Dst: &dst}})
	assert.Equal(t, RouteRemove, del.Kind)
	assert.Equal(t, BackNet, del.Net)
}

func TestDrainReturnsBufferedEventsWithoutBlocking(t *testing.T) {
	w := &Watcher{events: make(chan Change, 4)}
	w.events <- Change{Kind: RouteAdd}
	w.events <- Change{Kind: RouteRemove}

	got := w.Drain(10)
	require.Len(t, got, 2)
	assert.Equal(t, RouteAdd, got[0].Kind)
	assert.Equal(t, RouteRemove, got[1].Kind)

	assert.Empty(t, w.Drain(10))
}

func TestDrainRespectsMax(t *testing.T) {
	w := &Watcher{events: make(chan Change, 4)}
	w.events <- Change{Kind: RouteAdd}
	w.events <- Change{Kind: RouteAdd}

	got := w.Drain(1)
	assert.Len(t, got, 1)
}
