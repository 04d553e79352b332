// Package routeevent ingests kernel routing-table changes for SPEC_FULL.md
// component 12 (spec.md §6/§3). A routing socket is opened at stage 2
// bring-up and closed at teardown; every update is decoded into a Change
// (replacements are reported as RouteAdd) and buffered until the CPS
// worker drains it. Nothing in this module calls a FIBManager.
package routeevent

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Network distinguishes which side of the dataplane a route belongs to,
// resolving the spec's duplicated gk_fib_action enum (SPEC_FULL.md §4
// Open Question): rather than a network-agnostic forwarding action plus
// a separate front/back variant, every NeighborForward carries its
// network explicitly.
type Network int

const (
	FrontNet Network = iota
	BackNet
)

// ChangeKind mirrors netlink's route update types.
type ChangeKind int

const (
	RouteAdd ChangeKind = iota
	RouteRemove
	RouteReplace
)

// NeighborForward is the single resolved forwarding-action type: a route
// pointing at a next-hop neighbor reachable on a specific network.
type NeighborForward struct {
	Network Network
	Dest    net.IPNet
	Nexthop net.IP
}

// Change is delivered to the FIB manager for every routing update.
type Change struct {
	Kind ChangeKind
	Net  Network
	Dest net.IPNet
	Gw   net.IP
}

// FIBManager is implemented by whatever component maintains Gatekeeper's
// forwarding-information base; routeevent only decodes and dispatches.
// Non-goal per spec.md: the FIB manager itself is an external
// collaborator, not something this module implements.
type FIBManager interface {
	OnRouteChange(Change)
}

// eventBacklog bounds how many decoded route changes can sit undrained
// between CPS worker loop iterations before the oldest is dropped; the
// worker is cooperative and must never block on this queue.
const eventBacklog = 256

// Watcher owns the subscription to kernel route updates for one side of
// the dataplane (front or back network link). Events are decoded off the
// netlink subscriber goroutine and buffered; the CPS worker drains them
// once per loop iteration (spec.md §4.6 step 5) rather than having this
// goroutine call into worker-owned state directly, preserving the
// single-writer invariant of §5's concurrency model.
type Watcher struct {
	net     Network
	updates chan netlink.RouteUpdate
	done    chan struct{}
	events  chan Change
}

// NewWatcher opens a routing-socket subscription scoped to linkIndex (0
// means all links) and begins buffering decoded Change events for Drain.
// Matches spec.md §6: opened at stage 2, closed at teardown.
func NewWatcher(network Network, linkIndex int) (*Watcher, error) {
	updates := make(chan netlink.RouteUpdate)
	done := make(chan struct{})

	opts := netlink.RouteSubscribeOptions{}
	if linkIndex != 0 {
		opts.ListExisting = true
	}
	if err := netlink.RouteSubscribeWithOptions(updates, done, opts); err != nil {
		close(done)
		return nil, fmt.Errorf("routeevent: subscribe: %w", err)
	}

	w := &Watcher{net: network, updates: updates, done: done, events: make(chan Change, eventBacklog)}
	go w.loop(linkIndex)
	return w, nil
}

func (w *Watcher) loop(linkIndex int) {
	for upd := range w.updates {
		if linkIndex != 0 && upd.Route.LinkIndex != linkIndex {
			continue
		}
		select {
		case w.events <- decode(w.net, upd):
		default:
			// Backlog full: the worker is falling behind. Drop the oldest
			// by draining one slot and retrying once, rather than
			// blocking this subscriber goroutine indefinitely.
			select {
			case <-w.events:
			default:
			}
			select {
			case w.events <- decode(w.net, upd):
			default:
			}
		}
	}
}

// Drain returns up to max buffered route changes without blocking; the
// CPS worker calls it once per loop iteration and logs each change.
func (w *Watcher) Drain(max int) []Change {
	out := make([]Change, 0, max)
	for i := 0; i < max; i++ {
		select {
		case c := <-w.events:
			out = append(out, c)
		default:
			return out
		}
	}
	return out
}

func decode(net_ Network, upd netlink.RouteUpdate) Change {
	kind := RouteAdd
	switch upd.Type {
	case 25: // RTM_DELROUTE
		kind = RouteRemove
	case 24: // RTM_NEWROUTE with NLM_F_REPLACE semantics already folded by the kernel
		kind = RouteAdd
	}

	var dest net.IPNet
	if upd.Route.Dst != nil {
		dest = *upd.Route.Dst
	}

	return Change{
		Kind: kind,
		Net:  net_,
		Dest: dest,
		Gw:   upd.Route.Gw,
	}
}

// Close tears down the subscription.
func (w *Watcher) Close() {
	close(w.done)
}
