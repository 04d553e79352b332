// Package cpsworker runs the CPS main loop of SPEC_FULL.md component 10
// (spec.md §4.6): a single cooperative lcore that, once per iteration,
// (i) polls NIC queue assignment and CPI administrative requests,
// (ii) drains the mailbox and dispatches ARP/ND/BGP requests, (iii) drains
// egress frames the kernel wrote to each CPI, intercepting ARP/ND into
// neighbor-resolution requests and classifying everything else, (iv) ticks
// the neighbor-request scan, and (v) drains pending routing events. There
// is exactly one of these per Gatekeeper instance; no locking is needed
// inside the loop body because nothing else touches this lcore's state.
package cpsworker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/H3xHunter/gatekeeper/internal/acl6"
	"github.com/H3xHunter/gatekeeper/internal/cpi"
	"github.com/H3xHunter/gatekeeper/internal/iface"
	"github.com/H3xHunter/gatekeeper/internal/mailbox"
	"github.com/H3xHunter/gatekeeper/internal/neigh"
	"github.com/H3xHunter/gatekeeper/internal/pktbuf"
	"github.com/H3xHunter/gatekeeper/internal/routeevent"
	"github.com/H3xHunter/gatekeeper/internal/wire"
)

// Network carries everything the worker needs for one side (front or
// back) of the dataplane.
type Network struct {
	Name      string
	Kni       mailbox.CpiHandle // identifies this side for BGPPayload routing
	CPI       *cpi.Shim
	Iface     *iface.Interface
	Pool      *pktbuf.Pool
	Routes    *routeevent.Watcher // nil if no routing-event subscription was opened
	SourceMAC [6]byte
	SelfV4    [4]byte
	SelfV6    [16]byte
	LinkLocal [16]byte
	ACL       *acl6.Context
}

// Worker is the single cooperative dataplane lcore.
type Worker struct {
	log *logrus.Entry

	front, back Network
	mbox        *mailbox.Mailbox
	tracker     *neigh.Tracker
	lcore       int

	requestBurst int
	scanInterval time.Duration
	lastScan     time.Time

	exiting atomic.Bool
}

// New constructs a Worker. front and back must already be fully brought
// up (interfaces running, ACL contexts finalized, CPI shims open).
func New(log *logrus.Entry, front, back Network, mbox *mailbox.Mailbox, tracker *neigh.Tracker, requestBurst int, scanInterval time.Duration) *Worker {
	return &Worker{
		log:          log,
		front:        front,
		back:         back,
		mbox:         mbox,
		tracker:      tracker,
		requestBurst: requestBurst,
		scanInterval: scanInterval,
		lastScan:     time.Time{},
	}
}

// Stop requests cooperative termination; the loop checks this flag at
// the top of every iteration and returns once set.
func (w *Worker) Stop() {
	w.exiting.Store(true)
}

// Run executes the main loop until Stop is called or ctx is canceled.
// Each iteration is the five-step sequence of spec.md §4.6.
func (w *Worker) Run(ctx context.Context) error {
	w.lastScan = time.Now()
	rxBuf := make([]byte, 65536)

	for {
		if w.exiting.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// (i) NIC queue polling + CPI administrative requests.
		w.pollNIC(&w.front)
		w.pollNIC(&w.back)

		// (ii) mailbox drain: ARP/ND replies injected, BGP relayed.
		w.drainMailbox()

		// (iii) CPI -> NIC egress, intercepting ARP/ND.
		w.drainEgress(&w.front, rxBuf)
		w.drainEgress(&w.back, rxBuf)

		// (iv) periodic neighbor-request staleness scan.
		if time.Since(w.lastScan) >= w.scanInterval {
			w.tick()
			w.lastScan = time.Now()
		}

		// (v) drain pending kernel routing events.
		w.drainRoutes(&w.front)
		w.drainRoutes(&w.back)
	}
}

// pollNIC performs step (i): it touches the interface's RX/TX queue
// assignment for this lcore (idempotent after the first call, per
// queuealloc) and applies any administrative request (MTU/link-state
// change) the kernel has posted against n's CPI since the last iteration.
func (w *Worker) pollNIC(n *Network) {
	if n.Iface != nil {
		if _, err := n.Iface.RXQueue(w.lcore); err != nil {
			w.log.WithError(err).WithField("iface", n.Name).Warn("rx queue poll failed")
		}
		if _, err := n.Iface.TXQueue(w.lcore); err != nil {
			w.log.WithError(err).WithField("iface", n.Name).Warn("tx queue poll failed")
		}
	}

	req, ok := n.CPI.PollAdmin()
	if !ok {
		return
	}
	if req.MTU != nil {
		n.CPI.SetMTU(*req.MTU)
		w.log.WithField("iface", n.Name).WithField("mtu", *req.MTU).Info("cpi mtu change applied")
	}
	if req.LinkUp != nil {
		w.log.WithField("iface", n.Name).WithField("up", *req.LinkUp).Info("cpi link state change")
	}
}

// drainMailbox dequeues and dispatches every pending request: ARP and ND
// requests are synthesized into reply frames and injected back into the
// kernel; BGP payloads are written out to the CPI named by their Kni.
func (w *Worker) drainMailbox() {
	reqs := w.mbox.DequeueBurst(w.requestBurst)
	for _, req := range reqs {
		switch req.Kind {
		case mailbox.KindARP:
			w.handleARP(req)
		case mailbox.KindND:
			w.handleND(req)
		case mailbox.KindBGP:
			w.handleBGP(req)
		}
		w.mbox.Free(req)
	}
}

func (w *Worker) handleARP(req *mailbox.Request) {
	target := req.ARP.TargetIPv4[:]
	resolved := req.ARP.ResolvedMAC[:]
	frame, err := wire.ARPReplyFrame(w.front.SourceMAC[:], resolved, target, w.front.SelfV4[:])
	if err != nil {
		w.log.WithError(err).Warn("arp reply synthesis failed")
		return
	}
	if err := w.front.CPI.KernelTX(frame); err != nil {
		w.log.WithError(err).Warn("arp reply injection failed")
		return
	}
	var key [4]byte
	copy(key[:], target)
	w.tracker.ResolveARP(key)
}

func (w *Worker) handleND(req *mailbox.Request) {
	target := req.ND.TargetIPv6[:]
	resolved := req.ND.ResolvedMAC[:]
	frame, err := wire.NDAdvertFrame(w.front.SourceMAC[:], resolved, target, w.front.LinkLocal[:])
	if err != nil {
		w.log.WithError(err).Warn("nd advertisement synthesis failed")
		return
	}
	if err := w.front.CPI.KernelTX(frame); err != nil {
		w.log.WithError(err).Warn("nd advertisement injection failed")
		return
	}
	var key [16]byte
	copy(key[:], target)
	w.tracker.ResolveND(key)
}

// handleBGP relays a BGP segment to the CPI named by the payload's Kni
// field (spec.md §3's `kni` handle), rather than assuming a fixed
// front/back direction: a segment classified on the front network's ACL
// as BGP is tagged Kni=back (and vice versa), since a bump-in-the-wire
// CPS relays control-plane traffic across to the peer network's kernel
// stack.
func (w *Worker) handleBGP(req *mailbox.Request) {
	frame, ok := req.BGP.Pkts.([]byte)
	if !ok {
		return
	}

	var dst *cpi.Shim
	switch req.BGP.Kni {
	case mailbox.CpiFront:
		dst = w.front.CPI
	case mailbox.CpiBack:
		dst = w.back.CPI
	default:
		w.log.Warn("bgp payload missing destination cpi handle, dropping")
		return
	}

	if err := dst.KernelTX(frame); err != nil {
		w.log.WithError(err).Warn("bgp relay failed")
	}
}

// drainEgress performs step (iii): it reads frames the kernel wrote to
// n's CPI (e.g. an outbound ARP probe, ND solicitation, or ordinary
// forwarded traffic) and either intercepts an ARP/ND request into the
// neighbor tracker or runs everything else through n's ACL context, whose
// registered BGP category (wired in by cmd/cps) relays matches to the
// peer network via the mailbox.
func (w *Worker) drainEgress(n *Network, rxBuf []byte) {
	for i := 0; i < w.requestBurst; i++ {
		nRead, err := n.CPI.KernelRX(rxBuf)
		if err != nil {
			w.log.WithError(err).WithField("iface", n.Name).Warn("cpi kernel rx failed")
			return
		}
		if nRead == 0 {
			return
		}
		frame := append([]byte(nil), rxBuf[:nRead]...)

		if w.interceptNeighborRequest(n, frame) {
			continue
		}

		w.classifyEgress(n, frame)
	}
}

// interceptNeighborRequest recognizes an outbound ARP request or an ND
// solicitation sourced from one of n.Iface's own IPv6 addresses (the
// source check is skipped when n.Iface is nil), and records it in the
// tracker instead of letting it reach
// the NIC (spec.md §4.6 step iii / §4.7): liveness is re-observed the next
// time the kernel re-solicits, which is exactly what touching the tracker
// here does.
func (w *Worker) interceptNeighborRequest(n *Network, frame []byte) bool {
	_, _, etherType, ok := wire.DecodeEthernet(frame)
	if !ok {
		return false
	}
	body := frame[wire.EthernetMinimumSize:]

	switch etherType {
	case wire.EtherTypeARP:
		parsed, err := wire.DecodeARP(body)
		if err != nil || parsed.Op != wire.ARPOpRequest {
			return false
		}
		var key [4]byte
		copy(key[:], parsed.TargetIP.To4())
		w.tracker.TouchARP(key)
		return true

	case wire.EtherTypeIPv6:
		if len(body) < wire.IPv6HeaderSize {
			return false
		}
		ipv6, err := wire.DecodeIPv6(body)
		if err != nil || ipv6.Next != wire.IPv6NextICMPv6 {
			return false
		}
		if n.Iface != nil && !n.Iface.OwnsV6Address(ipv6.Src) {
			return false
		}
		icmp := body[wire.IPv6HeaderSize:]
		sol, err := wire.DecodeNDSolicit(icmp)
		if err != nil {
			return false
		}
		var key [16]byte
		copy(key[:], sol.Target.To16())
		w.tracker.TouchND(key)
		return true
	}

	return false
}

// classifyEgress hands a non-ARP/ND egress frame to n's ACL context so the
// BGP-steering category (registered at bring-up) can claim it for mailbox
// relay; the ACL context drops and logs everything that matches no
// category. n.ACL or n.Pool may be nil in configurations that never
// finalized an ACL (tests exercising only ARP/ND), in which case the
// frame is discarded. No egress frame is transmitted out a NIC queue.
func (w *Worker) classifyEgress(n *Network, frame []byte) {
	if n.ACL == nil || n.Pool == nil {
		return
	}

	buf, err := n.Pool.Alloc()
	if err != nil {
		w.log.WithError(err).WithField("iface", n.Name).Warn("egress classify: pool exhausted")
		return
	}
	dst, err := buf.Append(len(frame))
	if err != nil {
		buf.Free()
		w.log.WithError(err).WithField("iface", n.Name).Warn("egress classify: frame exceeds buffer capacity")
		return
	}
	copy(dst, frame)

	// ACL rules are built against the IPv6 header onward; strip the
	// Ethernet header the same way the ARP/ND path peels it for parsing.
	if len(frame) > wire.EthernetMinimumSize {
		if err := buf.Advance(wire.EthernetMinimumSize); err != nil {
			buf.Free()
			w.log.WithError(err).WithField("iface", n.Name).Warn("egress classify: strip ethernet header failed")
			return
		}
	}

	n.ACL.Classify(pktbuf.Burst{buf})
}

// tick runs the periodic neighbor-request staleness scan (spec.md §4.7)
// and logs anything evicted.
func (w *Worker) tick() {
	res := w.tracker.Scan()
	if len(res.EvictedARP) > 0 || len(res.EvictedND) > 0 {
		w.log.WithField("arp_evicted", len(res.EvictedARP)).
			WithField("nd_evicted", len(res.EvictedND)).
			Debug("neighbor request scan evicted stale entries")
	}
}

// drainRoutes performs step (v): it pulls buffered kernel routing events
// off n's watcher (if one was opened) and logs each one. The FIB manager
// itself is an external collaborator (spec.md Non-goals); this worker's
// only obligation is to ingest and surface the event within its own
// cooperative loop rather than leave the watcher's goroutine calling into
// worker-owned state from outside the lcore.
func (w *Worker) drainRoutes(n *Network) {
	if n.Routes == nil {
		return
	}
	for _, c := range n.Routes.Drain(w.requestBurst) {
		w.log.WithFields(logrus.Fields{
			"iface": n.Name,
			"kind":  c.Kind,
			"dest":  c.Dest.String(),
			"gw":    c.Gw.String(),
		}).Debug("routing event drained")
	}
}
