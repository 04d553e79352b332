package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/H3xHunter/gatekeeper/internal/acl6"
	"github.com/H3xHunter/gatekeeper/internal/config"
	"github.com/H3xHunter/gatekeeper/internal/cpi"
	"github.com/H3xHunter/gatekeeper/internal/cpsworker"
	"github.com/H3xHunter/gatekeeper/internal/iface"
	"github.com/H3xHunter/gatekeeper/internal/mailbox"
	"github.com/H3xHunter/gatekeeper/internal/neigh"
	"github.com/H3xHunter/gatekeeper/internal/ntuple"
	"github.com/H3xHunter/gatekeeper/internal/pktbuf"
	"github.com/H3xHunter/gatekeeper/internal/routeevent"
	"github.com/H3xHunter/gatekeeper/internal/rss"
	"github.com/H3xHunter/gatekeeper/internal/wire"
)

func newRunCmd() *cobra.Command {
	var frontIface, backIface string
	var bgpPort uint16

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Bring up the CPS dataplane and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.BGPPort = bgpPort
			cfg.FrontNet = iface.Config{
				Name:              frontIface,
				PortNames:         []string{frontIface},
				Protocols:         iface.ProtoV4 | iface.ProtoV6,
				RequestedRXQueues: 1,
				RequestedTXQueues: 1,
				NUMANodes:         cfg.NUMANodes,
				CacheTimeout:      cfg.CacheTimeout,
			}
			cfg.BackNet = iface.Config{
				Name:              backIface,
				PortNames:         []string{backIface},
				Protocols:         iface.ProtoV4 | iface.ProtoV6,
				RequestedRXQueues: 1,
				RequestedTXQueues: 1,
				NUMANodes:         cfg.NUMANodes,
				CacheTimeout:      cfg.CacheTimeout,
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDataplane(cfg)
		},
	}

	cmd.Flags().StringVar(&frontIface, "front", "", "front-network interface name")
	cmd.Flags().StringVar(&backIface, "back", "", "back-network interface name")
	cmd.Flags().Uint16Var(&bgpPort, "bgp-port", config.DefaultBGPPort, "BGP TCP port to steer")
	cmd.MarkFlagRequired("front")
	cmd.MarkFlagRequired("back")

	return cmd
}

// poolCapacity/poolDataCap size the per-network packet pool the CPS
// worker's egress classification path draws from; the pool's headroom is
// wire.EthernetMinimumSize, matching the Ethernet header classifyEgress
// strips before handing a packet to the ACL context. dataCap leaves room
// for a full-size Ethernet frame beyond that stripped header.
const (
	poolCapacity = 256
	poolDataCap  = 2048
)

func runDataplane(cfg config.Config) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	front, err := iface.New(cfg.FrontNet)
	if err != nil {
		return fmt.Errorf("cps: front interface: %w", err)
	}
	back, err := iface.New(cfg.BackNet)
	if err != nil {
		return fmt.Errorf("cps: back interface: %w", err)
	}

	if err := front.Stage1Init(); err != nil {
		return fmt.Errorf("cps: front stage1: %w", err)
	}
	if err := back.Stage1Init(); err != nil {
		return fmt.Errorf("cps: back stage1: %w", err)
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " waiting for link..."
	sp.Start()
	waitCB := func(attempt int) {
		sp.Suffix = fmt.Sprintf(" waiting for link (attempt %d)...", attempt)
	}
	if err := front.Stage2Start(waitCB); err != nil {
		sp.Stop()
		return fmt.Errorf("cps: front stage2: %w", err)
	}
	if err := back.Stage2Start(waitCB); err != nil {
		sp.Stop()
		return fmt.Errorf("cps: back stage2: %w", err)
	}
	sp.Stop()
	color.New(color.FgGreen).Println("both links up")

	if err := configureRSS(front); err != nil {
		log.WithError(err).WithField("iface", front.Name()).Warn("rss configuration failed")
	}
	if err := configureRSS(back); err != nil {
		log.WithError(err).WithField("iface", back.Name()).Warn("rss configuration failed")
	}

	frontCPI, err := cpi.Open(front.Name() + "-cpi")
	if err != nil {
		return fmt.Errorf("cps: front cpi: %w", err)
	}
	defer frontCPI.Close()

	backCPI, err := cpi.Open(back.Name() + "-cpi")
	if err != nil {
		return fmt.Errorf("cps: back cpi: %w", err)
	}
	defer backCPI.Close()

	mbox := mailbox.New(cfg.MailboxEntries)
	tracker := neigh.New()

	frontPool := pktbuf.NewPool(0, poolCapacity, wire.EthernetMinimumSize, poolDataCap)
	backPool := pktbuf.NewPool(0, poolCapacity, wire.EthernetMinimumSize, poolDataCap)

	frontACLCtx, err := buildACL(mbox, mailbox.CpiBack, front.V6GlobalAddr(), cfg.BGPPort)
	if err != nil {
		return fmt.Errorf("cps: front acl: %w", err)
	}
	backACLCtx, err := buildACL(mbox, mailbox.CpiFront, back.V6GlobalAddr(), cfg.BGPPort)
	if err != nil {
		return fmt.Errorf("cps: back acl: %w", err)
	}

	if err := steerBGP(front.ID(), cfg.BGPPort); err != nil {
		log.WithError(err).WithField("iface", front.ID()).Warn("n-tuple bgp steering setup failed")
	}
	if err := steerBGP(back.ID(), cfg.BGPPort); err != nil {
		log.WithError(err).WithField("iface", back.ID()).Warn("n-tuple bgp steering setup failed")
	}

	frontRoutes, err := watchRoutes(routeevent.FrontNet, front.ID())
	if err != nil {
		log.WithError(err).WithField("iface", front.ID()).Warn("routing-event watch failed")
	} else {
		defer frontRoutes.Close()
	}
	backRoutes, err := watchRoutes(routeevent.BackNet, back.ID())
	if err != nil {
		log.WithError(err).WithField("iface", back.ID()).Warn("routing-event watch failed")
	} else {
		defer backRoutes.Close()
	}

	var frontMAC, backMAC [6]byte
	copy(frontMAC[:], front.MAC())
	copy(backMAC[:], back.MAC())

	var frontV4, backV4 [4]byte
	if v4 := front.V4Addr(); v4 != nil {
		copy(frontV4[:], v4.To4())
	}
	if v4 := back.V4Addr(); v4 != nil {
		copy(backV4[:], v4.To4())
	}

	var frontV6, backV6, frontLL, backLL [16]byte
	if v6 := front.V6GlobalAddr(); v6 != nil {
		copy(frontV6[:], v6.To16())
	}
	if v6 := back.V6GlobalAddr(); v6 != nil {
		copy(backV6[:], v6.To16())
	}
	if ll := front.V6LinkLocal(); ll != nil {
		copy(frontLL[:], ll.To16())
	}
	if ll := back.V6LinkLocal(); ll != nil {
		copy(backLL[:], ll.To16())
	}

	worker := cpsworker.New(log, cpsworker.Network{
		Name:      front.Name(),
		Kni:       mailbox.CpiFront,
		CPI:       frontCPI,
		Iface:     front,
		Pool:      frontPool,
		Routes:    frontRoutes,
		SourceMAC: frontMAC,
		SelfV4:    frontV4,
		SelfV6:    frontV6,
		LinkLocal: frontLL,
		ACL:       frontACLCtx,
	}, cpsworker.Network{
		Name:      back.Name(),
		Kni:       mailbox.CpiBack,
		CPI:       backCPI,
		Iface:     back,
		Pool:      backPool,
		Routes:    backRoutes,
		SourceMAC: backMAC,
		SelfV4:    backV4,
		SelfV6:    backV6,
		LinkLocal: backLL,
		ACL:       backACLCtx,
	}, mbox, tracker, cfg.RequestBurst, cfg.ScanInterval)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown requested")
		worker.Stop()
		cancel()
	}()

	err = worker.Run(ctx)
	front.Stop()
	back.Stop()
	return err
}

// configureRSS programs ifc's redirection table across its currently
// assigned RX queue (lcore 0), per SPEC_FULL.md component 4 / spec.md
// §4.1: Stage1Init has already derived a randomized key, and queue
// assignment for lcore 0 is the only consumer this single-worker binary
// has, so every entry of the RETA points at that one queue.
func configureRSS(ifc *iface.Interface) error {
	q, err := ifc.RXQueue(0)
	if err != nil {
		return fmt.Errorf("rss: assign rx queue: %w", err)
	}
	return rss.Configure(ifc, []uint16{uint16(q)})
}

// steerBGP installs the n-tuple/ethertype filters of SPEC_FULL.md
// component 6 (spec.md §4.3), redirecting BGP TCP segments straight to
// the CPS ingress queue ahead of ACL classification.
func steerBGP(linkName string, bgpPort uint16) error {
	if err := ntuple.EnsureIngressQdisc(linkName); err != nil {
		return err
	}
	steering := ntuple.New(linkName)
	if err := steering.Install(ntuple.Filter{BGPPort: bgpPort, Dir: ntuple.MatchDstPort, CPSQueue: 0}); err != nil {
		return err
	}
	return steering.Install(ntuple.Filter{BGPPort: bgpPort, Dir: ntuple.MatchSrcPort, CPSQueue: 0})
}

// watchRoutes opens a routing-event subscription scoped to linkName's
// link index (component 12, spec.md §6).
func watchRoutes(net_ routeevent.Network, linkName string) (*routeevent.Watcher, error) {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return nil, fmt.Errorf("routeevent: lookup %s: %w", linkName, err)
	}
	return routeevent.NewWatcher(net_, link.Attrs().Index)
}

// buildACL registers the BGP-steering category (spec.md §4.2/§4.3: IPv6
// ACL rules matching dst=selfV6 with either TCP port equal to bgpPort)
// and finalizes a Context for NUMA node 0. Matched packets are relayed to
// the mailbox tagged with dest, so the CPS worker's handleBGP delivers
// them to the correct peer CPI instead of a hardcoded direction.
func buildACL(mbox *mailbox.Mailbox, dest mailbox.CpiHandle, selfV6 net.IP, bgpPort uint16) (*acl6.Context, error) {
	reg := acl6.NewRegistry()

	if selfV6 == nil {
		return reg.Finalize(0)
	}

	bgpID, err := reg.RegisterCategory(relayBGP(mbox, dest), nil)
	if err != nil {
		return nil, fmt.Errorf("acl6: register bgp category: %w", err)
	}

	dstChunks := ipv6Chunks(selfV6)
	fullMask := [4]uint8{32, 32, 32, 32}
	rules := []acl6.Rule{
		{
			Proto: 6, DstAddr: dstChunks, DstAddrMaskLen: fullMask,
			SrcPort: bgpPort, SrcPortMask: 0xFFFF,
			Category: bgpID, Priority: 10,
		},
		{
			Proto: 6, DstAddr: dstChunks, DstAddrMaskLen: fullMask,
			DstPort: bgpPort, DstPortMask: 0xFFFF,
			Category: bgpID, Priority: 10,
		},
	}
	if err := reg.AddRules(rules); err != nil {
		return nil, fmt.Errorf("acl6: add bgp rules: %w", err)
	}

	return reg.Finalize(0)
}

// relayBGP builds the BGP category's MatchCallback: every matched packet
// is copied out, re-prefixed with its original Ethernet header (stripped
// before classification), and posted to the mailbox tagged with dest so
// the worker relays it to the peer network's CPI verbatim, per spec.md
// §4.3's "transmits it verbatim into the CPI."
func relayBGP(mbox *mailbox.Mailbox, dest mailbox.CpiHandle) acl6.MatchCallback {
	return func(burst pktbuf.Burst) {
		for _, pkt := range burst {
			// The Ethernet header was only Advance()'d out of view before
			// classification, never overwritten, so Prepend restores the
			// exact same bytes rather than requiring the caller to
			// reconstruct them.
			if _, err := pkt.Prepend(wire.EthernetMinimumSize); err != nil {
				pkt.Free()
				continue
			}
			full := append([]byte(nil), pkt.Bytes()...)

			req, allocErr := mbox.Alloc()
			if allocErr != nil {
				pkt.Free()
				continue
			}
			req.Kind = mailbox.KindBGP
			req.BGP = mailbox.BGPPayload{Pkts: full, Kni: dest}
			if sendErr := mbox.Send(req); sendErr != nil {
				mbox.Free(req)
			}
			pkt.Free()
		}
	}
}

// ipv6Chunks splits a 16-byte IPv6 address into the 4x32-bit chunks
// acl6.Rule.DstAddr expects.
func ipv6Chunks(ip net.IP) [4]uint32 {
	v6 := ip.To16()
	var out [4]uint32
	if v6 == nil {
		return out
	}
	for i := 0; i < 4; i++ {
		out[i] = binary.BigEndian.Uint32(v6[i*4 : i*4+4])
	}
	return out
}
