// Package neigh implements the ARP/ND request tracker of SPEC_FULL.md
// component 11 (spec.md §4.7): one request per unresolved address is kept
// alive across a 5-second periodic scan using a two-phase staleness bit,
// so a request survives at most two scan intervals without being renewed
// by a fresh packet before it is evicted.
package neigh

import (
	"net"
	"sync"
	"time"
)

// DefaultScanInterval matches spec.md §4.7/§6.
const DefaultScanInterval = 5 * time.Second

type entry struct {
	stale bool
}

// Tracker holds the live ARP and ND request sets. Callers add an address
// on every outbound request and touch it again on renewal; Scan advances
// the staleness bit and reports addresses to evict.
type Tracker struct {
	mu sync.Mutex

	arp map[[4]byte]*entry
	nd  map[[16]byte]*entry
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		arp: make(map[[4]byte]*entry),
		nd:  make(map[[16]byte]*entry),
	}
}

// TouchARP records or renews interest in resolving addr. A renewed entry's
// staleness bit is cleared, giving it another full scan interval to live.
func (t *Tracker) TouchARP(addr [4]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.arp[addr]; ok {
		e.stale = false
		return
	}
	t.arp[addr] = &entry{}
}

// TouchND records or renews interest in resolving addr.
func (t *Tracker) TouchND(addr [16]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.nd[addr]; ok {
		e.stale = false
		return
	}
	t.nd[addr] = &entry{}
}

// HasARP reports whether addr currently has an outstanding request.
func (t *Tracker) HasARP(addr [4]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.arp[addr]
	return ok
}

// HasND reports whether addr currently has an outstanding request.
func (t *Tracker) HasND(addr [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.nd[addr]
	return ok
}

// ResolveARP removes addr from tracking once it has been resolved (e.g. a
// reply was synthesized and injected).
func (t *Tracker) ResolveARP(addr [4]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.arp, addr)
}

// ResolveND removes addr from tracking once it has been resolved.
func (t *Tracker) ResolveND(addr [16]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nd, addr)
}

// ScanResult is the set of addresses evicted by one Scan call, because
// they had already been marked stale by a previous scan and were not
// renewed in between (two-phase eviction, testable property 7).
type ScanResult struct {
	EvictedARP [][4]byte
	EvictedND  [][16]byte
}

// Scan performs one pass of the periodic two-phase staleness scan: any
// entry already marked stale is evicted; every surviving entry is then
// marked stale for the next pass. An entry touched between two Scan calls
// is spared (its stale bit was cleared), giving every request a lifetime
// of between one and two scan intervals before eviction — matching
// spec.md's "evicted within 2x the scan interval" bound.
func (t *Tracker) Scan() ScanResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var res ScanResult
	for addr, e := range t.arp {
		if e.stale {
			res.EvictedARP = append(res.EvictedARP, addr)
			delete(t.arp, addr)
			continue
		}
		e.stale = true
	}
	for addr, e := range t.nd {
		if e.stale {
			res.EvictedND = append(res.EvictedND, addr)
			delete(t.nd, addr)
			continue
		}
		e.stale = true
	}
	return res
}

// LenARP and LenND report the number of currently tracked requests, for
// diagnostics and tests.
func (t *Tracker) LenARP() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.arp)
}

func (t *Tracker) LenND() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nd)
}

// IPv4Key packs a net.IP into the [4]byte map key form.
func IPv4Key(ip net.IP) (key [4]byte, ok bool) {
	v4 := ip.To4()
	if v4 == nil {
		return key, false
	}
	copy(key[:], v4)
	return key, true
}

// IPv6Key packs a net.IP into the [16]byte map key form.
func IPv6Key(ip net.IP) (key [16]byte, ok bool) {
	v6 := ip.To16()
	if v6 == nil {
		return key, false
	}
	copy(key[:], v6)
	return key, true
}
