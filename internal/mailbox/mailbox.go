// Package mailbox implements the MPSC bounded slab queue of SPEC_FULL.md
// component 9 (spec.md §4.5): many producers allocate a slot, fill it, and
// send it; a single consumer dequeues bursts and must free every slot it
// processes. alloc/send/dequeue/free never block.
package mailbox

import (
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
)

// ErrSlabExhausted is returned by Alloc when no slot is free.
var ErrSlabExhausted = errors.New("mailbox: slab exhausted")

// Kind discriminates the tagged-union Request variants of spec.md §3.
type Kind int

const (
	KindBGP Kind = iota
	KindARP
	KindND
)

// CpiHandle identifies which network's control-plane interface a BGP
// payload is destined for, resolving spec.md §3's `kni` field: a BGP
// segment observed on one network's CPI is relayed to the other's, and
// the destination must travel with the request rather than be assumed by
// whichever worker method happens to dequeue it.
type CpiHandle int

const (
	CpiUnset CpiHandle = iota
	CpiFront
	CpiBack
)

// BGPPayload carries a full burst of packets straight through to the CPI
// named by Kni.
type BGPPayload struct {
	Pkts any       // pktbuf.Burst; kept as `any` to avoid an import cycle with pktbuf's test helpers
	Kni  CpiHandle // destination CPI: the network the segment must be injected into
}

// ARPPayload requests an ARP reply be synthesized and injected.
type ARPPayload struct {
	TargetIPv4  [4]byte
	ResolvedMAC [6]byte
}

// NDPayload requests an ICMPv6 Neighbor Advertisement be synthesized and
// injected.
type NDPayload struct {
	TargetIPv6  [16]byte
	ResolvedMAC [6]byte
}

// Request is one mailbox message. Exactly one payload field is valid,
// selected by Kind.
type Request struct {
	ID   ulid.ULID
	Kind Kind

	BGP BGPPayload
	ARP ARPPayload
	ND  NDPayload

	slotIndex int
	inUse     bool
}

// Mailbox is a fixed-capacity MPSC bounded queue with its own slab
// allocator, matching spec.md §4.5. The slab is a flat array of Request
// slots; a lock-free-friendly free list (protected by a small mutex,
// since Go's runtime mutexes are cheap and none of this is on a busy-
// loop-spinning hot path comparable to the original lock-free ring) hands
// out slots to producers, and a separate FIFO ring carries sent slot
// indices to the single consumer.
type Mailbox struct {
	mu       sync.Mutex
	slab     []Request
	freeList []int

	ring      []int
	ringHead  int
	ringTail  int
	ringCount int
}

// New creates a Mailbox with a fixed capacity.
func New(capacity int) *Mailbox {
	m := &Mailbox{
		slab:     make([]Request, capacity),
		freeList: make([]int, capacity),
		ring:     make([]int, capacity),
	}
	for i := range m.freeList {
		m.freeList[i] = capacity - 1 - i
	}
	return m
}

// Alloc reserves a slot and returns a pointer into the slab for the caller
// to fill in. Returns ErrSlabExhausted under overload; per spec.md §4.5
// and §7, the caller must then drop its packets/request — the kernel will
// retry.
func (m *Mailbox) Alloc() (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.freeList)
	if n == 0 {
		return nil, ErrSlabExhausted
	}
	idx := m.freeList[n-1]
	m.freeList = m.freeList[:n-1]

	req := &m.slab[idx]
	*req = Request{slotIndex: idx, inUse: true}
	req.ID = ulid.Make()
	return req, nil
}

// Send publishes a previously allocated request onto the consumer-visible
// ring, preserving FIFO order for the calling producer (testable property
// 8). A producer that fails to Send after a successful Alloc must call
// Free instead.
func (m *Mailbox) Send(req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ringCount == len(m.ring) {
		return errors.New("mailbox: ring full despite slab accounting (invariant violation)")
	}
	m.ring[m.ringTail] = req.slotIndex
	m.ringTail = (m.ringTail + 1) % len(m.ring)
	m.ringCount++
	return nil
}

// DequeueBurst returns up to n requests in FIFO order. The consumer must
// call Free on every returned request after processing it.
func (m *Mailbox) DequeueBurst(n int) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > m.ringCount {
		n = m.ringCount
	}
	out := make([]*Request, 0, n)
	for i := 0; i < n; i++ {
		idx := m.ring[m.ringHead]
		m.ringHead = (m.ringHead + 1) % len(m.ring)
		m.ringCount--
		out = append(out, &m.slab[idx])
	}
	return out
}

// Free returns a slot to the slab. Must be called exactly once for every
// slot that was either (a) successfully allocated but never sent, or (b)
// dequeued by the consumer.
func (m *Mailbox) Free(req *Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req.inUse = false
	m.freeList = append(m.freeList, req.slotIndex)
}

// Len reports the number of requests currently queued (for diagnostics).
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ringCount
}
