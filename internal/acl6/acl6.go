// Package acl6 implements the per-interface, per-NUMA IPv6 ACL classifier
// of SPEC_FULL.md component 5 (spec.md §4.2): a fixed 4-byte-chunked field
// layout classifier with category 0 reserved for "no match -> drop", and
// an extension-header fallback chain for categories that can't be
// expressed as a direct rule (e.g. BGP-over-TCP, whose source/dest port
// sits past a variable-length extension header chain).
package acl6

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/H3xHunter/gatekeeper/internal/pktbuf"
)

// MaxCategories is the per-interface category budget; category 0 is the
// reserved "no match" drop category (original_source/lib/acl.c).
const MaxCategories = 8

// NoMatchCategory is the reserved category id.
const NoMatchCategory = 0

var (
	ErrTooManyCategories = errors.New("acl6: category budget exhausted")
	ErrNotFinalized      = errors.New("acl6: context not finalized")
	ErrAlreadyFinalized  = errors.New("acl6: context already finalized")
)

// Rule is one IPv6 ACL rule: fixed fields grouped into 4-byte classifier
// inputs exactly as spec.md §4.2 requires, so a from-scratch hardware-style
// classifier and this software one agree bit-for-bit on which fields
// participate in matching.
type Rule struct {
	Proto byte // 0 = wildcard

	// DstAddr/DstAddrMaskLen: 4 x 32-bit chunks of the destination address,
	// each with its own prefix mask length (0 = wildcard chunk).
	DstAddr        [4]uint32
	DstAddrMaskLen [4]uint8

	SrcPort     uint16
	SrcPortMask uint16 // 0 = wildcard
	DstPort     uint16
	DstPortMask uint16 // 0 = wildcard

	ICMPv6Type     uint32
	ICMPv6TypeMask uint32 // 0 = wildcard

	Category uint8
	Priority int
}

// matches reports whether the 4-byte-chunked input fields extracted from a
// packet satisfy the rule.
func (r *Rule) matches(proto byte, dstAddr [4]uint32, ports uint32, icmpType uint32) bool {
	if r.Proto != 0 && r.Proto != proto {
		return false
	}
	for i := 0; i < 4; i++ {
		if r.DstAddrMaskLen[i] == 0 {
			continue
		}
		mask := chunkMask(r.DstAddrMaskLen[i])
		if dstAddr[i]&mask != r.DstAddr[i]&mask {
			return false
		}
	}

	srcPort := uint16(ports >> 16)
	dstPort := uint16(ports)
	if r.SrcPortMask != 0 && srcPort&r.SrcPortMask != r.SrcPort&r.SrcPortMask {
		return false
	}
	if r.DstPortMask != 0 && dstPort&r.DstPortMask != r.DstPort&r.DstPortMask {
		return false
	}

	if r.ICMPv6TypeMask != 0 && icmpType&r.ICMPv6TypeMask != r.ICMPv6Type&r.ICMPv6TypeMask {
		return false
	}

	return true
}

func chunkMask(maskLen uint8) uint32 {
	if maskLen >= 32 {
		return 0xFFFFFFFF
	}
	return ^uint32(0) << (32 - maskLen)
}

// ExtHeaderMatcher is the fallback matcher for a category, tried in
// registration order against packets that matched no direct rule. It
// returns true if the packet belongs to this category (e.g. BGP-over-TCP
// found past a chain of IPv6 extension headers).
type ExtHeaderMatcher func(pkt *pktbuf.Buffer) bool

// MatchCallback receives the sub-burst claimed by a category.
type MatchCallback func(burst pktbuf.Burst)

type category struct {
	id       uint8
	match    MatchCallback
	extMatch ExtHeaderMatcher
}

// Registry collects rules and categories for one interface before the
// per-NUMA contexts are built (stage 2 / Finalize).
type Registry struct {
	mu         sync.Mutex
	rules      []Rule
	categories []category
	finalized  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterCategory allocates the next category id (1..MaxCategories-1) and
// associates it with match/extMatch callbacks. Returns the assigned id.
func (reg *Registry) RegisterCategory(match MatchCallback, extMatch ExtHeaderMatcher) (uint8, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.finalized {
		return 0, ErrAlreadyFinalized
	}
	id := uint8(len(reg.categories) + 1)
	if id >= MaxCategories {
		return 0, ErrTooManyCategories
	}
	reg.categories = append(reg.categories, category{id: id, match: match, extMatch: extMatch})
	return id, nil
}

// AddRules registers rules in bulk against a category id.
func (reg *Registry) AddRules(rules []Rule) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.finalized {
		return ErrAlreadyFinalized
	}
	reg.rules = append(reg.rules, rules...)
	return nil
}

// Context is a built classifier for one NUMA node. Per spec.md's
// per-NUMA-ACL-replication design note, every Context built from the same
// Registry must classify identical input bytes identically (testable
// property 2). Finalize may be called once per NUMA node; each Context
// gets its own copy of the rules, and the only state that changes after
// Finalize (the miss-log rate limiter and drop cache) gates logging, not
// classification.
type Context struct {
	numaNode   int
	rules      []Rule
	categories map[uint8]category

	noMatchLimiter *rate.Limiter
	recentDrops    *lru.Cache[uint64, struct{}]
}

// Finalize builds a Context for numaNode from reg's current rules and
// categories. Must be called after all categories have registered
// (stage 2), per spec.md §4.2.
func (reg *Registry) Finalize(numaNode int) (*Context, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.finalized = true

	cats := make(map[uint8]category, len(reg.categories))
	for _, c := range reg.categories {
		cats[c.id] = c
	}

	cache, err := lru.New[uint64, struct{}](256)
	if err != nil {
		return nil, fmt.Errorf("acl6: build drop-dedup cache: %w", err)
	}

	return &Context{
		numaNode:       numaNode,
		rules:          append([]Rule(nil), reg.rules...),
		categories:     cats,
		noMatchLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		recentDrops:    cache,
	}, nil
}

// extracted holds the 4-byte-chunked fields pulled from one packet.
type extracted struct {
	proto    byte
	dstAddr  [4]uint32
	ports    uint32 // srcPort<<16 | dstPort
	icmpType uint32
}

// ErrTooShort means the packet is too short to contain an IPv6 header.
var ErrTooShort = errors.New("acl6: packet too short for ipv6 header")

func extractFields(b []byte) (extracted, error) {
	const ipv6HdrLen = 40
	if len(b) < ipv6HdrLen {
		return extracted{}, ErrTooShort
	}

	var e extracted
	e.proto = b[6]
	dst := b[24:40]
	for i := 0; i < 4; i++ {
		e.dstAddr[i] = binary.BigEndian.Uint32(dst[i*4 : i*4+4])
	}

	payload := b[ipv6HdrLen:]
	switch e.proto {
	case 6, 17: // TCP, UDP: first 4 bytes are src/dst port
		if len(payload) >= 4 {
			srcPort := binary.BigEndian.Uint16(payload[0:2])
			dstPort := binary.BigEndian.Uint16(payload[2:4])
			e.ports = uint32(srcPort)<<16 | uint32(dstPort)
		}
	case 58: // ICMPv6: type is the first byte of a 4-byte input per §4.2
		if len(payload) >= 1 {
			e.icmpType = uint32(payload[0]) << 24
		}
	}

	return e, nil
}

// Classify runs the burst through the direct-rule classifier, then the
// extension-header fallback chain for anything that matched nothing, and
// finally dispatches each category's sub-burst to its MatchCallback. Any
// packet that still matches nothing is dropped and logged at WARNING
// (rate-limited and de-duplicated per SPEC_FULL.md's domain-stack
// additions), per spec.md §4.2/§7 and testable property 3.
func (c *Context) Classify(burst pktbuf.Burst) {
	subBursts := make(map[uint8]pktbuf.Burst)

	var noMatch pktbuf.Burst
	for _, pkt := range burst {
		cat, err := c.classifyOne(pkt.Bytes())
		if err != nil || cat == NoMatchCategory {
			noMatch = append(noMatch, pkt)
			continue
		}
		subBursts[cat] = append(subBursts[cat], pkt)
	}

	var stillNoMatch pktbuf.Burst
	for _, pkt := range noMatch {
		claimed := false
		for _, cat := range c.orderedCategories() {
			if cat.extMatch != nil && cat.extMatch(pkt) {
				subBursts[cat.id] = append(subBursts[cat.id], pkt)
				claimed = true
				break
			}
		}
		if !claimed {
			stillNoMatch = append(stillNoMatch, pkt)
		}
	}

	for id, sub := range subBursts {
		if cat, ok := c.categories[id]; ok && cat.match != nil {
			cat.match(sub)
		}
	}

	for _, pkt := range stillNoMatch {
		c.dropNoMatch(pkt)
	}
}

func (c *Context) orderedCategories() []category {
	out := make([]category, 0, len(c.categories))
	for id := uint8(1); id < MaxCategories; id++ {
		if cat, ok := c.categories[id]; ok {
			out = append(out, cat)
		}
	}
	return out
}

// classifyOne returns the category id of the best (highest priority, then
// first registered) direct-rule match, or NoMatchCategory.
func (c *Context) classifyOne(b []byte) (uint8, error) {
	fields, err := extractFields(b)
	if err != nil {
		return NoMatchCategory, err
	}

	best := uint8(NoMatchCategory)
	bestPriority := -1 << 31
	for _, r := range c.rules {
		if !r.matches(fields.proto, fields.dstAddr, fields.ports, fields.icmpType) {
			continue
		}
		if r.Priority > bestPriority {
			bestPriority = r.Priority
			best = r.Category
		}
	}
	return best, nil
}

func (c *Context) dropNoMatch(pkt *pktbuf.Buffer) {
	digest := fnv64(pkt.Bytes())
	if _, seen := c.recentDrops.Get(digest); !seen && c.noMatchLimiter.Allow() {
		logrus.WithFields(logrus.Fields{
			"numa": c.numaNode,
			"hex":  hexDump(pkt.Bytes()),
		}).Warn("acl6: packet matched no category, dropping")
		c.recentDrops.Add(digest, struct{}{})
	}
	pkt.Free()
}

// hexDump renders the full packet bytes for the rate-limited "no match"
// warning, per spec.md §7: the classification-miss log carries the whole
// packet, not a decoded summary, since a misclassified packet's relevant
// field may be anywhere in the ext-header chain that tripped up the
// classifier.
func hexDump(b []byte) string {
	return hex.EncodeToString(b)
}

func fnv64(b []byte) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}
