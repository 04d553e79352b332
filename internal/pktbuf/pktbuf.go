// Package pktbuf implements the packet buffer pool described in
// SPEC_FULL.md component 1: per-NUMA-node bounded pools of fixed-size
// buffers with headroom, linear ownership, and a data region carved out
// of a backing array.
package pktbuf

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPoolExhausted is returned by Pool.Alloc when no buffer is free.
var ErrPoolExhausted = errors.New("pktbuf: pool exhausted")

// OffloadFlags mirrors the checksum/segmentation offload metadata a NIC
// driver would attach to a buffer.
type OffloadFlags uint32

const (
	OffloadIPv4Csum OffloadFlags = 1 << iota
	OffloadOuterIPv4
	OffloadOuterIPv6
	OffloadL4Csum
)

// Buffer is an owned, refcounted byte region with a headroom prefix and a
// data region [DataOff, DataOff+DataLen). Ownership is linear: exactly one
// component holds a Buffer at a time. Transmit and Free consume it; Peek
// (reading Bytes()) borrows it without transferring ownership.
type Buffer struct {
	pool *Pool

	raw     []byte
	dataOff int
	dataLen int

	// Offload metadata, set by codecs/drivers, read by the NIC layer.
	OuterL2Len int
	OuterL3Len int
	Offload    OffloadFlags

	refcount int32
}

// Headroom returns the number of bytes available to Prepend before DataOff.
func (b *Buffer) Headroom() int {
	return b.dataOff
}

// Tailroom returns the number of bytes available to Append after the data
// region.
func (b *Buffer) Tailroom() int {
	return len(b.raw) - b.dataOff - b.dataLen
}

// Bytes borrows the current data region. The caller must not retain it past
// the buffer's lifetime.
func (b *Buffer) Bytes() []byte {
	return b.raw[b.dataOff : b.dataOff+b.dataLen]
}

// Len returns the size of the data region.
func (b *Buffer) Len() int {
	return b.dataLen
}

// Prepend grows the data region backwards by n bytes and returns the new
// prefix for the caller to fill in. Fails if n exceeds Headroom().
func (b *Buffer) Prepend(n int) ([]byte, error) {
	if n > b.Headroom() {
		return nil, fmt.Errorf("pktbuf: prepend %d exceeds headroom %d", n, b.Headroom())
	}
	b.dataOff -= n
	b.dataLen += n
	return b.raw[b.dataOff : b.dataOff+n], nil
}

// Advance strips n bytes off the front of the data region (decapsulation).
func (b *Buffer) Advance(n int) error {
	if n > b.dataLen {
		return fmt.Errorf("pktbuf: advance %d exceeds data length %d", n, b.dataLen)
	}
	b.dataOff += n
	b.dataLen -= n
	return nil
}

// Append grows the data region forward by n bytes and returns the new
// suffix for the caller to fill in.
func (b *Buffer) Append(n int) ([]byte, error) {
	if n > b.Tailroom() {
		return nil, fmt.Errorf("pktbuf: append %d exceeds tailroom %d", n, b.Tailroom())
	}
	start := b.dataOff + b.dataLen
	b.dataLen += n
	return b.raw[start : start+n], nil
}

// Free returns the buffer to its owning pool. It consumes b; the caller
// must not use b afterwards.
func (b *Buffer) Free() {
	if b.pool != nil {
		b.pool.put(b)
	}
}

// Burst is an ordered sequence of buffers processed together.
type Burst []*Buffer

// FreeAll frees every buffer in the burst and clears it.
func (bs *Burst) FreeAll() {
	for _, b := range *bs {
		if b != nil {
			b.Free()
		}
	}
	*bs = (*bs)[:0]
}

// Pool is a bounded, fixed-size buffer pool for one NUMA node.
type Pool struct {
	numaNode int
	headroom int
	dataCap  int

	mu   sync.Mutex
	free []*Buffer
}

// NewPool creates a pool of `capacity` buffers, each with `headroom` bytes
// reserved before the data region and `dataCap` bytes available for data.
func NewPool(numaNode, capacity, headroom, dataCap int) *Pool {
	p := &Pool{
		numaNode: numaNode,
		headroom: headroom,
		dataCap:  dataCap,
	}
	p.free = make([]*Buffer, 0, capacity)
	for i := 0; i < capacity; i++ {
		buf := &Buffer{
			pool: p,
			raw:  make([]byte, headroom+dataCap),
		}
		p.free = append(p.free, buf)
	}
	return p
}

// NUMANode reports which NUMA node this pool serves.
func (p *Pool) NUMANode() int {
	return p.numaNode
}

// Alloc removes one buffer from the free list, reset to an empty data
// region positioned after the full headroom. Returns ErrPoolExhausted if
// none are free.
func (p *Pool) Alloc() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]

	buf.dataOff = p.headroom
	buf.dataLen = 0
	buf.OuterL2Len = 0
	buf.OuterL3Len = 0
	buf.Offload = 0
	buf.refcount = 1
	return buf, nil
}

func (p *Pool) put(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, b)
}

// Available reports how many buffers are currently free, for diagnostics.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
