// Package rss implements the RSS configurator of SPEC_FULL.md component 4:
// programming a redirection table across a queue set, plus randomized hash
// key generation with degenerate-key rejection (§4.1, testable property 9).
package rss

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// MaxRETASize is the largest redirection table this implementation will
// program; devices reporting a larger size are rejected.
const MaxRETASize = 512

// KeySize is the length in bytes of the Toeplitz hash key used by common
// NICs (40 bytes / 320 bits).
const KeySize = 40

var (
	ErrNoQueues        = errors.New("rss: queue set is empty")
	ErrRETASizeInvalid = errors.New("rss: device reports invalid or unsupported RETA size")
)

// Device is the minimal surface this package needs from a NIC driver: the
// size of its redirection table and a way to program it.
type Device interface {
	RETASize() int
	SetRETA(table []uint16) error
}

// Configure spreads queues across the device's redirection table: entry i
// maps to queues[i % len(queues)].
func Configure(dev Device, queues []uint16) error {
	if len(queues) == 0 {
		return ErrNoQueues
	}

	size := dev.RETASize()
	if size <= 0 || size > MaxRETASize {
		return fmt.Errorf("%w: got %d", ErrRETASizeInvalid, size)
	}

	table := make([]uint16, size)
	for i := range table {
		table[i] = queues[i%len(queues)]
	}

	return dev.SetRETA(table)
}

// Key holds both the native byte order key a NIC consumes and a byte-
// swapped "big-endian" copy kept for software hash emulation, per
// SPEC_FULL.md §4.1 / original_source/lib/net.c.
type Key struct {
	native [KeySize]byte
	be     [KeySize]byte
}

// Native returns the key in the byte order the NIC expects.
func (k Key) Native() []byte { return k.native[:] }

// BigEndian returns the byte-swapped copy used for software hashing.
func (k Key) BigEndian() []byte { return k.be[:] }

// GenerateKey produces a random RSS key, resampling if it lands on an
// all-zero or all-one-bytes key, both of which make the hash degenerate
// (property 9).
func GenerateKey() (Key, error) {
	var k Key
	for {
		if _, err := rand.Read(k.native[:]); err != nil {
			return Key{}, fmt.Errorf("rss: generate key: %w", err)
		}
		if !isDegenerate(k.native[:]) {
			break
		}
	}

	for i, b := range k.native {
		k.be[KeySize-1-i] = b
	}
	return k, nil
}

func isDegenerate(key []byte) bool {
	allZero, allOne := true, true
	for _, b := range key {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allOne = false
		}
	}
	return allZero || allOne
}
