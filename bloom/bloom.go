// Package bloom implements the classic, counting-free Bloom filter used by
// the overlay's anti-entropy sync: fixed capacity, target false-positive
// rate, no deletion.
//
// Bit positions are carved out of a Keccak256 digest of the item using
// Kirsch-Mitzenmacher double hashing over two independent digests, the
// standard way to derive a configurable k hash functions from one real
// hash primitive in Go.
package bloom

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/dispersy-go/dispersy/crypto"
)

// ErrSaturated is a soft, observable error: more than Capacity items have
// been inserted. The filter keeps working (with a degraded false-positive
// rate); callers should open a new window.
var ErrSaturated = errors.New("bloom: filter saturated")

// Filter is a fixed-size Bloom filter with k derived hash functions.
type Filter struct {
	bits     []uint64
	m        uint64 // number of bits
	k        uint64 // number of hash functions
	capacity uint64
	inserted uint64
}

// New creates a Filter sized for capacity n items at false-positive rate p
// (0 < p < 1), using the standard formulas:
//
//	m = ceil(-n*ln(p) / ln(2)^2)
//	k = round((m/n) * ln(2))
func New(n uint64, p float64) *Filter {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := uint64(math.Round((float64(m) / float64(n)) * math.Ln2))
	if k == 0 {
		k = 1
	}
	words := (m + 63) / 64
	return &Filter{
		bits:     make([]uint64, words),
		m:        m,
		k:        k,
		capacity: n,
	}
}

// NewWithParams builds a Filter with explicit bit count and hash count,
// used when deserializing a peer's sync filter whose (m, k) were
// negotiated out of band via the privilege's distribution parameters.
func NewWithParams(m, k uint64) *Filter {
	if m == 0 {
		m = 1
	}
	if k == 0 {
		k = 1
	}
	words := (m + 63) / 64
	return &Filter{bits: make([]uint64, words), m: m, k: k}
}

// Add inserts an item. Returns ErrSaturated once more than Capacity items
// have been added; the item is still inserted.
func (f *Filter) Add(item []byte) error {
	h1, h2 := f.seedHashes(item)
	for i := uint64(0); i < f.k; i++ {
		bit := (h1 + i*h2) % f.m
		f.bits[bit/64] |= 1 << (bit % 64)
	}
	f.inserted++
	if f.capacity > 0 && f.inserted > f.capacity {
		return ErrSaturated
	}
	return nil
}

// Contains reports whether item may have been inserted. False positives
// are possible; false negatives are not.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := f.seedHashes(item)
	for i := uint64(0); i < f.k; i++ {
		bit := (h1 + i*h2) % f.m
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Len returns the number of items inserted so far (not the bit count).
func (f *Filter) Len() uint64 { return f.inserted }

// BitLen returns m, the number of bits in the filter.
func (f *Filter) BitLen() uint64 { return f.m }

// HashCount returns k, the number of hash functions.
func (f *Filter) HashCount() uint64 { return f.k }

// seedHashes derives two independent 64-bit seeds from the item via two
// domain-separated Keccak256 digests (Kirsch-Mitzenmacher double hashing).
func (f *Filter) seedHashes(item []byte) (uint64, uint64) {
	h1 := crypto.Keccak256([]byte{0x01}, item)
	h2 := crypto.Keccak256([]byte{0x02}, item)
	return binary.BigEndian.Uint64(h1[:8]), binary.BigEndian.Uint64(h2[:8])
}

// Serialize encodes the filter as m (8 bytes), k (8 bytes), then the raw
// bit words (8 bytes each, big-endian).
func (f *Filter) Serialize() []byte {
	buf := make([]byte, 16+8*len(f.bits))
	binary.BigEndian.PutUint64(buf[0:8], f.m)
	binary.BigEndian.PutUint64(buf[8:16], f.k)
	for i, w := range f.bits {
		binary.BigEndian.PutUint64(buf[16+8*i:24+8*i], w)
	}
	return buf
}

// Deserialize decodes a Filter previously produced by Serialize.
func Deserialize(b []byte) (*Filter, error) {
	if len(b) < 16 || (len(b)-16)%8 != 0 {
		return nil, errors.New("bloom: truncated filter")
	}
	m := binary.BigEndian.Uint64(b[0:8])
	k := binary.BigEndian.Uint64(b[8:16])
	f := NewWithParams(m, k)
	words := (len(b) - 16) / 8
	if words != len(f.bits) {
		return nil, errors.New("bloom: bit length mismatch")
	}
	for i := 0; i < words; i++ {
		f.bits[i] = binary.BigEndian.Uint64(b[16+8*i : 24+8*i])
	}
	return f, nil
}
