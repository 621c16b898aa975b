package robt

import (
	"bytes"

	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nilstore/rdms/pkg/errors"
)

// Bloom is the capability an index's optional probabilistic filter must
// implement: callers feed it binary keys as they build the index, and
// Get consults it before paying for a block read that is likely to miss.
type Bloom interface {
	Add(key []byte)
	Contains(key []byte) bool
	ToBytes() ([]byte, error)
}

// NoBitmap is the degenerate Bloom used when a caller opts out of the
// filter: every lookup is reported as possibly-present, so Get always
// falls through to the real block read.
type NoBitmap struct{}

func (NoBitmap) Add([]byte)             {}
func (NoBitmap) Contains([]byte) bool   { return true }
func (NoBitmap) ToBytes() ([]byte, error) { return nil, nil }

// BloomFilter is a Bloom backed by bits-and-blooms/bloom/v3, the same
// family of probabilistic filter pebble and other LSM engines in the
// pack reach for.
type BloomFilter struct {
	filter *bloom.BloomFilter
}

// NewBloomFilter sizes a filter for n expected entries at false-positive
// rate fp.
func NewBloomFilter(n uint, fp float64) *BloomFilter {
	return &BloomFilter{filter: bloom.NewWithEstimates(n, fp)}
}

func (b *BloomFilter) Add(key []byte) { b.filter.Add(key) }

func (b *BloomFilter) Contains(key []byte) bool { return b.filter.Test(key) }

// ToBytes serializes the filter's bitset for the index's meta trailer.
func (b *BloomFilter) ToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.filter.WriteTo(&buf); err != nil {
		return nil, errors.WrapIO("serialize bloom filter", err)
	}
	return buf.Bytes(), nil
}

// BloomFromBytes reconstructs a BloomFilter previously serialized with
// ToBytes. An empty/nil data (from NoBitmap) yields a nil filter and the
// caller should fall back to NoBitmap.
func BloomFromBytes(data []byte) (*BloomFilter, error) {
	if len(data) == 0 {
		return nil, nil
	}
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, errors.WrapIO("deserialize bloom filter", err)
	}
	return &BloomFilter{filter: f}, nil
}

// Cap reports the filter's underlying bitset size in bits, using
// bits-and-blooms/bitset directly to inspect the capacity bloom/v3
// allocated rather than re-deriving it from n/fp.
func (b *BloomFilter) Cap() uint {
	return bitsetLen(b.filter.BitSet())
}

func bitsetLen(bs *bitset.BitSet) uint { return bs.Len() }
