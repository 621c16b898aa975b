package robt

import (
	"time"

	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/types"
)

// Source is the pre-sorted stream of records a Builder consumes. Next
// returns (nil, nil) at end of stream. No implementation here was
// retrieved from original_source/src/robt/scans.rs (not present in the
// pack), so its shape is rebuilt from mod.rs's description and from how
// build.rs's BuildZZ drives `iter.next()` / `iter.push()`.
type Source[K types.Comparable, V any, D any] interface {
	Next() (*db.Entry[K, V, D], error)
}

// SliceSource adapts a pre-sorted, already-in-memory slice to Source.
type SliceSource[K types.Comparable, V any, D any] struct {
	entries []*db.Entry[K, V, D]
	i       int
}

// NewSliceSource wraps entries, which callers must have already sorted
// ascending by key.
func NewSliceSource[K types.Comparable, V any, D any](entries []*db.Entry[K, V, D]) *SliceSource[K, V, D] {
	return &SliceSource[K, V, D]{entries: entries}
}

func (s *SliceSource[K, V, D]) Next() (*db.Entry[K, V, D], error) {
	if s.i >= len(s.entries) {
		return nil, nil
	}
	e := s.entries[s.i]
	s.i++
	return e, nil
}

// buildScan wraps a Source, counting entries/deletes/seqno as they pass
// through and supporting a one-entry push-back so BuildZZ can return an
// entry to the stream when it doesn't fit the block being filled.
type buildScan[K types.Comparable, V any, D any] struct {
	src     Source[K, V, D]
	pushed  *db.Entry[K, V, D]
	seqno   uint64
	nCount  uint64
	nDelete uint64
	start   time.Time
	epoch   int64
}

func newBuildScan[K types.Comparable, V any, D any](src Source[K, V, D], now time.Time) *buildScan[K, V, D] {
	return &buildScan[K, V, D]{src: src, start: now, epoch: now.Unix()}
}

func (s *buildScan[K, V, D]) next() (*db.Entry[K, V, D], error) {
	var e *db.Entry[K, V, D]
	var err error
	if s.pushed != nil {
		e, s.pushed = s.pushed, nil
	} else {
		e, err = s.src.Next()
	}
	if err != nil || e == nil {
		return nil, err
	}
	s.nCount++
	if e.IsDeleted() {
		s.nDelete++
	}
	if sq := e.ToSeqno(); sq > s.seqno {
		s.seqno = sq
	}
	return e, nil
}

func (s *buildScan[K, V, D]) push(e *db.Entry[K, V, D]) { s.pushed = e }

func (s *buildScan[K, V, D]) finish(now time.Time) (buildTimeNanos int64, seqno, nCount, nDelete uint64, epoch int64) {
	return now.Sub(s.start).Nanoseconds(), s.seqno, s.nCount, s.nDelete, s.epoch
}

// bitmappedScan decorates a buildScan, feeding every key that passes
// through into a Bloom bitmap, grounded on mod.rs's description of
// BitmappedScan composing with BuildScan ahead of the block builders.
type bitmappedScan[K types.Comparable, V any, D any] struct {
	inner  *buildScan[K, V, D]
	bitmap Bloom
}

func newBitmappedScan[K types.Comparable, V any, D any](inner *buildScan[K, V, D], bitmap Bloom) *bitmappedScan[K, V, D] {
	return &bitmappedScan[K, V, D]{inner: inner, bitmap: bitmap}
}

func (s *bitmappedScan[K, V, D]) next() (*db.Entry[K, V, D], error) {
	e, err := s.inner.next()
	if err != nil || e == nil {
		return e, err
	}
	if bk, ok := any(e.Key).(types.BinaryKey); ok {
		s.bitmap.Add(bk.Bytes())
	}
	return e, nil
}

func (s *bitmappedScan[K, V, D]) push(e *db.Entry[K, V, D]) { s.inner.push(e) }

// CompactScan filters a Source of full version histories through a
// db.Cutoff, dropping whatever Compact says to drop. Used to feed
// Index.Compact's rebuild pass.
type CompactScan[K types.Comparable, V any, D any] struct {
	src    Source[K, V, D]
	cutoff db.Cutoff
}

// NewCompactScan wraps src, applying cutoff to every entry it yields.
func NewCompactScan[K types.Comparable, V any, D any](src Source[K, V, D], cutoff db.Cutoff) *CompactScan[K, V, D] {
	return &CompactScan[K, V, D]{src: src, cutoff: cutoff}
}

func (s *CompactScan[K, V, D]) Next() (*db.Entry[K, V, D], error) {
	for {
		e, err := s.src.Next()
		if err != nil || e == nil {
			return e, err
		}
		if kept, ok := e.Compact(s.cutoff); ok {
			return kept, nil
		}
	}
}
