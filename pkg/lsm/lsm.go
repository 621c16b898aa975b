// Package lsm merges two index levels into one logical get/iter surface.
// x is always the newer level (more recent mutations), y the older: a Get
// checks x first and only falls through to y on a miss; an iterator walks
// both cursors in lockstep, and when both levels hold the same key YIter
// keeps the entry with the higher seqno (x on a tie) while YIterVersions
// merges the two version chains. Grounded line-for-line on original_source's non-archive
// src/lsm.rs, the variant with fallible xmerge (spec.md's RIO-MODE-01
// OPEN-QUESTION decision) rather than the archived infallible-merge one.
package lsm

import (
	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/errors"
	"github.com/nilstore/rdms/pkg/types"
)

// Getter is the shape both llrb.Tree.Get/GetVersions and robt.Index.Get/
// GetVersions already have; y_get and y_get_versions compose two of them
// into one fallback lookup without caring which concrete index backs
// either side.
type Getter[K types.Comparable, V any, D any] func(K) (*db.Entry[K, V, D], error)

// IndexIter is the shape robt.RIter exposes, and llrb.Cursor takes on
// through NewCursorIter: Next returns (nil, nil) at end of stream. YIter/YIterVersions merge two of
// these, so a caller can fold an LLRB write buffer and any number of
// ROBT snapshots into one ordered walk without the merge logic knowing
// which kind of index produced either side.
type IndexIter[K types.Comparable, V any, D any] interface {
	Next() (*db.Entry[K, V, D], error)
}

// cursorIter adapts llrb.Cursor's error-free Next to IndexIter, since
// an in-memory LLRB walk can never fail mid-iteration.
type cursorIter[K types.Comparable, V any, D any] struct {
	next func() *db.Entry[K, V, D]
}

// NewCursorIter wraps an llrb.Cursor-shaped Next function as an
// IndexIter so it can sit on either side of YIter/YIterVersions.
func NewCursorIter[K types.Comparable, V any, D any](next func() *db.Entry[K, V, D]) IndexIter[K, V, D] {
	return &cursorIter[K, V, D]{next: next}
}

func (c *cursorIter[K, V, D]) Next() (*db.Entry[K, V, D], error) { return c.next(), nil }

// YGet composes x and y into one Getter: x is tried first, and y is only
// consulted on a KeyNotFoundError from x. Grounded on lsm.rs's y_get.
func YGet[K types.Comparable, V any, D any](x, y Getter[K, V, D]) Getter[K, V, D] {
	return func(key K) (*db.Entry[K, V, D], error) {
		e, err := x(key)
		if err == nil {
			return e, nil
		}
		if _, ok := err.(*errors.KeyNotFoundError); ok {
			return y(key)
		}
		return nil, err
	}
}

// YGetVersions is YGet but merges x's and y's version chains when both
// hold the key, instead of returning x's entry outright. Grounded on
// lsm.rs's y_get_versions; the TODO note in the original ("xmerge
// assumes mutations held by each index are mutually exclusive") carries
// over unchanged. Callers must not feed two levels that both claim to
// own the same seqno for a key.
func YGetVersions[K types.Comparable, V any, D any](x, y Getter[K, V, D], diff db.Diff[V, D]) Getter[K, V, D] {
	return func(key K) (*db.Entry[K, V, D], error) {
		ye, yerr := y(key)
		switch {
		case yerr == nil:
			xe, xerr := x(key)
			switch {
			case xerr == nil:
				return xe.Merge(ye, diff)
			case isKeyNotFound(xerr):
				return ye, nil
			default:
				return nil, xerr
			}
		case isKeyNotFound(yerr):
			return x(key)
		default:
			return nil, yerr
		}
	}
}

func isKeyNotFound(err error) bool {
	_, ok := err.(*errors.KeyNotFoundError)
	return ok
}

// yIter is the shared machinery behind YIter and YIterVersions: it keeps
// one buffered entry from each side and, on every Next, yields whichever
// side is behind in key order, advancing only that side. A tie is
// resolved by resolve, which differs between the plain and
// versions-merging variants.
type yIter[K types.Comparable, V any, D any] struct {
	x, y       IndexIter[K, V, D]
	xe, ye     *db.Entry[K, V, D]
	xSet, ySet bool
	reverse    bool
	resolve    func(xe, ye *db.Entry[K, V, D]) (*db.Entry[K, V, D], error)
}

func newYIter[K types.Comparable, V any, D any](
	x, y IndexIter[K, V, D],
	reverse bool,
	resolve func(xe, ye *db.Entry[K, V, D]) (*db.Entry[K, V, D], error),
) (*yIter[K, V, D], error) {
	it := &yIter[K, V, D]{x: x, y: y, reverse: reverse, resolve: resolve}
	var err error
	if it.xe, err = x.Next(); err != nil {
		return nil, err
	}
	it.xSet = true
	if it.ye, err = y.Next(); err != nil {
		return nil, err
	}
	it.ySet = true
	return it, nil
}

func (it *yIter[K, V, D]) Next() (*db.Entry[K, V, D], error) {
	switch {
	case it.xe != nil && it.ye != nil:
		cmp := it.xe.Key.Compare(it.ye.Key)
		if it.reverse {
			cmp = -cmp
		}
		switch {
		case cmp < 0:
			out := it.xe
			var err error
			if it.xe, err = it.x.Next(); err != nil {
				return nil, err
			}
			return out, nil
		case cmp > 0:
			out := it.ye
			var err error
			if it.ye, err = it.y.Next(); err != nil {
				return nil, err
			}
			return out, nil
		default:
			out, err := it.resolve(it.xe, it.ye)
			if err != nil {
				return nil, err
			}
			if it.xe, err = it.x.Next(); err != nil {
				return nil, err
			}
			if it.ye, err = it.y.Next(); err != nil {
				return nil, err
			}
			return out, nil
		}

	case it.xe != nil:
		out := it.xe
		var err error
		if it.xe, err = it.x.Next(); err != nil {
			return nil, err
		}
		return out, nil

	case it.ye != nil:
		out := it.ye
		var err error
		if it.ye, err = it.y.Next(); err != nil {
			return nil, err
		}
		return out, nil

	default:
		return nil, nil
	}
}

// YIter merges x (newer) and y (older) ascending or descending, resolving
// same-key collisions by seqno: whichever side's entry has the higher
// seqno wins, ties going to x. Grounded on lsm.rs's YIter, whose next()
// does the same xe.to_seqno().cmp(&ye.to_seqno()) comparison rather than
// always preferring x outright.
func YIter[K types.Comparable, V any, D any](x, y IndexIter[K, V, D], reverse bool) (IndexIter[K, V, D], error) {
	return newYIter[K, V, D](x, y, reverse, func(xe, ye *db.Entry[K, V, D]) (*db.Entry[K, V, D], error) {
		if ye.ToSeqno() > xe.ToSeqno() {
			return ye, nil
		}
		return xe, nil
	})
}

// YIterVersions is YIter but merges the two sides' version chains on a
// same-key collision instead of discarding y's history outright.
// Grounded on lsm.rs's YIterVersions; carries the same TODO note as
// YGetVersions about disjoint seqnos between levels.
func YIterVersions[K types.Comparable, V any, D any](x, y IndexIter[K, V, D], reverse bool, diff db.Diff[V, D]) (IndexIter[K, V, D], error) {
	return newYIter[K, V, D](x, y, reverse, func(xe, ye *db.Entry[K, V, D]) (*db.Entry[K, V, D], error) {
		return xe.Merge(ye, diff)
	})
}
