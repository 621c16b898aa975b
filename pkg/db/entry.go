// Package db defines the versioned record type shared by every index in
// this module: LLRB, ROBT and the LSM merge all read and write Entry
// values, never raw key/value pairs.
package db

import (
	"sort"

	"github.com/nilstore/rdms/pkg/errors"
	"github.com/nilstore/rdms/pkg/types"
)

// Entry is the unit of indexing: a key, its current value, and an ordered
// chain of deltas reconstructing older versions. Deltas are stored
// newest-older-version first: deltas[0] reconstructs the version
// immediately before the current one, deltas[len-1] the oldest retained
// version. For any i, value.Seqno > deltas[0].Seqno > ... > deltas[n-1].Seqno.
type Entry[K types.Comparable, V any, D any] struct {
	Key    K
	Value  Value[V]
	Deltas []Delta[D]
}

// NewEntry creates an entry with a single live version.
func NewEntry[K types.Comparable, V any, D any](key K, value V, seqno uint64) *Entry[K, V, D] {
	return &Entry[K, V, D]{Key: key, Value: Upsert(value, seqno)}
}

// NewDeletedEntry creates an entry whose only version is a tombstone.
func NewDeletedEntry[K types.Comparable, V any, D any](key K, seqno uint64) *Entry[K, V, D] {
	return &Entry[K, V, D]{Key: key, Value: Deleted[V](seqno)}
}

// FromValues rebuilds an entry from its full version history. values must
// be sorted ascending by seqno, oldest first, and non-empty.
func FromValues[K types.Comparable, V any, D any](key K, values []Value[V], diff Diff[V, D]) (*Entry[K, V, D], error) {
	if len(values) == 0 {
		return nil, &errors.InvalidInputError{Msg: "empty set of values for db.Entry"}
	}

	first := values[0]
	var entry *Entry[K, V, D]
	if first.Deleted {
		entry = NewDeletedEntry[K, V, D](key, first.Seqno)
	} else {
		entry = NewEntry[K, V, D](key, first.Value, first.Seqno)
	}
	for _, v := range values[1:] {
		if v.Deleted {
			entry.Delete(v.Seqno, diff)
		} else {
			entry.Insert(v.Value, v.Seqno, diff)
		}
	}
	return entry, nil
}

// Insert records a newer live version, converting the current version into
// a delta at the front of the chain.
func (e *Entry[K, V, D]) Insert(value V, seqno uint64, diff Diff[V, D]) {
	var delta Delta[D]
	if e.Value.Deleted {
		delta = Delta[D]{Seqno: e.Value.Seqno, Deleted: true}
	} else {
		delta = Delta[D]{Delta: diff.Diff(value, e.Value.Value), Seqno: e.Value.Seqno}
	}
	e.Value = Upsert(value, seqno)
	e.Deltas = prepend(e.Deltas, delta)
}

// Delete records a newer tombstone, converting the current version into a
// delta at the front of the chain. Back-to-back deletes are not
// de-duplicated: each call advances seqno and appends a Delete delta.
func (e *Entry[K, V, D]) Delete(seqno uint64, diff Diff[V, D]) {
	var delta Delta[D]
	if e.Value.Deleted {
		delta = Delta[D]{Seqno: e.Value.Seqno, Deleted: true}
	} else {
		delta = Delta[D]{Delta: diff.ValueToDelta(e.Value.Value), Seqno: e.Value.Seqno}
	}
	e.Value = Deleted[V](seqno)
	e.Deltas = prepend(e.Deltas, delta)
}

func prepend[D any](deltas []Delta[D], delta Delta[D]) []Delta[D] {
	out := make([]Delta[D], len(deltas)+1)
	out[0] = delta
	copy(out[1:], deltas)
	return out
}

// DrainDeltas discards all version history, keeping only the latest value.
func (e *Entry[K, V, D]) DrainDeltas() { e.Deltas = nil }

// ToSeqno returns the seqno of the current version.
func (e *Entry[K, V, D]) ToSeqno() uint64 { return e.Value.Seqno }

// ToKey returns the entry's key.
func (e *Entry[K, V, D]) ToKey() K { return e.Key }

// ToValue returns the current value and true, or the zero value and false
// if the entry is currently deleted.
func (e *Entry[K, V, D]) ToValue() (V, bool) {
	if e.Value.Deleted {
		var zero V
		return zero, false
	}
	return e.Value.Value, true
}

// IsDeleted reports whether the current version is a tombstone.
func (e *Entry[K, V, D]) IsDeleted() bool { return e.Value.Deleted }

// Clone returns a deep-enough copy: the Deltas slice is copied so mutating
// the clone never aliases the original's history.
func (e *Entry[K, V, D]) Clone() *Entry[K, V, D] {
	clone := &Entry[K, V, D]{Key: e.Key, Value: e.Value}
	if len(e.Deltas) > 0 {
		clone.Deltas = append([]Delta[D](nil), e.Deltas...)
	}
	return clone
}

// ToValues reconstructs every retained version, oldest first, newest last.
func (e *Entry[K, V, D]) ToValues(diff Diff[V, D]) []Value[V] {
	values := make([]Value[V], 0, len(e.Deltas)+1)
	values = append(values, e.Value)

	val, hasVal := e.ToValue()
	for _, d := range e.Deltas { // newest-older-version first
		var old V
		var ok bool
		switch {
		case hasVal && !d.Deleted:
			old, ok = diff.Merge(val, d.Delta), true
		case !hasVal && !d.Deleted:
			old, ok = diff.DeltaToValue(d.Delta), true
		default:
			ok = false
		}
		if ok {
			values = append(values, Upsert(old, d.Seqno))
		} else {
			values = append(values, Deleted[V](d.Seqno))
		}
		val, hasVal = old, ok
	}

	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return values
}

// Contains reports whether every version present in other is also present
// in the receiver.
func (e *Entry[K, V, D]) Contains(other *Entry[K, V, D], diff Diff[V, D], equal func(a, b V) bool) bool {
	values := e.ToValues(diff)
	for _, ov := range other.ToValues(diff) {
		found := false
		for _, v := range values {
			if v.Seqno == ov.Seqno && v.Deleted == ov.Deleted && (v.Deleted || equal(v.Value, ov.Value)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Merge interleaves other's version chain into the receiver's by seqno,
// returning a new entry. Keys must match or the receiver is returned
// unchanged (cloned). Callers must ensure the two chains cover disjoint
// seqnos.
func (e *Entry[K, V, D]) Merge(other *Entry[K, V, D], diff Diff[V, D]) (*Entry[K, V, D], error) {
	if e.Key.Compare(other.Key) != 0 {
		return e.Clone(), nil
	}

	values := e.ToValues(diff)
	if len(values) == 0 {
		return other.Clone(), nil
	}
	values = append(values, other.ToValues(diff)...)
	sort.Slice(values, func(i, j int) bool { return values[i].Seqno < values[j].Seqno })

	return FromValues[K, V, D](e.Key, values, diff)
}

// Compact trims version history per cutoff. It returns (nil, false) when
// the whole entry should be dropped.
func (e *Entry[K, V, D]) Compact(cutoff Cutoff) (*Entry[K, V, D], bool) {
	valSeqno, deleted := e.Value.Seqno, e.Value.Deleted

	var bound Bound
	switch cutoff.Kind {
	case CutoffMono:
		if deleted {
			return nil, false
		}
		e.Deltas = nil
		return e, true

	case CutoffTombstone:
		if !deleted {
			return e, true
		}
		switch cutoff.Bound.Kind {
		case Included:
			if valSeqno <= cutoff.Bound.Value {
				return nil, false
			}
		case Excluded:
			if valSeqno < cutoff.Bound.Value {
				return nil, false
			}
		case Unbounded:
			return nil, false
		}
		return e, true

	case CutoffLsm:
		bound = cutoff.Bound
	}

	// bound at the minimum seqno (0) is a no-op: keep everything untouched.
	if bound.Value == 0 && (bound.Kind == Included || bound.Kind == Excluded) {
		return e, true
	}

	switch bound.Kind {
	case Included:
		if valSeqno <= bound.Value {
			return nil, false
		}
	case Excluded:
		if valSeqno < bound.Value {
			return nil, false
		}
	case Unbounded:
		return nil, false
	}

	kept := make([]Delta[D], 0, len(e.Deltas))
	for _, d := range e.Deltas {
		var drop bool
		switch bound.Kind {
		case Included:
			drop = d.Seqno <= bound.Value
		case Excluded:
			drop = d.Seqno < bound.Value
		}
		if !drop {
			kept = append(kept, d)
		}
	}
	e.Deltas = kept
	return e, true
}
