package robt

import (
	"bytes"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/errors"
	"github.com/nilstore/rdms/pkg/types"
)

// kind discriminates the three shapes an on-disk robt.Entry can take.
// Rust's original models this as an enum (MM/MZ/ZZ); Go encodes the same
// three shapes as one struct with a tag, which is what CBOR round-trips.
type kind uint8

const (
	kindMM kind = iota // intermediate block pointing at another m-block
	kindMZ             // intermediate block pointing at a z-block
	kindZZ             // leaf entry: the indexed key/value/deltas themselves
)

// Entry is the unit of storage inside both m-blocks and z-blocks. MM and
// MZ entries are index pointers: Key is the first key of the block Fpos
// points to. A ZZ entry carries the actual indexed record.
type Entry[K types.Comparable, V any, D any] struct {
	Kind   kind
	Key    K
	Fpos   uint64       `cbor:",omitempty"`
	Value  vvalue[V]    `cbor:",omitempty"`
	Deltas []vdelta[D]  `cbor:",omitempty"`
}

func newMM[K types.Comparable, V any, D any](key K, fpos uint64) Entry[K, V, D] {
	return Entry[K, V, D]{Kind: kindMM, Key: key, Fpos: fpos}
}

func newMZ[K types.Comparable, V any, D any](key K, fpos uint64) Entry[K, V, D] {
	return Entry[K, V, D]{Kind: kindMZ, Key: key, Fpos: fpos}
}

// fromDBEntry lifts an in-memory db.Entry into its ZZ on-disk shape. The
// returned entry's value and deltas still hold their native payload;
// intoReference is what moves deltas (and optionally the value) into
// the value-log.
func fromDBEntry[K types.Comparable, V any, D any](e *db.Entry[K, V, D]) Entry[K, V, D] {
	deltas := make([]vdelta[D], len(e.Deltas))
	for i, d := range e.Deltas {
		deltas[i] = vdelta[D]{Seqno: d.Seqno, Deleted: d.Deleted, Native: d.Delta}
	}
	return Entry[K, V, D]{
		Kind:   kindZZ,
		Key:    e.Key,
		Value:  vvalue[V]{Seqno: e.Value.Seqno, Deleted: e.Value.Deleted, Native: e.Value.Value},
		Deltas: deltas,
	}
}

// toDBEntry lowers a native (fully resolved) ZZ entry back to a db.Entry.
// Calling it on an MM/MZ entry is a programming error: those never carry
// an indexed record.
func (e Entry[K, V, D]) toDBEntry() (*db.Entry[K, V, D], error) {
	if e.Kind != kindZZ {
		return nil, &errors.FatalError{Msg: "robt: non-leaf entry is not a record"}
	}
	deltas := make([]db.Delta[D], len(e.Deltas))
	for i, d := range e.Deltas {
		deltas[i] = db.Delta[D]{Delta: d.Native, Seqno: d.Seqno, Deleted: d.Deleted}
	}
	return &db.Entry[K, V, D]{
		Key:    e.Key,
		Value:  db.Value[V]{Value: e.Value.Native, Seqno: e.Value.Seqno, Deleted: e.Value.Deleted},
		Deltas: deltas,
	}, nil
}

func (e Entry[K, V, D]) drainDeltas() Entry[K, V, D] {
	if e.Kind != kindZZ {
		return e
	}
	e.Deltas = nil
	return e
}

func (e Entry[K, V, D]) asKey() K { return e.Key }

func (e Entry[K, V, D]) toSeqno() (uint64, bool) {
	if e.Kind != kindZZ {
		return 0, false
	}
	return e.Value.Seqno, true
}

func (e Entry[K, V, D]) isDeleted() (bool, bool) {
	if e.Kind != kindZZ {
		return false, false
	}
	return e.Value.Deleted, true
}

func (e Entry[K, V, D]) isZBlock() bool { return e.Kind == kindZZ }

// intoReference serializes e's value and deltas into vblock (a growing
// value-log block) and returns the updated entry carrying Ref pointers
// instead of inline native payloads. Deltas always move to the vlog;
// the value only does when vlogOk is true. MM/MZ entries pass through
// untouched.
func (e Entry[K, V, D]) intoReference(vfpos uint64, vlogOk bool, vblock *[]byte) (Entry[K, V, D], error) {
	if e.Kind != kindZZ {
		return e, nil
	}

	value := e.Value
	if vlogOk && !value.Deleted {
		var err error
		value, err = e.Value.intoReference(vfpos, vblock)
		if err != nil {
			return e, err
		}
		vfpos = value.Ref.Fpos + value.Ref.Length
	}

	deltas := make([]vdelta[D], len(e.Deltas))
	for i, d := range e.Deltas {
		nd, err := d.intoReference(vfpos, vblock)
		if err != nil {
			return e, err
		}
		deltas[i] = nd
		vfpos = nd.Ref.Fpos + nd.Ref.Length
	}

	return Entry[K, V, D]{Kind: kindZZ, Key: e.Key, Value: value, Deltas: deltas}, nil
}

// intoNative resolves every vlog reference in e against vlog, returning
// a fully in-memory entry. When versions is false, deltas are dropped
// rather than resolved, saving the extra reads.
func (e Entry[K, V, D]) intoNative(vlog io.ReaderAt, versions bool) (Entry[K, V, D], error) {
	if e.Kind != kindZZ {
		return e, nil
	}
	value, err := e.Value.intoNative(vlog)
	if err != nil {
		return e, err
	}
	if !versions {
		return Entry[K, V, D]{Kind: kindZZ, Key: e.Key, Value: value}, nil
	}
	deltas := make([]vdelta[D], len(e.Deltas))
	for i, d := range e.Deltas {
		native, err := d.intoNative(vlog)
		if err != nil {
			return e, err
		}
		deltas[i] = vdelta[D]{Seqno: d.Seqno, Deleted: d.Deleted, Native: native}
	}
	return Entry[K, V, D]{Kind: kindZZ, Key: e.Key, Value: value, Deltas: deltas}, nil
}

// marshalBlockEntries writes entries as a CBOR indefinite-length array
// terminated by the break byte, per spec.md's block content layout,
// rather than cbor.Marshal's default definite-length encoding.
func marshalBlockEntries[K types.Comparable, V any, D any](entries []Entry[K, V, D]) ([]byte, error) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	if err := enc.StartIndefiniteArray(); err != nil {
		return nil, errors.WrapCbor("encode block", err)
	}
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, errors.WrapCbor("encode block", err)
		}
	}
	if err := enc.EndIndefinite(); err != nil {
		return nil, errors.WrapCbor("encode block", err)
	}
	return buf.Bytes(), nil
}

// unmarshalBlockEntries decodes a block written by marshalBlockEntries.
// block is a fixed-size buffer padBlock zero-padded out to the page size,
// so cbor.Unmarshal's strict single-value requirement would reject it on
// the trailing zero bytes; cbor.UnmarshalFirst decodes just the one
// indefinite-length array and ignores whatever padding follows it.
func unmarshalBlockEntries[K types.Comparable, V any, D any](block []byte) ([]Entry[K, V, D], error) {
	var entries []Entry[K, V, D]
	if _, err := cbor.UnmarshalFirst(block, &entries); err != nil {
		return nil, errors.WrapCbor("decode block", err)
	}
	return entries, nil
}
