package robt

import (
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/nilstore/rdms/pkg/errors"
)

// vref is a file-position/length pointer into the value-log, written
// ahead of the bytes it points to so a reader can seek straight to them.
// Fpos always points past a record's on-disk length header, straight at
// its payload.
type vref struct {
	Fpos   uint64
	Length uint64
}

// vlogHeaderSize is the width of the big-endian length prefix spec.md's
// value-log layout puts ahead of every record's payload.
const vlogHeaderSize = 8

// appendVlogRecord writes payload to vblock as a {length: u64_be,
// payload} record, per spec.md's value-log file layout.
func appendVlogRecord(vblock *[]byte, payload []byte) {
	var hdr [vlogHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(payload)))
	*vblock = append(*vblock, hdr[:]...)
	*vblock = append(*vblock, payload...)
}

// vvalue is the z-block's representation of db.Value[V]: either the
// value is inline (Ref == nil) or it has been offloaded to the
// value-log and Ref locates it there.
type vvalue[V any] struct {
	Seqno   uint64
	Deleted bool
	Native  V     `cbor:",omitempty"`
	Ref     *vref `cbor:",omitempty"`
}

// vdelta is the value-log-only representation of db.Delta[D]: deltas
// are never stored inline, so Ref is always non-nil once a vdelta has
// been flushed. Native only holds a payload transiently, between
// fromDBEntry and the intoReference call that moves it to the vlog.
type vdelta[D any] struct {
	Seqno   uint64
	Deleted bool
	Native  D     `cbor:"-"`
	Ref     *vref `cbor:",omitempty"`
}

func vvalueFromNative[V any](seqno uint64, deleted bool, native V) vvalue[V] {
	return vvalue[V]{Seqno: seqno, Deleted: deleted, Native: native}
}

// intoReference cbor-encodes v's native payload, appends it to vblock at
// offset vfpos, and returns a copy of v with Native cleared and Ref set.
// Deleted values and values not bound for the vlog are left untouched.
func (v vvalue[V]) intoReference(vfpos uint64, vblock *[]byte) (vvalue[V], error) {
	if v.Deleted {
		return v, nil
	}
	data, err := cbor.Marshal(v.Native)
	if err != nil {
		return v, errors.WrapCbor("encode vlog value", err)
	}
	appendVlogRecord(vblock, data)
	var zero V
	return vvalue[V]{
		Seqno:   v.Seqno,
		Deleted: v.Deleted,
		Native:  zero,
		Ref:     &vref{Fpos: vfpos + vlogHeaderSize, Length: uint64(len(data))},
	}, nil
}

// intoNative resolves v's Ref against the value-log file, returning a
// copy with Native populated and Ref cleared. A value with no Ref is
// already native and is returned unchanged.
func (v vvalue[V]) intoNative(vlog io.ReaderAt) (vvalue[V], error) {
	if v.Ref == nil {
		return v, nil
	}
	buf := make([]byte, v.Ref.Length)
	if _, err := vlog.ReadAt(buf, int64(v.Ref.Fpos)); err != nil {
		return v, errors.WrapIO("read vlog value", err)
	}
	var native V
	if err := cbor.Unmarshal(buf, &native); err != nil {
		return v, errors.WrapCbor("decode vlog value", err)
	}
	return vvalue[V]{Seqno: v.Seqno, Deleted: v.Deleted, Native: native}, nil
}

func (d vdelta[D]) intoReference(vfpos uint64, vblock *[]byte) (vdelta[D], error) {
	data, err := cbor.Marshal(d.Native)
	if err != nil {
		return d, errors.WrapCbor("encode vlog delta", err)
	}
	appendVlogRecord(vblock, data)
	var zero D
	return vdelta[D]{
		Seqno:   d.Seqno,
		Deleted: d.Deleted,
		Native:  zero,
		Ref:     &vref{Fpos: vfpos + vlogHeaderSize, Length: uint64(len(data))},
	}, nil
}

func (d vdelta[D]) intoNative(vlog io.ReaderAt) (native D, err error) {
	if d.Ref == nil {
		return native, nil
	}
	buf := make([]byte, d.Ref.Length)
	if _, err = vlog.ReadAt(buf, int64(d.Ref.Fpos)); err != nil {
		return native, errors.WrapIO("read vlog delta", err)
	}
	if err = cbor.Unmarshal(buf, &native); err != nil {
		return native, errors.WrapCbor("decode vlog delta", err)
	}
	return native, nil
}

// beUint64 and putBeUint64 are the two halves of the index file's
// trailer encoding, shared by the meta-block writer and the index
// opener.
func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
func putBeUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
