package robt

import (
	"bytes"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/errors"
	"github.com/nilstore/rdms/pkg/types"
)

// Index is a handle to an opened, immutable robt index: a read-only
// B-tree plus whatever value-log and bloom filter it was built with.
// Grounded on index.rs's Index<K,V,D>.
type Index[K types.Comparable, V any, D any] struct {
	dir     string
	name    string
	diff    db.Diff[V, D]
	stats   Stats
	appMeta []byte
	bitmap  Bloom
	reader  *Reader[K, V, D]
}

// Open reads name's meta trailer from dir and prepares it for reads.
func Open[K types.Comparable, V any, D any](dir, name string, diff db.Diff[V, D]) (*Index[K, V, D], error) {
	return OpenFile[K, V, D](ToIndexLocation(dir, name), diff)
}

// OpenFile is Open given the index file's path directly.
func OpenFile[K types.Comparable, V any, D any](indexLoc string, diff db.Diff[V, D]) (*Index[K, V, D], error) {
	f, err := os.Open(indexLoc)
	if err != nil {
		return nil, errors.WrapIO("open index file "+indexLoc, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.WrapIO("stat index file "+indexLoc, err)
	}
	size := info.Size()
	if size < 16 {
		return nil, &errors.InvalidFileError{Path: indexLoc, Msg: "file too small to hold a meta trailer"}
	}

	trailer := make([]byte, 16)
	if _, err := f.ReadAt(trailer, size-16); err != nil {
		return nil, errors.WrapIO("read index trailer", err)
	}
	m := beUint64(trailer[:8])
	origLen := beUint64(trailer[8:])
	if m == 0 || int64(m) > size || origLen > m {
		return nil, &errors.InvalidFileError{Path: indexLoc, Msg: "malformed meta trailer"}
	}

	metaBlock := make([]byte, m)
	if _, err := f.ReadAt(metaBlock, size-int64(m)); err != nil {
		return nil, errors.WrapIO("read meta block", err)
	}

	var items []metaItem
	if err := cbor.Unmarshal(metaBlock[:origLen], &items); err != nil {
		return nil, errors.WrapCbor("decode meta block", err)
	}
	if len(items) != 5 {
		return nil, &errors.InvalidFileError{Path: indexLoc, Msg: "meta block has the wrong item count"}
	}
	if !bytes.Equal(items[4].Bytes, RootMarker) {
		return nil, &errors.InvalidFileError{Path: indexLoc, Msg: "missing or mismatched root marker"}
	}

	var stats Stats
	if err := cbor.Unmarshal(items[1].Bytes, &stats); err != nil {
		return nil, errors.WrapCbor("decode stats", err)
	}

	var bitmap Bloom
	if bf, err := BloomFromBytes(items[2].Bytes); err != nil {
		return nil, err
	} else if bf != nil {
		bitmap = bf
	} else {
		bitmap = NoBitmap{}
	}

	dir := dirOf(indexLoc)
	reader, err := openReader[K, V, D](indexLoc, stats.VlogLocation, items[3].Root, stats.MBlockSize, stats.ZBlockSize)
	if err != nil {
		return nil, err
	}

	return &Index[K, V, D]{
		dir:     dir,
		name:    stats.Name,
		diff:    diff,
		stats:   stats,
		appMeta: items[0].Bytes,
		bitmap:  bitmap,
		reader:  reader,
	}, nil
}

func dirOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	return path[:i]
}

// TryClone opens a second, independent handle onto the same index file.
// index.rs's TryClone duplicates the open file descriptor directly; the
// simpler equivalent here is to reopen by path, which re-validates the
// trailer but costs nothing extra for a read-only file.
func (ix *Index[K, V, D]) TryClone() (*Index[K, V, D], error) {
	return Open[K, V, D](ix.dir, ix.name, ix.diff)
}

// SetCacheMetrics wires m to observe this index's block-cache hit/miss
// activity going forward.
func (ix *Index[K, V, D]) SetCacheMetrics(m CacheMetrics) { ix.reader.SetCacheMetrics(m) }

// Dump writes a depth-first walk of the whole block tree to w, one line
// per block or leaf entry visited. Operational visibility only; not
// part of the read/write contract. Grounded on original_source
// entry.rs's print.
func (ix *Index[K, V, D]) Dump(w io.Writer) error { return ix.reader.dump(w) }

func (ix *Index[K, V, D]) Get(key K) (*db.Entry[K, V, D], error) {
	if bk, ok := any(key).(types.BinaryKey); ok && !ix.bitmap.Contains(bk.Bytes()) {
		return nil, &errors.KeyNotFoundError{Key: keyString(key)}
	}
	return ix.reader.Get(key)
}

func (ix *Index[K, V, D]) GetVersions(key K) (*db.Entry[K, V, D], error) {
	if bk, ok := any(key).(types.BinaryKey); ok && !ix.bitmap.Contains(bk.Bytes()) {
		return nil, &errors.KeyNotFoundError{Key: keyString(key)}
	}
	return ix.reader.GetVersions(key)
}

// Iter walks the index ascending, optionally bounded by lo/hi (either
// may be nil for an open end).
func (ix *Index[K, V, D]) Iter(lo, hi *K) (*RIter[K, V, D], error) {
	return newRIter[K, V, D](ix.reader, false, false, lo, hi)
}

// IterVersions is Iter but resolves each entry's full delta chain.
func (ix *Index[K, V, D]) IterVersions(lo, hi *K) (*RIter[K, V, D], error) {
	return newRIter[K, V, D](ix.reader, false, true, lo, hi)
}

// Reverse walks the index descending.
func (ix *Index[K, V, D]) Reverse(lo, hi *K) (*RIter[K, V, D], error) {
	return newRIter[K, V, D](ix.reader, true, false, lo, hi)
}

// ReverseVersions is Reverse but resolves each entry's full delta chain.
func (ix *Index[K, V, D]) ReverseVersions(lo, hi *K) (*RIter[K, V, D], error) {
	return newRIter[K, V, D](ix.reader, true, true, lo, hi)
}

// riterSource adapts an RIter (which yields fully-versioned entries) to
// the Source interface Builder.BuildIndex expects, so Compact can feed
// this index's own contents through a fresh build.
type riterSource[K types.Comparable, V any, D any] struct {
	it *RIter[K, V, D]
}

func (s *riterSource[K, V, D]) Next() (*db.Entry[K, V, D], error) { return s.it.Next() }

// Compact rebuilds this index into a fresh one at newName, filtering
// every entry's version history through cutoff. The source index
// remains open and usable until the caller closes it.
func (ix *Index[K, V, D]) Compact(newName string, cutoff db.Cutoff, bitmap Bloom) (*Index[K, V, D], error) {
	it, err := ix.IterVersions(nil, nil)
	if err != nil {
		return nil, err
	}
	src := NewCompactScan[K, V, D](&riterSource[K, V, D]{it: it}, cutoff)

	config := ix.stats.ToConfig(ix.dir)
	config.Name = newName
	config.SetVlogLocation("")

	b, err := Initial[K, V, D](config, ix.diff, ix.appMeta)
	if err != nil {
		return nil, err
	}
	if bitmap == nil {
		bitmap = NoBitmap{}
	}
	minSeqno := ix.stats.Seqno
	return b.BuildIndex(src, bitmap, &minSeqno)
}

// Close releases the index's open file handles. The index must not be
// used afterwards.
func (ix *Index[K, V, D]) Close() error {
	if ix.reader == nil {
		return nil
	}
	return ix.reader.close()
}

// Purge removes the index and value-log files from disk, failing if
// any Reader still holds the index file open (itself included, call
// Close first).
func (ix *Index[K, V, D]) Purge() error {
	loc := ToIndexLocation(ix.dir, ix.name)
	if err := purgeFile(loc); err != nil {
		return err
	}
	if ix.stats.VlogLocation != "" {
		return purgeFile(ix.stats.VlogLocation)
	}
	return nil
}

// purgeFile takes a non-blocking exclusive lock on loc to confirm no
// other Reader has it open, then removes it. Grounded on index.rs's
// purge_file via fs2::FileExt::try_lock_exclusive.
func purgeFile(loc string) error {
	f, err := os.OpenFile(loc, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WrapIO("open for purge "+loc, err)
	}
	defer f.Close()

	if err := flockExclusiveNB(f); err != nil {
		return err
	}
	defer funlock(f)

	if err := os.Remove(loc); err != nil {
		return errors.WrapIO("remove "+loc, err)
	}
	return nil
}

// ToName is the index's name, as passed to Builder/Open.
func (ix *Index[K, V, D]) ToName() string { return ix.name }

// ToAppMetadata is the caller-supplied opaque metadata stored alongside
// the index at build time.
func (ix *Index[K, V, D]) ToAppMetadata() []byte { return ix.appMeta }

// ToStats is this index's persisted build configuration and counters.
func (ix *Index[K, V, D]) ToStats() Stats { return ix.stats }

// ToSeqno is the highest seqno any entry in this index carries.
func (ix *Index[K, V, D]) ToSeqno() uint64 { return ix.stats.Seqno }

// Len is the number of live (non-deleted) entries at build time.
func (ix *Index[K, V, D]) Len() uint64 { return ix.stats.NCount - ix.stats.NDeleted }

// IsEmpty reports whether the index holds no entries at all.
func (ix *Index[K, V, D]) IsEmpty() bool { return ix.stats.NCount == 0 }

// Footprint is the on-disk size of the index plus value-log files.
func (ix *Index[K, V, D]) Footprint() (int64, error) {
	total := int64(0)
	if fi, err := os.Stat(ToIndexLocation(ix.dir, ix.name)); err == nil {
		total += fi.Size()
	} else if !os.IsNotExist(err) {
		return 0, errors.WrapIO("stat index file", err)
	}
	if ix.stats.VlogLocation != "" {
		if fi, err := os.Stat(ix.stats.VlogLocation); err == nil {
			total += fi.Size()
		} else if !os.IsNotExist(err) {
			return 0, errors.WrapIO("stat vlog file", err)
		}
	}
	return total, nil
}

// Validate walks the whole index verifying entries come back in
// strictly ascending key order, catching build-time corruption early.
func (ix *Index[K, V, D]) Validate() error {
	it, err := ix.Iter(nil, nil)
	if err != nil {
		return err
	}
	var prev *K
	for {
		e, err := it.Next()
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		if prev != nil && e.Key.Compare(*prev) <= 0 {
			return &errors.FatalError{Msg: "robt: keys out of order: " + keyString(e.Key)}
		}
		k := e.Key
		prev = &k
	}
}
