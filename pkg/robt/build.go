package robt

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/errors"
	"github.com/nilstore/rdms/pkg/types"
)

// entryScan is implemented by buildScan and bitmappedScan: whichever one
// feeds the z-block builder, per-entry stats/bitmap bookkeeping happens
// on the way through.
type entryScan[K types.Comparable, V any, D any] interface {
	next() (*db.Entry[K, V, D], error)
	push(*db.Entry[K, V, D])
}

// ptrSource is implemented by buildZZ, buildMZ and buildMM alike: every
// level of the tree hands the level above it a stream of (first-key,
// block-fpos) pairs.
type ptrSource[K types.Comparable] interface {
	Next() (K, uint64, bool, error)
}

type pendingPtr[K types.Comparable] struct {
	key  K
	fpos uint64
}

// buildZZ packs leaf entries into z-blocks, optionally offloading
// values and deltas to the value-log. Grounded on build.rs's BuildZZ.
type buildZZ[K types.Comparable, V any, D any] struct {
	zBlockSize  int
	valueInVlog bool
	deltaOk     bool
	iflush      *Flusher
	vflush      *Flusher
	scan        entryScan[K, V, D]
}

func (b *buildZZ[K, V, D]) Next() (K, uint64, bool, error) {
	var zeroK K
	limit := b.zBlockSize - 1

	var entries []Entry[K, V, D]
	zlen := 0
	var vblock []byte
	var firstKey K
	haveFirst := false

	for {
		e, err := b.scan.next()
		if err != nil {
			return zeroK, 0, false, err
		}
		if e == nil {
			if haveFirst {
				break
			}
			return zeroK, 0, false, nil
		}
		if !b.deltaOk {
			e.DrainDeltas()
		}
		if !haveFirst {
			firstKey, haveFirst = e.Key, true
		}

		vfpos := b.vflush.ToFpos() + uint64(len(vblock))
		re, err := fromDBEntry[K, V, D](e).intoReference(vfpos, b.valueInVlog, &vblock)
		if err != nil {
			return zeroK, 0, false, err
		}

		ibytes, err := marshalOneEntry(re)
		if err != nil {
			return zeroK, 0, false, err
		}
		if zlen+len(ibytes) > limit {
			b.scan.push(e)
			break
		}
		entries = append(entries, re)
		zlen += len(ibytes)
	}

	block, err := marshalBlockEntries(entries)
	if err != nil {
		return zeroK, 0, false, err
	}
	block = padBlock(block, b.zBlockSize)

	fpos := b.iflush.ToFpos()
	if err := b.vflush.Flush(vblock); err != nil {
		return zeroK, 0, false, err
	}
	if err := b.iflush.Flush(block); err != nil {
		return zeroK, 0, false, err
	}
	return firstKey, fpos, true, nil
}

// buildMZ packs MZ pointer entries, each referencing one z-block, into
// m-blocks. Grounded on build.rs's BuildMZ.
type buildMZ[K types.Comparable, V any, D any] struct {
	mBlockSize int
	iflush     *Flusher
	src        *buildZZ[K, V, D]
	pending    *pendingPtr[K]
}

func (b *buildMZ[K, V, D]) Next() (K, uint64, bool, error) {
	return buildMBlock[K, V, D](b.mBlockSize, b.iflush, &b.pending, func() (K, uint64, bool, error) {
		return b.src.Next()
	}, newMZ[K, V, D])
}

// buildMM packs MM pointer entries, each referencing either another
// m-block or the level below, into the next m-block up. Grounded on
// build.rs's BuildMM, including its single-child collapse: a level that
// accumulated only one pointer is not flushed as its own block; the
// child's own fpos is passed straight through.
type buildMM[K types.Comparable, V any, D any] struct {
	mBlockSize int
	iflush     *Flusher
	src        ptrSource[K]
	pending    *pendingPtr[K]
}

func (b *buildMM[K, V, D]) Next() (K, uint64, bool, error) {
	return buildMBlockCollapsing[K, V, D](b.mBlockSize, b.iflush, &b.pending, b.src.Next)
}

// buildMBlock is the shared MZ/MM block-packing loop: drain next (key,
// fpos) pairs into entries of the given shape until the block is full,
// then flush unconditionally.
func buildMBlock[K types.Comparable, V any, D any](
	mBlockSize int,
	iflush *Flusher,
	pending **pendingPtr[K],
	next func() (K, uint64, bool, error),
	makeEntry func(K, uint64) Entry[K, V, D],
) (K, uint64, bool, error) {
	var zeroK K
	limit := mBlockSize - 1

	var entries []Entry[K, V, D]
	mlen := 0
	var firstKey K
	haveFirst := false

	for {
		key, fpos, ok, err := takeNext(pending, next)
		if err != nil {
			return zeroK, 0, false, err
		}
		if !ok {
			if haveFirst {
				break
			}
			return zeroK, 0, false, nil
		}
		if !haveFirst {
			firstKey, haveFirst = key, true
		}

		e := makeEntry(key, fpos)
		ibytes, err := marshalOneEntry(e)
		if err != nil {
			return zeroK, 0, false, err
		}
		if mlen+len(ibytes) > limit {
			*pending = &pendingPtr[K]{key: key, fpos: fpos}
			break
		}
		entries = append(entries, e)
		mlen += len(ibytes)
	}

	block, err := marshalBlockEntries(entries)
	if err != nil {
		return zeroK, 0, false, err
	}
	block = padBlock(block, mBlockSize)

	fpos := iflush.ToFpos()
	if err := iflush.Flush(block); err != nil {
		return zeroK, 0, false, err
	}
	return firstKey, fpos, true, nil
}

// buildMBlockCollapsing is buildMBlock specialized for MM entries, with
// the single-child collapse applied: when only one pointer was
// accumulated, its own fpos is returned unflushed instead of wrapping
// it in a new one-entry block.
func buildMBlockCollapsing[K types.Comparable, V any, D any](
	mBlockSize int,
	iflush *Flusher,
	pending **pendingPtr[K],
	next func() (K, uint64, bool, error),
) (K, uint64, bool, error) {
	var zeroK K
	limit := mBlockSize - 1

	var entries []Entry[K, V, D]
	mlen := 0
	var firstKey K
	haveFirst := false
	n := 0
	var currFpos uint64

	for {
		key, fpos, ok, err := takeNext(pending, next)
		if err != nil {
			return zeroK, 0, false, err
		}
		if !ok {
			if haveFirst {
				break
			}
			return zeroK, 0, false, nil
		}
		currFpos = fpos
		n++
		if !haveFirst {
			firstKey, haveFirst = key, true
		}

		e := newMM[K, V, D](key, fpos)
		ibytes, err := marshalOneEntry(e)
		if err != nil {
			return zeroK, 0, false, err
		}
		if mlen+len(ibytes) > limit {
			*pending = &pendingPtr[K]{key: key, fpos: fpos}
			break
		}
		entries = append(entries, e)
		mlen += len(ibytes)
	}

	if n > 1 {
		block, err := marshalBlockEntries(entries)
		if err != nil {
			return zeroK, 0, false, err
		}
		block = padBlock(block, mBlockSize)
		currFpos = iflush.ToFpos()
		if err := iflush.Flush(block); err != nil {
			return zeroK, 0, false, err
		}
	}
	return firstKey, currFpos, true, nil
}

func takeNext[K types.Comparable](pending **pendingPtr[K], next func() (K, uint64, bool, error)) (K, uint64, bool, error) {
	if *pending != nil {
		p := *pending
		*pending = nil
		return p.key, p.fpos, true, nil
	}
	return next()
}

// Builder drives a from-scratch or incremental build of a robt Index
// from a pre-sorted Source. Grounded on index.rs's Builder.
type Builder[K types.Comparable, V any, D any] struct {
	config  Config
	diff    db.Diff[V, D]
	iflush  *Flusher
	vflush  *Flusher
	appMeta []byte
	stats   Stats
	root    *uint64
}

// Initial starts a fresh build: a new index file and, if configured, a
// new value-log.
func Initial[K types.Comparable, V any, D any](config Config, diff db.Diff[V, D], appMeta []byte) (*Builder[K, V, D], error) {
	config.SetVlogLocation("")
	return newBuilder[K, V, D](config, diff, appMeta, true)
}

// Incremental starts a build that appends new values/deltas to an
// existing value-log (inherited from an older index snapshot) while
// still writing a completely fresh index file.
func Incremental[K types.Comparable, V any, D any](config Config, diff db.Diff[V, D], appMeta []byte) (*Builder[K, V, D], error) {
	return newBuilder[K, V, D](config, diff, appMeta, false)
}

func newBuilder[K types.Comparable, V any, D any](config Config, diff db.Diff[V, D], appMeta []byte, freshVlog bool) (*Builder[K, V, D], error) {
	iflush, err := NewFlusher(config.ToIndexLocation(), true, config.FlushQueueSize, config.MBlockSize)
	if err != nil {
		return nil, err
	}

	var vflush *Flusher
	if loc := config.ToVlogLocation(); loc != "" {
		vflush, err = NewFlusher(loc, freshVlog, config.FlushQueueSize, config.VBlockSize)
		if err != nil {
			return nil, err
		}
	} else {
		vflush = EmptyFlusher()
	}

	stats := NewStats(config)
	stats.VlogLocation = vflush.Location()

	return &Builder[K, V, D]{config: config, diff: diff, iflush: iflush, vflush: vflush, appMeta: appMeta, stats: stats}, nil
}

// BuildIndex consumes src fully, builds the z/m/root blocks, populates
// bitmap along the way, and finally opens the resulting Index.
func (b *Builder[K, V, D]) BuildIndex(src Source[K, V, D], bitmap Bloom, minSeqno *uint64) (*Index[K, V, D], error) {
	now := time.Now()
	bscan := newBuildScan[K, V, D](src, now)
	bmscan := newBitmappedScan[K, V, D](bscan, bitmap)

	b.stats.NAbytes = b.vflush.ToFpos()

	root, err := b.buildTree(bmscan)
	if err != nil {
		return nil, err
	}
	b.root = root

	buildTime, seqno, nCount, nDelete, epoch := bscan.finish(time.Now())
	b.stats.BuildTime = buildTime
	b.stats.Seqno = seqno
	if minSeqno != nil && *minSeqno > seqno {
		b.stats.Seqno = *minSeqno
	}
	b.stats.NCount = nCount
	b.stats.NDeleted = nDelete
	b.stats.Epoch = epoch

	bitmapBytes, err := bitmap.ToBytes()
	if err != nil {
		return nil, err
	}
	if err := b.buildFlush(bitmapBytes); err != nil {
		return nil, err
	}

	return Open[K, V, D](b.config.Dir, b.config.Name, b.diff)
}

func (b *Builder[K, V, D]) buildTree(scan entryScan[K, V, D]) (*uint64, error) {
	zz := &buildZZ[K, V, D]{
		zBlockSize:  b.config.ZBlockSize,
		valueInVlog: b.config.ValueInVlog,
		deltaOk:     b.config.DeltaOk,
		iflush:      b.iflush,
		vflush:      b.vflush,
		scan:        scan,
	}
	mz := &buildMZ[K, V, D]{mBlockSize: b.config.MBlockSize, iflush: b.iflush, src: zz}

	var chain ptrSource[K] = mz
	for i := 0; i < MaxDepth; i++ {
		chain = &buildMM[K, V, D]{mBlockSize: b.config.MBlockSize, iflush: b.iflush, src: chain}
	}

	_, fpos, ok, err := chain.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &fpos, nil
}

func (b *Builder[K, V, D]) buildFlush(bitmapBytes []byte) error {
	block, err := b.metaBlock(bitmapBytes)
	if err != nil {
		return err
	}
	if err := b.iflush.Flush(block); err != nil {
		return err
	}
	if _, err := b.iflush.Close(); err != nil {
		return err
	}
	if _, err := b.vflush.Close(); err != nil {
		return err
	}
	return nil
}

func (b *Builder[K, V, D]) metaBlock(bitmapBytes []byte) ([]byte, error) {
	statsBytes, err := cbor.Marshal(b.stats)
	if err != nil {
		return nil, errors.WrapCbor("encode robt stats", err)
	}

	items := []metaItem{
		{Kind: metaAppMetadata, Bytes: b.appMeta},
		{Kind: metaStats, Bytes: statsBytes},
		{Kind: metaBitmap, Bytes: bitmapBytes},
		{Kind: metaRoot, Root: b.root},
		{Kind: metaMarker, Bytes: RootMarker},
	}

	block, err := cbor.Marshal(items)
	if err != nil {
		return nil, errors.WrapCbor("encode robt meta block", err)
	}

	origLen := len(block)
	m := computeRootBlockSize(origLen + 16)
	block = append(block, make([]byte, m-origLen)...)

	trailer := block[m-16:]
	putBeUint64(trailer[:8], uint64(m))
	putBeUint64(trailer[8:], uint64(origLen))

	return block, nil
}
