package robt

import (
	"bufio"
	"os"

	"github.com/nilstore/rdms/pkg/errors"
)

// Flusher appends fixed-size blocks to a single file in order, tracking
// the file offset each block lands at so the builder can hand out those
// offsets as m-block/z-block pointers before the bytes are actually on
// disk. Grounded on the teacher's WALWriter (pkg/wal/writer.go): a
// mutex-free, single-writer bufio.Writer, sized by FlushQueueSize
// blocks instead of a fixed byte count.
type Flusher struct {
	file     *os.File
	location string
	w        *bufio.Writer
	fpos     uint64
}

// NewFlusher opens (or creates) location for append-only writes. With
// create false the existing file is kept and ToFpos starts at its current
// length.
func NewFlusher(location string, create bool, queueBlocks, blockSize int) (*Flusher, error) {
	flags := os.O_RDWR | os.O_APPEND
	if create {
		flags |= os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(location, flags, 0644)
	if err != nil {
		return nil, errors.WrapIO("open flusher file "+location, err)
	}
	var fpos uint64
	if !create {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, errors.WrapIO("stat flusher file "+location, err)
		}
		fpos = uint64(info.Size())
	}
	bufSize := queueBlocks * blockSize
	if bufSize <= 0 {
		bufSize = FlushQueueSize * blockSize
	}
	return &Flusher{file: f, location: location, w: bufio.NewWriterSize(f, bufSize), fpos: fpos}, nil
}

// EmptyFlusher is a Flusher with nowhere to write, used when a vlog is
// not needed (ValueInVlog == false && DeltaOk == false).
func EmptyFlusher() *Flusher { return &Flusher{} }

// Location is the path this flusher writes to, or "" for EmptyFlusher.
func (f *Flusher) Location() string { return f.location }

// ToFpos is the file offset the next Flush call's block will land at.
func (f *Flusher) ToFpos() uint64 { return f.fpos }

// Flush appends block to the file and advances ToFpos by len(block).
func (f *Flusher) Flush(block []byte) error {
	if f.w == nil {
		return nil
	}
	if _, err := f.w.Write(block); err != nil {
		return errors.WrapIO("flush block to "+f.location, err)
	}
	f.fpos += uint64(len(block))
	return nil
}

// Close flushes buffered bytes, fsyncs, and closes the file, returning
// the final file length.
func (f *Flusher) Close() (uint64, error) {
	if f.w == nil {
		return 0, nil
	}
	if err := f.w.Flush(); err != nil {
		return 0, errors.WrapIO("flush writer for "+f.location, err)
	}
	if err := f.file.Sync(); err != nil {
		return 0, errors.WrapIO("sync "+f.location, err)
	}
	if err := f.file.Close(); err != nil {
		return 0, errors.WrapIO("close "+f.location, err)
	}
	return f.fpos, nil
}
