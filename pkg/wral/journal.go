package wral

import (
	"bufio"
	"os"
	"path/filepath"
	"time"

	"github.com/nilstore/rdms/pkg/errors"
)

// journal is one numbered segment of a Wal: either the currently-open
// Working segment this process is appending to, or an Archive segment
// recovered from disk at Load time with no open file handle of its own.
// Grounded on journal.rs's InnerJournal<S>, collapsed to one struct since
// Go has no sum type as convenient as Rust's enum here; the zero value
// of file distinguishes the two states (nil means "on disk only, reopen
// to read").
type journal[S State] struct {
	name     string
	num      int
	location string

	file *os.File
	w    *bufio.Writer

	state        S
	pending      []Entry
	lastSeqno    uint64
	hasLastSeqno bool

	metrics Metrics
}

// startJournal begins a brand-new Working journal at dir/name-journal-num,
// discarding any stale file already at that path. Grounded on
// journal.rs's Journal::start.
func startJournal[S State](dir, name string, num int, state S) *journal[S] {
	location := filepath.Join(dir, makeFilename(name, num))
	os.Remove(location)
	return &journal[S]{name: name, num: num, location: location, state: state}
}

// loadJournal parses filename as an archived journal belonging to name.
// ok is false if filename doesn't match the journal grammar, belongs to
// a different log, or fails to decode; spec.md directs that files which
// fail to parse be silently ignored rather than treated as fatal.
func loadJournal[S State](dir, name, filename string, newState func() S) (j *journal[S], ok bool) {
	jname, num, matched := unwrapFilename(filename)
	if !matched || jname != name {
		return nil, false
	}
	location := filepath.Join(dir, filename)

	f, err := os.Open(location)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	batches, err := decodeBatches(f)
	if err != nil || len(batches) == 0 {
		return nil, false
	}

	last := batches[len(batches)-1]
	state := newState()
	if err := state.FromBytes(last.State); err != nil {
		return nil, false
	}

	return &journal[S]{
		name:         name,
		num:          num,
		location:     location,
		state:        state,
		lastSeqno:    last.LastSeqno,
		hasLastSeqno: true,
	}, true
}

func (j *journal[S]) openAppend() error {
	if j.file != nil {
		return nil
	}
	f, err := os.OpenFile(j.location, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WrapIO("open journal "+j.location, err)
	}
	j.file = f
	j.w = bufio.NewWriter(f)
	return nil
}

// addEntry queues e for the next flush. The entry is not durable, and
// not even guaranteed visible to Iter/Range from another journal's
// perspective, until flush runs.
func (j *journal[S]) addEntry(e Entry) {
	j.pending = append(j.pending, e)
}

// flush writes every pending entry as one batch, then syncs if fsync is
// set. It reports whether a batch was actually written (false if there
// was nothing pending and no sync was requested).
func (j *journal[S]) flush(fsync bool) (bool, error) {
	if len(j.pending) == 0 {
		if fsync && j.file != nil {
			return false, j.syncFile()
		}
		return false, nil
	}

	if err := j.openAppend(); err != nil {
		return false, err
	}

	firstSeqno := j.pending[0].Seqno
	lastSeqno := j.pending[len(j.pending)-1].Seqno
	stateBytes, err := j.state.ToBytes()
	if err != nil {
		return false, errors.WrapCbor("serialize wral state", err)
	}

	entries := make([]encodedEntry, len(j.pending))
	for i, e := range j.pending {
		entries[i] = encodedEntry{Seqno: e.Seqno, Op: e.Op}
	}

	data, err := marshalBatch(batch{
		FirstSeqno: firstSeqno,
		LastSeqno:  lastSeqno,
		State:      stateBytes,
		Entries:    entries,
	})
	if err != nil {
		return false, err
	}
	if _, err := j.w.Write(data); err != nil {
		return false, errors.WrapIO("write journal batch", err)
	}
	// Flush the bufio buffer unconditionally, even when fsync is false:
	// fileSize (used for rotation) stats the underlying *os.File, which
	// wouldn't see bytes still sitting in the buffer otherwise.
	if err := j.w.Flush(); err != nil {
		return false, errors.WrapIO("flush journal buffer", err)
	}

	j.lastSeqno, j.hasLastSeqno = lastSeqno, true
	j.pending = j.pending[:0]

	if fsync {
		if err := j.syncNow(); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (j *journal[S]) syncFile() error {
	if j.file == nil {
		return nil
	}
	if err := j.w.Flush(); err != nil {
		return errors.WrapIO("flush journal buffer", err)
	}
	return j.syncNow()
}

// syncNow calls fsync on the open file, reporting the duration to
// j.metrics if set.
func (j *journal[S]) syncNow() error {
	t0 := time.Now()
	err := j.file.Sync()
	if j.metrics != nil {
		j.metrics.ObserveFsync(time.Since(t0))
	}
	return errors.WrapIO("fsync journal", err)
}

func (j *journal[S]) fileSize() (int64, error) {
	if j.file == nil {
		return 0, nil
	}
	info, err := j.file.Stat()
	if err != nil {
		return 0, errors.WrapIO("stat journal "+j.location, err)
	}
	return info.Size(), nil
}

// toLastSeqno is the highest seqno this journal has accepted, whether or
// not it has been flushed to disk yet.
func (j *journal[S]) toLastSeqno() (uint64, bool) {
	if n := len(j.pending); n > 0 {
		return j.pending[n-1].Seqno, true
	}
	return j.lastSeqno, j.hasLastSeqno
}

// closeFile closes this journal's open file handle, if any, leaving its
// state and pending entries untouched. Used both by close (which flushes
// first) and by rotation, which only needs the handle released since
// flushBatch already flushed the outgoing journal before rotating.
func (j *journal[S]) closeFile() error {
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file, j.w = nil, nil
	return errors.WrapIO("close journal "+j.location, err)
}

func (j *journal[S]) close() error {
	_, ferr := j.flush(true)
	cerr := j.closeFile()
	if ferr != nil {
		return ferr
	}
	return cerr
}

func (j *journal[S]) purge() error {
	if err := j.close(); err != nil {
		return err
	}
	if err := os.Remove(j.location); err != nil && !os.IsNotExist(err) {
		return errors.WrapIO("remove journal "+j.location, err)
	}
	return nil
}

// entriesInRange decodes this journal's on-disk batches plus any
// still-pending entries, returning every entry with lo <= seqno <= hi in
// ascending order. Skips whole batches outside the range the way
// spec.md's iteration semantics require, but re-decodes the file on
// every call rather than keeping a persistent offset index, a
// correctness-first simplification over journal.rs's lazy seek-and-reread,
// acceptable since journals are bounded by JournalLimit.
func (j *journal[S]) entriesInRange(lo, hi uint64) ([]Entry, error) {
	var out []Entry

	if f, err := os.Open(j.location); err == nil {
		defer f.Close()
		batches, err := decodeBatches(f)
		if err != nil {
			return nil, err
		}
		for _, b := range batches {
			if b.LastSeqno < lo {
				continue
			}
			if b.FirstSeqno > hi {
				break
			}
			for _, e := range b.Entries {
				if e.Seqno < lo || e.Seqno > hi {
					continue
				}
				op, err := decodeOpFrame(e.Op, j.location)
				if err != nil {
					return nil, err
				}
				out = append(out, Entry{Seqno: e.Seqno, Op: op})
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.WrapIO("open journal "+j.location, err)
	}

	for _, e := range j.pending {
		if e.Seqno < lo || e.Seqno > hi {
			continue
		}
		op, err := decodeOpFrame(e.Op, j.location)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Seqno: e.Seqno, Op: op})
	}
	return out, nil
}
