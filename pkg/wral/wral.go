package wral

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nilstore/rdms/pkg/errors"
)

// flushInterval bounds how long a write can sit unflushed even with no
// commit and no backlog large enough to trigger a size-based flush,
// mirroring journals.rs's MainLoop recv_timeout of two seconds.
const flushInterval = 2 * time.Second

type addRequest struct {
	op   []byte
	resp chan addResponse
}

type addResponse struct {
	seqno uint64
	err   error
}

type commitRequest struct {
	resp chan addResponse
}

// Wal is a segmented write-ahead log. All mutation goes through one
// dedicated goroutine (see loop); AddOp and Commit hand it a request over
// a channel and block on the matching response channel, giving every
// caller synchronous per-call acknowledgement without serializing callers
// against each other any more than the single writer already does.
// Grounded on journals.rs's Journals/MainLoop split.
type Wal[S State] struct {
	config     Config
	instanceID string

	reqs    chan addRequest
	commits chan commitRequest
	done    chan struct{}

	nextSeqno  uint64
	finalSeqno uint64
	finalErr   error

	mu       sync.RWMutex
	journals []*journal[S] // archived, oldest first
	current  *journal[S]

	metrics Metrics
}

// Create starts a brand-new log at config.Dir/config.Name, purging any
// journal files already there under that name. state is the log's
// initial application state.
func Create[S State](config Config, state S, opts ...Option[S]) (*Wal[S], error) {
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, errors.WrapIO("mkdir "+config.Dir, err)
	}
	if err := purgeName(config.Dir, config.Name); err != nil {
		return nil, err
	}

	w := &Wal[S]{
		config:     config,
		instanceID: uuid.NewString(),
		reqs:       make(chan addRequest, 64),
		commits:    make(chan commitRequest, 16),
		done:       make(chan struct{}),
		current:    startJournal[S](config.Dir, config.Name, 0, state),
		nextSeqno:  1,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current.metrics = w.metrics
	go w.loop()
	return w, nil
}

// Load recovers a log previously created at config.Dir/config.Name,
// replaying its newest journal's state and continuing seqnos from where
// the log left off. newState constructs a fresh S for journals to decode
// into, standing in for Rust's S::default(). If no journals exist, Load
// behaves like Create with newState()'s zero state.
func Load[S State](config Config, newState func() S, opts ...Option[S]) (*Wal[S], error) {
	entries, err := os.ReadDir(config.Dir)
	if err != nil {
		return nil, errors.WrapIO("read dir "+config.Dir, err)
	}

	var loaded []*journal[S]
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if j, ok := loadJournal[S](config.Dir, config.Name, entry.Name(), newState); ok {
			loaded = append(loaded, j)
		}
	}
	sort.Slice(loaded, func(i, k int) bool { return loaded[i].num < loaded[k].num })

	var seqno uint64 = 1
	num := 0
	state := newState()
	if n := len(loaded); n > 0 {
		last := loaded[n-1]
		if ls, ok := last.toLastSeqno(); ok {
			seqno = ls + 1
		}
		num = last.num + 1
		state = last.state
	}

	w := &Wal[S]{
		config:     config,
		instanceID: uuid.NewString(),
		reqs:       make(chan addRequest, 64),
		commits:    make(chan commitRequest, 16),
		done:       make(chan struct{}),
		journals:   loaded,
		current:    startJournal[S](config.Dir, config.Name, num, state),
	}
	w.nextSeqno = seqno
	for _, opt := range opts {
		opt(w)
	}
	w.current.metrics = w.metrics
	go w.loop()
	return w, nil
}

// purgeName removes every journal file under dir belonging to name.
func purgeName(dir, name string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WrapIO("read dir "+dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if jname, _, ok := unwrapFilename(entry.Name()); ok && jname == name {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
				return errors.WrapIO("remove "+entry.Name(), err)
			}
		}
	}
	return nil
}

// InstanceID is a fresh UUID minted for this Wal at Create/Load time.
// It never round-trips through storage; its only purpose is giving an
// embedding application's own logs a stable tag to correlate entries
// from one specific log instance, the way the teacher's engine.go uses
// uuid for document ids.
func (w *Wal[S]) InstanceID() string { return w.instanceID }

func (w *Wal[S]) closedErr() error {
	return &errors.IPCFailError{Msg: "wral[" + w.instanceID + "]: writer closed"}
}

// AddOp appends op to the log and returns its assigned seqno once the
// writer goroutine has queued it for the next flush. It does not by
// itself guarantee op is fsynced; see Commit and Config.Fsync.
func (w *Wal[S]) AddOp(op []byte) (uint64, error) {
	resp := make(chan addResponse, 1)
	select {
	case w.reqs <- addRequest{op: encodeOpFrame(op), resp: resp}:
	case <-w.done:
		return 0, w.closedErr()
	}
	select {
	case r := <-resp:
		return r.seqno, r.err
	case <-w.done:
		return 0, w.closedErr()
	}
}

// Commit forces a flush-and-fsync of everything queued so far and
// returns the highest seqno now durable on disk.
func (w *Wal[S]) Commit() (uint64, error) {
	resp := make(chan addResponse, 1)
	select {
	case w.commits <- commitRequest{resp: resp}:
	case <-w.done:
		return 0, w.closedErr()
	}
	select {
	case r := <-resp:
		return r.seqno, r.err
	case <-w.done:
		return 0, w.closedErr()
	}
}

// Close stops the writer goroutine after one final flush-and-fsync,
// returning the last seqno made durable.
func (w *Wal[S]) Close() (uint64, error) {
	close(w.reqs)
	<-w.done
	return w.finalSeqno, w.finalErr
}

// Purge closes the log and removes every journal file it owns.
func (w *Wal[S]) Purge() (uint64, error) {
	seqno, err := w.Close()
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, j := range append(w.journals, w.current) {
		if perr := j.purge(); perr != nil && err == nil {
			err = perr
		}
	}
	return seqno, err
}

// Iter walks every entry ever recorded, oldest seqno first.
func (w *Wal[S]) Iter() (*Iter, error) { return w.Range(0, ^uint64(0)) }

// Range walks every entry with lo <= seqno <= hi, oldest first, across
// however many journal files that spans. Held under w.mu for its whole
// duration (archived journals are read-only once rotated, but the
// working journal's pending slice and file handle are mutated by loop,
// so a snapshot-then-unlock would race against it).
func (w *Wal[S]) Range(lo, hi uint64) (*Iter, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var entries []Entry
	for _, j := range w.journals {
		es, err := j.entriesInRange(lo, hi)
		if err != nil {
			return nil, err
		}
		entries = append(entries, es...)
	}
	es, err := w.current.entriesInRange(lo, hi)
	if err != nil {
		return nil, err
	}
	entries = append(entries, es...)
	return &Iter{entries: entries}, nil
}

// Iter is the result of Iter/Range: a simple in-memory cursor over
// already-decoded entries. Correctness-first over journal.rs's streaming
// fwd_iter, acceptable since a journal's total size is bounded by
// JournalLimit times the number of archived segments kept around.
type Iter struct {
	entries []Entry
	i       int
}

// Next returns the next entry, or nil when the iterator is exhausted.
func (it *Iter) Next() *Entry {
	if it.i >= len(it.entries) {
		return nil
	}
	e := it.entries[it.i]
	it.i++
	return &e
}
