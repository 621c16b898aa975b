// Package llrb implements an in-memory, concurrent, ordered key-value
// index as a left-leaning red-black tree with per-key version history and
// compare-and-swap updates.
package llrb

import (
	"sync"
	"sync/atomic"

	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/errors"
	"github.com/nilstore/rdms/pkg/types"
)

// Wr is the result of a successful write: the seqno it was assigned and
// the entry it replaced, if any.
type Wr[K types.Comparable, V any, D any] struct {
	Seqno    uint64
	OldEntry *db.Entry[K, V, D]
}

// Tree is a left-leaning red-black tree index. A single read-write latch
// protects the root pointer: readers take it in shared mode and traverse
// an immutable snapshot, writers take it exclusively and path-copy every
// node from the root down to the mutation point, so readers already
// holding the old root see a consistent tree until they release their
// latch. No goroutine ever blocks while holding the latch.
type Tree[K types.Comparable, V any, D any] struct {
	name string
	diff db.Diff[V, D]
	lsm  bool
	spin bool

	mu    sync.RWMutex
	root  *node[K, V, D]
	count int

	seqno uint64 // atomic

	metrics Metrics
}

// Metrics is the capability a Tree reports mutation activity to. It has
// no dependency on any concrete instrumentation library, the same way
// Diff is a capability rather than a concrete type. pkg/metrics.Metrics
// satisfies it, or a caller's own type can.
type Metrics interface {
	ObserveMutation(op string)
	SetLiveCount(n int)
}

// Option configures a new Tree.
type Option[K types.Comparable, V any, D any] func(*Tree[K, V, D])

// WithLsm makes Remove/RemoveCAS record a tombstone instead of physically
// unlinking the node, so an older ROBT snapshot still observes the delete.
func WithLsm[K types.Comparable, V any, D any](lsm bool) Option[K, V, D] {
	return func(t *Tree[K, V, D]) { t.lsm = lsm }
}

// WithMetrics wires m to receive a mutation observation and an updated
// live-node count on every Set/Insert/Delete/Remove.
func WithMetrics[K types.Comparable, V any, D any](m Metrics) Option[K, V, D] {
	return func(t *Tree[K, V, D]) { t.metrics = m }
}

// report records op's mutation and the tree's current live-node count.
// Must be called with t.mu held, since it reads t.count.
func (t *Tree[K, V, D]) report(op string) {
	if t.metrics == nil {
		return
	}
	t.metrics.ObserveMutation(op)
	t.metrics.SetLiveCount(t.count)
}

// WithSpin controls whether latch contention spins briefly before parking
// (true) or parks immediately (false). Go's runtime mutex already spins
// adaptively for short critical sections; this option is kept for parity
// with the spec's construction surface and is otherwise a no-op today.
func WithSpin[K types.Comparable, V any, D any](spin bool) Option[K, V, D] {
	return func(t *Tree[K, V, D]) { t.spin = spin }
}

// New creates an empty Tree. diff is the capability used to compute and
// merge version deltas on versioned operations (Insert/Delete); pass
// db.NoDiff[V]{} when version history is not needed.
func New[K types.Comparable, V any, D any](name string, diff db.Diff[V, D], opts ...Option[K, V, D]) *Tree[K, V, D] {
	t := &Tree[K, V, D]{name: name, diff: diff}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the tree's name, used by callers to label log lines and
// metrics.
func (t *Tree[K, V, D]) Name() string { return t.name }

// ToSeqno returns the current seqno counter.
func (t *Tree[K, V, D]) ToSeqno() uint64 { return atomic.LoadUint64(&t.seqno) }

// SetSeqno overrides the seqno counter, typically used when recovering
// from a WRAL whose last seqno is known.
func (t *Tree[K, V, D]) SetSeqno(n uint64) { atomic.StoreUint64(&t.seqno, n) }

func (t *Tree[K, V, D]) nextSeqno() uint64 { return atomic.AddUint64(&t.seqno, 1) }

// Count returns the number of live (non-physically-removed) entries.
func (t *Tree[K, V, D]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Set installs v as a new, non-versioned value for k: no delta is recorded
// for whatever value k previously held.
func (t *Tree[K, V, D]) Set(k K, v V) Wr[K, V, D] {
	return t.upsert(k, v, false)
}

// SetCAS is Set guarded by a compare-and-swap on the current seqno. cas==0
// requires that k not currently exist (or be in a deleted state).
func (t *Tree[K, V, D]) SetCAS(k K, v V, cas uint64) (Wr[K, V, D], error) {
	return t.upsertCAS(k, v, cas, false)
}

// Insert installs v as a new version of k, converting the prior value into
// a delta via the tree's Diff capability.
func (t *Tree[K, V, D]) Insert(k K, v V) Wr[K, V, D] {
	return t.upsert(k, v, true)
}

// InsertCAS is Insert guarded by a compare-and-swap on the current seqno.
func (t *Tree[K, V, D]) InsertCAS(k K, v V, cas uint64) (Wr[K, V, D], error) {
	return t.upsertCAS(k, v, cas, true)
}

// Delete records a versioned tombstone for k, converting the prior value
// into a delta. Back-to-back deletes are not de-duplicated.
func (t *Tree[K, V, D]) Delete(k K) Wr[K, V, D] {
	return t.delete(k)
}

// DeleteCAS is Delete guarded by a compare-and-swap on the current seqno.
func (t *Tree[K, V, D]) DeleteCAS(k K, cas uint64) (Wr[K, V, D], error) {
	return t.deleteCAS(k, cas)
}

// Remove physically unlinks k's node from the tree (non-versioned). When
// the tree was built with WithLsm(true), it instead records a tombstone
// with no history, matching how an LSM's newest level must keep a delete
// marker visible until compaction reaches an older level.
func (t *Tree[K, V, D]) Remove(k K) Wr[K, V, D] {
	wr, _ := t.remove(k, 0, false)
	return wr
}

// RemoveCAS is Remove guarded by a compare-and-swap on the current seqno.
func (t *Tree[K, V, D]) RemoveCAS(k K, cas uint64) (Wr[K, V, D], error) {
	return t.remove(k, cas, true)
}

func (t *Tree[K, V, D]) upsert(k K, v V, versioned bool) Wr[K, V, D] {
	t.mu.Lock()
	defer t.mu.Unlock()

	seqno := t.nextSeqno()
	var old *db.Entry[K, V, D]
	t.root, old = t.insertNode(t.root, k, v, seqno, versioned)
	t.root.black = true
	if old == nil {
		t.count++
	}
	if versioned {
		t.report("insert")
	} else {
		t.report("set")
	}
	return Wr[K, V, D]{Seqno: seqno, OldEntry: old}
}

func (t *Tree[K, V, D]) upsertCAS(k K, v V, cas uint64, versioned bool) (Wr[K, V, D], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkCAS(k, cas); err != nil {
		return Wr[K, V, D]{}, err
	}

	seqno := t.nextSeqno()
	var old *db.Entry[K, V, D]
	t.root, old = t.insertNode(t.root, k, v, seqno, versioned)
	t.root.black = true
	if old == nil {
		t.count++
	}
	if versioned {
		t.report("insert")
	} else {
		t.report("set")
	}
	return Wr[K, V, D]{Seqno: seqno, OldEntry: old}, nil
}

// checkCAS validates cas against k's current seqno without mutating the
// tree. Must be called with t.mu held.
func (t *Tree[K, V, D]) checkCAS(k K, cas uint64) error {
	cur := t.getNode(t.root, k)
	var actual uint64
	if cur != nil && !cur.entry.IsDeleted() {
		actual = cur.entry.ToSeqno()
	}
	if cas == 0 {
		if cur != nil && !cur.entry.IsDeleted() {
			return &errors.InvalidCASError{Expected: 0, Actual: actual}
		}
		return nil
	}
	if actual != cas {
		return &errors.InvalidCASError{Expected: cas, Actual: actual}
	}
	return nil
}

// insertNode is the standard top-down LLRB insert, generalized to carry an
// Entry instead of a bare value: existing keys get entry.Insert/Set
// treatment, new keys get a fresh Entry. Returns the new subtree root and
// the entry that was replaced, if any.
func (t *Tree[K, V, D]) insertNode(h *node[K, V, D], k K, v V, seqno uint64, versioned bool) (*node[K, V, D], *db.Entry[K, V, D]) {
	if h == nil {
		return newNode[K, V, D](db.NewEntry[K, V, D](k, v, seqno)), nil
	}
	h = h.clone()

	var old *db.Entry[K, V, D]
	switch cmp := k.Compare(h.entry.Key); {
	case cmp < 0:
		h.left, old = t.insertNode(h.left, k, v, seqno, versioned)
	case cmp > 0:
		h.right, old = t.insertNode(h.right, k, v, seqno, versioned)
	default:
		old = h.entry.Clone()
		if versioned {
			h.entry = h.entry.Clone()
			h.entry.Insert(v, seqno, t.diff)
		} else {
			h.entry = db.NewEntry[K, V, D](k, v, seqno)
		}
	}

	return fixUp(h), old
}

func (t *Tree[K, V, D]) delete(k K) Wr[K, V, D] {
	t.mu.Lock()
	defer t.mu.Unlock()

	seqno := t.nextSeqno()
	var old *db.Entry[K, V, D]
	t.root, old = t.deleteVersioned(t.root, k, seqno)
	if t.root != nil {
		t.root.black = true
	}
	t.report("delete")
	return Wr[K, V, D]{Seqno: seqno, OldEntry: old}
}

func (t *Tree[K, V, D]) deleteCAS(k K, cas uint64) (Wr[K, V, D], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkCAS(k, cas); err != nil {
		return Wr[K, V, D]{}, err
	}

	seqno := t.nextSeqno()
	var old *db.Entry[K, V, D]
	t.root, old = t.deleteVersioned(t.root, k, seqno)
	if t.root != nil {
		t.root.black = true
	}
	t.report("delete")
	return Wr[K, V, D]{Seqno: seqno, OldEntry: old}, nil
}

// deleteVersioned walks to k without removing its node, recording a
// tombstone version in place. The node stays in the tree so its full
// history (and the fact that it was deleted) remains visible to readers
// and to a later ROBT flush.
func (t *Tree[K, V, D]) deleteVersioned(h *node[K, V, D], k K, seqno uint64) (*node[K, V, D], *db.Entry[K, V, D]) {
	if h == nil {
		t.count++
		h = newNode[K, V, D](db.NewDeletedEntry[K, V, D](k, seqno))
		return h, nil
	}
	h = h.clone()

	var old *db.Entry[K, V, D]
	switch cmp := k.Compare(h.entry.Key); {
	case cmp < 0:
		h.left, old = t.deleteVersioned(h.left, k, seqno)
	case cmp > 0:
		h.right, old = t.deleteVersioned(h.right, k, seqno)
	default:
		old = h.entry.Clone()
		h.entry = h.entry.Clone()
		h.entry.Delete(seqno, t.diff)
	}

	return fixUp(h), old
}

// remove either physically unlinks k (lsm=false) or records a bare
// tombstone with no history (lsm=true, versioned=false CAS path also ends
// up here via RemoveCAS).
func (t *Tree[K, V, D]) remove(k K, cas uint64, checkCAS bool) (Wr[K, V, D], error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if checkCAS {
		if err := t.checkCAS(k, cas); err != nil {
			return Wr[K, V, D]{}, err
		}
	}

	seqno := t.nextSeqno()

	if t.lsm {
		var old *db.Entry[K, V, D]
		t.root, old = t.removeLsm(t.root, k, seqno)
		if t.root != nil {
			t.root.black = true
		}
		t.report("remove")
		return Wr[K, V, D]{Seqno: seqno, OldEntry: old}, nil
	}

	old := t.getNode(t.root, k)
	var oldEntry *db.Entry[K, V, D]
	if old != nil {
		oldEntry = old.entry.Clone()
		root := t.root
		if root != nil && !isRed(root.left) && !isRed(root.right) {
			root = root.clone()
			root.black = false
		}
		t.root = t.physicalDelete(root, k)
		if t.root != nil {
			t.root.black = true
		}
		t.count--
	}
	t.report("remove")
	return Wr[K, V, D]{Seqno: seqno, OldEntry: oldEntry}, nil
}

// removeLsm replaces k's entry with a fresh, history-less tombstone
// without unlinking the node, used when the tree is the newest level of an
// LSM and older levels still need to observe the delete.
func (t *Tree[K, V, D]) removeLsm(h *node[K, V, D], k K, seqno uint64) (*node[K, V, D], *db.Entry[K, V, D]) {
	if h == nil {
		t.count++
		return newNode[K, V, D](db.NewDeletedEntry[K, V, D](k, seqno)), nil
	}
	h = h.clone()

	var old *db.Entry[K, V, D]
	switch cmp := k.Compare(h.entry.Key); {
	case cmp < 0:
		h.left, old = t.removeLsm(h.left, k, seqno)
	case cmp > 0:
		h.right, old = t.removeLsm(h.right, k, seqno)
	default:
		old = h.entry.Clone()
		h.entry = db.NewDeletedEntry[K, V, D](k, seqno)
	}

	return fixUp(h), old
}

// physicalDelete is the classic top-down LLRB delete (Sedgewick): descend
// moving red links left/right as needed so the node to remove is always
// reached through a red link, then splice it out and fix up on the way
// back.
func (t *Tree[K, V, D]) physicalDelete(h *node[K, V, D], k K) *node[K, V, D] {
	if h == nil {
		return nil
	}
	h = h.clone()

	if k.Compare(h.entry.Key) < 0 {
		if !isRed(h.left) && !isRed(h.left.left) {
			h = moveRedLeft(h)
		}
		h.left = t.physicalDelete(h.left, k)
	} else {
		if isRed(h.left) {
			h = rotateRight(h)
		}
		if h.entry.Key.Compare(k) == 0 && h.right == nil {
			return nil
		}
		if !isRed(h.right) && !isRed(h.right.left) {
			h = moveRedRight(h)
		}
		if h.entry.Key.Compare(k) == 0 {
			successor := minNode(h.right)
			h.entry = successor.entry
			h.right = t.deleteMin(h.right)
		} else {
			h.right = t.physicalDelete(h.right, k)
		}
	}
	return fixUp(h)
}

func (t *Tree[K, V, D]) deleteMin(h *node[K, V, D]) *node[K, V, D] {
	if h == nil {
		return nil
	}
	h = h.clone()
	if h.left == nil {
		return nil
	}
	if !isRed(h.left) && !isRed(h.left.left) {
		h = moveRedLeft(h)
	}
	h.left = t.deleteMin(h.left)
	return fixUp(h)
}

// Get returns k's latest version only; deltas are dropped from the
// returned clone.
func (t *Tree[K, V, D]) Get(k K) (*db.Entry[K, V, D], error) {
	t.mu.RLock()
	n := t.getNode(t.root, k)
	t.mu.RUnlock()

	if n == nil {
		return nil, &errors.KeyNotFoundError{Key: keyString(k)}
	}
	entry := n.entry.Clone()
	entry.DrainDeltas()
	return entry, nil
}

// GetVersions returns k's full version history.
func (t *Tree[K, V, D]) GetVersions(k K) (*db.Entry[K, V, D], error) {
	t.mu.RLock()
	n := t.getNode(t.root, k)
	t.mu.RUnlock()

	if n == nil {
		return nil, &errors.KeyNotFoundError{Key: keyString(k)}
	}
	return n.entry.Clone(), nil
}

func (t *Tree[K, V, D]) getNode(h *node[K, V, D], k K) *node[K, V, D] {
	for h != nil {
		switch cmp := k.Compare(h.entry.Key); {
		case cmp < 0:
			h = h.left
		case cmp > 0:
			h = h.right
		default:
			return h
		}
	}
	return nil
}

func keyString(k types.Comparable) string {
	if s, ok := k.(interface{ String() string }); ok {
		return s.String()
	}
	return "?"
}

// Commit merges a pre-sorted slice of foreign entries into the tree,
// version-merging any entry that already exists at the same key. It returns the
// count of keys touched.
func (t *Tree[K, V, D]) Commit(entries []*db.Entry[K, V, D]) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	touched := 0
	for _, incoming := range entries {
		cur := t.getNode(t.root, incoming.Key)
		var merged *db.Entry[K, V, D]
		if cur == nil {
			merged = incoming.Clone()
		} else {
			var err error
			merged, err = cur.entry.Merge(incoming, t.diff)
			if err != nil {
				return touched, err
			}
		}
		t.root, _ = t.replaceNode(t.root, incoming.Key, merged)
		touched++
	}
	if t.root != nil {
		t.root.black = true
	}
	if touched > 0 {
		t.report("commit")
	}
	return touched, nil
}

func (t *Tree[K, V, D]) replaceNode(h *node[K, V, D], k K, entry *db.Entry[K, V, D]) (*node[K, V, D], *db.Entry[K, V, D]) {
	if h == nil {
		t.count++
		return newNode[K, V, D](entry), nil
	}
	h = h.clone()

	var old *db.Entry[K, V, D]
	switch cmp := k.Compare(h.entry.Key); {
	case cmp < 0:
		h.left, old = t.replaceNode(h.left, k, entry)
	case cmp > 0:
		h.right, old = t.replaceNode(h.right, k, entry)
	default:
		old = h.entry
		h.entry = entry
	}
	return fixUp(h), old
}
