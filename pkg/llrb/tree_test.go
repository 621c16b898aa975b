package llrb

import (
	"testing"

	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/errors"
	"github.com/nilstore/rdms/pkg/types"
)

type int64Diff struct{}

func (int64Diff) Diff(newer, older int64) int64 { return newer - older }
func (int64Diff) Merge(newer, delta int64) int64 { return newer - delta }
func (int64Diff) ValueToDelta(v int64) int64     { return v }
func (int64Diff) DeltaToValue(d int64) int64     { return d }

func newIntTree() *Tree[types.IntKey, int64, int64] {
	return New[types.IntKey, int64, int64]("test", int64Diff{})
}

func TestTree_SetAndGet(t *testing.T) {
	tr := newIntTree()
	wr := tr.Set(types.IntKey(1), 100)
	if wr.Seqno != 1 {
		t.Fatalf("expected seqno 1, got %d", wr.Seqno)
	}
	if wr.OldEntry != nil {
		t.Fatalf("expected no old entry on first set")
	}

	entry, err := tr.Get(types.IntKey(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	v, ok := entry.ToValue()
	if !ok || v != 100 {
		t.Fatalf("expected value 100, got %v ok=%v", v, ok)
	}
	if len(entry.Deltas) != 0 {
		t.Fatalf("Get should strip deltas, got %d", len(entry.Deltas))
	}
}

func TestTree_Get_KeyNotFound(t *testing.T) {
	tr := newIntTree()
	_, err := tr.Get(types.IntKey(1))
	if _, ok := err.(*errors.KeyNotFoundError); !ok {
		t.Fatalf("expected KeyNotFoundError, got %v", err)
	}
}

func TestTree_Set_OverwritesNoHistory(t *testing.T) {
	tr := newIntTree()
	tr.Set(types.IntKey(1), 100)
	tr.Set(types.IntKey(1), 200)

	entry, err := tr.GetVersions(types.IntKey(1))
	if err != nil {
		t.Fatalf("GetVersions: %v", err)
	}
	if len(entry.Deltas) != 0 {
		t.Fatalf("Set should not keep history, got %d deltas", len(entry.Deltas))
	}
	v, _ := entry.ToValue()
	if v != 200 {
		t.Fatalf("expected 200, got %d", v)
	}
}

func TestTree_Insert_KeepsHistory(t *testing.T) {
	tr := newIntTree()
	tr.Insert(types.IntKey(1), 100)
	tr.Insert(types.IntKey(1), 200)
	tr.Insert(types.IntKey(1), 300)

	entry, err := tr.GetVersions(types.IntKey(1))
	if err != nil {
		t.Fatalf("GetVersions: %v", err)
	}
	if len(entry.Deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(entry.Deltas))
	}
	v, _ := entry.ToValue()
	if v != 300 {
		t.Fatalf("expected latest value 300, got %d", v)
	}
}

func TestTree_Delete_RecordsTombstone(t *testing.T) {
	tr := newIntTree()
	tr.Insert(types.IntKey(1), 100)
	tr.Delete(types.IntKey(1))

	entry, err := tr.GetVersions(types.IntKey(1))
	if err != nil {
		t.Fatalf("GetVersions: %v", err)
	}
	if !entry.IsDeleted() {
		t.Fatal("expected entry to be deleted")
	}
	if len(entry.Deltas) != 1 {
		t.Fatalf("expected 1 delta preserved from the delete, got %d", len(entry.Deltas))
	}
}

func TestTree_Remove_NonLsm_PhysicallyDeletes(t *testing.T) {
	tr := newIntTree()
	tr.Set(types.IntKey(1), 100)
	tr.Set(types.IntKey(2), 200)
	tr.Remove(types.IntKey(1))

	if _, err := tr.Get(types.IntKey(1)); err == nil {
		t.Fatal("expected key 1 to be gone after Remove")
	}
	if tr.Count() != 1 {
		t.Fatalf("expected count 1 after remove, got %d", tr.Count())
	}
}

func TestTree_Remove_Lsm_LeavesTombstone(t *testing.T) {
	tr := New[types.IntKey, int64, int64]("test", int64Diff{}, WithLsm[types.IntKey, int64, int64](true))
	tr.Set(types.IntKey(1), 100)
	tr.Remove(types.IntKey(1))

	entry, err := tr.Get(types.IntKey(1))
	if err != nil {
		t.Fatalf("expected tombstone to still resolve via Get, got error: %v", err)
	}
	if !entry.IsDeleted() {
		t.Fatal("expected the entry to read back as deleted")
	}
}

func TestTree_SetCAS(t *testing.T) {
	tr := newIntTree()
	if _, err := tr.SetCAS(types.IntKey(1), 100, 1); err == nil {
		t.Fatal("expected InvalidCAS for cas!=0 on a non-existent key")
	}

	wr, err := tr.SetCAS(types.IntKey(1), 100, 0)
	if err != nil {
		t.Fatalf("SetCAS with cas=0 on new key: %v", err)
	}

	if _, err := tr.SetCAS(types.IntKey(1), 200, 0); err == nil {
		t.Fatal("expected InvalidCAS for cas=0 on an existing key")
	}

	if _, err := tr.SetCAS(types.IntKey(1), 200, wr.Seqno); err != nil {
		t.Fatalf("SetCAS with correct cas: %v", err)
	}
}

func TestTree_IterAscending(t *testing.T) {
	tr := newIntTree()
	for _, k := range []int64{5, 1, 3, 4, 2} {
		tr.Set(types.IntKey(k), k*10)
	}

	var got []int64
	c := tr.Iter()
	for e := c.Next(); e != nil; e = c.Next() {
		got = append(got, int64(e.Key))
	}
	want := []int64{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTree_ReverseDescending(t *testing.T) {
	tr := newIntTree()
	for _, k := range []int64{5, 1, 3, 4, 2} {
		tr.Set(types.IntKey(k), k*10)
	}

	var got []int64
	c := tr.Reverse()
	for e := c.Next(); e != nil; e = c.Next() {
		got = append(got, int64(e.Key))
	}
	want := []int64{5, 4, 3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTree_Range(t *testing.T) {
	tr := newIntTree()
	for _, k := range []int64{1, 2, 3, 4, 5, 6, 7} {
		tr.Set(types.IntKey(k), k)
	}

	lo, hi := types.IntKey(3), types.IntKey(5)
	var got []int64
	c := tr.Range(&lo, &hi)
	for e := c.Next(); e != nil; e = c.Next() {
		got = append(got, int64(e.Key))
	}
	want := []int64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestTree_SeqnoMonotonic(t *testing.T) {
	tr := newIntTree()
	var last uint64
	for i := int64(0); i < 50; i++ {
		wr := tr.Set(types.IntKey(i), i)
		if wr.Seqno <= last {
			t.Fatalf("seqno did not advance: %d <= %d", wr.Seqno, last)
		}
		last = wr.Seqno
	}
	if tr.ToSeqno() != last {
		t.Fatalf("expected ToSeqno()=%d, got %d", last, tr.ToSeqno())
	}
}

func TestTree_SetSeqno(t *testing.T) {
	tr := newIntTree()
	tr.SetSeqno(1000)
	wr := tr.Set(types.IntKey(1), 1)
	if wr.Seqno != 1001 {
		t.Fatalf("expected seqno to continue from override, got %d", wr.Seqno)
	}
}

func TestTree_Validate_Random(t *testing.T) {
	tr := newIntTree()
	keys := []int64{50, 25, 75, 10, 30, 60, 80, 5, 15, 27, 55, 65, 90, 1, 99, 43, 12, 88, 33, 71}
	for _, k := range keys {
		tr.Set(types.IntKey(k), k)
	}
	for i := 0; i < 5; i++ {
		tr.Remove(types.IntKey(keys[i]))
	}

	stats, err := tr.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if stats.Entries != len(keys)-5 {
		t.Fatalf("expected %d entries, got %d", len(keys)-5, stats.Entries)
	}
}

func TestTree_Commit(t *testing.T) {
	tr := newIntTree()
	tr.Insert(types.IntKey(1), 100)

	incoming := db.NewEntry[types.IntKey, int64, int64](types.IntKey(1), 200, 999)
	other := db.NewEntry[types.IntKey, int64, int64](types.IntKey(2), 50, 998)

	n, err := tr.Commit([]*db.Entry[types.IntKey, int64, int64]{incoming, other})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 keys touched, got %d", n)
	}

	merged, err := tr.GetVersions(types.IntKey(1))
	if err != nil {
		t.Fatalf("GetVersions: %v", err)
	}
	values := merged.ToValues(int64Diff{})
	if len(values) != 2 {
		t.Fatalf("expected merged key 1 to carry 2 versions, got %d: %+v", len(values), values)
	}

	if _, err := tr.Get(types.IntKey(2)); err != nil {
		t.Fatalf("expected key 2 to exist after commit: %v", err)
	}
}

func TestTree_OldRootUnaffectedByLaterMutation(t *testing.T) {
	tr := newIntTree()
	tr.Set(types.IntKey(1), 1)
	tr.Set(types.IntKey(2), 2)

	oldRoot := func() *node[types.IntKey, int64, int64] {
		tr.mu.RLock()
		defer tr.mu.RUnlock()
		return tr.root
	}()

	tr.Set(types.IntKey(3), 3)
	tr.Remove(types.IntKey(1))

	// The snapshot captured before the later mutations must still resolve
	// key 1, proving path-copy did not mutate nodes reachable from it.
	n := tr.getNode(oldRoot, types.IntKey(1))
	if n == nil {
		t.Fatal("expected old snapshot to still contain key 1")
	}
}
