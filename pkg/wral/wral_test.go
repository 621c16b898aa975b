package wral

import (
	"os"
	"testing"
	"time"
)

func collect(it *Iter) []Entry {
	var out []Entry
	for {
		e := it.Next()
		if e == nil {
			return out
		}
		out = append(out, *e)
	}
}

func TestWal_AddOpCommitThenReloadAndIter(t *testing.T) {
	dir := t.TempDir()
	config := NewConfig(dir, "mylog")

	w, err := Create[*NoState](config, &NoState{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	seq1, err := w.AddOp([]byte("x"))
	if err != nil || seq1 != 1 {
		t.Fatalf("AddOp(x): seqno=%d err=%v", seq1, err)
	}
	seq2, err := w.AddOp([]byte("y"))
	if err != nil || seq2 != 2 {
		t.Fatalf("AddOp(y): seqno=%d err=%v", seq2, err)
	}
	commitSeq, err := w.Commit()
	if err != nil || commitSeq != 2 {
		t.Fatalf("Commit: seqno=%d err=%v", commitSeq, err)
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	loaded, err := Load[*NoState](config, func() *NoState { return &NoState{} })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	it, err := loaded.Iter()
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	entries := collect(it)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after reload, got %d: %+v", len(entries), entries)
	}
	if entries[0].Seqno != 1 || string(entries[0].Op) != "x" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Seqno != 2 || string(entries[1].Op) != "y" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}

	rit, err := loaded.Range(2, ^uint64(0))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	ranged := collect(rit)
	if len(ranged) != 1 || ranged[0].Seqno != 2 || string(ranged[0].Op) != "y" {
		t.Fatalf("expected range(2..) to yield just seqno 2, got %+v", ranged)
	}
}

func TestWal_IterBeforeClose(t *testing.T) {
	dir := t.TempDir()
	config := NewConfig(dir, "live")

	w, err := Create[*NoState](config, &NoState{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	if _, err := w.AddOp([]byte("a")); err != nil {
		t.Fatalf("AddOp: %v", err)
	}
	if _, err := w.AddOp([]byte("b")); err != nil {
		t.Fatalf("AddOp: %v", err)
	}

	it, err := w.Iter()
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	entries := collect(it)
	if len(entries) != 2 {
		t.Fatalf("expected to see unflushed entries via Iter, got %d", len(entries))
	}
}

func TestWal_RotatesPastJournalLimit(t *testing.T) {
	dir := t.TempDir()
	config := NewConfig(dir, "rotating")
	config.JournalLimit = 32

	w, err := Create[*NoState](config, &NoState{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 20; i++ {
		if _, err := w.AddOp([]byte("0123456789")); err != nil {
			t.Fatalf("AddOp %d: %v", i, err)
		}
		if _, err := w.Commit(); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}

	last, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if last != 20 {
		t.Fatalf("expected last seqno 20, got %d", last)
	}

	loaded, err := Load[*NoState](config, func() *NoState { return &NoState{} })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	it, err := loaded.Iter()
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	entries := collect(it)
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries across rotated journals, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seqno != uint64(i+1) {
			t.Fatalf("entry %d: expected seqno %d, got %d", i, i+1, e.Seqno)
		}
	}
}

func TestWal_InstanceIDIsUniquePerInstance(t *testing.T) {
	dir := t.TempDir()

	a, err := Create[*NoState](NewConfig(dir, "a"), &NoState{})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	defer a.Close()

	b, err := Create[*NoState](NewConfig(dir, "b"), &NoState{})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	defer b.Close()

	if a.InstanceID() == "" || b.InstanceID() == "" {
		t.Fatal("expected a non-empty InstanceID")
	}
	if a.InstanceID() == b.InstanceID() {
		t.Fatalf("expected distinct InstanceIDs, got %s twice", a.InstanceID())
	}
}

type recordingMetrics struct {
	fsyncs    int
	rotations int
}

func (m *recordingMetrics) ObserveFsync(d time.Duration) { m.fsyncs++ }
func (m *recordingMetrics) IncRotation()                 { m.rotations++ }

func TestWal_WithMetricsObservesFsyncAndRotation(t *testing.T) {
	dir := t.TempDir()
	config := NewConfig(dir, "metered")
	config.JournalLimit = 32

	rec := &recordingMetrics{}
	w, err := Create[*NoState](config, &NoState{}, WithMetrics[*NoState](rec))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 20; i++ {
		if _, err := w.AddOp([]byte("0123456789")); err != nil {
			t.Fatalf("AddOp %d: %v", i, err)
		}
		if _, err := w.Commit(); err != nil {
			t.Fatalf("Commit %d: %v", i, err)
		}
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if rec.fsyncs == 0 {
		t.Fatal("expected at least one observed fsync")
	}
	if rec.rotations == 0 {
		t.Fatal("expected at least one observed rotation")
	}
}

func TestWal_PurgeRemovesJournalFiles(t *testing.T) {
	dir := t.TempDir()
	config := NewConfig(dir, "purgeme")

	w, err := Create[*NoState](config, &NoState{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.AddOp([]byte("x")); err != nil {
		t.Fatalf("AddOp: %v", err)
	}
	if _, err := w.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no journal files left after Purge, found %v", entries)
	}
}
