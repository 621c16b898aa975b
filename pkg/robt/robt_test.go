package robt

import (
	"os"
	"testing"

	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/types"
)

type int64Diff struct{}

func (int64Diff) Diff(newer, older int64) int64       { return newer - older }
func (int64Diff) Merge(newer int64, delta int64) int64 { return newer - delta }
func (int64Diff) ValueToDelta(v int64) int64           { return v }
func (int64Diff) DeltaToValue(d int64) int64           { return d }

func buildEntries(n int) []*db.Entry[types.IntKey, int64, int64] {
	diff := int64Diff{}
	entries := make([]*db.Entry[types.IntKey, int64, int64], 0, n)
	for i := 0; i < n; i++ {
		e := db.NewEntry[types.IntKey, int64, int64](types.IntKey(i), int64(i*10), uint64(i+1))
		e.Insert(int64(i*10+1), uint64(i+1000), diff)
		entries = append(entries, e)
	}
	return entries
}

func TestConfig_Locations(t *testing.T) {
	c := NewConfig("/tmp/data", "myidx")
	if got := c.ToIndexLocation(); got != "/tmp/data/myidx.robt.indx" {
		t.Fatalf("unexpected index location: %s", got)
	}
	c.SetDelta(false)
	c.SetValueLog(false)
	if got := c.ToVlogLocation(); got != "" {
		t.Fatalf("expected no vlog location, got %s", got)
	}
	c.SetDelta(true)
	if got := c.ToVlogLocation(); got != "/tmp/data/myidx.robt.vlog" {
		t.Fatalf("unexpected vlog location: %s", got)
	}
}

func TestStats_RoundTripsThroughConfig(t *testing.T) {
	c := NewConfig("/tmp/data", "myidx")
	c.SetBlockSize(1024, 2048, 4096)
	stats := NewStats(c)
	back := stats.ToConfig("/tmp/data")
	if back.ZBlockSize != 1024 || back.VBlockSize != 2048 || back.MBlockSize != 4096 {
		t.Fatalf("block sizes did not round-trip: %+v", back)
	}
}

func TestStats_BuildIDIsUniquePerBuild(t *testing.T) {
	c := NewConfig("/tmp/data", "myidx")
	a, b := NewStats(c), NewStats(c)
	if a.BuildID == "" || b.BuildID == "" {
		t.Fatal("expected a non-empty BuildID")
	}
	if a.BuildID == b.BuildID {
		t.Fatalf("expected distinct BuildIDs across builds, got %s twice", a.BuildID)
	}
}

func TestBloomFilter_ContainsAndBytes(t *testing.T) {
	bf := NewBloomFilter(100, 0.01)
	bf.Add([]byte("hello"))
	if !bf.Contains([]byte("hello")) {
		t.Fatal("expected added key to be reported present")
	}
	data, err := bf.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	back, err := BloomFromBytes(data)
	if err != nil {
		t.Fatalf("BloomFromBytes: %v", err)
	}
	if !back.Contains([]byte("hello")) {
		t.Fatal("expected restored filter to still report the key present")
	}
}

func TestNoBitmap_AlwaysPresent(t *testing.T) {
	var b Bloom = NoBitmap{}
	if !b.Contains([]byte("anything")) {
		t.Fatal("NoBitmap must always report present")
	}
}

func TestEntry_FromDBEntryRoundTrips(t *testing.T) {
	diff := int64Diff{}
	src := db.NewEntry[types.IntKey, int64, int64](types.IntKey(5), 50, 1)
	src.Insert(60, 2, diff)

	re := fromDBEntry[types.IntKey, int64, int64](src)
	if re.Kind != kindZZ {
		t.Fatalf("expected kindZZ, got %v", re.Kind)
	}

	var vblock []byte
	re, err := re.intoReference(0, false, &vblock)
	if err != nil {
		t.Fatalf("intoReference: %v", err)
	}
	if re.Value.Ref != nil {
		t.Fatal("value should remain inline when vlogOk is false")
	}
	if len(re.Deltas) != 1 || re.Deltas[0].Ref == nil {
		t.Fatal("deltas must always move to the vlog")
	}

	back, err := re.intoNative(nil, false)
	if err != nil {
		t.Fatalf("intoNative without vlog reads for inline value: %v", err)
	}
	out, err := back.toDBEntry()
	if err != nil {
		t.Fatalf("toDBEntry: %v", err)
	}
	if out.Key != types.IntKey(5) {
		t.Fatalf("unexpected key: %v", out.Key)
	}
}

func TestBuildAndOpenIndex_GetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := buildEntries(50)
	src := NewSliceSource[types.IntKey, int64, int64](entries)

	config := NewConfig(dir, "roundtrip")
	config.SetBlockSize(256, 256, 256)

	b, err := Initial[types.IntKey, int64, int64](config, int64Diff{}, []byte("app-meta"))
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}

	idx, err := b.BuildIndex(src, NewBloomFilter(128, 0.01), nil)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	defer idx.Close()

	if idx.Len() != 50 {
		t.Fatalf("expected 50 live entries, got %d", idx.Len())
	}
	if string(idx.ToAppMetadata()) != "app-meta" {
		t.Fatalf("unexpected app metadata: %q", idx.ToAppMetadata())
	}

	got, err := idx.Get(types.IntKey(10))
	if err != nil {
		t.Fatalf("Get(10): %v", err)
	}
	if v, _ := got.ToValue(); v != 101 {
		t.Fatalf("expected value 101 for key 10, got %d", v)
	}

	if _, err := idx.Get(types.IntKey(999)); err == nil {
		t.Fatal("expected KeyNotFoundError for missing key")
	}

	if err := idx.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestBuildAndOpenIndex_IterIsOrdered(t *testing.T) {
	dir := t.TempDir()
	entries := buildEntries(30)
	src := NewSliceSource[types.IntKey, int64, int64](entries)

	config := NewConfig(dir, "iterorder")
	config.SetBlockSize(128, 128, 128)

	b, err := Initial[types.IntKey, int64, int64](config, int64Diff{}, nil)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	idx, err := b.BuildIndex(src, NoBitmap{}, nil)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	defer idx.Close()

	it, err := idx.Iter(nil, nil)
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	var count int
	var prev *types.IntKey
	for {
		e, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if e == nil {
			break
		}
		if prev != nil && e.Key.Compare(*prev) <= 0 {
			t.Fatalf("keys out of order at count %d: prev=%v cur=%v", count, *prev, e.Key)
		}
		k := e.Key
		prev = &k
		count++
	}
	if count != 30 {
		t.Fatalf("expected 30 entries from Iter, got %d", count)
	}
}

func TestIndex_PurgeRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	entries := buildEntries(5)
	src := NewSliceSource[types.IntKey, int64, int64](entries)

	config := NewConfig(dir, "purgeme")
	b, err := Initial[types.IntKey, int64, int64](config, int64Diff{}, nil)
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	idx, err := b.BuildIndex(src, NoBitmap{}, nil)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	loc := ToIndexLocation(dir, "purgeme")
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := idx.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := os.Stat(loc); !os.IsNotExist(err) {
		t.Fatalf("expected index file to be removed, stat err=%v", err)
	}
}
