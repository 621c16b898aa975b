// Command rdms-bench is a small demo/bench program exercising the whole
// storage stack end to end: an llrb.Tree write buffer, durability through
// wral.Wal, a flush into a robt.Index snapshot, and a lsm.YGet/YIter merge
// of the two levels. It is not a reimplementation of the bin/ CLIs named
// in spec.md's Non-goals; it is the ambient-stack demo cmd/ entry point
// SPEC_FULL.md calls for, in the spirit of the teacher's examples/.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nilstore/rdms/pkg/db"
	"github.com/nilstore/rdms/pkg/llrb"
	"github.com/nilstore/rdms/pkg/lsm"
	"github.com/nilstore/rdms/pkg/metrics"
	"github.com/nilstore/rdms/pkg/robt"
	"github.com/nilstore/rdms/pkg/types"
	"github.com/nilstore/rdms/pkg/wral"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// marshalCatalogMeta builds the opaque app-metadata payload attached to
// the catalog snapshot, via pkg/db's bson envelope.
func marshalCatalogMeta() ([]byte, error) {
	return db.MarshalAppMetadata(bson.D{{Key: "table", Value: "catalog"}, {Key: "schema_version", Value: int32(1)}})
}

// stringSnapshotDiff stores the whole previous value as its own delta
// rather than a true patch, the simplest Diff that still satisfies
// db.Diff's reconstruction contract for a string value.
type stringSnapshotDiff struct{}

func (stringSnapshotDiff) Diff(newer, older string) string       { return older }
func (stringSnapshotDiff) Merge(newer string, delta string) string { return delta }
func (stringSnapshotDiff) ValueToDelta(v string) string           { return v }
func (stringSnapshotDiff) DeltaToValue(d string) string           { return d }

// cursorSource adapts an llrb.Cursor, whose Next never fails, to
// robt.Source, which BuildIndex requires.
type cursorSource struct {
	cursor *llrb.Cursor[types.VarcharKey, string, string]
}

func (s *cursorSource) Next() (*db.Entry[types.VarcharKey, string, string], error) {
	return s.cursor.Next(), nil
}

func main() {
	dir, err := os.MkdirTemp("", "rdms-bench")
	if err != nil {
		fmt.Printf("mkdir temp: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// ========================================
	// 1. WRITE BUFFER (llrb) BEHIND A DURABLE LOG (wral)
	// ========================================
	fmt.Println("=== write buffer + journal ===")

	log, err := wral.Create[*wral.NoState](wral.NewConfig(dir, "catalog"), &wral.NoState{})
	if err != nil {
		fmt.Printf("wral.Create: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("journal instance %s\n", log.InstanceID())

	tree := llrb.New[types.VarcharKey, string, string]("catalog", stringSnapshotDiff{},
		llrb.WithLsm[types.VarcharKey, string, string](true),
		llrb.WithMetrics[types.VarcharKey, string, string](m))

	products := []struct{ key, value string }{
		{"laptop", `{"name":"Laptop","price":2500.00,"stock":10}`},
		{"mouse", `{"name":"Mouse","price":50.00,"stock":100}`},
		{"keyboard", `{"name":"Keyboard","price":150.00,"stock":50}`},
	}
	for _, p := range products {
		if _, err := log.AddOp([]byte(p.key + "=" + p.value)); err != nil {
			fmt.Printf("AddOp %s: %v\n", p.key, err)
			os.Exit(1)
		}
		tree.Set(types.VarcharKey(p.key), p.value)
	}
	if _, err := log.Commit(); err != nil {
		fmt.Printf("Commit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d products buffered, %d durable in the journal\n", tree.Count(), len(products))

	// ========================================
	// 2. FLUSH THE WRITE BUFFER INTO A ROBT SNAPSHOT
	// ========================================
	fmt.Println("\n=== flush to disk (robt) ===")

	appMeta, err := marshalCatalogMeta()
	if err != nil {
		fmt.Printf("marshal app metadata: %v\n", err)
		os.Exit(1)
	}

	config := robt.NewConfig(dir, "catalog-0")
	builder, err := robt.Initial[types.VarcharKey, string, string](config, stringSnapshotDiff{}, appMeta)
	if err != nil {
		fmt.Printf("robt.Initial: %v\n", err)
		os.Exit(1)
	}
	src := &cursorSource{cursor: tree.Iter()}
	snapshot, err := builder.BuildIndex(src, robt.NewBloomFilter(uint(tree.Count()), 0.01), nil)
	if err != nil {
		fmt.Printf("BuildIndex: %v\n", err)
		os.Exit(1)
	}
	defer snapshot.Close()
	snapshot.SetCacheMetrics(m)
	fmt.Printf("snapshot %s built with %d entries (build id %s)\n", snapshot.ToName(), snapshot.Len(), snapshot.ToStats().BuildID)

	// ========================================
	// 3. NEW WRITES ON TOP OF THE FLUSHED SNAPSHOT
	// ========================================
	fmt.Println("\n=== new writes land in a fresh memtable ===")

	tree2 := llrb.New[types.VarcharKey, string, string]("catalog", stringSnapshotDiff{},
		llrb.WithLsm[types.VarcharKey, string, string](true))
	tree2.Set(types.VarcharKey("laptop"), `{"name":"Laptop Pro","price":3500.00,"stock":5}`)
	tree2.Set(types.VarcharKey("monitor"), `{"name":"Monitor","price":800.00,"stock":25}`)

	// ========================================
	// 4. READ PATH: MERGE THE MEMTABLE OVER THE SNAPSHOT
	// ========================================
	fmt.Println("\n=== merged read path (lsm.YGet) ===")

	get := lsm.YGet[types.VarcharKey, string, string](tree2.Get, snapshot.Get)
	for _, key := range []string{"laptop", "mouse", "monitor", "missing"} {
		entry, err := get(types.VarcharKey(key))
		if err != nil {
			fmt.Printf("%-10s -> not found\n", key)
			continue
		}
		value, _ := entry.ToValue()
		fmt.Printf("%-10s -> %s\n", key, value)
	}

	x := lsm.NewCursorIter[types.VarcharKey, string, string](tree2.Iter().Next)
	y, err := snapshot.Iter(nil, nil)
	if err != nil {
		fmt.Printf("snapshot.Iter: %v\n", err)
		os.Exit(1)
	}
	merged, err := lsm.YIter[types.VarcharKey, string, string](x, y, false)
	if err != nil {
		fmt.Printf("YIter: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nmerged ordered walk:")
	for {
		e, err := merged.Next()
		if err != nil {
			fmt.Printf("merged.Next: %v\n", err)
			break
		}
		if e == nil {
			break
		}
		value, _ := e.ToValue()
		fmt.Printf("  %s = %s\n", e.ToKey(), value)
	}

	// ========================================
	// 5. OPERATIONAL VISIBILITY
	// ========================================
	fmt.Println("\n=== snapshot block tree ===")
	if err := snapshot.Dump(os.Stdout); err != nil {
		fmt.Printf("Dump: %v\n", err)
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		fmt.Printf("Gather: %v\n", err)
	} else {
		fmt.Printf("\n%d prometheus metric families registered\n", len(metricFamilies))
	}

	start := time.Now()
	if _, err := log.Close(); err != nil {
		fmt.Printf("log.Close: %v\n", err)
	}
	fmt.Printf("shutdown in %s\n", time.Since(start))
}
