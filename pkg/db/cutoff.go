package db

// BoundKind is the shape of a seqno bound used by Cutoff.
type BoundKind int

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// Bound is a seqno boundary: Unbounded, or Included/Excluded at Value.
type Bound struct {
	Kind  BoundKind
	Value uint64
}

// IncludedAt builds an Included bound at seqno.
func IncludedAt(seqno uint64) Bound { return Bound{Kind: Included, Value: seqno} }

// ExcludedAt builds an Excluded bound at seqno.
func ExcludedAt(seqno uint64) Bound { return Bound{Kind: Excluded, Value: seqno} }

// CutoffKind selects one of the three compaction strategies.
type CutoffKind int

const (
	CutoffMono CutoffKind = iota
	CutoffLsm
	CutoffTombstone
)

// Cutoff controls how Entry.Compact trims version history.
//
//   - Mono: drop every delta, keep only the latest version; drop the entry
//     entirely if the latest version is a delete.
//   - Lsm(bound): drop the entry if its latest seqno falls at-or-before
//     bound (per bound's inclusivity); otherwise keep only deltas whose
//     seqno is strictly after bound.
//   - Tombstone(bound): drop the entry iff it is deleted and its seqno
//     falls at-or-before bound; otherwise keep it unchanged.
type Cutoff struct {
	Kind  CutoffKind
	Bound Bound
}

// Mono builds a Cutoff{Kind: CutoffMono}.
func Mono() Cutoff { return Cutoff{Kind: CutoffMono} }

// Lsm builds a Cutoff{Kind: CutoffLsm} at bound.
func Lsm(bound Bound) Cutoff { return Cutoff{Kind: CutoffLsm, Bound: bound} }

// Tombstone builds a Cutoff{Kind: CutoffTombstone} at bound.
func Tombstone(bound Bound) Cutoff { return Cutoff{Kind: CutoffTombstone, Bound: bound} }
