package db

// Delta is a reverse patch recorded against a version that has been
// superseded: either Upsert{delta} describing how to reconstruct the prior
// live value, or Delete{} marking that the prior version was itself a
// tombstone.
type Delta[D any] struct {
	Delta   D
	Seqno   uint64
	Deleted bool
}

// ToSeqno returns the seqno of the version this delta reconstructs.
func (d Delta[D]) ToSeqno() uint64 { return d.Seqno }
