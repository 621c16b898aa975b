package wral

import (
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/nilstore/rdms/pkg/errors"
)

// encodedEntry is Entry as written to disk: Op already carries its CRC32
// frame from encodeOpFrame.
type encodedEntry struct {
	Seqno uint64
	Op    []byte
}

// batch is one CBOR record appended to a journal file. Per spec.md's
// wire format, batches are concatenated with no additional length-prefix
// framing: a reader relies on CBOR's own self-delimiting decode to find
// each batch's boundary, so marshalBatch/decodeBatches never write a
// length header of their own. Grounded on the (unretrieved) batch.rs via
// journal.rs's Batch/Index usage, filled in from spec.md's external
// interfaces section.
type batch struct {
	FirstSeqno uint64
	LastSeqno  uint64
	State      []byte `cbor:",omitempty"`
	Entries    []encodedEntry
}

func marshalBatch(b batch) ([]byte, error) {
	data, err := cbor.Marshal(b)
	if err != nil {
		return nil, errors.WrapCbor("encode wral batch", err)
	}
	return data, nil
}

// decodeBatches reads every batch in r, stopping cleanly at EOF. A
// journal file that fails to parse partway through is reported via err;
// callers that want "ignore unparseable files" semantics (Wal.Load) treat
// any error from this function as "file not usable" rather than fatal.
func decodeBatches(r io.Reader) ([]batch, error) {
	dec := cbor.NewDecoder(r)
	var out []batch
	for {
		var b batch
		if err := dec.Decode(&b); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, errors.WrapCbor("decode wral batch", err)
		}
		out = append(out, b)
	}
}
