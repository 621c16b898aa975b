package wral

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/nilstore/rdms/pkg/errors"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// encodeOpFrame prefixes op with a CRC32 Castagnoli checksum, so a
// corrupted journal is caught at read time rather than handed back to a
// caller silently. Grounded on the teacher's pkg/wal/checksum.go, trimmed
// to just the checksum since batch.go's CBOR framing already carries
// length and entry ordering.
func encodeOpFrame(op []byte) []byte {
	sum := crc32.Checksum(op, castagnoliTable)
	frame := make([]byte, 4+len(op))
	binary.BigEndian.PutUint32(frame[:4], sum)
	copy(frame[4:], op)
	return frame
}

// decodeOpFrame reverses encodeOpFrame, reporting an InvalidFileError
// tagged with loc if the checksum doesn't match.
func decodeOpFrame(frame []byte, loc string) ([]byte, error) {
	if len(frame) < 4 {
		return nil, &errors.InvalidFileError{Path: loc, Msg: "op frame too short"}
	}
	sum := binary.BigEndian.Uint32(frame[:4])
	op := frame[4:]
	if crc32.Checksum(op, castagnoliTable) != sum {
		return nil, &errors.InvalidFileError{Path: loc, Msg: "op checksum mismatch"}
	}
	return op, nil
}
