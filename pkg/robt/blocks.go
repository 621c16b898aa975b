package robt

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/nilstore/rdms/pkg/errors"
	"github.com/nilstore/rdms/pkg/types"
)

func marshalOneEntry[K types.Comparable, V any, D any](e Entry[K, V, D]) ([]byte, error) {
	data, err := cbor.Marshal(e)
	if err != nil {
		return nil, errors.WrapCbor("encode block entry", err)
	}
	return data, nil
}

// padBlock grows block to size with zero bytes, matching the teacher's
// fixed-size, zero-padded page convention; callers guarantee
// len(block) <= size before calling.
func padBlock(block []byte, size int) []byte {
	if len(block) >= size {
		return block
	}
	return append(block, make([]byte, size-len(block))...)
}

func keyString(k types.Comparable) string {
	if s, ok := k.(interface{ String() string }); ok {
		return s.String()
	}
	return "?"
}
