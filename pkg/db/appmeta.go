package db

import (
	"github.com/nilstore/rdms/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// MarshalAppMetadata encodes doc as the opaque application-metadata
// payload ROBT carries alongside an index (robt.Initial/Incremental's
// appMeta argument). Grounded on the teacher's pkg/storage/bson.go
// MarshalBson, reused here so a caller can attach a self-describing
// document (schema version, table name, build flags) to an index
// without ROBT itself needing to know its shape.
func MarshalAppMetadata(doc bson.D) ([]byte, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.WrapConvert("marshal app metadata", err)
	}
	return data, nil
}

// UnmarshalAppMetadata decodes a payload previously produced by
// MarshalAppMetadata. An empty payload decodes to a nil bson.D rather
// than an error, since an index built with no app metadata is common.
func UnmarshalAppMetadata(data []byte) (bson.D, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapConvert("unmarshal app metadata", err)
	}
	return doc, nil
}
