package db

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestAppMetadataRoundTrip(t *testing.T) {
	doc := bson.D{{Key: "table", Value: "products"}, {Key: "schema_version", Value: int32(3)}}

	data, err := MarshalAppMetadata(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := UnmarshalAppMetadata(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != len(doc) {
		t.Fatalf("got %d fields, want %d", len(got), len(doc))
	}
	for i := range doc {
		if got[i].Key != doc[i].Key || got[i].Value != doc[i].Value {
			t.Fatalf("field %d: got %+v, want %+v", i, got[i], doc[i])
		}
	}
}

func TestAppMetadataEmptyRoundTrip(t *testing.T) {
	got, err := UnmarshalAppMetadata(nil)
	if err != nil {
		t.Fatalf("unmarshal nil: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}
