package errors

import (
	"errors"
	"testing"
)

func TestErrors_ErrorMethod(t *testing.T) {
	errs := []error{
		&KeyNotFoundError{Key: "k1"},
		&InvalidCASError{Expected: 1, Actual: 2},
		&InvalidInputError{Msg: "bad filename"},
		&InvalidFileError{Path: "/tmp/x", Msg: "marker mismatch"},
		&PurgeFileError{Path: "/tmp/x"},
		&FatalError{Msg: "root pointer nil after insert"},
		&NotImplementedError{Op: "set on read-only index"},
		&IPCFailError{Msg: "channel closed"},
		WrapIO("open", errors.New("boom")),
		WrapCbor("decode", errors.New("boom")),
		&FailConvertError{Op: "u64", Err: errors.New("overflow")},
	}

	for _, e := range errs {
		if e.Error() == "" {
			t.Errorf("Error() returned empty string for %T", e)
		}
	}
}

func TestWrapIO_NilIsNil(t *testing.T) {
	if WrapIO("op", nil) != nil {
		t.Fatal("WrapIO(nil) should return nil")
	}
	if WrapCbor("op", nil) != nil {
		t.Fatal("WrapCbor(nil) should return nil")
	}
}

func TestIOError_Unwrap(t *testing.T) {
	inner := errors.New("disk full")
	err := &IOError{Op: "write", Err: inner}
	if errors.Unwrap(err) != inner {
		t.Fatalf("Unwrap mismatch")
	}
}
