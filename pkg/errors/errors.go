// Package errors defines the error taxonomy shared by the db, llrb, robt,
// lsm and wral packages. Each kind is its own exported struct so callers
// can switch on concrete types instead of sentinel values.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// KeyNotFoundError is returned when a lookup target is absent. It is an
// expected control-flow signal, not an operational anomaly.
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key not found: %s", e.Key)
}

// InvalidCASError is returned when a compare-and-swap precondition fails.
// The caller may retry with Actual as the new cas.
type InvalidCASError struct {
	Expected uint64
	Actual   uint64
}

func (e *InvalidCASError) Error() string {
	return fmt.Sprintf("invalid cas: expected %d, actual %d", e.Expected, e.Actual)
}

// InvalidInputError is returned for malformed user arguments or filenames.
type InvalidInputError struct {
	Msg string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Msg)
}

// InvalidFileError is returned when an on-disk structure fails a format or
// marker check.
type InvalidFileError struct {
	Path string
	Msg  string
}

func (e *InvalidFileError) Error() string {
	return fmt.Sprintf("invalid file %q: %s", e.Path, e.Msg)
}

// PurgeFileError is returned when a purge is blocked by an active reader
// holding the index file open.
type PurgeFileError struct {
	Path string
}

func (e *PurgeFileError) Error() string {
	return fmt.Sprintf("cannot purge %q: file is in use", e.Path)
}

// FatalError signals an invariant violation. The operation that raised it
// must abort; it should never be silently absorbed.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s", e.Msg)
}

// NotImplementedError is returned for unsupported mutations, e.g. writing
// to a read-only ROBT index.
type NotImplementedError struct {
	Op string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("not implemented: %s", e.Op)
}

// IPCFailError is returned when a WRAL writer's request/response channel
// closes unexpectedly.
type IPCFailError struct {
	Msg string
}

func (e *IPCFailError) Error() string {
	return fmt.Sprintf("ipc failed: %s", e.Msg)
}

// IOError wraps an underlying filesystem or file-descriptor failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// WrapIO wraps err as an IOError tagged with op, preserving a stack trace
// via cockroachdb/errors the same way pebble annotates its own disk-format
// errors. Returns nil if err is nil.
func WrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: cockroacherrors.Wrap(err, op)}
}

// FailCborError wraps a CBOR encode/decode failure.
type FailCborError struct {
	Op  string
	Err error
}

func (e *FailCborError) Error() string {
	return fmt.Sprintf("cbor failure during %s: %v", e.Op, e.Err)
}

func (e *FailCborError) Unwrap() error { return e.Err }

// WrapCbor wraps err as a FailCborError tagged with op. Returns nil if err
// is nil.
func WrapCbor(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FailCborError{Op: op, Err: cockroacherrors.Wrap(err, op)}
}

// FailConvertError wraps an integer/type conversion failure.
type FailConvertError struct {
	Op  string
	Err error
}

func (e *FailConvertError) Error() string {
	return fmt.Sprintf("conversion failure during %s: %v", e.Op, e.Err)
}

func (e *FailConvertError) Unwrap() error { return e.Err }

// WrapConvert wraps err as a FailConvertError tagged with op. Returns nil
// if err is nil.
func WrapConvert(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FailConvertError{Op: op, Err: cockroacherrors.Wrap(err, op)}
}
