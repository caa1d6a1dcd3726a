package deaggregation

import "fmt"

// FramingError is returned for records that do not start with the
// aggregated record magic number or are too short to hold one.
type FramingError struct {
	Reason string
	Size   int
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("not an aggregated record (%d bytes): %s", e.Size, e.Reason)
}

// ChecksumMismatchError is returned when the md5 trailer does not match the
// message. The record is corrupted and none of its user records are returned.
type ChecksumMismatchError struct {
	Expected []byte
	Actual   []byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("aggregated record checksum mismatch: stored %x, computed %x", e.Expected, e.Actual)
}

// MalformedMessageError is returned when the protobuf message of an
// aggregated record cannot be decoded or references keys outside its tables.
type MalformedMessageError struct {
	// Record is the index of the offending user record, or -1 when the
	// message itself could not be decoded.
	Record int
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Record < 0 {
		return fmt.Sprintf("malformed aggregated record: %v", e.Err)
	}
	return fmt.Sprintf("malformed aggregated record: user record %d: %v", e.Record, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause reach the decode error.
func (e *MalformedMessageError) Cause() error { return e.Err }

// IndexError describes a key index outside its key table.
type IndexError struct {
	Table string
	Index uint64
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0, %d)", e.Table, e.Index, e.Len)
}
