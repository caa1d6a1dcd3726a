package aggregation

import "fmt"

// ValidationError is returned when a user record has an invalid partition
// key, explicit hash key or tag.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// RecordTooLargeError is returned when a user record does not fit even in an
// empty aggregated record.
type RecordTooLargeError struct {
	// Size the aggregated record would have with only this user record in it
	Size  int
	Limit int
}

func (e *RecordTooLargeError) Error() string {
	return fmt.Sprintf("user record needs %d bytes, aggregated record limit is %d", e.Size, e.Limit)
}

// CapacityExceededError is returned when a user record does not fit in the
// current aggregated record. The caller should flush the aggregated record,
// clear it and add the user record again.
type CapacityExceededError struct {
	// Size the aggregated record would have after adding the user record
	Size  int
	Limit int
	// Count of user records already in the aggregated record
	Count int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("aggregated record with %d user records would grow to %d bytes, limit is %d", e.Count, e.Size, e.Limit)
}
