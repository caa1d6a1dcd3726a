package producer

import (
	"errors"
	"fmt"
)

// Errors returned by Put and PutUserRecord.
var (
	ErrStoppedProducer     = errors.New("producer: put on a stopped producer")
	ErrIllegalPartitionKey = errors.New("producer: partition key length must be between 1 and 256 characters")
	ErrRecordSizeExceeded  = errors.New("producer: record data and partition key exceed 1MiB")
)

// FailureRecord reports an aggregated record that Kinesis did not accept,
// along with the user records it carried.
type FailureRecord struct {
	Err error
	// PartitionKey of the PutRecordsRequestEntry.
	PartitionKey string
	// ExplicitHashKey of the PutRecordsRequestEntry, empty when it had none.
	ExplicitHashKey string
	UserRecords     []UserRecord
}

func (e *FailureRecord) Error() string {
	return fmt.Sprintf("%d user records with partition key %q: %v", len(e.UserRecords), e.PartitionKey, e.Err)
}

func (e *FailureRecord) Unwrap() error { return e.Err }

// ShardBucketError is returned when a user record hashes outside of every
// known shard's hash key range.
type ShardBucketError struct {
	UserRecord
}

func (s *ShardBucketError) Error() string {
	if hk := s.ExplicitHashKey(); hk != nil {
		return fmt.Sprintf("explicit hash key %s outside of the shard hash key ranges", hk)
	}
	return fmt.Sprintf("partition key %q outside of the shard hash key ranges", s.PartitionKey())
}
