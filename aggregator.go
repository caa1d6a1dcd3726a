package producer

import (
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/zacharyestep/kpl-aggregation/aggregation"
)

// Contains the AWS Kinesis PutRecordsRequestEntry and UserRecords that are aggregated into
// the request. UserRecords are provided for more control over failure notifications
type AggregatedRecordRequest struct {
	Entry       types.PutRecordsRequestEntry
	UserRecords []UserRecord
}

func NewAggregatedRecordRequest(data []byte, partitionKey, explicitHashKey *string, userRecords []UserRecord) *AggregatedRecordRequest {
	return &AggregatedRecordRequest{
		Entry: types.PutRecordsRequestEntry{
			Data:            data,
			PartitionKey:    partitionKey,
			ExplicitHashKey: explicitHashKey,
		},
		UserRecords: userRecords,
	}
}

// size is what the record counts against the PutRecords request limits.
func (r *AggregatedRecordRequest) size() int {
	n := len(r.Entry.Data)
	if r.Entry.PartitionKey != nil {
		n += len(*r.Entry.PartitionKey)
	}
	return n
}

// Aggregator buffers the user records of one shard into a single aggregated
// record.
type Aggregator struct {
	// Aggregator holds onto its own RWMutex, but the caller of Aggregator methods is expected
	// to call Lock/Unlock
	sync.RWMutex
	// explicitHashKey will be used for aggregated PutRecordsRequestEntry
	explicitHashKey *string
	record          *aggregation.AggRecord
	buf             []UserRecord
}

// NewAggregator initializes a new Aggregator with the given explicit hash key.
// A nil explicitHashKey lets Kinesis hash the partition key of the first user record.
func NewAggregator(explicitHashKey *string, opts ...aggregation.Option) *Aggregator {
	return &Aggregator{
		explicitHashKey: explicitHashKey,
		record:          aggregation.NewAggRecord(opts...),
	}
}

// Size return how many bytes the drained record will have, magic number and
// checksum included. 0 when empty.
func (a *Aggregator) Size() int {
	return a.record.SizeBytes()
}

// Count return how many records stored in the aggregator.
func (a *Aggregator) Count() int {
	return len(a.buf)
}

// Check returns the error Put would return for userRecord without adding it.
// A *aggregation.CapacityExceededError means the aggregator has to be drained first.
func (a *Aggregator) Check(userRecord UserRecord) error {
	return a.record.Check(
		userRecord.PartitionKey(),
		explicitHashKeyString(userRecord),
		userRecord.Data(),
		userRecordTags(userRecord),
	)
}

// Put adds the user record. Nothing is added on error.
func (a *Aggregator) Put(userRecord UserRecord) error {
	_, err := a.record.AddUserRecord(
		userRecord.PartitionKey(),
		explicitHashKeyString(userRecord),
		userRecord.Data(),
		userRecordTags(userRecord),
	)
	if err != nil {
		return err
	}
	a.buf = append(a.buf, userRecord)
	return nil
}

// Drain create an aggregated `types.PutRecordsRequestEntry`
// that compatible with the KCL's deaggregation logic, and empties the aggregator.
// Returns nil when there is nothing to drain.
func (a *Aggregator) Drain() *AggregatedRecordRequest {
	if len(a.buf) == 0 {
		return nil
	}

	partitionKey := a.record.PartitionKey()
	// unsharded carriers route like their first user record
	explicitHashKey := a.explicitHashKey
	if explicitHashKey == nil {
		ehk := a.record.ExplicitHashKey()
		explicitHashKey = &ehk
	}
	request := NewAggregatedRecordRequest(a.record.ToBytes(), &partitionKey, explicitHashKey, a.buf)
	a.clear()
	return request
}

func (a *Aggregator) clear() {
	a.record.Clear()
	a.buf = nil
}
