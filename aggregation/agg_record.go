// Package aggregation packs many user records into a single Kinesis record
// using the KPL aggregated record format:
//
//	magic number (4 bytes) | protobuf AggregatedRecord | md5 of the message (16 bytes)
//
// Partition keys and explicit hash keys are stored once per aggregated record
// in key tables and referenced by index from every user record.
package aggregation

import (
	"crypto/md5"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/zacharyestep/kpl-aggregation/pb"
)

const envelopeSize = 4 + pb.DigestSize

// UserRecord is a user record before aggregation.
type UserRecord struct {
	PartitionKey string
	// ExplicitHashKey is a base-10 integer in [0, 2^128-1], or nil.
	ExplicitHashKey *string
	Data            []byte
	Tags            map[string]string
}

// AggRecord is an aggregated record under construction. It grows by
// AddUserRecord until a record no longer fits, is serialized by ToBytes and
// reused after Clear.
//
// An AggRecord is not safe for concurrent use.
type AggRecord struct {
	opts             options
	partitionKeys    *KeyTable
	explicitHashKeys *KeyTable
	records          []*pb.Record
	// size of the protobuf message, without magic number and checksum
	messageSize int

	partitionKey    string
	explicitHashKey string
}

func NewAggRecord(opts ...Option) *AggRecord {
	a := &AggRecord{opts: newOptions(opts)}
	a.Clear()
	return a
}

// Add is shorthand for AddUserRecord.
func (a *AggRecord) Add(r UserRecord) (int, error) {
	return a.AddUserRecord(r.PartitionKey, r.ExplicitHashKey, r.Data, r.Tags)
}

// AddUserRecord appends a user record and returns its index in the aggregated
// record. data must not be modified after the call.
//
// On error the AggRecord is left unchanged. A *CapacityExceededError means
// the aggregated record is full: flush it, Clear it and add the record again.
func (a *AggRecord) AddUserRecord(partitionKey string, explicitHashKey *string, data []byte, tags map[string]string) (int, error) {
	record, delta, err := a.prepare(partitionKey, explicitHashKey, data, tags)
	if err != nil {
		return -1, err
	}

	if len(a.records) == 0 {
		a.partitionKey = partitionKey
		if explicitHashKey != nil {
			a.explicitHashKey = *explicitHashKey
		} else {
			a.explicitHashKey = digestHashKey(a.opts.hashKeyDigest, partitionKey).String()
		}
	}
	a.partitionKeys.Intern(partitionKey)
	if explicitHashKey != nil {
		a.explicitHashKeys.Intern(*explicitHashKey)
	}
	a.records = append(a.records, record)
	a.messageSize += delta
	return len(a.records) - 1, nil
}

// Check returns the error AddUserRecord would return for the same arguments,
// without adding anything.
func (a *AggRecord) Check(partitionKey string, explicitHashKey *string, data []byte, tags map[string]string) error {
	_, _, err := a.prepare(partitionKey, explicitHashKey, data, tags)
	return err
}

// prepare validates a user record and builds its wire form. It returns the
// number of bytes adding it grows the message by.
func (a *AggRecord) prepare(partitionKey string, explicitHashKey *string, data []byte, tags map[string]string) (*pb.Record, int, error) {
	if err := a.validate(partitionKey, explicitHashKey, tags); err != nil {
		return nil, 0, err
	}

	record := &pb.Record{
		Data: data,
		Tags: makeTags(tags),
	}

	var newKeysSize int
	index, ok := a.partitionKeys.Lookup(partitionKey)
	if !ok {
		index = uint64(a.partitionKeys.Len())
		newKeysSize += pb.StringFieldSize(partitionKey)
	}
	record.PartitionKeyIndex = index
	if explicitHashKey != nil {
		index, ok := a.explicitHashKeys.Lookup(*explicitHashKey)
		if !ok {
			index = uint64(a.explicitHashKeys.Len())
			newKeysSize += pb.StringFieldSize(*explicitHashKey)
		}
		record.ExplicitHashKeyIndex = &index
	}

	delta := newKeysSize + pb.RecordFieldSize(record)
	if size := envelopeSize + a.messageSize + delta; size > a.opts.maxRecordSize {
		alone := aloneSize(partitionKey, explicitHashKey, record)
		if len(a.records) == 0 || alone > a.opts.maxRecordSize {
			return nil, 0, &RecordTooLargeError{Size: alone, Limit: a.opts.maxRecordSize}
		}
		return nil, 0, &CapacityExceededError{Size: size, Limit: a.opts.maxRecordSize, Count: len(a.records)}
	}
	return record, delta, nil
}

// PartitionKey returns the partition key to put the aggregated record with:
// the partition key of the first user record.
func (a *AggRecord) PartitionKey() string {
	return a.partitionKey
}

// ExplicitHashKey returns the explicit hash key to put the aggregated record
// with. It is the explicit hash key of the first user record if it had one,
// and the hash key of its partition key otherwise. Empty until the first
// user record is added.
func (a *AggRecord) ExplicitHashKey() string {
	return a.explicitHashKey
}

// NumUserRecords returns how many user records were added.
func (a *AggRecord) NumUserRecords() int {
	return len(a.records)
}

// SizeBytes returns the length of ToBytes, magic number and checksum
// included. It is 0 for an empty AggRecord.
func (a *AggRecord) SizeBytes() int {
	if len(a.records) == 0 {
		return 0
	}
	return envelopeSize + a.messageSize
}

// ToBytes serializes the aggregated record. The same contents always produce
// the same bytes. It does not clear the AggRecord, and returns nil when no
// user record was added.
func (a *AggRecord) ToBytes() []byte {
	if len(a.records) == 0 {
		return nil
	}
	msg := &pb.AggregatedRecord{
		PartitionKeyTable:    a.partitionKeys.Keys(),
		ExplicitHashKeyTable: a.explicitHashKeys.Keys(),
		Records:              a.records,
	}
	out := make([]byte, 0, a.SizeBytes())
	out = append(out, pb.MagicNumber...)
	out = pb.AppendMarshal(out, msg)
	sum := md5.Sum(out[len(pb.MagicNumber):])
	return append(out, sum[:]...)
}

// Clear resets the AggRecord to its empty state.
func (a *AggRecord) Clear() {
	a.partitionKeys = NewKeyTable()
	a.explicitHashKeys = NewKeyTable()
	a.records = nil
	a.messageSize = 0
	a.partitionKey = ""
	a.explicitHashKey = ""
}

func (a *AggRecord) validate(partitionKey string, explicitHashKey *string, tags map[string]string) error {
	if partitionKey == "" {
		return &ValidationError{Field: "partition key", Value: partitionKey, Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(partitionKey); n > a.opts.maxPartitionKeyLength {
		return &ValidationError{
			Field:  "partition key",
			Value:  partitionKey,
			Reason: fmt.Sprintf("has %d characters, at most %d allowed", n, a.opts.maxPartitionKeyLength),
		}
	}
	if explicitHashKey != nil {
		if _, ok := ParseHashKey(*explicitHashKey); !ok {
			return &ValidationError{
				Field:  "explicit hash key",
				Value:  *explicitHashKey,
				Reason: "must be a base-10 integer in [0, 2^128-1]",
			}
		}
	}
	for k := range tags {
		if k == "" {
			return &ValidationError{Field: "tag key", Value: k, Reason: "must not be empty"}
		}
	}
	return nil
}

// aloneSize is the size of an aggregated record holding only this record.
func aloneSize(partitionKey string, explicitHashKey *string, record *pb.Record) int {
	r := *record
	r.PartitionKeyIndex = 0
	size := envelopeSize + pb.StringFieldSize(partitionKey)
	if explicitHashKey != nil {
		var zero uint64
		r.ExplicitHashKeyIndex = &zero
		size += pb.StringFieldSize(*explicitHashKey)
	}
	return size + pb.RecordFieldSize(&r)
}

// makeTags converts tags to their wire form, sorted by key.
func makeTags(tags map[string]string) []*pb.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*pb.Tag, len(keys))
	for i, k := range keys {
		v := tags[k]
		out[i] = &pb.Tag{Key: k, Value: &v}
	}
	return out
}
