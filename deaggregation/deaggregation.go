// Package deaggregation extracts user records from KPL aggregated records.
//
// Decoding is all or nothing: a record that fails framing, checksum or
// message validation yields an error and no user records.
package deaggregation

import (
	"bytes"
	"crypto/md5"
	"time"

	"github.com/zacharyestep/kpl-aggregation/pb"
)

var magicNumber = pb.MagicNumber

// Record is a user record extracted from a Kinesis record.
type Record struct {
	PartitionKey string
	// ExplicitHashKey is nil when the user record had none.
	ExplicitHashKey *string
	Data            []byte
	// Tags is nil when the user record had none.
	Tags map[string]string

	// SequenceNumber of the Kinesis record the user record was read from.
	SequenceNumber string
	// SubSequenceNumber is the position of the user record inside its
	// aggregated record. Always 0 for records that were not aggregated.
	SubSequenceNumber           uint64
	ApproximateArrivalTimestamp *time.Time
	// Aggregated tells whether the user record came out of an aggregated record.
	Aggregated bool
}

// CarrierMetadata is the stream metadata of the Kinesis record that carried
// an aggregated record.
type CarrierMetadata struct {
	SequenceNumber              string
	ApproximateArrivalTimestamp *time.Time
}

// IsAggregatedRecord judges whether input message is Kinesis Aggregated Record or not.
func IsAggregatedRecord(target []byte) bool {
	if len(target) < len(magicNumber)+md5.Size {
		return false
	}
	if !bytes.Equal(magicNumber, target[:len(magicNumber)]) {
		return false
	}
	sum := md5.Sum(target[len(magicNumber) : len(target)-md5.Size])
	return bytes.Equal(target[len(target)-md5.Size:], sum[:])
}

// Deaggregate extracts the user records of an aggregated record, in the
// order they were aggregated. Every user record is annotated with the
// carrier's metadata and its sub-sequence number.
func Deaggregate(target []byte, meta CarrierMetadata) ([]*Record, error) {
	aggregated, err := Unmarshal(target)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, len(aggregated.Records))
	for i, r := range aggregated.Records {
		record := &Record{
			PartitionKey:                aggregated.PartitionKeyTable[r.PartitionKeyIndex],
			Data:                        r.Data,
			SequenceNumber:              meta.SequenceNumber,
			SubSequenceNumber:           uint64(i),
			ApproximateArrivalTimestamp: meta.ApproximateArrivalTimestamp,
			Aggregated:                  true,
		}
		if index, ok := r.GetExplicitHashKeyIndex(); ok {
			ehk := aggregated.ExplicitHashKeyTable[index]
			record.ExplicitHashKey = &ehk
		}
		if len(r.Tags) > 0 {
			record.Tags = make(map[string]string, len(r.Tags))
			for _, tag := range r.Tags {
				record.Tags[tag.GetKey()] = tag.GetValue()
			}
		}
		records[i] = record
	}
	return records, nil
}

// ExtractRecordDatas extracts Record.Data slice from Kinesis Aggregated Record.
func ExtractRecordDatas(target []byte) ([][]byte, error) {
	aggregated, err := Unmarshal(target)
	if err != nil {
		return nil, err
	}
	datas := make([][]byte, len(aggregated.Records))
	for i, r := range aggregated.Records {
		datas[i] = r.GetData()
	}
	return datas, nil
}

// Unmarshal validates the framing and checksum of target, decodes the
// AggregatedRecord and checks that every key index is inside its table.
func Unmarshal(target []byte) (*pb.AggregatedRecord, error) {
	if len(target) < len(magicNumber)+md5.Size {
		return nil, &FramingError{Reason: "record shorter than magic number and checksum", Size: len(target)}
	}
	if !bytes.Equal(magicNumber, target[:len(magicNumber)]) {
		return nil, &FramingError{Reason: "magic number mismatch", Size: len(target)}
	}

	message := target[len(magicNumber) : len(target)-md5.Size]
	sum := md5.Sum(message)
	if stored := target[len(target)-md5.Size:]; !bytes.Equal(stored, sum[:]) {
		return nil, &ChecksumMismatchError{
			Expected: append([]byte(nil), stored...),
			Actual:   sum[:],
		}
	}

	aggregated := new(pb.AggregatedRecord)
	if err := pb.Unmarshal(message, aggregated); err != nil {
		return nil, &MalformedMessageError{Record: -1, Err: err}
	}
	if err := validateIndexes(aggregated); err != nil {
		return nil, err
	}
	return aggregated, nil
}

func validateIndexes(aggregated *pb.AggregatedRecord) error {
	pkeys := uint64(len(aggregated.PartitionKeyTable))
	ehkeys := uint64(len(aggregated.ExplicitHashKeyTable))
	for i, r := range aggregated.Records {
		if r.PartitionKeyIndex >= pkeys {
			return &MalformedMessageError{
				Record: i,
				Err:    &IndexError{Table: "partition key", Index: r.PartitionKeyIndex, Len: len(aggregated.PartitionKeyTable)},
			}
		}
		if index, ok := r.GetExplicitHashKeyIndex(); ok && index >= ehkeys {
			return &MalformedMessageError{
				Record: i,
				Err:    &IndexError{Table: "explicit hash key", Index: index, Len: len(aggregated.ExplicitHashKeyTable)},
			}
		}
	}
	return nil
}
