package deaggregation

import (
	"bytes"

	v1aws "github.com/aws/aws-sdk-go/aws"
	v1kinesis "github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/pkg/errors"
)

// DeaggregateRecords flattens a GetRecords batch read with aws-sdk-go-v2.
// Records that are not aggregated are returned as they are. A record that
// carries the aggregated record magic number but fails to decode aborts the
// whole batch.
func DeaggregateRecords(records []types.Record) ([]*Record, error) {
	var out []*Record
	for _, r := range records {
		meta := CarrierMetadata{
			SequenceNumber:              aws.ToString(r.SequenceNumber),
			ApproximateArrivalTimestamp: r.ApproximateArrivalTimestamp,
		}
		expanded, err := expand(r.Data, aws.ToString(r.PartitionKey), meta)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// DeaggregateRecordsV1 is DeaggregateRecords for records read with aws-sdk-go.
func DeaggregateRecordsV1(records []*v1kinesis.Record) ([]*Record, error) {
	var out []*Record
	for _, r := range records {
		meta := CarrierMetadata{
			SequenceNumber:              v1aws.StringValue(r.SequenceNumber),
			ApproximateArrivalTimestamp: r.ApproximateArrivalTimestamp,
		}
		expanded, err := expand(r.Data, v1aws.StringValue(r.PartitionKey), meta)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

func expand(data []byte, partitionKey string, meta CarrierMetadata) ([]*Record, error) {
	if !bytes.HasPrefix(data, magicNumber) {
		return []*Record{{
			PartitionKey:                partitionKey,
			Data:                        data,
			SequenceNumber:              meta.SequenceNumber,
			ApproximateArrivalTimestamp: meta.ApproximateArrivalTimestamp,
		}}, nil
	}
	records, err := Deaggregate(data, meta)
	if err != nil {
		return nil, errors.Wrapf(err, "deaggregate record %s", meta.SequenceNumber)
	}
	return records, nil
}
