package deaggregation

import (
	"crypto/md5"
	"errors"
	"fmt"
	"testing"
	"time"

	v1aws "github.com/aws/aws-sdk-go/aws"
	v1kinesis "github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/require"

	"github.com/zacharyestep/kpl-aggregation/aggregation"
	"github.com/zacharyestep/kpl-aggregation/pb"
)

func stringp(s string) *string { return &s }

func userRecords() []aggregation.UserRecord {
	return []aggregation.UserRecord{
		{PartitionKey: "foo", Data: []byte("hello")},
		{PartitionKey: "bar", ExplicitHashKey: stringp("12345"), Data: []byte("world")},
		{PartitionKey: "foo", Data: []byte{}},
		{PartitionKey: "baz", Data: []byte("tagged"), Tags: map[string]string{"env": "prod", "team": ""}},
		{PartitionKey: "bar", ExplicitHashKey: stringp("0"), Data: []byte{0, 1, 2, 3}},
	}
}

func aggregate(t *testing.T, records []aggregation.UserRecord) []byte {
	a := aggregation.NewAggRecord()
	for _, r := range records {
		_, err := a.Add(r)
		require.NoError(t, err)
	}
	return a.ToBytes()
}

// frame wraps a raw message with magic number and a valid checksum.
func frame(message []byte) []byte {
	sum := md5.Sum(message)
	out := append([]byte{}, magicNumber...)
	out = append(out, message...)
	return append(out, sum[:]...)
}

func TestRoundTrip(t *testing.T) {
	input := userRecords()
	data := aggregate(t, input)
	require.True(t, IsAggregatedRecord(data))

	arrival := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	meta := CarrierMetadata{SequenceNumber: "49590338271490256608559692538361571095921575989136588898", ApproximateArrivalTimestamp: &arrival}
	records, err := Deaggregate(data, meta)
	require.NoError(t, err)
	require.Len(t, records, len(input))

	for i, r := range records {
		expected := input[i]
		require.Equal(t, expected.PartitionKey, r.PartitionKey)
		require.Equal(t, expected.ExplicitHashKey, r.ExplicitHashKey)
		require.Equal(t, expected.Data, r.Data)
		if len(expected.Tags) == 0 {
			require.Nil(t, r.Tags)
		} else {
			require.Equal(t, expected.Tags, r.Tags)
		}
		require.Equal(t, meta.SequenceNumber, r.SequenceNumber)
		require.Equal(t, uint64(i), r.SubSequenceNumber)
		require.Equal(t, &arrival, r.ApproximateArrivalTimestamp)
		require.True(t, r.Aggregated)
	}
}

func TestRoundTripManyRecords(t *testing.T) {
	a := aggregation.NewAggRecord()
	var input [][]byte
	for i := 0; ; i++ {
		data := []byte(fmt.Sprintf("record-%d", i))
		_, err := a.AddUserRecord(fmt.Sprintf("pk-%d", i%17), nil, data, nil)
		var cerr *aggregation.CapacityExceededError
		if errors.As(err, &cerr) {
			break
		}
		require.NoError(t, err)
		input = append(input, data)
	}

	datas, err := ExtractRecordDatas(a.ToBytes())
	require.NoError(t, err)
	require.Equal(t, input, datas)
}

func TestDeaggregatedDataIsIndependent(t *testing.T) {
	data := aggregate(t, userRecords())
	records, err := Deaggregate(data, CarrierMetadata{})
	require.NoError(t, err)
	for i := range data {
		data[i] = 0xff
	}
	require.Equal(t, []byte("hello"), records[0].Data)
	require.Equal(t, "foo", records[0].PartitionKey)
}

func TestIsAggregatedRecord(t *testing.T) {
	valid := aggregate(t, userRecords())
	corrupted := append([]byte{}, valid...)
	corrupted[len(magicNumber)] ^= 0x01

	testCases := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{name: "aggregated record", data: valid, expected: true},
		{name: "empty message", data: frame(nil), expected: true},
		{name: "nil", data: nil},
		{name: "plain record", data: []byte("just some json {}")},
		{name: "magic number only", data: magicNumber},
		{name: "shorter than magic number and checksum", data: valid[:len(magicNumber)+md5.Size-1]},
		{name: "corrupted message", data: corrupted},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, IsAggregatedRecord(tc.data))
		})
	}
}

func TestDeaggregateFramingErrors(t *testing.T) {
	valid := aggregate(t, userRecords())
	badMagic := append([]byte{}, valid...)
	badMagic[0] = 0x00

	for name, data := range map[string][]byte{
		"nil":              nil,
		"too short":        valid[:10],
		"bad magic number": badMagic,
		"plain record":     []byte("this is a plain kinesis record, not an aggregated one"),
	} {
		t.Run(name, func(t *testing.T) {
			records, err := Deaggregate(data, CarrierMetadata{})
			require.Nil(t, records)
			var ferr *FramingError
			require.True(t, errors.As(err, &ferr), "expected FramingError, got %v", err)
		})
	}
}

func TestDeaggregateChecksumSensitivity(t *testing.T) {
	valid := aggregate(t, userRecords())
	for i := len(magicNumber); i < len(valid)-md5.Size; i++ {
		for bit := uint(0); bit < 8; bit++ {
			data := append([]byte{}, valid...)
			data[i] ^= 1 << bit
			records, err := Deaggregate(data, CarrierMetadata{})
			require.Nil(t, records)
			var cerr *ChecksumMismatchError
			require.True(t, errors.As(err, &cerr), "byte %d bit %d: %v", i, bit, err)
		}
	}

	// a corrupted checksum is a mismatch too
	data := append([]byte{}, valid...)
	data[len(data)-1] ^= 0x80
	_, err := Deaggregate(data, CarrierMetadata{})
	var cerr *ChecksumMismatchError
	require.True(t, errors.As(err, &cerr))
}

func TestDeaggregateMalformedMessage(t *testing.T) {
	ehkIndex := uint64(3)
	testCases := []struct {
		name    string
		message []byte
		record  int
	}{
		{
			name:    "truncated record",
			message: []byte{0x0a, 0x01, 'a', 0x1a, 0x05, 0x08, 0x00},
			record:  -1,
		},
		{
			name:    "garbage",
			message: []byte{0xff, 0xff, 0xff},
			record:  -1,
		},
		{
			name: "partition key index out of range",
			message: pb.Marshal(&pb.AggregatedRecord{
				PartitionKeyTable: []string{"a"},
				Records: []*pb.Record{
					{PartitionKeyIndex: 0, Data: []byte("ok")},
					{PartitionKeyIndex: 1, Data: []byte("bad")},
				},
			}),
			record: 1,
		},
		{
			name: "explicit hash key index out of range",
			message: pb.Marshal(&pb.AggregatedRecord{
				PartitionKeyTable:    []string{"a"},
				ExplicitHashKeyTable: []string{"1"},
				Records:              []*pb.Record{{PartitionKeyIndex: 0, ExplicitHashKeyIndex: &ehkIndex, Data: []byte("bad")}},
			}),
			record: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := frame(tc.message)
			require.True(t, IsAggregatedRecord(data))
			records, err := Deaggregate(data, CarrierMetadata{})
			require.Nil(t, records)
			var merr *MalformedMessageError
			require.True(t, errors.As(err, &merr), "expected MalformedMessageError, got %v", err)
			require.Equal(t, tc.record, merr.Record)
			if tc.record >= 0 {
				var ierr *IndexError
				require.True(t, errors.As(err, &ierr))
			}
		})
	}
}

func TestDeaggregateEmptyMessage(t *testing.T) {
	records, err := Deaggregate(frame(nil), CarrierMetadata{SequenceNumber: "1"})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestDeaggregateRecords(t *testing.T) {
	arrival := time.Now()
	batch := []types.Record{
		{
			Data:                        []byte("plain"),
			PartitionKey:                aws.String("plain-key"),
			SequenceNumber:              aws.String("1"),
			ApproximateArrivalTimestamp: &arrival,
		},
		{
			Data:           aggregate(t, userRecords()),
			PartitionKey:   aws.String("foo"),
			SequenceNumber: aws.String("2"),
		},
	}

	records, err := DeaggregateRecords(batch)
	require.NoError(t, err)
	require.Len(t, records, 1+len(userRecords()))

	require.False(t, records[0].Aggregated)
	require.Equal(t, "plain-key", records[0].PartitionKey)
	require.Equal(t, []byte("plain"), records[0].Data)
	require.Equal(t, "1", records[0].SequenceNumber)
	require.Equal(t, &arrival, records[0].ApproximateArrivalTimestamp)

	for i, r := range records[1:] {
		require.True(t, r.Aggregated)
		require.Equal(t, "2", r.SequenceNumber)
		require.Equal(t, uint64(i), r.SubSequenceNumber)
		require.Equal(t, userRecords()[i].PartitionKey, r.PartitionKey)
	}

	corrupted := aggregate(t, userRecords())
	corrupted[len(corrupted)/2] ^= 0x01
	batch = append(batch, types.Record{Data: corrupted, SequenceNumber: aws.String("3")})
	records, err = DeaggregateRecords(batch)
	require.Nil(t, records)
	var cerr *ChecksumMismatchError
	require.True(t, errors.As(err, &cerr))
	require.Contains(t, err.Error(), "deaggregate record 3")
}

func TestDeaggregateRecordsV1(t *testing.T) {
	batch := []*v1kinesis.Record{
		{
			Data:           aggregate(t, userRecords()[:2]),
			PartitionKey:   v1aws.String("foo"),
			SequenceNumber: v1aws.String("10"),
		},
		{
			Data:           []byte("plain"),
			PartitionKey:   v1aws.String("plain-key"),
			SequenceNumber: v1aws.String("11"),
		},
	}

	records, err := DeaggregateRecordsV1(batch)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "foo", records[0].PartitionKey)
	require.Equal(t, "bar", records[1].PartitionKey)
	require.Equal(t, "12345", *records[1].ExplicitHashKey)
	require.Equal(t, uint64(1), records[1].SubSequenceNumber)
	require.Equal(t, "10", records[1].SequenceNumber)
	require.False(t, records[2].Aggregated)
	require.Equal(t, "11", records[2].SequenceNumber)
}
