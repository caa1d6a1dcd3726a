package pb

import (
	"testing"

	protov1 "github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

func uint64p(v uint64) *uint64 { return &v }
func stringp(v string) *string { return &v }

func sampleMessage() *AggregatedRecord {
	return &AggregatedRecord{
		PartitionKeyTable:    []string{"foo", "bar"},
		ExplicitHashKeyTable: []string{"340282366920938463463374607431768211455"},
		Records: []*Record{
			{PartitionKeyIndex: 0, Data: []byte("hello")},
			{PartitionKeyIndex: 1, ExplicitHashKeyIndex: uint64p(0), Data: []byte("world")},
			{
				PartitionKeyIndex: 0,
				Data:              []byte{},
				Tags: []*Tag{
					{Key: "env", Value: stringp("prod")},
					{Key: "flag"},
				},
			},
		},
	}
}

func TestMarshalLayout(t *testing.T) {
	m := &AggregatedRecord{
		PartitionKeyTable: []string{"a"},
		Records:           []*Record{{PartitionKeyIndex: 0, Data: []byte("x")}},
	}
	expected := []byte{
		0x0a, 0x01, 'a', // partition_key_table
		0x1a, 0x05, // records
		0x08, 0x00, // partition_key_index
		0x1a, 0x01, 'x', // data
	}
	require.Equal(t, expected, Marshal(m))
	require.Equal(t, len(expected), m.Size())
}

func TestMarshalUnmarshal(t *testing.T) {
	m := sampleMessage()
	b := Marshal(m)
	require.Equal(t, m.Size(), len(b))

	var out AggregatedRecord
	require.NoError(t, Unmarshal(b, &out))
	require.Equal(t, m, &out)

	// deterministic
	require.Equal(t, b, Marshal(m))
}

func TestSizeHelpers(t *testing.T) {
	m := sampleMessage()
	size := 0
	for _, k := range m.PartitionKeyTable {
		size += StringFieldSize(k)
	}
	for _, k := range m.ExplicitHashKeyTable {
		size += StringFieldSize(k)
	}
	for _, r := range m.Records {
		size += RecordFieldSize(r)
	}
	require.Equal(t, len(Marshal(m)), size)

	// 300 bytes of data needs a two byte length prefix
	r := &Record{Data: make([]byte, 300)}
	require.Equal(t, 1+1+1+2+300, r.Size())
}

func TestUnmarshalDataDoesNotAlias(t *testing.T) {
	b := Marshal(sampleMessage())
	var out AggregatedRecord
	require.NoError(t, Unmarshal(b, &out))
	for i := range b {
		b[i] = 0
	}
	require.Equal(t, []byte("hello"), out.Records[0].Data)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Marshal(sampleMessage())
	// field 15, varint 1
	b = append(b, 0x78, 0x01)
	var out AggregatedRecord
	require.NoError(t, Unmarshal(b, &out))
	require.Len(t, out.Records, 3)
}

func TestUnmarshalErrors(t *testing.T) {
	valid := Marshal(sampleMessage())
	testCases := []struct {
		name string
		data []byte
	}{
		{
			name: "truncated message",
			data: valid[:len(valid)-2],
		},
		{
			name: "truncated tag",
			data: []byte{0x80},
		},
		{
			name: "key table with varint wire type",
			data: []byte{0x08, 0x01},
		},
		{
			name: "record length past end of buffer",
			data: []byte{0x1a, 0x10, 0x08, 0x00},
		},
		{
			name: "record without partition key index",
			data: []byte{0x1a, 0x03, 0x1a, 0x01, 'x'},
		},
		{
			name: "record without data",
			data: []byte{0x1a, 0x02, 0x08, 0x00},
		},
		{
			name: "record with bytes partition key index",
			data: []byte{0x1a, 0x06, 0x0a, 0x01, 'x', 0x1a, 0x00, 0x00},
		},
		{
			name: "tag without key",
			data: []byte{0x1a, 0x08, 0x08, 0x00, 0x1a, 0x00, 0x22, 0x02, 0x12, 0x00},
		},
		{
			name: "overflowing varint",
			data: []byte{0x1a, 0x0d, 0x08, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x1a, 0x00},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out AggregatedRecord
			require.Error(t, Unmarshal(tc.data, &out))
		})
	}
}

func TestDescriptorReadsMarshaledBytes(t *testing.T) {
	fd, err := Descriptor()
	require.NoError(t, err)
	md := fd.Messages().ByName("AggregatedRecord")
	require.NotNil(t, md)

	msg := dynamicpb.NewMessage(md)
	require.NoError(t, proto.Unmarshal(Marshal(sampleMessage()), msg))

	pkeys := msg.Get(md.Fields().ByName("partition_key_table")).List()
	require.Equal(t, 2, pkeys.Len())
	require.Equal(t, "bar", pkeys.Get(1).String())

	records := msg.Get(md.Fields().ByName("records")).List()
	require.Equal(t, 3, records.Len())
	second := records.Get(1).Message()
	rfields := second.Descriptor().Fields()
	require.Equal(t, uint64(1), second.Get(rfields.ByName("partition_key_index")).Uint())
	require.True(t, second.Has(rfields.ByName("explicit_hash_key_index")))
	require.Equal(t, []byte("world"), second.Get(rfields.ByName("data")).Bytes())
	require.False(t, records.Get(0).Message().Has(rfields.ByName("explicit_hash_key_index")))

	tags := records.Get(2).Message().Get(rfields.ByName("tags")).List()
	require.Equal(t, 2, tags.Len())
}

func TestUnmarshalReadsReferenceEncoding(t *testing.T) {
	fd, err := Descriptor()
	require.NoError(t, err)
	md := fd.Messages().ByName("AggregatedRecord")
	rd := fd.Messages().ByName("Record")

	msg := dynamicpb.NewMessage(md)
	msg.Mutable(md.Fields().ByName("partition_key_table")).List().Append(protoreflect.ValueOfString("pk"))
	msg.Mutable(md.Fields().ByName("explicit_hash_key_table")).List().Append(protoreflect.ValueOfString("42"))
	records := msg.Mutable(md.Fields().ByName("records")).List()
	for _, data := range []string{"one", "two"} {
		r := records.NewElement()
		r.Message().Set(rd.Fields().ByName("partition_key_index"), protoreflect.ValueOfUint64(0))
		r.Message().Set(rd.Fields().ByName("explicit_hash_key_index"), protoreflect.ValueOfUint64(0))
		r.Message().Set(rd.Fields().ByName("data"), protoreflect.ValueOfBytes([]byte(data)))
		records.Append(r)
	}

	b, err := protov1.Marshal(protov1.MessageV1(msg))
	require.NoError(t, err)

	var out AggregatedRecord
	require.NoError(t, Unmarshal(b, &out))
	require.Equal(t, &AggregatedRecord{
		PartitionKeyTable:    []string{"pk"},
		ExplicitHashKeyTable: []string{"42"},
		Records: []*Record{
			{PartitionKeyIndex: 0, ExplicitHashKeyIndex: uint64p(0), Data: []byte("one")},
			{PartitionKeyIndex: 0, ExplicitHashKeyIndex: uint64p(0), Data: []byte("two")},
		},
	}, &out)
}

func TestAggregatedRecordString(t *testing.T) {
	s := sampleMessage().String()
	require.Contains(t, s, "partition_key_table:")
	require.Contains(t, s, `"bar"`)
	require.Contains(t, s, "records:")
	require.Contains(t, s, "partition_key_index:")
	require.Contains(t, s, `"world"`)
	require.Contains(t, s, "tags:")

	var empty *AggregatedRecord
	require.Equal(t, "<nil>", empty.String())
}
