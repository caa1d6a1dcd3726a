// Package pb holds the KPL aggregated record message and its protobuf wire
// encoding.
//
// The layout follows messages.proto. Fields are always written in field
// number order so that identical messages encode to identical bytes.
//
// Descriptor exposes the schema to reflection based protobuf runtimes, and
// AggregatedRecord.String prints a message in text format through it.
package pb

import "crypto/md5"

// MagicNumber prefixes every aggregated record.
var MagicNumber = []byte{0xF3, 0x89, 0x9A, 0xC2}

// DigestSize is the size of the md5 checksum trailing every aggregated record.
const DigestSize = md5.Size

// Field numbers of messages.proto.
const (
	fieldPartitionKeyTable    = 1
	fieldExplicitHashKeyTable = 2
	fieldRecords              = 3

	fieldPartitionKeyIndex    = 1
	fieldExplicitHashKeyIndex = 2
	fieldData                 = 3
	fieldTags                 = 4

	fieldTagKey   = 1
	fieldTagValue = 2
)

type AggregatedRecord struct {
	PartitionKeyTable    []string
	ExplicitHashKeyTable []string
	Records              []*Record
}

func (m *AggregatedRecord) GetPartitionKeyTable() []string {
	if m != nil {
		return m.PartitionKeyTable
	}
	return nil
}

func (m *AggregatedRecord) GetExplicitHashKeyTable() []string {
	if m != nil {
		return m.ExplicitHashKeyTable
	}
	return nil
}

func (m *AggregatedRecord) GetRecords() []*Record {
	if m != nil {
		return m.Records
	}
	return nil
}

// Record is a single user record inside an AggregatedRecord. Keys are stored
// as indexes into the tables of the enclosing message.
type Record struct {
	PartitionKeyIndex uint64
	// ExplicitHashKeyIndex is nil when the record has no explicit hash key.
	ExplicitHashKeyIndex *uint64
	Data                 []byte
	Tags                 []*Tag
}

func (m *Record) GetPartitionKeyIndex() uint64 {
	if m != nil {
		return m.PartitionKeyIndex
	}
	return 0
}

func (m *Record) GetExplicitHashKeyIndex() (uint64, bool) {
	if m != nil && m.ExplicitHashKeyIndex != nil {
		return *m.ExplicitHashKeyIndex, true
	}
	return 0, false
}

func (m *Record) GetData() []byte {
	if m != nil {
		return m.Data
	}
	return nil
}

func (m *Record) GetTags() []*Tag {
	if m != nil {
		return m.Tags
	}
	return nil
}

type Tag struct {
	Key   string
	Value *string
}

func (m *Tag) GetKey() string {
	if m != nil {
		return m.Key
	}
	return ""
}

func (m *Tag) GetValue() string {
	if m != nil && m.Value != nil {
		return *m.Value
	}
	return ""
}
