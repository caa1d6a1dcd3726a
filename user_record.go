package producer

import "math/big"

// UserRecord represents an individual record that is meant for aggregation
type UserRecord interface {
	// PartitionKey returns the partition key of the record
	PartitionKey() string
	// ExplicitHashKey returns an optional explicit hash key that will be used for shard
	// mapping. Should return nil if there is none.
	ExplicitHashKey() *big.Int
	// The raw data payload of the record that should be added to the record
	Data() []byte
	// Size is the size of the record's data. Do not include the size of the partition key
	// in this result. The partition key's size is calculated separately by the aggregator.
	Size() int
}

// TaggedUserRecord is a UserRecord carrying tags. Tags are stored next to
// the record in the aggregated record and returned by deaggregation.
type TaggedUserRecord interface {
	UserRecord
	Tags() map[string]string
}

type DataRecord struct {
	partitionKey string
	data         []byte
}

func NewDataRecord(data []byte, partitionKey string) *DataRecord {
	return &DataRecord{
		partitionKey: partitionKey,
		data:         data,
	}
}

func (r *DataRecord) PartitionKey() string      { return r.partitionKey }
func (r *DataRecord) ExplicitHashKey() *big.Int { return nil }
func (r *DataRecord) Data() []byte              { return r.data }
func (r *DataRecord) Size() int                 { return len(r.data) }

// TaggedDataRecord is a DataRecord with tags.
type TaggedDataRecord struct {
	DataRecord
	tags map[string]string
}

func NewTaggedDataRecord(data []byte, partitionKey string, tags map[string]string) *TaggedDataRecord {
	return &TaggedDataRecord{
		DataRecord: DataRecord{partitionKey: partitionKey, data: data},
		tags:       tags,
	}
}

func (r *TaggedDataRecord) Tags() map[string]string { return r.tags }

// explicitHashKeyString renders the explicit hash key of r, nil if it has none.
func explicitHashKeyString(r UserRecord) *string {
	hk := r.ExplicitHashKey()
	if hk == nil {
		return nil
	}
	s := hk.String()
	return &s
}

func userRecordTags(r UserRecord) map[string]string {
	if tagged, ok := r.(TaggedUserRecord); ok {
		return tagged.Tags()
	}
	return nil
}
