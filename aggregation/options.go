package aggregation

import (
	"crypto/md5"
	"hash"
)

const (
	// DefaultMaxRecordSize is the Kinesis limit for a single record, 1MiB.
	DefaultMaxRecordSize = 1 << 20
	// DefaultMaxPartitionKeyLength is the Kinesis limit for partition keys, in characters.
	DefaultMaxPartitionKeyLength = 256
)

type options struct {
	maxRecordSize         int
	maxPartitionKeyLength int
	hashKeyDigest         func() hash.Hash
}

// Option configures an AggRecord.
type Option func(*options)

// WithMaxRecordSize sets the maximum size in bytes of the serialized
// aggregated record, magic number and checksum included.
func WithMaxRecordSize(n int) Option {
	return func(o *options) { o.maxRecordSize = n }
}

// WithMaxPartitionKeyLength sets the maximum partition key length in characters.
func WithMaxPartitionKeyLength(n int) Option {
	return func(o *options) { o.maxPartitionKeyLength = n }
}

// WithHashKeyDigest sets the digest used to derive the explicit hash key of
// the aggregated record from its partition key. Only the first 16 bytes of
// the digest are used.
func WithHashKeyDigest(newHash func() hash.Hash) Option {
	return func(o *options) { o.hashKeyDigest = newHash }
}

func newOptions(opts []Option) options {
	o := options{
		maxRecordSize:         DefaultMaxRecordSize,
		maxPartitionKeyLength: DefaultMaxPartitionKeyLength,
		hashKeyDigest:         md5.New,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
