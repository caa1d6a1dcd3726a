package producer

import (
	"context"
	"log"
	"math"
	"os"
	"time"

	k "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go-simpler.org/env"

	"github.com/zacharyestep/kpl-aggregation/aggregation"
)

// Constants and default configuration taken from the KPL default_config.properties:
// github.com/awslabs/amazon-kinesis-producer/blob/master/java/amazon-kinesis-producer-sample/default_config.properties
const (
	maxRecordSize          = 1 << 20 // 1MiB
	maxRequestSize         = 5 << 20 // 5MiB
	maxRecordsPerRequest   = 500
	maxAggregationSize     = 1048576 // 1MiB
	maxAggregationCount    = math.MaxInt32
	maxPartitionKeyLength  = aggregation.DefaultMaxPartitionKeyLength
	defaultAggregationSize = 51200 // 50k
	defaultMaxConnections  = 24
	defaultFlushInterval   = 5 * time.Second
)

// Putter is the interface that wraps the KinesisAPI.PutRecords method.
type Putter interface {
	PutRecords(ctx context.Context, params *k.PutRecordsInput, optFns ...func(*k.Options)) (*k.PutRecordsOutput, error)
}

// Config is the Producer configuration.
type Config struct {
	// StreamName is the Kinesis stream.
	StreamName string `env:"KPL_STREAM_NAME"`

	// FlushInterval is a regular interval for flushing the buffer. Defaults to 5s.
	FlushInterval time.Duration `env:"KPL_FLUSH_INTERVAL"`

	// ShardRefreshInterval is a regular interval for refreshing the ShardMap.
	// Config.GetShards will be called at this interval. A value of 0 means no refresh
	// occurs. Default is 0
	ShardRefreshInterval time.Duration `env:"KPL_SHARD_REFRESH_INTERVAL"`

	// GetShards is called on NewProducer to initialze the ShardMap.
	// If ShardRefreshInterval is non-zero, GetShards will be called at that interval.
	// The default function returns a nil list of shards, which results in all records being
	// aggregated to a single record.
	GetShards GetShardsFunc

	// BatchCount determine the maximum number of items to pack in batch.
	// Must not exceed 500. Defaults to 500.
	BatchCount int `env:"KPL_BATCH_COUNT"`

	// BatchSize determine the maximum number of bytes to send with a PutRecords request.
	// Must not exceed 5MiB; Default to 5MiB.
	BatchSize int `env:"KPL_BATCH_SIZE"`

	// AggregateBatchCount determine the maximum number of items to pack into an aggregated record.
	AggregateBatchCount int `env:"KPL_AGGREGATE_BATCH_COUNT"`

	// AggregationBatchSize determine the maximum number of bytes to pack into an aggregated record.
	// User records larger than this will bypass aggregation. Defaults to 50KiB.
	AggregateBatchSize int `env:"KPL_AGGREGATE_BATCH_SIZE"`

	// BacklogCount determines the channel capacity before Put() will begin blocking. Default to `BatchCount`.
	BacklogCount int `env:"KPL_BACKLOG_COUNT"`

	// Number of requests to sent concurrently. Default to 24.
	MaxConnections int `env:"KPL_MAX_CONNECTIONS"`

	// Logger is the logger used. Default to a StdLogger writing to stdout.
	Logger Logger

	// Enabling verbose logging. Default to false.
	Verbose bool `env:"KPL_VERBOSE"`

	// Client is the Putter interface implementation.
	Client Putter

	// Registerer receives the producer metrics. Metrics are not exported when nil.
	Registerer prometheus.Registerer
}

// LoadConfigFromEnv reads the scalar settings of a Config from KPL_*
// environment variables. Unset variables keep their zero value and get the
// usual defaults in New. Client, Logger, GetShards and Registerer have to be
// set by the caller.
func LoadConfigFromEnv() (*Config, error) {
	c := new(Config)
	if err := env.Load(c, &env.Options{SliceSep: ","}); err != nil {
		return nil, errors.Wrap(err, "load config from environment")
	}
	return c, nil
}

// defaults for configuration
func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = &StdLogger{log.New(os.Stdout, "", log.LstdFlags)}
	}
	if c.BatchCount == 0 {
		c.BatchCount = maxRecordsPerRequest
	}
	falseOrPanic(c.BatchCount > maxRecordsPerRequest, "kinesis: BatchCount exceeds 500")
	if c.BatchSize == 0 {
		c.BatchSize = maxRequestSize
	}
	falseOrPanic(c.BatchSize > maxRequestSize, "kinesis: BatchSize exceeds 5MiB")
	if c.BacklogCount == 0 {
		c.BacklogCount = maxRecordsPerRequest
	}
	if c.AggregateBatchCount == 0 {
		c.AggregateBatchCount = maxAggregationCount
	}
	falseOrPanic(c.AggregateBatchCount > maxAggregationCount, "kinesis: AggregateBatchCount exceeds 2147483647")
	if c.AggregateBatchSize == 0 {
		c.AggregateBatchSize = defaultAggregationSize
	}
	falseOrPanic(c.AggregateBatchSize > maxAggregationSize, "kinesis: AggregateBatchSize exceeds 1MiB")
	if c.MaxConnections == 0 {
		c.MaxConnections = defaultMaxConnections
	}
	falseOrPanic(c.MaxConnections < 1 || c.MaxConnections > 256, "kinesis: MaxConnections must be between 1 and 256")
	if c.FlushInterval == 0 {
		c.FlushInterval = defaultFlushInterval
	}
	falseOrPanic(len(c.StreamName) == 0, "kinesis: StreamName length must be at least 1")
	if c.GetShards == nil {
		c.GetShards = StaticGetShardsFunc(0)
	}
}

// aggregationLimit is the size limit of aggregated records. Kinesis counts
// the partition key of a record against the 1MiB limit, so leave room for it.
func (c *Config) aggregationLimit() int {
	if limit := maxRecordSize - maxPartitionKeyLength; c.AggregateBatchSize > limit {
		return limit
	}
	return c.AggregateBatchSize
}

func falseOrPanic(p bool, msg string) {
	if p {
		panic(msg)
	}
}
