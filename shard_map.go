package producer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	k "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/zacharyestep/kpl-aggregation/aggregation"
	"github.com/zacharyestep/kpl-aggregation/deaggregation"
)

// Hash key ranges are 0 indexed, so the max is 2^128 - 1
var maxHashKeyRange = aggregation.MaxHashKey.String()

// GetShardsFunc is called to fetch the list of open shards. old is the list the ShardMap
// currently uses. updated reports whether the returned list differs from old; when it is
// false the returned list is ignored.
type GetShardsFunc func(old []types.Shard) (shards []types.Shard, updated bool, err error)

// ShardLister is the interface that wraps the KinesisAPI.ListShards method.
type ShardLister interface {
	ListShards(ctx context.Context, params *k.ListShardsInput, optFns ...func(*k.Options)) (*k.ListShardsOutput, error)
}

// GetKinesisShardsFunc gets the active list of shards from Kinesis.ListShards API
func GetKinesisShardsFunc(client ShardLister, streamName string) GetShardsFunc {
	return func(old []types.Shard) ([]types.Shard, bool, error) {
		var (
			shards []types.Shard
			next   *string
		)

		for {
			input := &k.ListShardsInput{}
			if next != nil {
				input.NextToken = next
			} else {
				input.StreamName = &streamName
			}

			resp, err := client.ListShards(context.Background(), input)
			if err != nil {
				return nil, false, err
			}

			for _, shard := range resp.Shards {
				// There may be many shards with overlapping HashKeyRanges due to prior merge and
				// split operations. The currently open shards are the ones that do not have a
				// SequenceNumberRange.EndingSequenceNumber.
				if shard.SequenceNumberRange == nil || shard.SequenceNumberRange.EndingSequenceNumber == nil {
					shards = append(shards, shard)
				}
			}

			next = resp.NextToken
			if next == nil {
				break
			}
		}

		sort.SliceStable(shards, func(i, j int) bool {
			return hashKeyCmp(shards[i].HashKeyRange.StartingHashKey, shards[j].HashKeyRange.StartingHashKey) < 0
		})

		if shardsEqual(old, shards) {
			return nil, false, nil
		}
		return shards, true, nil
	}
}

// StaticGetShardsFunc returns a GetShardsFunc that when called, will generate a static
// list of shards with length count whos HashKeyRanges are evenly distributed
func StaticGetShardsFunc(count int) GetShardsFunc {
	return func(old []types.Shard) ([]types.Shard, bool, error) {
		if count == 0 {
			return nil, false, nil
		}

		step := new(big.Int).Div(aggregation.MaxHashKey, big.NewInt(int64(count)))
		one := big.NewInt(1)

		shards := make([]types.Shard, count)
		for i := 0; i < count; i++ {
			// starting key range (step * i)
			start := new(big.Int).Mul(big.NewInt(int64(i)), step)
			// ending key range ((step * (i + 1)) - 1)
			end := new(big.Int).Mul(big.NewInt(int64(i+1)), step)
			end.Sub(end, one)

			shards[i] = types.Shard{
				ShardId: strPtr(shardID(i)),
				HashKeyRange: &types.HashKeyRange{
					StartingHashKey: strPtr(start.String()),
					EndingHashKey:   strPtr(end.String()),
				},
			}
		}
		// Set last shard end range to max to account for small rounding errors
		shards[len(shards)-1].HashKeyRange.EndingHashKey = strPtr(maxHashKeyRange)
		return shards, false, nil
	}
}

// shardID formats i the way Kinesis names shards.
func shardID(i int) string {
	return fmt.Sprintf("shardId-%012d", i)
}

func strPtr(s string) *string { return &s }

// Checks to see if the shards have the same hash key ranges
func shardsEqual(a, b []types.Shard) bool {
	if len(a) != len(b) {
		return false
	}
	for i, ashard := range a {
		bshard := b[i]
		if hashKeyCmp(ashard.HashKeyRange.StartingHashKey, bshard.HashKeyRange.StartingHashKey) != 0 ||
			hashKeyCmp(ashard.HashKeyRange.EndingHashKey, bshard.HashKeyRange.EndingHashKey) != 0 {
			return false
		}
	}
	return true
}

// hashKeyCmp compares two decimal hash keys. Unparsable keys sort first.
func hashKeyCmp(a, b *string) int {
	return parseShardKey(a).Cmp(parseShardKey(b))
}

func parseShardKey(s *string) *big.Int {
	if s == nil {
		return big.NewInt(-1)
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return big.NewInt(-1)
	}
	return v
}

type ShardMap struct {
	sync.RWMutex
	shards      []types.Shard
	ends        []*big.Int
	aggregators []*Aggregator
	// aggregateBatchCount determine the maximum number of items to pack into an aggregated record.
	aggregateBatchCount int
	// aggregateBatchSize determine the maximum size of an aggregated record.
	aggregateBatchSize int
}

// NewShardMap initializes an aggregator for each shard.
// UserRecords that map to the same shard based on MD5 hash of their partition
// key (Same method used by Kinesis) will be aggregated together. Aggregators will use an
// ExplicitHashKey from their assigned shards when creating types.PutRecordsRequestEntry.
// A ShardMap with an empty shards slice will return to unsharded behavior with a single
// aggregator. The aggregator will instead use the PartitionKey of the first UserRecord and
// no ExplicitHashKey.
func NewShardMap(shards []types.Shard, aggregateBatchCount, aggregateBatchSize int) *ShardMap {
	ends := make([]*big.Int, len(shards))
	for i, shard := range shards {
		ends[i] = parseShardKey(shard.HashKeyRange.EndingHashKey)
	}
	return &ShardMap{
		shards:              shards,
		ends:                ends,
		aggregators:         makeAggregators(shards, aggregation.WithMaxRecordSize(aggregateBatchSize)),
		aggregateBatchCount: aggregateBatchCount,
		aggregateBatchSize:  aggregateBatchSize,
	}
}

// Put puts a UserRecord into the aggregator that maps to its partition key.
// The returned request, if any, is ready to be sent: either the previous
// contents of a full aggregator, or userRecord alone when it does not fit an
// aggregated record.
func (m *ShardMap) Put(userRecord UserRecord) (*AggregatedRecordRequest, error) {
	m.RLock()
	drained, err := m.put(userRecord)
	// Not using defer to avoid runtime overhead
	m.RUnlock()
	return drained, err
}

// Size return how many bytes stored in all the aggregators.
func (m *ShardMap) Size() int {
	m.RLock()
	size := 0
	for _, a := range m.aggregators {
		a.RLock()
		size += a.Size()
		a.RUnlock()
	}
	m.RUnlock()
	return size
}

// Shards returns the shards the user records are currently bucketed by.
func (m *ShardMap) Shards() []types.Shard {
	m.RLock()
	defer m.RUnlock()
	return m.shards
}

// Drain drains all the aggregators and returns a list of the results
func (m *ShardMap) Drain() []*AggregatedRecordRequest {
	m.RLock()
	var requests []*AggregatedRecordRequest
	for _, a := range m.aggregators {
		a.Lock()
		req := a.Drain()
		a.Unlock()
		if req != nil {
			requests = append(requests, req)
		}
	}
	m.RUnlock()
	return requests
}

// UpdateShards replaces the list of shards and redistributes the user records of pending,
// followed by the buffered ones. Requests in pending that are not aggregated records are
// returned as they are. Returns the requests drained during redistribution.
// On error, nothing changes and pending is returned with the error.
func (m *ShardMap) UpdateShards(shards []types.Shard, pending []*AggregatedRecordRequest) ([]*AggregatedRecordRequest, error) {
	m.Lock()
	defer m.Unlock()

	update := NewShardMap(shards, m.aggregateBatchCount, m.aggregateBatchSize)
	var drained []*AggregatedRecordRequest
	put := func(userRecord UserRecord) error {
		req, err := update.put(userRecord)
		if err != nil {
			return err
		}
		if req != nil {
			drained = append(drained, req)
		}
		return nil
	}

	for _, req := range pending {
		if !deaggregation.IsAggregatedRecord(req.Entry.Data) {
			drained = append(drained, req)
			continue
		}
		for _, userRecord := range req.UserRecords {
			if err := put(userRecord); err != nil {
				return pending, err
			}
		}
	}
	for _, agg := range m.aggregators {
		// We don't need to get the aggregator lock because we have the shard map write lock
		for _, userRecord := range agg.buf {
			if err := put(userRecord); err != nil {
				return pending, err
			}
		}
	}

	// Only update m if we successfully redistributed all the user records
	m.shards = update.shards
	m.ends = update.ends
	m.aggregators = update.aggregators
	return drained, nil
}

// puts a UserRecord into the aggregator that maps to its partition key.
// Not thread safe. acquire lock before calling.
func (m *ShardMap) put(userRecord UserRecord) (*AggregatedRecordRequest, error) {
	bucket := m.bucket(userRecord)
	if bucket == -1 {
		return nil, &ShardBucketError{UserRecord: userRecord}
	}
	a := m.aggregators[bucket]
	a.Lock()
	defer a.Unlock()

	var (
		drained  *AggregatedRecordRequest
		tooLarge *aggregation.RecordTooLargeError
		full     *aggregation.CapacityExceededError
	)
	err := a.Check(userRecord)
	switch {
	case errors.As(err, &tooLarge):
		// does not fit an aggregated record, send it on its own
		partitionKey := userRecord.PartitionKey()
		return NewAggregatedRecordRequest(userRecord.Data(), &partitionKey, explicitHashKeyString(userRecord), []UserRecord{userRecord}), nil
	case errors.As(err, &full):
		drained = a.Drain()
	case err != nil:
		return nil, err
	case a.Count() >= m.aggregateBatchCount:
		drained = a.Drain()
	}
	return drained, a.Put(userRecord)
}

// bucket returns the index of the shard the given partition key maps to.
// Returns -1 if partition key is outside shard range.
// Assumes shards is ordered by contiguous HashKeyRange ascending. If there are gaps in
// shard hash key ranges and the partition key falls into one of the gaps, it will be placed
// in the shard with the larger starting HashKeyRange
// Not thread safe. acquire lock before calling.
func (m *ShardMap) bucket(userRecord UserRecord) int {
	if len(m.shards) == 0 {
		return 0
	}

	hk := userRecord.ExplicitHashKey()
	if hk == nil {
		hk = aggregation.HashKey(userRecord.PartitionKey())
	}

	// smallest index whose ending hash key is >= hk
	bucket := sort.Search(len(m.ends), func(i int) bool {
		return m.ends[i].Cmp(hk) > -1
	})
	if bucket == len(m.shards) {
		return -1
	}
	return bucket
}

func makeAggregators(shards []types.Shard, opts ...aggregation.Option) []*Aggregator {
	count := len(shards)
	if count == 0 {
		return []*Aggregator{NewAggregator(nil, opts...)}
	}

	aggregators := make([]*Aggregator, count)
	for i := 0; i < count; i++ {
		// any key of the range routes the record to the shard, use the first one
		aggregators[i] = NewAggregator(shards[i].HashKeyRange.StartingHashKey, opts...)
	}
	return aggregators
}
