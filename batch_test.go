package producer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rawRequest(pk string, n int) *AggregatedRecordRequest {
	return NewAggregatedRecordRequest(mockData("x", n), &pk, nil, nil)
}

func TestBatch(t *testing.T) {
	tests := []struct {
		name     string
		maxCount int
		maxSize  int
		sizes    []int
		// expected reasons and record counts of the completed batches
		reasons []string
		counts  []int
		// left in the batch
		pending int
	}{
		{
			name:     "under limits",
			maxCount: 10,
			maxSize:  100,
			sizes:    []int{10, 10, 10},
			pending:  3,
		},
		{
			name:     "count limit",
			maxCount: 2,
			maxSize:  100,
			sizes:    []int{10, 10, 10},
			reasons:  []string{"batch length"},
			counts:   []int{2},
			pending:  1,
		},
		{
			name:     "size limit",
			maxCount: 10,
			maxSize:  25,
			// partition key "k" adds one byte per record
			sizes:   []int{10, 10, 10},
			reasons: []string{"batch size"},
			counts:  []int{2},
			pending: 1,
		},
		{
			name:     "size and count limit at once",
			maxCount: 2,
			maxSize:  25,
			sizes:    []int{20, 20, 1},
			reasons:  []string{"batch size", "batch length"},
			counts:   []int{1, 2},
			pending:  0,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := newBatch(test.maxCount, test.maxSize)
			var done []*Work
			for _, size := range test.sizes {
				done = append(done, b.add(rawRequest("k", size))...)
			}
			require.Len(t, done, len(test.reasons))
			for i, w := range done {
				require.Equal(t, test.reasons[i], w.reason)
				require.Len(t, w.records, test.counts[i])
				size := 0
				for _, r := range w.records {
					size += r.size()
				}
				require.Equal(t, size, w.size)
			}
			require.Len(t, b.records, test.pending)

			w := b.take("drain")
			if test.pending == 0 {
				require.Nil(t, w)
				return
			}
			require.Equal(t, "drain", w.reason)
			require.Len(t, w.records, test.pending)
			require.Nil(t, b.take("drain"))
		})
	}
}

func TestWorkKeep(t *testing.T) {
	records := []*AggregatedRecordRequest{rawRequest("a", 10), rawRequest("b", 20)}
	w := NewWork(records, 33, "flush interval")
	w.keep(records[1:])
	require.Len(t, w.records, 1)
	require.Equal(t, 21, w.size)
}
