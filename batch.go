package producer

import "github.com/jpillora/backoff"

// Work is a batch of records sent with one PutRecords call, and the retry
// state of its failed records.
type Work struct {
	records []*AggregatedRecordRequest
	size    int
	reason  string
	b       *backoff.Backoff
}

func NewWork(records []*AggregatedRecordRequest, size int, reason string) *Work {
	return &Work{
		records: records,
		size:    size,
		reason:  reason,
		b: &backoff.Backoff{
			Jitter: true,
		},
	}
}

// keep drops every record but the given ones and resets the size.
func (w *Work) keep(records []*AggregatedRecordRequest) {
	w.records = records
	w.size = 0
	for _, r := range records {
		w.size += r.size()
	}
}

// batch collects records until one of the PutRecords limits is reached.
type batch struct {
	records  []*AggregatedRecordRequest
	size     int
	maxCount int
	maxSize  int
}

func newBatch(maxCount, maxSize int) *batch {
	return &batch{
		records:  make([]*AggregatedRecordRequest, 0, maxCount),
		maxCount: maxCount,
		maxSize:  maxSize,
	}
}

// add appends record and returns the batches it completed, in order. The
// current batch is closed first when record would push it past maxSize.
func (b *batch) add(record *AggregatedRecordRequest) []*Work {
	var done []*Work
	rsize := record.size()
	if b.size+rsize > b.maxSize {
		if w := b.take("batch size"); w != nil {
			done = append(done, w)
		}
	}
	b.records = append(b.records, record)
	b.size += rsize
	if len(b.records) >= b.maxCount {
		done = append(done, b.take("batch length"))
	}
	return done
}

// take closes the current batch. It returns nil when the batch is empty.
func (b *batch) take(reason string) *Work {
	if len(b.records) == 0 {
		return nil
	}
	w := NewWork(b.records, b.size, reason)
	b.records = make([]*AggregatedRecordRequest, 0, b.maxCount)
	b.size = 0
	return w
}
