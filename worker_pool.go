package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	k "github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/pkg/errors"
)

// WorkerPool batches records into PutRecords requests and sends them with at
// most Config.MaxConnections requests in flight.
type WorkerPool struct {
	*Config
	metrics    *metrics
	input      chan *AggregatedRecordRequest
	unfinished chan []*AggregatedRecordRequest
	flush      chan struct{}
	pause      chan struct{}
	done       chan struct{}
	errs       chan *FailureRecord
}

func NewWorkerPool(config *Config, m *metrics) *WorkerPool {
	return &WorkerPool{
		Config:     config,
		metrics:    m,
		input:      make(chan *AggregatedRecordRequest, config.BacklogCount),
		unfinished: make(chan []*AggregatedRecordRequest),
		flush:      make(chan struct{}),
		pause:      make(chan struct{}),
		done:       make(chan struct{}),
		errs:       make(chan *FailureRecord),
	}
}

func (wp *WorkerPool) Start() {
	go wp.loop()
}

// Errors returns the records that could not be sent. It has to be read until
// it is closed by Wait.
func (wp *WorkerPool) Errors() <-chan *FailureRecord {
	return wp.errs
}

// Add queues a record. It blocks when Config.BacklogCount records are queued.
func (wp *WorkerPool) Add(record *AggregatedRecordRequest) {
	wp.input <- record
}

// Pause waits for the in-flight requests to finish and returns every record
// not sent yet. The pool stays paused until Resume.
func (wp *WorkerPool) Pause() []*AggregatedRecordRequest {
	wp.pause <- struct{}{}
	return <-wp.unfinished
}

// Resume queues records ahead of the new ones and restarts sending.
func (wp *WorkerPool) Resume(records []*AggregatedRecordRequest) {
	wp.unfinished <- records
	<-wp.pause
}

// Wait blocks until every record added before Close was sent or reported
// as failed, then closes the Errors channel.
func (wp *WorkerPool) Wait() {
	<-wp.done
	close(wp.errs)
}

// Flush sends the records buffered so far without waiting for a full batch.
func (wp *WorkerPool) Flush() {
	wp.flush <- struct{}{}
}

// Close stops accepting records. Add must not be called afterwards.
func (wp *WorkerPool) Close() {
	close(wp.input)
}

// dispatch is the state owned by the pool loop.
type dispatch struct {
	pending *batch
	// queue holds the batches waiting for a connection, retries first
	queue []*Work
	retry chan *Work
	slots semaphore
	// closed counts the slots taken for good after Close
	closed int
}

func (d *dispatch) enqueue(works ...*Work) {
	for _, w := range works {
		if w != nil {
			d.queue = append(d.queue, w)
		}
	}
}

func (d *dispatch) requeue(w *Work) {
	d.queue = append([]*Work{w}, d.queue...)
}

func (d *dispatch) next() *Work {
	if len(d.queue) == 0 {
		return nil
	}
	w := d.queue[0]
	d.queue = d.queue[1:]
	return w
}

func (wp *WorkerPool) loop() {
	d := &dispatch{
		pending: newBatch(wp.BatchCount, wp.BatchSize),
		retry:   make(chan *Work),
		slots:   make(semaphore, wp.MaxConnections),
	}
	input := wp.input
	defer close(wp.done)

	for {
		// compete for a slot only with work to send, or to close the slots
		// once no more records can come in
		var acquire semaphore
		if len(d.queue) > 0 || input == nil {
			acquire = d.slots
		}

		select {
		case record, ok := <-input:
			if !ok {
				input = nil
				d.enqueue(d.pending.take("drain"))
				continue
			}
			d.enqueue(d.pending.add(record)...)
		case <-wp.flush:
			d.enqueue(d.pending.take("flush interval"))
		case acquire <- struct{}{}:
			if work := d.next(); work != nil {
				go wp.do(work, d.retry, d.slots)
				continue
			}
			if input != nil {
				d.slots.release()
				continue
			}
			// the slot stays taken; when all are, nothing is in flight
			d.closed++
			if d.closed == wp.MaxConnections {
				return
			}
		case failed := <-d.retry:
			d.requeue(failed)
		case <-wp.pause:
			wp.suspend(d, input == nil)
		}
	}
}

// do sends work on a slot taken by the loop and gives the slot back.
func (wp *WorkerPool) do(work *Work, retry chan<- *Work, slots semaphore) {
	if failed := wp.send(work); failed != nil {
		retry <- failed
	}
	slots.release()
}

// suspend waits for the requests in flight, hands the unsent records to Pause
// and blocks until Resume gives records back.
func (wp *WorkerPool) suspend(d *dispatch, closed bool) {
	// retries keep coming until every request in flight is done
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for failed := range d.retry {
			d.requeue(failed)
		}
	}()
	d.slots.wait(wp.MaxConnections - d.closed)
	close(d.retry)
	wg.Wait()

	d.enqueue(d.pending.take("pause"))
	var unsent []*AggregatedRecordRequest
	for _, work := range d.queue {
		unsent = append(unsent, work.records...)
	}
	d.queue = nil
	d.retry = make(chan *Work)
	wp.unfinished <- unsent

	d.slots.open(wp.MaxConnections)
	d.closed = 0

	for _, record := range <-wp.unfinished {
		d.enqueue(d.pending.add(record)...)
	}
	if closed {
		d.enqueue(d.pending.take("drain"))
	}
	wp.pause <- struct{}{}
}

// send puts the records of work. It returns work again, holding only the
// records to retry, when some of them failed.
func (wp *WorkerPool) send(work *Work) *Work {
	count := len(work.records)
	wp.Logger.Info("flushing records", LogValue{"reason", work.reason}, LogValue{"records", count})

	entries := make([]types.PutRecordsRequestEntry, count)
	for i, r := range work.records {
		entries[i] = r.Entry
	}

	out, err := wp.Client.PutRecords(context.Background(), &k.PutRecordsInput{
		StreamName: &wp.StreamName,
		Records:    entries,
	})
	if err != nil {
		wp.fail(work, errors.Wrap(err, "put records"))
		return nil
	}

	if wp.Verbose {
		wp.logResults(out.Records)
	}

	var failed int32
	if out.FailedRecordCount != nil {
		failed = *out.FailedRecordCount
	}
	wp.metrics.kinesisRecords.WithLabelValues("ok").Add(float64(count - int(failed)))
	if failed == 0 {
		return nil
	}
	wp.metrics.kinesisRecords.WithLabelValues("retry").Add(float64(failed))
	wp.metrics.retries.Inc()

	duration := work.b.Duration()
	wp.Logger.Info(
		"put failures",
		LogValue{"failures", failed},
		LogValue{"backoff", duration.String()},
	)
	time.Sleep(duration)

	work.reason = "retry"
	work.keep(failures(work.records, out.Records, failed))
	return work
}

// fail reports every aggregated record of work as undeliverable.
func (wp *WorkerPool) fail(work *Work, err error) {
	count := len(work.records)
	wp.Logger.Error("send", err, LogValue{"records", count})
	wp.metrics.putErrors.Inc()
	wp.metrics.kinesisRecords.WithLabelValues("error").Add(float64(count))
	for _, r := range work.records {
		wp.errs <- &FailureRecord{
			Err:             err,
			PartitionKey:    stringValue(r.Entry.PartitionKey),
			ExplicitHashKey: stringValue(r.Entry.ExplicitHashKey),
			UserRecords:     r.UserRecords,
		}
	}
}

func (wp *WorkerPool) logResults(results []types.PutRecordsResultEntry) {
	for i, r := range results {
		values := make([]LogValue, 2)
		if r.ErrorCode != nil {
			values[0] = LogValue{"ErrorCode", *r.ErrorCode}
			values[1] = LogValue{"ErrorMessage", stringValue(r.ErrorMessage)}
		} else {
			values[0] = LogValue{"ShardId", stringValue(r.ShardId)}
			values[1] = LogValue{"SequenceNumber", stringValue(r.SequenceNumber)}
		}
		wp.Logger.Info(fmt.Sprintf("Result[%d]", i), values...)
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// failures returns the failed records as indicated in the response.
func failures(
	records []*AggregatedRecordRequest,
	response []types.PutRecordsResultEntry,
	count int32,
) []*AggregatedRecordRequest {
	out := make([]*AggregatedRecordRequest, 0, count)
	for i, record := range response {
		if record.ErrorCode != nil {
			out = append(out, records[i])
		}
	}
	return out
}
