// Amazon kinesis producer
// A KPL-like batch producer for Amazon Kinesis built on top of the official Go AWS SDK
// and using the same aggregation format that KPL use.
//
// The aggregation and deaggregation subpackages hold the record format itself and can be
// used without the producer.
package producer

import (
	"sync"
	"time"
	"unicode/utf8"
)

// Producer batches records.
type Producer struct {
	sync.RWMutex
	*Config
	shardMap *ShardMap
	pool     *WorkerPool
	metrics  *metrics
	stop     chan struct{}
	done     chan struct{}
	relayed  chan struct{}

	// notifyMu guards the failure listener, which is read by the relay
	// goroutine while Stop holds the Producer lock.
	notifyMu sync.RWMutex
	failure  chan *FailureRecord
	// notify set to true after calling to `NotifyFailures`
	notify bool

	// stopped set to true after `Stop`ing the Producer.
	// This will prevent from user to `Put` any new data.
	stopped bool
}

// New creates new producer with the given config.
func New(config *Config) *Producer {
	config.defaults()
	m := newMetrics(config.Registerer, config.StreamName)
	p := &Producer{
		Config:  config,
		metrics: m,
		pool:    NewWorkerPool(config, m),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		relayed: make(chan struct{}),
	}
	shards, _, err := p.GetShards(nil)
	if err != nil {
		// keep going unsharded, a later refresh may succeed
		p.Logger.Error("get shards", err, LogValue{"stream", p.StreamName})
		shards = nil
	}
	p.shardMap = NewShardMap(shards, p.AggregateBatchCount, p.aggregationLimit())
	return p
}

// Put `data` using `partitionKey` asynchronously. This method is thread-safe.
//
// Under the covers, the Producer will automatically re-attempt puts in case of
// transient errors.
// When unrecoverable error has detected(e.g: trying to put to in a stream that
// doesn't exist), the message will returned by the Producer.
// Add a listener with `Producer.NotifyFailures` to handle undeliverable messages.
func (p *Producer) Put(data []byte, partitionKey string) error {
	return p.PutUserRecord(NewDataRecord(data, partitionKey))
}

// PutUserRecord puts a UserRecord asynchronously. Records implementing
// TaggedUserRecord keep their tags through aggregation.
func (p *Producer) PutUserRecord(userRecord UserRecord) error {
	// held until the record is queued so Stop cannot close the pool under us
	p.RLock()
	defer p.RUnlock()
	if p.stopped {
		return ErrStoppedProducer
	}

	partitionKey := userRecord.PartitionKey()
	// Kinesis counts the partition key against the record size limit
	nbytes := userRecord.Size() + len(partitionKey)
	if nbytes > maxRecordSize {
		return ErrRecordSizeExceeded
	}
	if l := utf8.RuneCountInString(partitionKey); l < 1 || l > maxPartitionKeyLength {
		return ErrIllegalPartitionKey
	}

	// if the record size is bigger than aggregation size
	// handle it as a simple kinesis record
	if nbytes > p.AggregateBatchSize {
		p.metrics.userRecords.Inc()
		p.add(NewAggregatedRecordRequest(userRecord.Data(), &partitionKey, explicitHashKeyString(userRecord), []UserRecord{userRecord}))
		return nil
	}

	drained, err := p.shardMap.Put(userRecord)
	if err != nil {
		return err
	}
	p.metrics.userRecords.Inc()
	if drained != nil {
		p.add(drained)
	}
	return nil
}

// NotifyFailures registers and return listener to handle undeliverable messages.
// The incoming struct has a copy of the Data and the PartitionKey along with some
// error information about why the publishing failed.
func (p *Producer) NotifyFailures() <-chan *FailureRecord {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	if !p.notify {
		p.notify = true
		p.failure = make(chan *FailureRecord, p.BacklogCount)
	}
	return p.failure
}

// Start the producer
func (p *Producer) Start() {
	p.Logger.Info("starting producer", LogValue{"stream", p.StreamName})
	p.pool.Start()
	go p.relay()
	go p.loop()
}

// Stop the producer gracefully. Flushes any in-flight data.
func (p *Producer) Stop() {
	p.Lock()
	if p.stopped {
		p.Unlock()
		return
	}
	p.stopped = true
	p.Unlock()
	p.Logger.Info("stopping producer", LogValue{"backlog", len(p.pool.input)})

	close(p.stop)
	<-p.done

	// drain
	for _, record := range p.shardMap.Drain() {
		p.add(record)
	}
	p.pool.Close()

	// wait
	p.pool.Wait()
	<-p.relayed

	// close the failures channel if we notify
	p.notifyMu.RLock()
	if p.notify {
		close(p.failure)
	}
	p.notifyMu.RUnlock()
	p.Logger.Info("stopped producer")
}

// loop and flush at the configured interval, and refresh the shards if configured.
func (p *Producer) loop() {
	var (
		flushTick                   = time.NewTicker(p.FlushInterval)
		shardTick  *time.Ticker     = nil
		shardTickC <-chan time.Time = nil
	)

	if p.ShardRefreshInterval != 0 {
		shardTick = time.NewTicker(p.ShardRefreshInterval)
		shardTickC = shardTick.C
	}

	defer flushTick.Stop()
	if shardTick != nil {
		defer shardTick.Stop()
	}
	defer close(p.done)

	for {
		select {
		case <-flushTick.C:
			for _, record := range p.drainIfNeed() {
				p.add(record)
			}
			p.pool.Flush()
		case <-shardTickC:
			p.updateShards()
		case <-p.stop:
			return
		}
	}
}

// updateShards fetches the shards and, when they changed, pauses the pool to
// re-aggregate the records it did not send yet for the new shards.
func (p *Producer) updateShards() {
	shards, updated, err := p.GetShards(p.shardMap.Shards())
	if err != nil {
		p.Logger.Error("get shards", err)
		return
	}
	if !updated {
		return
	}

	pending := p.pool.Pause()
	records, err := p.shardMap.UpdateShards(shards, pending)
	if err != nil {
		p.Logger.Error("update shards", err)
	} else {
		p.Logger.Info("updated shards", LogValue{"shards", len(shards)})
	}
	p.pool.Resume(records)
}

// relay forwards the pool failures to the NotifyFailures listener, if any.
func (p *Producer) relay() {
	defer close(p.relayed)
	for failure := range p.pool.Errors() {
		p.notifyMu.RLock()
		notify, ch := p.notify, p.failure
		p.notifyMu.RUnlock()
		if notify {
			ch <- failure
		}
	}
}

func (p *Producer) drainIfNeed() []*AggregatedRecordRequest {
	if p.shardMap.Size() == 0 {
		return nil
	}
	return p.shardMap.Drain()
}

func (p *Producer) add(record *AggregatedRecordRequest) {
	p.metrics.recordBytes.Observe(float64(record.size()))
	p.pool.Add(record)
}
