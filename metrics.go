package producer

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	userRecords    prometheus.Counter
	kinesisRecords *prometheus.CounterVec
	putErrors      prometheus.Counter
	retries        prometheus.Counter
	recordBytes    prometheus.Histogram
}

// newMetrics creates the producer collectors and registers them on reg when
// it is not nil. Registering two producers of the same stream on one
// registry panics.
func newMetrics(reg prometheus.Registerer, streamName string) *metrics {
	labels := prometheus.Labels{"stream": streamName}
	m := &metrics{
		userRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "kpl",
			Name:        "user_records_total",
			Help:        "User records accepted by Put.",
			ConstLabels: labels,
		}),
		kinesisRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "kpl",
			Name:        "kinesis_records_total",
			Help:        "Kinesis records sent with PutRecords, by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		putErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "kpl",
			Name:        "put_records_errors_total",
			Help:        "PutRecords requests that failed as a whole.",
			ConstLabels: labels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "kpl",
			Name:        "put_records_retries_total",
			Help:        "PutRecords requests retried after partial failures.",
			ConstLabels: labels,
		}),
		recordBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "kpl",
			Name:        "kinesis_record_bytes",
			Help:        "Size of the Kinesis records queued for sending.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.userRecords, m.kinesisRecords, m.putErrors, m.retries, m.recordBytes)
	}
	return m
}
