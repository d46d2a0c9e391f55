package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	WebhookReceived  prometheus.Counter
	Duplicates       prometheus.Counter
	IngestFailures   prometheus.Counter
	EnqueueFailures  prometheus.Counter
	Processed        prometheus.Counter
	ProcessRetries   prometheus.Counter
	DeadLettered     prometheus.Counter
	Recovered        prometheus.Counter
	UploadDuration   prometheus.Histogram
	UploadBytes      prometheus.Histogram
	PendingRecovered prometheus.Gauge
}

// NewMetrics creates Prometheus metrics registered on reg. A nil reg leaves
// them unregistered, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhookReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_archiver_webhook_received_total",
			Help: "Total number of inbound webhook deliveries",
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_archiver_duplicates_total",
			Help: "Total number of deliveries recognised as duplicates",
		}),
		IngestFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_archiver_ingest_failures_total",
			Help: "Total number of deliveries that could not be stored",
		}),
		EnqueueFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_archiver_enqueue_failures_total",
			Help: "Total number of stored emails whose work item could not be enqueued",
		}),
		Processed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_archiver_processed_total",
			Help: "Total number of emails uploaded and marked completed",
		}),
		ProcessRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_archiver_process_retries_total",
			Help: "Total number of processing attempts that asked for a retry",
		}),
		DeadLettered: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_archiver_dead_lettered_total",
			Help: "Total number of emails marked failed after exhausting attempts",
		}),
		Recovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_archiver_recovered_total",
			Help: "Total number of pending emails re-enqueued by the recovery sweep",
		}),
		UploadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_archiver_upload_duration_seconds",
			Help:    "Time spent uploading an email to the storage provider",
			Buckets: prometheus.DefBuckets,
		}),
		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_archiver_upload_bytes",
			Help:    "Size of uploaded emails",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		PendingRecovered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mail_archiver_last_sweep_pending",
			Help: "Number of pending emails found by the last recovery sweep",
		}),
	}
}
