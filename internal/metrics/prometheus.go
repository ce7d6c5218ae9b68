package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PostbacksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbacks_received_total",
			Help: "Total number of postbacks received",
		},
		[]string{"event_type"},
	)

	PostbacksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbacks_rejected_total",
			Help: "Total number of postbacks rejected, by reason code",
		},
		[]string{"reason"},
	)

	PostbacksDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbacks_duplicate_total",
			Help: "Total number of postbacks answered from the idempotency ledger",
		},
		[]string{"event_type"},
	)

	ConversionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversions_created_total",
			Help: "Total number of conversions committed",
		},
		[]string{"event_type"},
	)

	CommissionAwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_awarded_total",
			Help: "Sum of commission awarded on committed conversions",
		},
		[]string{"model"},
	)

	AttributionInvariantViolations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attribution_invariant_violations_total",
			Help: "Number of resolves that found more than one active link for a subid",
		},
	)

	ResponseTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	QueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversion_publish_queue_size",
			Help: "Current size of the conversion publish queue",
		},
	)

	EventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversion_events_published_total",
			Help: "Total number of conversion events written to the feed",
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversion_events_dropped_total",
			Help: "Conversion events dropped because the queue was full or the feed kept failing",
		},
	)
)

func init() {
	prometheus.MustRegister(PostbacksReceived)
	prometheus.MustRegister(PostbacksRejected)
	prometheus.MustRegister(PostbacksDuplicate)
	prometheus.MustRegister(ConversionsCreated)
	prometheus.MustRegister(CommissionAwarded)
	prometheus.MustRegister(AttributionInvariantViolations)
	prometheus.MustRegister(ResponseTime)
	prometheus.MustRegister(QueueSize)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
}
