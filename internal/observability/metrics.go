package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leapads_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leapads_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// tracked events by type (impression, click) and outcome
	// (accepted, rate_limited, ignored, invalid, error)
	TrackedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leapads_tracked_events_total",
			Help: "Tracking events received by outcome",
		},
		[]string{"type", "outcome"},
	)

	// rate limit checks per event type
	RateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leapads_ratelimit_requests_total",
			Help: "Total rate limit checks per event type",
		},
		[]string{"event_type"},
	)

	// rate limit rejections per event type
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leapads_ratelimit_hits_total",
			Help: "Total rate limit rejections per event type",
		},
		[]string{"event_type"},
	)

	// impressions currently buffered and waiting for a flush
	BufferDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "leapads_impression_buffer_depth",
			Help: "Impressions waiting in the tracking buffer",
		},
	)

	// rows per flushed batch
	FlushBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leapads_flush_batch_size",
			Help:    "Impressions persisted per flush",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// time spent persisting one batch
	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "leapads_flush_duration_seconds",
			Help:    "Duration of impression batch flushes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// impressions lost because a flush failed
	DroppedImpressions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leapads_dropped_impressions_total",
			Help: "Impressions dropped after a failed flush",
		},
	)

	// click rows that failed to persist
	ClickPersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leapads_click_persist_errors_total",
			Help: "Total click persistence errors",
		},
	)

	// ads returned per selection, labelled by selector (active, targeted)
	SelectionResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leapads_selection_results",
			Help:    "Ads returned per selection request",
			Buckets: prometheus.LinearBuckets(0, 5, 11),
		},
		[]string{"selector"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		TrackedEvents,
		RateLimitRequests,
		RateLimitHits,
		BufferDepth,
		FlushBatchSize,
		FlushDuration,
		DroppedImpressions,
		ClickPersistErrors,
		SelectionResults,
	)
}
