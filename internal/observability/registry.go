package observability

import "time"

// MetricsRegistry records application metrics. Components take it by
// injection instead of touching the Prometheus globals directly.
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Tracking metrics
	IncrementTrackedEvent(eventType, outcome string)
	SetBufferDepth(depth int)
	RecordFlush(batchSize int, duration time.Duration)
	AddDroppedImpressions(n int)
	IncrementClickPersistErrors()

	// Rate limiting metrics
	IncrementRateLimitRequests(eventType string)
	IncrementRateLimitHits(eventType string)

	// Selection metrics
	RecordSelectionResults(selector string, n int)
}

// Tracking outcomes used as the outcome label of IncrementTrackedEvent.
const (
	OutcomeAccepted    = "accepted"
	OutcomeRateLimited = "rate_limited"
	OutcomeIgnored     = "ignored"
	OutcomeInvalid     = "invalid"
	OutcomeError       = "error"
)

// PrometheusRegistry implements MetricsRegistry on the package-level collectors.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementTrackedEvent(eventType, outcome string) {
	TrackedEvents.WithLabelValues(eventType, outcome).Inc()
}

func (r *PrometheusRegistry) SetBufferDepth(depth int) {
	BufferDepth.Set(float64(depth))
}

func (r *PrometheusRegistry) RecordFlush(batchSize int, duration time.Duration) {
	FlushBatchSize.Observe(float64(batchSize))
	FlushDuration.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) AddDroppedImpressions(n int) {
	DroppedImpressions.Add(float64(n))
}

func (r *PrometheusRegistry) IncrementClickPersistErrors() {
	ClickPersistErrors.Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitRequests(eventType string) {
	RateLimitRequests.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(eventType string) {
	RateLimitHits.WithLabelValues(eventType).Inc()
}

func (r *PrometheusRegistry) RecordSelectionResults(selector string, n int) {
	SelectionResults.WithLabelValues(selector).Observe(float64(n))
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementTrackedEvent(eventType, outcome string)                      {}
func (r *NoOpRegistry) SetBufferDepth(depth int)                                             {}
func (r *NoOpRegistry) RecordFlush(batchSize int, duration time.Duration)                    {}
func (r *NoOpRegistry) AddDroppedImpressions(n int)                                          {}
func (r *NoOpRegistry) IncrementClickPersistErrors()                                         {}
func (r *NoOpRegistry) IncrementRateLimitRequests(eventType string)                          {}
func (r *NoOpRegistry) IncrementRateLimitHits(eventType string)                              {}
func (r *NoOpRegistry) RecordSelectionResults(selector string, n int)                        {}
