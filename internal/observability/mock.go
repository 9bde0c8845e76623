package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records calls so tests can assert on emitted metrics.
type MockMetricsRegistry struct {
	mu sync.Mutex

	Events          map[string]int // "type/outcome" -> count
	RateLimitChecks map[string]int
	RateLimitHits   map[string]int
	Flushes         []int
	Dropped         int
	ClickErrors     int
	BufferDepth     int
	Selections      map[string][]int
	Requests        map[string]int // "endpoint method status" -> count
}

// NewMockMetricsRegistry returns an empty recorder.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		Events:          make(map[string]int),
		RateLimitChecks: make(map[string]int),
		RateLimitHits:   make(map[string]int),
		Selections:      make(map[string][]int),
		Requests:        make(map[string]int),
	}
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.mu.Lock()
	m.Requests[endpoint+" "+method+" "+status]++
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

func (m *MockMetricsRegistry) IncrementTrackedEvent(eventType, outcome string) {
	m.mu.Lock()
	m.Events[eventType+"/"+outcome]++
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) SetBufferDepth(depth int) {
	m.mu.Lock()
	m.BufferDepth = depth
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) RecordFlush(batchSize int, duration time.Duration) {
	m.mu.Lock()
	m.Flushes = append(m.Flushes, batchSize)
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) AddDroppedImpressions(n int) {
	m.mu.Lock()
	m.Dropped += n
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) IncrementClickPersistErrors() {
	m.mu.Lock()
	m.ClickErrors++
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) IncrementRateLimitRequests(eventType string) {
	m.mu.Lock()
	m.RateLimitChecks[eventType]++
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) IncrementRateLimitHits(eventType string) {
	m.mu.Lock()
	m.RateLimitHits[eventType]++
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) RecordSelectionResults(selector string, n int) {
	m.mu.Lock()
	m.Selections[selector] = append(m.Selections[selector], n)
	m.mu.Unlock()
}

// EventCount returns how many events of the type ended with outcome.
func (m *MockMetricsRegistry) EventCount(eventType, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Events[eventType+"/"+outcome]
}

// FlushCount returns the number of recorded flushes.
func (m *MockMetricsRegistry) FlushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Flushes)
}
