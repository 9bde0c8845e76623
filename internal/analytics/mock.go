package analytics

import (
	"context"
	"sync"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// MockSink records mirrored events in memory for tests.
type MockSink struct {
	mu          sync.Mutex
	impressions []models.Impression
	clicks      []models.Click
	Err         error
}

// NewMockSink returns an empty recording sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) RecordImpressions(ctx context.Context, batch []models.Impression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.impressions = append(m.impressions, batch...)
	return nil
}

func (m *MockSink) RecordClick(ctx context.Context, click models.Click) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.clicks = append(m.clicks, click)
	return nil
}

// Counts returns the number of mirrored impressions and clicks.
func (m *MockSink) Counts() (impressions, clicks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.impressions), len(m.clicks)
}
