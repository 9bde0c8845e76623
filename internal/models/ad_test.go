package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCTR(t *testing.T) {
	tests := []struct {
		name        string
		impressions int64
		clicks      int64
		expected    float64
	}{
		{"no impressions", 0, 0, 0},
		{"clicks without impressions", 0, 3, 0},
		{"simple ratio", 200, 3, 0.015},
		{"rounded to four places", 3, 1, 0.3333},
		{"all clicked", 7, 7, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeCTR(tt.impressions, tt.clicks))
		})
	}
}

func TestAdCTRFollowsCounters(t *testing.T) {
	ad := Ad{ImpressionCount: 10, ClickCount: 1}
	assert.Equal(t, 0.1, ad.CTR())

	ad.ClickCount = 2
	assert.Equal(t, 0.2, ad.CTR())
}

func TestAdValidate(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	before := start.Add(-time.Hour)
	same := start
	after := start.Add(24 * time.Hour)

	assert.NoError(t, Ad{StartDate: start}.Validate())
	assert.NoError(t, Ad{StartDate: start, EndDate: &same}.Validate())
	assert.NoError(t, Ad{StartDate: start, EndDate: &after}.Validate())
	assert.ErrorIs(t, Ad{StartDate: start, EndDate: &before}.Validate(), ErrInvalidAdWindow)
}

func TestAdIsServable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		ad   Ad
		want bool
	}{
		{"active open ended", Ad{Status: StatusActive, StartDate: yesterday}, true},
		{"active ends later", Ad{Status: StatusActive, StartDate: yesterday, EndDate: &tomorrow}, true},
		{"ends exactly now", Ad{Status: StatusActive, StartDate: yesterday, EndDate: &now}, true},
		{"expired", Ad{Status: StatusActive, StartDate: yesterday.Add(-time.Hour), EndDate: &yesterday}, false},
		{"not started", Ad{Status: StatusActive, StartDate: tomorrow}, false},
		{"paused", Ad{Status: StatusPaused, StartDate: yesterday}, false},
		{"draft", Ad{Status: StatusDraft, StartDate: yesterday}, false},
		{"pending payment", Ad{Status: StatusPendingPayment, StartDate: yesterday}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ad.IsServable(now))
		})
	}
}

func TestAdJSONIncludesDerivedCTR(t *testing.T) {
	ad := Ad{ID: 7, Status: StatusActive, ImpressionCount: 4, ClickCount: 1, PlacementType: "homepage"}
	data, err := json.Marshal(ad)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 0.25, out["ctr"])
	assert.Equal(t, float64(7), out["id"])
	assert.Equal(t, "homepage", out["placementType"])
}
