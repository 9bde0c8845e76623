package models

import (
	"fmt"
	"time"
)

// DateRange is an optional, inclusive time window. A nil bound is open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// ParseDateBound parses an analytics range bound given as RFC3339 or
// YYYY-MM-DD. An empty string is an open bound. A bare date used as an end
// bound covers the whole day.
func ParseDateBound(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(DayLayout, v)
	if err != nil {
		return nil, fmt.Errorf("expected RFC3339 or %s", DayLayout)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// DailyStat is the impression count for one calendar day (UTC, YYYY-MM-DD).
type DailyStat struct {
	Date        string `json:"date"`
	Impressions int64  `json:"impressions"`
}

// PlacementStat is the impression count for one placement code.
type PlacementStat struct {
	PlacementCode string `json:"placementCode"`
	Impressions   int64  `json:"impressions"`
}

// AdAnalytics is the aggregated tracking view of one ad.
type AdAnalytics struct {
	AdID             int64           `json:"adId"`
	TotalImpressions int64           `json:"totalImpressions"`
	TotalClicks      int64           `json:"totalClicks"`
	CTR              float64         `json:"ctr"`
	UniqueUsers      int64           `json:"uniqueUsers"`
	DailyStats       []DailyStat     `json:"dailyStats"`
	TopPlacements    []PlacementStat `json:"topPlacements"`
}
