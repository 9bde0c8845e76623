package models

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Ad lifecycle statuses. Only StatusActive ads are eligible to serve.
const (
	StatusDraft          = "draft"
	StatusPendingPayment = "pending_payment"
	StatusActive         = "active"
	StatusPaused         = "paused"
)

// Ad types describe what the ad promotes. The TargetType/TargetID pair on
// an Ad points at the promoted entity.
const (
	AdTypeCourse   = "course"
	AdTypeEvent    = "event"
	AdTypeJob      = "job"
	AdTypePost     = "post"
	AdTypeExternal = "external"
)

// CTRPrecision is the number of decimal places CTR values are rounded to for display.
const CTRPrecision = 4

// ErrInvalidAdWindow is returned when an ad's end date precedes its start date.
var ErrInvalidAdWindow = errors.New("ad end date is before start date")

// LocalizedText holds a creative string per locale (e.g. "en", "ar").
type LocalizedText map[string]string

// Ad is a single advertisement unit served into a placement. Creative and
// lifecycle fields are owned by campaign management; the two counters are
// only ever incremented by the tracking pipeline.
type Ad struct {
	ID         int64  `json:"id"`
	CampaignID *int64 `json:"campaignId,omitempty"`
	AdType     string `json:"adType"`
	// TargetType/TargetID reference the promoted course, event, job or post.
	// External ads use TargetURL instead.
	TargetType string `json:"targetType,omitempty"`
	TargetID   *int64 `json:"targetId,omitempty"`
	TargetURL  string `json:"targetUrl,omitempty"`

	Titles       LocalizedText `json:"titles,omitempty"`
	Descriptions LocalizedText `json:"descriptions,omitempty"`
	MediaURLs    LocalizedText `json:"mediaURLs,omitempty"`
	// Category is a free-form topic label used by the recommendation fallback
	// to compare an ad against a user's interests.
	Category string `json:"category,omitempty"`

	PlacementType string     `json:"placementType"` // placement code the ad serves into, e.g. "homepage"
	Priority      int        `json:"priority"`       // higher serves first
	Status        string     `json:"status"`
	StartDate     time.Time  `json:"startDate"`
	EndDate       *time.Time `json:"endDate,omitempty"` // nil means open-ended
	IsPaid        bool       `json:"isPaid"`

	ImpressionCount int64 `json:"impressionCount"`
	ClickCount      int64 `json:"clickCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks construction-time invariants.
func (a Ad) Validate() error {
	if a.EndDate != nil && a.EndDate.Before(a.StartDate) {
		return ErrInvalidAdWindow
	}
	return nil
}

// CTR returns the click-through rate derived from the ad's counters.
func (a Ad) CTR() float64 {
	return ComputeCTR(a.ImpressionCount, a.ClickCount)
}

// IsServable reports whether the ad passes the hard eligibility clauses
// (status and validity window) at the given instant.
func (a Ad) IsServable(now time.Time) bool {
	if a.Status != StatusActive {
		return false
	}
	if a.StartDate.After(now) {
		return false
	}
	return a.EndDate == nil || !a.EndDate.Before(now)
}

// MarshalJSON adds the derived ctr field.
func (a Ad) MarshalJSON() ([]byte, error) {
	type plain Ad
	return json.Marshal(struct {
		plain
		CTR float64 `json:"ctr"`
	}{plain(a), a.CTR()})
}

// ComputeCTR returns clicks/impressions rounded to CTRPrecision places, or 0
// when there are no impressions.
func ComputeCTR(impressions, clicks int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return RoundTo(float64(clicks)/float64(impressions), CTRPrecision)
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
