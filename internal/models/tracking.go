package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types tracked by the pipeline. They also key rate-limit windows.
const (
	EventImpression = "impression"
	EventClick      = "click"
)

// Metadata keys filled in from the client context.
const (
	MetaDeviceType = "device_type"
	MetaCountry    = "country"
	MetaRegion     = "region"
)

// Impression is one recorded view of an ad. Impressions are write-once.
type Impression struct {
	ID            uuid.UUID         `json:"id"`
	AdID          int64             `json:"adId"`
	UserID        *int64            `json:"userId,omitempty"`
	SessionID     string            `json:"sessionId"`
	PlacementCode *string           `json:"placementCode,omitempty"`
	IPAddress     string            `json:"ipAddress,omitempty"`
	UserAgent     string            `json:"userAgent,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Click is one recorded click on an ad. IsConversion is set later by
// conversion tracking and is always false when the tracking pipeline writes
// the row.
type Click struct {
	ID             uuid.UUID         `json:"id"`
	AdID           int64             `json:"adId"`
	ImpressionID   *uuid.UUID        `json:"impressionId,omitempty"`
	UserID         *int64            `json:"userId,omitempty"`
	SessionID      string            `json:"sessionId"`
	Referrer       string            `json:"referrer,omitempty"`
	DestinationURL string            `json:"destinationUrl,omitempty"`
	IPAddress      string            `json:"ipAddress,omitempty"`
	UserAgent      string            `json:"userAgent,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IsConversion   bool              `json:"isConversion"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// CounterDelta is an increment to apply to an ad's tracking counters.
type CounterDelta struct {
	Impressions int64
	Clicks      int64
}

// ImpressionDeltas groups a batch of impressions into per-ad counter increments.
func ImpressionDeltas(batch []Impression) map[int64]CounterDelta {
	out := make(map[int64]CounterDelta)
	for _, imp := range batch {
		d := out[imp.AdID]
		d.Impressions++
		out[imp.AdID] = d
	}
	return out
}
