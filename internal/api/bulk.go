package api

import (
	"bytes"
	"encoding/json"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

type bulkImpressionRequest struct {
	Impressions []tracking.ImpressionEvent `json:"impressions"`
}

// bulkImpressions accepts either a bare JSON array of impression events or
// an object wrapping it under "impressions".
type bulkImpressions []tracking.ImpressionEvent

func (b *bulkImpressions) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var events []tracking.ImpressionEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return err
		}
		*b = events
		return nil
	}
	var wrapped bulkImpressionRequest
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*b = wrapped.Impressions
	return nil
}
