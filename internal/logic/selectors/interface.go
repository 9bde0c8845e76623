package selectors

import (
	"context"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// Limits applied to the number of ads a caller may request.
const (
	DefaultLimit = 5
	MaxLimit     = 50
)

// Selector picks ads for a placement. A nil trace disables tracing.
type Selector interface {
	GetActiveAds(ctx context.Context, placementCode string, limit int, trace *logic.SelectionTrace) ([]models.Ad, error)
	GetTargetedAds(ctx context.Context, placementCode string, profile models.UserProfile, limit int, trace *logic.SelectionTrace) ([]models.Ad, error)
	GetRecommendedAds(ctx context.Context, placementCode string, profile models.UserProfile, limit int) ([]models.Ad, error)
}

// NormalizeLimit maps a requested count onto [1, MaxLimit], using
// DefaultLimit for non-positive values.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
