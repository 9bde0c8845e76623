package selectors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

// Smoothing applied to CTR when ranking recommendations, so ads with few
// impressions neither dominate nor vanish.
const (
	defaultCTR     = 0.01
	smoothingShots = 100.0
)

// RuleBasedSelector orders candidates by priority and filters them through
// the targeting evaluator, backfilling from recommendations when targeting
// leaves too few.
type RuleBasedSelector struct {
	repo            models.AdRepository
	metrics         observability.MetricsRegistry
	logger          *zap.Logger
	fallbackEnabled bool
	now             func() time.Time
}

// NewRuleBasedSelector constructs a selector reading from repo.
func NewRuleBasedSelector(repo models.AdRepository, metrics observability.MetricsRegistry) *RuleBasedSelector {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &RuleBasedSelector{
		repo:            repo,
		metrics:         metrics,
		logger:          zap.NewNop(),
		fallbackEnabled: true,
		now:             time.Now,
	}
}

// SetLogger configures the logger for this selector.
func (s *RuleBasedSelector) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetFallbackEnabled turns the recommendation backfill on or off.
func (s *RuleBasedSelector) SetFallbackEnabled(enabled bool) {
	s.fallbackEnabled = enabled
}

// SetClock overrides the time used for the eligibility window.
func (s *RuleBasedSelector) SetClock(now func() time.Time) {
	s.now = now
}

// GetActiveAds returns up to limit servable ads for the placement in
// priority order without consulting targeting.
func (s *RuleBasedSelector) GetActiveAds(ctx context.Context, placementCode string, limit int, trace *logic.SelectionTrace) ([]models.Ad, error) {
	limit = NormalizeLimit(limit)
	candidates, err := s.candidates(ctx, placementCode)
	if err != nil {
		return nil, err
	}
	trace.AddStep(logic.StageCandidates, candidates)

	out := truncate(candidates, limit)
	trace.AddStep(logic.StageLimit, out)
	s.metrics.RecordSelectionResults("active", len(out))
	return out, nil
}

type scoredAd struct {
	ad    models.Ad
	score int
}

// GetTargetedAds returns up to limit servable ads whose targeting rules
// match profile. Ads without rules are open to everyone. When fewer than
// limit match and the fallback is enabled, the remainder is filled from the
// same candidate set by GetRecommendedAds ranking.
func (s *RuleBasedSelector) GetTargetedAds(ctx context.Context, placementCode string, profile models.UserProfile, limit int, trace *logic.SelectionTrace) ([]models.Ad, error) {
	limit = NormalizeLimit(limit)
	candidates, err := s.candidates(ctx, placementCode)
	if err != nil {
		return nil, err
	}
	trace.AddStep(logic.StageCandidates, candidates)
	if len(candidates) == 0 {
		trace.AddStep(logic.StageLimit, nil)
		s.metrics.RecordSelectionResults("targeted", 0)
		return []models.Ad{}, nil
	}

	ids := make([]int64, len(candidates))
	for i, ad := range candidates {
		ids[i] = ad.ID
	}
	rules, err := s.repo.GetTargetingRules(ctx, ids)
	rulesMissing := false
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("load targeting rules: %w", err)
		}
		// the rule lookup itself found nothing usable; no candidate can be
		// shown as a targeted match
		rulesMissing = true
		s.logger.Warn("targeting rules not found", zap.String("placement", placementCode))
	}

	now := s.now()
	matched := make([]scoredAd, 0, len(candidates))
	rejected := make(map[string]string)
	for _, ad := range candidates {
		if rulesMissing {
			rejected[strconv.FormatInt(ad.ID, 10)] = "rules_not_found"
			continue
		}
		m := logic.Evaluate(rules[ad.ID], profile, now)
		if !m.Matched {
			rejected[strconv.FormatInt(ad.ID, 10)] = m.FailedClause
			continue
		}
		matched = append(matched, scoredAd{ad: ad, score: m.Score})
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.ad.Priority != b.ad.Priority {
			return a.ad.Priority > b.ad.Priority
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.ad.CreatedAt.After(b.ad.CreatedAt)
	})

	out := make([]models.Ad, 0, limit)
	taken := make(map[int64]struct{}, len(matched))
	for _, m := range matched {
		out = append(out, m.ad)
		taken[m.ad.ID] = struct{}{}
	}
	trace.AddStepWithDetails(logic.StageTargeting, out, rejected)

	if len(out) < limit && s.fallbackEnabled {
		rest := make([]models.Ad, 0, len(candidates)-len(out))
		for _, ad := range candidates {
			if _, ok := taken[ad.ID]; !ok {
				rest = append(rest, ad)
			}
		}
		backfill := truncate(RankRecommendations(rest, profile), limit-len(out))
		trace.AddStep(logic.StageFallback, backfill)
		out = append(out, backfill...)
	}

	out = truncate(out, limit)
	trace.AddStep(logic.StageLimit, out)
	s.metrics.RecordSelectionResults("targeted", len(out))
	return out, nil
}

// GetRecommendedAds ranks every servable ad for the placement by interest
// similarity and smoothed CTR, ignoring targeting rules.
func (s *RuleBasedSelector) GetRecommendedAds(ctx context.Context, placementCode string, profile models.UserProfile, limit int) ([]models.Ad, error) {
	limit = NormalizeLimit(limit)
	candidates, err := s.candidates(ctx, placementCode)
	if err != nil {
		return nil, err
	}
	out := truncate(RankRecommendations(candidates, profile), limit)
	s.metrics.RecordSelectionResults("recommended", len(out))
	return out, nil
}

func (s *RuleBasedSelector) candidates(ctx context.Context, placementCode string) ([]models.Ad, error) {
	ads, err := s.repo.ListActiveAds(ctx, placementCode, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active ads: %w", err)
	}
	if ads == nil {
		ads = []models.Ad{}
	}
	return ads, nil
}

// RankRecommendations returns a copy of ads ordered by recommendation score
// descending, then priority. The input must already be hard-eligible.
func RankRecommendations(ads []models.Ad, profile models.UserProfile) []models.Ad {
	type ranked struct {
		ad    models.Ad
		score float64
	}
	rs := make([]ranked, len(ads))
	for i, ad := range ads {
		rs[i] = ranked{ad: ad, score: recommendationScore(ad, profile)}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		return rs[i].ad.Priority > rs[j].ad.Priority
	})
	out := make([]models.Ad, len(rs))
	for i, r := range rs {
		out[i] = r.ad
	}
	return out
}

func recommendationScore(ad models.Ad, profile models.UserProfile) float64 {
	return categorySimilarity(ad.Category, profile.Interests) + SmoothedCTR(ad.ImpressionCount, ad.ClickCount)
}

// categorySimilarity is 1 when the ad's category is one of the interests.
func categorySimilarity(category string, interests []string) float64 {
	if category == "" {
		return 0
	}
	for _, in := range interests {
		if strings.EqualFold(strings.TrimSpace(in), category) {
			return 1
		}
	}
	return 0
}

// SmoothedCTR blends an ad's observed CTR with defaultCTR weighted by
// smoothingShots virtual impressions.
func SmoothedCTR(impressions, clicks int64) float64 {
	return (float64(clicks) + defaultCTR*smoothingShots) / (float64(impressions) + smoothingShots)
}

func truncate(ads []models.Ad, n int) []models.Ad {
	if n < 0 {
		n = 0
	}
	if len(ads) <= n {
		return ads
	}
	return ads[:n]
}
