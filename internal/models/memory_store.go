package models

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memAd struct {
	ad      Ad
	deleted bool
}

// MemoryStore is an in-process implementation of AdRepository,
// TrackingRepository and AnalyticsSource. It backs tests and local runs
// without Postgres.
type MemoryStore struct {
	mu          sync.RWMutex
	ads         map[int64]*memAd
	rules       map[int64]*TargetingRules
	impressions []Impression
	clicks      []Click
	nextID      int64

	impressionErr error
	clickErr      error
	statsErr      error
	insertCalls   int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ads:   make(map[int64]*memAd),
		rules: make(map[int64]*TargetingRules),
	}
}

// AddAd stores ad (assigning an ID when zero) with optional rules and
// returns the stored copy.
func (s *MemoryStore) AddAd(ad Ad, rules *TargetingRules) (Ad, error) {
	if err := ad.Validate(); err != nil {
		return Ad{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ad.ID == 0 {
		s.nextID++
		ad.ID = s.nextID
	} else if ad.ID > s.nextID {
		s.nextID = ad.ID
	}
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = time.Now().UTC()
	}
	if ad.UpdatedAt.IsZero() {
		ad.UpdatedAt = ad.CreatedAt
	}
	s.ads[ad.ID] = &memAd{ad: ad}
	if rules != nil {
		r := *rules
		r.AdID = ad.ID
		s.rules[ad.ID] = &r
	}
	return ad, nil
}

// SoftDeleteAd flags the ad as deleted so reads no longer return it.
func (s *MemoryStore) SoftDeleteAd(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.ads[id]
	if !ok {
		return ErrNotFound
	}
	m.deleted = true
	return nil
}

// SetImpressionError makes InsertImpressions fail with err until cleared with nil.
func (s *MemoryStore) SetImpressionError(err error) {
	s.mu.Lock()
	s.impressionErr = err
	s.mu.Unlock()
}

// SetClickError makes InsertClick fail with err until cleared with nil.
func (s *MemoryStore) SetClickError(err error) {
	s.mu.Lock()
	s.clickErr = err
	s.mu.Unlock()
}

// SetStatsError makes UpdateAdStats fail with err until cleared with nil.
func (s *MemoryStore) SetStatsError(err error) {
	s.mu.Lock()
	s.statsErr = err
	s.mu.Unlock()
}

// Impressions returns a copy of every persisted impression in insert order.
func (s *MemoryStore) Impressions() []Impression {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Impression(nil), s.impressions...)
}

// Clicks returns a copy of every persisted click in insert order.
func (s *MemoryStore) Clicks() []Click {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Click(nil), s.clicks...)
}

// ImpressionInserts reports how many InsertImpressions calls were made.
func (s *MemoryStore) ImpressionInserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.insertCalls
}

func (s *MemoryStore) ListActiveAds(ctx context.Context, placementCode string, now time.Time) ([]Ad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Ad
	for _, m := range s.ads {
		if m.deleted || !m.ad.IsServable(now) {
			continue
		}
		if m.ad.PlacementType != placementCode {
			continue
		}
		out = append(out, m.ad)
	}
	SortByPriority(out)
	return out, nil
}

func (s *MemoryStore) GetAd(ctx context.Context, id int64) (*Ad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.ads[id]
	if !ok || m.deleted {
		return nil, ErrNotFound
	}
	ad := m.ad
	return &ad, nil
}

func (s *MemoryStore) GetTargetingRules(ctx context.Context, adIDs []int64) (map[int64]*TargetingRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]*TargetingRules, len(adIDs))
	for _, id := range adIDs {
		if m, ok := s.ads[id]; !ok || m.deleted {
			continue
		}
		if r, ok := s.rules[id]; ok {
			cp := *r
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertImpressions(ctx context.Context, batch []Impression) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.impressionErr != nil {
		return s.impressionErr
	}
	s.impressions = append(s.impressions, batch...)
	return nil
}

func (s *MemoryStore) InsertClick(ctx context.Context, click Click) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clickErr != nil {
		return s.clickErr
	}
	s.clicks = append(s.clicks, click)
	return nil
}

func (s *MemoryStore) UpdateAdStats(ctx context.Context, deltas map[int64]CounterDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsErr != nil {
		return s.statsErr
	}
	for id, d := range deltas {
		m, ok := s.ads[id]
		if !ok {
			continue
		}
		m.ad.ImpressionCount += d.Impressions
		m.ad.ClickCount += d.Clicks
	}
	return nil
}

func (s *MemoryStore) CountImpressions(ctx context.Context, adID int64, r DateRange) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, imp := range s.impressions {
		if imp.AdID == adID && r.Contains(imp.CreatedAt) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountClicks(ctx context.Context, adID int64, r DateRange) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, c := range s.clicks {
		if c.AdID == adID && r.Contains(c.CreatedAt) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountUniqueUsers(ctx context.Context, adID int64, r DateRange) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]struct{})
	for _, imp := range s.impressions {
		if imp.AdID == adID && imp.UserID != nil && r.Contains(imp.CreatedAt) {
			seen[*imp.UserID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (s *MemoryStore) DailyImpressions(ctx context.Context, adID int64, r DateRange) ([]DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, imp := range s.impressions {
		if imp.AdID == adID && r.Contains(imp.CreatedAt) {
			counts[imp.CreatedAt.UTC().Format(DayLayout)]++
		}
	}
	out := make([]DailyStat, 0, len(counts))
	for day, n := range counts {
		out = append(out, DailyStat{Date: day, Impressions: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *MemoryStore) TopPlacements(ctx context.Context, adID int64, r DateRange, limit int) ([]PlacementStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, imp := range s.impressions {
		if imp.AdID != adID || imp.PlacementCode == nil || !r.Contains(imp.CreatedAt) {
			continue
		}
		counts[*imp.PlacementCode]++
	}
	out := make([]PlacementStat, 0, len(counts))
	for code, n := range counts {
		out = append(out, PlacementStat{PlacementCode: code, Impressions: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Impressions != out[j].Impressions {
			return out[i].Impressions > out[j].Impressions
		}
		return out[i].PlacementCode < out[j].PlacementCode
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SortByPriority orders ads by priority descending, then newest first. ID
// breaks remaining ties so the order is stable across calls.
func SortByPriority(ads []Ad) {
	sort.SliceStable(ads, func(i, j int) bool {
		a, b := ads[i], ads[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
