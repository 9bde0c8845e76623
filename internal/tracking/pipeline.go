package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/geoip"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/logic/ratelimit"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

// MaxBulkImpressions caps the size of one bulk tracking call.
const MaxBulkImpressions = 100

// Result messages.
const (
	MessageImpressionTracked = "impression tracked"
	MessageClickTracked      = "click tracked"
	MessageRateLimited       = "rate limited"
	MessageIgnored           = "ignored"
)

// ImpressionEvent is an inbound request to record one ad view.
type ImpressionEvent struct {
	AdID          int64             `json:"adId"`
	PlacementCode string            `json:"placementCode,omitempty"`
	UserID        *int64            `json:"userId,omitempty"`
	SessionID     string            `json:"sessionId"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ClickEvent is an inbound request to record one ad click.
type ClickEvent struct {
	AdID           int64             `json:"adId"`
	ImpressionID   *uuid.UUID        `json:"impressionId,omitempty"`
	UserID         *int64            `json:"userId,omitempty"`
	SessionID      string            `json:"sessionId"`
	Referrer       string            `json:"referrer,omitempty"`
	DestinationURL string            `json:"destinationUrl,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ClientInfo is the network identity of the caller.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// TrackResult is returned for every accepted call. Rate limiting and bot
// filtering are reported here with Success false rather than as errors.
type TrackResult struct {
	Success      bool       `json:"success"`
	Message      string     `json:"message"`
	RateLimited  bool       `json:"rateLimited,omitempty"`
	ImpressionID *uuid.UUID `json:"impressionId,omitempty"`
	ClickID      *uuid.UUID `json:"clickId,omitempty"`
	Accepted     int        `json:"accepted,omitempty"`
	Rejected     int        `json:"rejected,omitempty"`
}

// Pipeline gates tracking events through the rate limiter, buffers
// impressions, and writes clicks straight through.
type Pipeline struct {
	repo    models.TrackingRepository
	limiter ratelimit.Limiter
	buffer  *Buffer
	sinks   []EventSink

	geo        *geoip.GeoIP
	filterBots bool
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
	sampleRate float64
	now        func() time.Time

	closed atomic.Bool
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithGeoIP enables country/region enrichment of event metadata.
func WithGeoIP(g *geoip.GeoIP) Option { return func(p *Pipeline) { p.geo = g } }

// WithBotFiltering drops events from user agents recognised as bots.
func WithBotFiltering(enabled bool) Option { return func(p *Pipeline) { p.filterBots = enabled } }

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithMetrics sets the metrics registry.
func WithMetrics(m observability.MetricsRegistry) Option { return func(p *Pipeline) { p.metrics = m } }

// WithSinks mirrors persisted events to the given sinks.
func WithSinks(s ...EventSink) Option { return func(p *Pipeline) { p.sinks = append(p.sinks, s...) } }

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// NewPipeline wires a pipeline over repo. The impression buffer is created
// here and started by Start.
func NewPipeline(repo models.TrackingRepository, limiter ratelimit.Limiter, bufCfg BufferConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		repo:       repo,
		limiter:    limiter,
		logger:     zap.NewNop(),
		metrics:    observability.NewNoOpRegistry(),
		sampleRate: observability.GetSamplingRate(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buffer = NewBuffer(repo, bufCfg, p.logger, p.metrics, p.sinks...)
	return p
}

// Start launches the buffer's flush loop.
func (p *Pipeline) Start(ctx context.Context) {
	p.buffer.Start(ctx)
}

// Close stops accepting events and flushes buffered impressions.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closed.Store(true)
	return p.buffer.Stop(ctx)
}

// Buffer exposes the impression buffer, mainly for health and tests.
func (p *Pipeline) Buffer() *Buffer {
	return p.buffer
}

// TrackImpression records one impression. The write is deferred to the
// next buffer flush; the returned ImpressionID is final.
func (p *Pipeline) TrackImpression(ctx context.Context, ev ImpressionEvent, client ClientInfo) (TrackResult, error) {
	if p.closed.Load() {
		return TrackResult{}, ErrClosed
	}
	if err := validateImpression(ev, ""); err != nil {
		p.metrics.IncrementTrackedEvent(models.EventImpression, observability.OutcomeInvalid)
		return TrackResult{}, err
	}

	cc := logic.ResolveClientContext(p.geo, client.UserAgent, client.IP)
	if p.filterBots && cc.IsBot {
		p.metrics.IncrementTrackedEvent(models.EventImpression, observability.OutcomeIgnored)
		return TrackResult{Message: MessageIgnored}, nil
	}

	imp, ok, err := p.admitImpression(ctx, ev, client, cc)
	if err != nil {
		return TrackResult{}, err
	}
	if !ok {
		return TrackResult{Message: MessageRateLimited, RateLimited: true}, nil
	}
	return TrackResult{Success: true, Message: MessageImpressionTracked, ImpressionID: &imp.ID}, nil
}

// TrackBulkImpressions validates every event first, then rate limits and
// enqueues them one by one. Events over their actor's ceiling are counted as
// rejected.
func (p *Pipeline) TrackBulkImpressions(ctx context.Context, events []ImpressionEvent, client ClientInfo) (TrackResult, error) {
	if p.closed.Load() {
		return TrackResult{}, ErrClosed
	}
	if len(events) == 0 {
		return TrackResult{}, &ValidationError{Field: "impressions", Reason: "must not be empty"}
	}
	if len(events) > MaxBulkImpressions {
		return TrackResult{}, &ValidationError{Field: "impressions", Reason: fmt.Sprintf("at most %d per request", MaxBulkImpressions)}
	}
	for i, ev := range events {
		if err := validateImpression(ev, fmt.Sprintf("impressions[%d].", i)); err != nil {
			p.metrics.IncrementTrackedEvent(models.EventImpression, observability.OutcomeInvalid)
			return TrackResult{}, err
		}
	}

	cc := logic.ResolveClientContext(p.geo, client.UserAgent, client.IP)
	if p.filterBots && cc.IsBot {
		p.metrics.IncrementTrackedEvent(models.EventImpression, observability.OutcomeIgnored)
		return TrackResult{Message: MessageIgnored, Rejected: len(events)}, nil
	}

	res := TrackResult{}
	for _, ev := range events {
		_, ok, err := p.admitImpression(ctx, ev, client, cc)
		if err != nil {
			return TrackResult{}, err
		}
		if ok {
			res.Accepted++
		} else {
			res.Rejected++
		}
	}
	res.Success = res.Accepted > 0
	res.RateLimited = res.Rejected > 0
	if res.Success {
		res.Message = fmt.Sprintf("%d impressions tracked", res.Accepted)
	} else {
		res.Message = MessageRateLimited
	}
	return res, nil
}

// admitImpression rate limits and enqueues one validated event. ok is false
// when the actor is over its ceiling.
func (p *Pipeline) admitImpression(ctx context.Context, ev ImpressionEvent, client ClientInfo, cc logic.ClientContext) (models.Impression, bool, error) {
	if !p.limiter.Allow(ctx, ratelimit.ActorKey(ev.UserID, ev.SessionID), models.EventImpression) {
		p.metrics.IncrementTrackedEvent(models.EventImpression, observability.OutcomeRateLimited)
		return models.Impression{}, false, nil
	}

	imp := models.Impression{
		ID:        uuid.New(),
		AdID:      ev.AdID,
		UserID:    ev.UserID,
		SessionID: ev.SessionID,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		Metadata:  cc.Metadata(ev.Metadata),
		CreatedAt: p.now().UTC(),
	}
	if ev.PlacementCode != "" {
		code := ev.PlacementCode
		imp.PlacementCode = &code
	}
	if err := p.buffer.Enqueue(imp); err != nil {
		return models.Impression{}, false, err
	}
	p.metrics.IncrementTrackedEvent(models.EventImpression, observability.OutcomeAccepted)
	if observability.ShouldSample(p.sampleRate) {
		p.logger.Debug("impression accepted",
			zap.Int64("ad_id", imp.AdID),
			zap.String("impression_id", imp.ID.String()))
	}
	return imp, true, nil
}

// TrackClick records one click immediately and increments the ad's click
// counter. A failed write is returned wrapped in ErrPersistence.
func (p *Pipeline) TrackClick(ctx context.Context, ev ClickEvent, client ClientInfo) (TrackResult, error) {
	if p.closed.Load() {
		return TrackResult{}, ErrClosed
	}
	if err := validateClick(ev); err != nil {
		p.metrics.IncrementTrackedEvent(models.EventClick, observability.OutcomeInvalid)
		return TrackResult{}, err
	}

	cc := logic.ResolveClientContext(p.geo, client.UserAgent, client.IP)
	if p.filterBots && cc.IsBot {
		p.metrics.IncrementTrackedEvent(models.EventClick, observability.OutcomeIgnored)
		return TrackResult{Message: MessageIgnored}, nil
	}
	if !p.limiter.Allow(ctx, ratelimit.ActorKey(ev.UserID, ev.SessionID), models.EventClick) {
		p.metrics.IncrementTrackedEvent(models.EventClick, observability.OutcomeRateLimited)
		return TrackResult{Message: MessageRateLimited, RateLimited: true}, nil
	}

	click := models.Click{
		ID:             uuid.New(),
		AdID:           ev.AdID,
		ImpressionID:   ev.ImpressionID,
		UserID:         ev.UserID,
		SessionID:      ev.SessionID,
		Referrer:       ev.Referrer,
		DestinationURL: ev.DestinationURL,
		IPAddress:      client.IP,
		UserAgent:      client.UserAgent,
		Metadata:       cc.Metadata(ev.Metadata),
		CreatedAt:      p.now().UTC(),
	}
	if err := p.repo.InsertClick(ctx, click); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			p.metrics.IncrementTrackedEvent(models.EventClick, observability.OutcomeInvalid)
			return TrackResult{}, &ValidationError{Field: "adId", Reason: "unknown ad"}
		}
		p.metrics.IncrementClickPersistErrors()
		p.metrics.IncrementTrackedEvent(models.EventClick, observability.OutcomeError)
		return TrackResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := p.repo.UpdateAdStats(ctx, map[int64]models.CounterDelta{click.AdID: {Clicks: 1}}); err != nil {
		p.logger.Error("click counter not updated",
			zap.Int64("ad_id", click.AdID),
			zap.String("click_id", click.ID.String()),
			zap.Error(err))
	}
	for _, sink := range p.sinks {
		if err := sink.RecordClick(ctx, click); err != nil {
			p.logger.Warn("click mirror failed", zap.String("click_id", click.ID.String()), zap.Error(err))
		}
	}

	p.metrics.IncrementTrackedEvent(models.EventClick, observability.OutcomeAccepted)
	if observability.ShouldSample(p.sampleRate) {
		p.logger.Debug("click accepted",
			zap.Int64("ad_id", click.AdID),
			zap.String("click_id", click.ID.String()))
	}
	return TrackResult{Success: true, Message: MessageClickTracked, ClickID: &click.ID}, nil
}

func validateImpression(ev ImpressionEvent, prefix string) error {
	if ev.AdID <= 0 {
		return &ValidationError{Field: prefix + "adId", Reason: "required"}
	}
	if strings.TrimSpace(ev.SessionID) == "" {
		return &ValidationError{Field: prefix + "sessionId", Reason: "required"}
	}
	return nil
}

func validateClick(ev ClickEvent) error {
	if ev.AdID <= 0 {
		return &ValidationError{Field: "adId", Reason: "required"}
	}
	if strings.TrimSpace(ev.SessionID) == "" {
		return &ValidationError{Field: "sessionId", Reason: "required"}
	}
	return nil
}
