package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
)

// EventSink receives a copy of persisted tracking rows, such as a columnar
// analytics mirror. Sink failures are logged and never affect tracking.
type EventSink interface {
	RecordImpressions(ctx context.Context, batch []models.Impression) error
	RecordClick(ctx context.Context, click models.Click) error
}

// BufferConfig controls when buffered impressions are flushed.
type BufferConfig struct {
	Threshold int           // flush as soon as this many are pending
	Interval  time.Duration // flush at least this often
}

// DefaultBufferConfig flushes every 50 impressions or 30 seconds.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{Threshold: 50, Interval: 30 * time.Second}
}

// Buffer accumulates impressions and writes them in batches. A flush happens
// when Threshold impressions are pending or when the Interval ticker fires,
// whichever comes first. A batch that fails to persist is logged and dropped.
type Buffer struct {
	repo    models.TrackingRepository
	sinks   []EventSink
	cfg     BufferConfig
	logger  *zap.Logger
	metrics observability.MetricsRegistry

	mu      sync.Mutex // guards pending, stopped, cancel and done
	pending []models.Impression
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	// flushMu serializes flushes so batches persist in swap order.
	flushMu sync.Mutex
	kick    chan struct{}
}

// NewBuffer creates a buffer persisting to repo. Call Start to run the
// background flush loop.
func NewBuffer(repo models.TrackingRepository, cfg BufferConfig, logger *zap.Logger, metrics observability.MetricsRegistry, sinks ...EventSink) *Buffer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBufferConfig().Threshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultBufferConfig().Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Buffer{
		repo:    repo,
		sinks:   sinks,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		pending: make([]models.Impression, 0, cfg.Threshold),
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the flush loop. It runs until Stop is called or ctx is
// cancelled. Calling Start more than once has no effect.
func (b *Buffer) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil || b.stopped {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(loopCtx, b.done)
}

func (b *Buffer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	// persistence is not cut short by shutdown; Stop waits for it
	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = b.Flush(flushCtx)
		case <-b.kick:
			_, _ = b.Flush(flushCtx)
		}
	}
}

// Enqueue appends imp to the pending batch. Reaching the threshold wakes
// the flush loop without blocking the caller.
func (b *Buffer) Enqueue(imp models.Impression) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending = append(b.pending, imp)
	depth := len(b.pending)
	b.mu.Unlock()

	b.metrics.SetBufferDepth(depth)
	if depth >= b.cfg.Threshold {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Len returns the number of impressions waiting to be flushed.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush swaps the pending impressions for an empty buffer and persists the
// swapped batch in one insert, then applies the per-ad counter increments.
// It returns the number of impressions persisted. On failure the batch is
// dropped and the error returned for logging.
func (b *Buffer) Flush(ctx context.Context) (int, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = make([]models.Impression, 0, b.cfg.Threshold)
	b.mu.Unlock()
	b.metrics.SetBufferDepth(0)

	if len(batch) == 0 {
		return 0, nil
	}

	start := time.Now()
	if err := b.repo.InsertImpressions(ctx, batch); err != nil {
		b.metrics.AddDroppedImpressions(len(batch))
		b.logger.Error("dropping impression batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return 0, fmt.Errorf("persist impressions: %w", err)
	}
	if err := b.repo.UpdateAdStats(ctx, models.ImpressionDeltas(batch)); err != nil {
		b.logger.Error("impression counters not updated",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
	}
	b.metrics.RecordFlush(len(batch), time.Since(start))

	for _, sink := range b.sinks {
		if err := sink.RecordImpressions(ctx, batch); err != nil {
			b.logger.Warn("impression mirror failed", zap.Int("batch_size", len(batch)), zap.Error(err))
		}
	}
	b.logger.Debug("impression batch flushed", zap.Int("batch_size", len(batch)))
	return len(batch), nil
}

// Stop ends the flush loop, waits for an in-flight flush, and synchronously
// flushes whatever is still pending. Later Enqueue calls return ErrClosed.
func (b *Buffer) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err := b.Flush(ctx)
	return err
}
