package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/config"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/db"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/observability"
	"github.com/mohamedhabibwork/leap-system-sub004/internal/tracking"
)

var (
	server        string
	users         int
	sessions      int
	placementCSV  string
	totalReq      int
	conc          int
	duration      time.Duration
	reqRate       float64
	burst         int
	clickRate     float64
	targetedShare float64
	bulkSize      int
	stats         bool
	flush         bool
	redisAddr     string
	debug         bool
	label         string
)

var logger *zap.Logger

var httpClient *http.Client

var (
	placementCodes = []string{"homepage", "sidebar"}
	roles          = []string{"student", "instructor", "admin"}
	locations      = []string{"SA", "EG", "AE", "US"}
	interests      = []string{"programming", "design", "marketing", "data", "languages"}
	userAgents     = []string{
		// Mobile
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",

		// Desktop
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:111.0) Gecko/20100101 Firefox/111.0",

		// Crawler, filtered server side when FILTER_BOTS is on
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
)

const statsInterval = 5 * time.Second

var (
	countSent        uint64
	countServed      uint64
	countNoAds       uint64
	countImpressions uint64
	countClicks      uint64
	countLimited     uint64
	countIgnored     uint64
	countErrors      uint64
)

type targetedReq struct {
	PlacementCode string             `json:"placementCode"`
	UserProfile   models.UserProfile `json:"userProfile"`
	Limit         int                `json:"limit"`
}

type adsRes struct {
	Ads []struct {
		ID        int64  `json:"id"`
		TargetURL string `json:"targetUrl"`
	} `json:"ads"`
}

// visitor is the identity one simulated request acts as.
type visitor struct {
	userID    *int64
	sessionID string
	ua        string
	ip        string
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "ad server base URL")
	flag.IntVar(&users, "users", 100, "number of unique signed-in users")
	flag.IntVar(&sessions, "sessions", 50, "number of anonymous sessions")
	flag.StringVar(&placementCSV, "placements", "homepage,sidebar", "comma-separated placement codes")
	flag.IntVar(&totalReq, "requests", 1000, "total page views to simulate (0 for unlimited)")
	flag.IntVar(&conc, "concurrency", 20, "concurrent page views")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&reqRate, "rate", 0, "page views per second (0 for unlimited)")
	flag.IntVar(&burst, "burst", 1, "rate limiter burst size")
	flag.Float64Var(&clickRate, "click-rate", 0.05, "probability of a click per impression")
	flag.Float64Var(&targetedShare, "targeted", 0.5, "share of page views using targeted selection")
	flag.IntVar(&bulkSize, "bulk", 0, "report impressions in bulk batches of this size (0 for one call per view)")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "clear shared rate limit windows in redis before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   conc,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}
	if bulkSize > tracking.MaxBulkImpressions {
		logger.Fatal("bulk size above server maximum", zap.Int("max", tracking.MaxBulkImpressions))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if flush {
		if err := flushRateLimits(ctx); err != nil {
			logger.Fatal("flush rate limits", zap.Error(err))
		}
	}

	placementCodes = strings.Split(placementCSV, ",")
	for i := range placementCodes {
		placementCodes[i] = strings.TrimSpace(placementCodes[i])
	}

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	limit := rate.Inf
	if reqRate > 0 {
		limit = rate.Limit(reqRate)
	}
	pacer := rate.NewLimiter(limit, burst)

	var batcher *impressionBatcher
	if bulkSize > 0 {
		batcher = newImpressionBatcher(bulkSize)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for i := 0; totalReq <= 0 || i < totalReq; i++ {
		if err := pacer.Wait(gctx); err != nil {
			break
		}
		seed := time.Now().UnixNano() + int64(i)
		g.Go(func() error {
			pageView(gctx, rand.New(rand.NewSource(seed)), batcher)
			return nil
		})
	}
	_ = g.Wait()
	if batcher != nil {
		batcher.flush(context.WithoutCancel(ctx))
	}
	printStats()
}

func flushRateLimits(ctx context.Context) error {
	addr := redisAddr
	if addr == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		addr = cfg.RedisAddr
	}
	if addr == "" {
		return errors.New("no redis address; pass -redis or set REDIS_ADDR")
	}
	store, err := db.InitRedis(ctx, addr)
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.Client.Keys(ctx, "ratelimit:*").Result()
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	if len(keys) > 0 {
		if err := store.Client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete keys: %w", err)
		}
	}
	logger.Info("rate limit windows flushed", zap.String("addr", addr), zap.Int("keys_deleted", len(keys)))
	return nil
}

func newVisitor(r *rand.Rand) visitor {
	v := visitor{
		ua: userAgents[r.Intn(len(userAgents))],
		ip: userIPs[r.Intn(len(userIPs))],
	}
	if users > 0 && r.Intn(2) == 0 {
		id := int64(r.Intn(users) + 1)
		v.userID = &id
		v.sessionID = "user-" + strconv.FormatInt(id, 10)
	} else {
		v.sessionID = fmt.Sprintf("anon-%d", r.Intn(max(sessions, 1)))
	}
	return v
}

func randomProfile(r *rand.Rand, v visitor) models.UserProfile {
	age := 16 + r.Intn(50)
	p := models.UserProfile{
		UserID:    v.userID,
		Role:      roles[r.Intn(len(roles))],
		Age:       &age,
		Location:  locations[r.Intn(len(locations))],
		Interests: []string{interests[r.Intn(len(interests))]},
	}
	if r.Intn(3) == 0 {
		plan := int64(1 + r.Intn(3))
		p.SubscriptionPlanID = &plan
	}
	return p
}

// pageView fetches ads for one placement, reports an impression for the
// first one and sometimes clicks it.
func pageView(ctx context.Context, r *rand.Rand, batcher *impressionBatcher) {
	atomic.AddUint64(&countSent, 1)
	v := newVisitor(r)
	placement := placementCodes[r.Intn(len(placementCodes))]

	var ads adsRes
	var err error
	if r.Float64() < targetedShare {
		body := targetedReq{PlacementCode: placement, UserProfile: randomProfile(r, v), Limit: 1}
		err = call(ctx, v, http.MethodPost, "/ads/targeted", body, &ads)
	} else {
		q := url.Values{"placement": {placement}, "limit": {"1"}}
		err = call(ctx, v, http.MethodGet, "/ads/active?"+q.Encode(), nil, &ads)
	}
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("ad request error", zap.String("placement", placement), zap.Error(err))
		return
	}
	if len(ads.Ads) == 0 {
		atomic.AddUint64(&countNoAds, 1)
		logger.Debug("no ads", zap.String("placement", placement))
		return
	}
	atomic.AddUint64(&countServed, 1)
	ad := ads.Ads[0]

	ev := tracking.ImpressionEvent{
		AdID:          ad.ID,
		PlacementCode: placement,
		UserID:        v.userID,
		SessionID:     v.sessionID,
	}
	if batcher != nil {
		batcher.add(ctx, v, ev)
		return
	}

	var res tracking.TrackResult
	if err := call(ctx, v, http.MethodPost, "/ads/track/impression", ev, &res); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("impression error", zap.Int64("ad_id", ad.ID), zap.Error(err))
		return
	}
	if !countResult(res) {
		return
	}
	atomic.AddUint64(&countImpressions, 1)

	if r.Float64() >= clickRate {
		return
	}
	click := tracking.ClickEvent{
		AdID:           ad.ID,
		ImpressionID:   res.ImpressionID,
		UserID:         v.userID,
		SessionID:      v.sessionID,
		Referrer:       server + "/" + placement,
		DestinationURL: ad.TargetURL,
	}
	var clickRes tracking.TrackResult
	if err := call(ctx, v, http.MethodPost, "/ads/track/click", click, &clickRes); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("click error", zap.Int64("ad_id", ad.ID), zap.Error(err))
		return
	}
	if countResult(clickRes) {
		atomic.AddUint64(&countClicks, 1)
	}
	logger.Debug("page view",
		zap.String("session", v.sessionID),
		zap.String("placement", placement),
		zap.Int64("ad_id", ad.ID))
}

// countResult tallies a non-success outcome and reports whether the event
// was accepted.
func countResult(res tracking.TrackResult) bool {
	switch {
	case res.Success:
		return true
	case res.RateLimited:
		atomic.AddUint64(&countLimited, 1)
	case res.Message == tracking.MessageIgnored:
		atomic.AddUint64(&countIgnored, 1)
	}
	return false
}

func call(ctx context.Context, v visitor, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var rd io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		rd = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(server, "/")+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", v.ua)
	req.Header.Set("X-Forwarded-For", v.ip)

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// impressionBatcher groups impressions into bulk calls in arrival order. A
// batch may mix visitors and is sent with the identity of its last one.
type impressionBatcher struct {
	size int
	ch   chan batched
}

type batched struct {
	v  visitor
	ev tracking.ImpressionEvent
}

func newImpressionBatcher(size int) *impressionBatcher {
	return &impressionBatcher{size: size, ch: make(chan batched, size)}
}

func (b *impressionBatcher) add(ctx context.Context, v visitor, ev tracking.ImpressionEvent) {
	select {
	case b.ch <- batched{v: v, ev: ev}:
	default:
		// full; send what is queued and retry once
		b.flush(ctx)
		select {
		case b.ch <- batched{v: v, ev: ev}:
		default:
			atomic.AddUint64(&countErrors, 1)
		}
	}
	if len(b.ch) >= b.size {
		b.flush(ctx)
	}
}

func (b *impressionBatcher) flush(ctx context.Context) {
	var (
		events []tracking.ImpressionEvent
		v      visitor
	)
drain:
	for len(events) < b.size {
		select {
		case item := <-b.ch:
			events = append(events, item.ev)
			v = item.v
		default:
			break drain
		}
	}
	if len(events) == 0 {
		return
	}
	body := map[string]any{"impressions": events}
	var res tracking.TrackResult
	if err := call(ctx, v, http.MethodPost, "/ads/track/impressions/bulk", body, &res); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("bulk impression error", zap.Int("batch_size", len(events)), zap.Error(err))
		return
	}
	atomic.AddUint64(&countImpressions, uint64(res.Accepted))
	atomic.AddUint64(&countLimited, uint64(res.Rejected))
	if res.Message == tracking.MessageIgnored {
		atomic.AddUint64(&countIgnored, uint64(len(events)))
	}
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	served := atomic.LoadUint64(&countServed)
	imps := atomic.LoadUint64(&countImpressions)
	clk := atomic.LoadUint64(&countClicks)
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", sent),
		zap.Uint64("served", served),
		zap.Uint64("no_ads", atomic.LoadUint64(&countNoAds)),
		zap.Uint64("impressions", imps),
		zap.Uint64("clicks", clk),
		zap.Uint64("rate_limited", atomic.LoadUint64(&countLimited)),
		zap.Uint64("ignored", atomic.LoadUint64(&countIgnored)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)),
		zap.Float64("ctr", models.ComputeCTR(int64(imps), int64(clk))))
}
