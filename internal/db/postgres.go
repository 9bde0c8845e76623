package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// impressionChunk bounds one multi-row insert well under the Postgres
// parameter limit (9 columns per row).
const impressionChunk = 1000

// pqForeignKeyViolation is the SQLSTATE for a missing referenced row.
const pqForeignKeyViolation = "23503"

// Postgres wraps a postgres DB connection and implements the ad, tracking
// and analytics repositories. Soft-deleted rows are never returned.
type Postgres struct {
	DB *sqlx.DB
}

var (
	_ models.AdRepository       = (*Postgres)(nil)
	_ models.TrackingRepository = (*Postgres)(nil)
	_ models.AnalyticsSource    = (*Postgres)(nil)
)

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(attribute.String("db.system", "postgresql")),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	zap.L().Info("connected to postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return &Postgres{DB: sqlx.NewDb(sqlDB, "postgres")}, nil
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

const adColumns = `id, campaign_id, ad_type, target_type, target_id, target_url, titles, descriptions, media_urls,
       category, placement_type, priority, status, start_date, end_date, is_paid,
       impression_count, click_count, created_at, updated_at`

type adRow struct {
	ID              int64         `db:"id"`
	CampaignID      sql.NullInt64 `db:"campaign_id"`
	AdType          string        `db:"ad_type"`
	TargetType      string        `db:"target_type"`
	TargetID        sql.NullInt64 `db:"target_id"`
	TargetURL       string        `db:"target_url"`
	Titles          []byte        `db:"titles"`
	Descriptions    []byte        `db:"descriptions"`
	MediaURLs       []byte        `db:"media_urls"`
	Category        string        `db:"category"`
	PlacementType   string        `db:"placement_type"`
	Priority        int           `db:"priority"`
	Status          string        `db:"status"`
	StartDate       time.Time     `db:"start_date"`
	EndDate         sql.NullTime  `db:"end_date"`
	IsPaid          bool          `db:"is_paid"`
	ImpressionCount int64         `db:"impression_count"`
	ClickCount      int64         `db:"click_count"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

func (r adRow) toModel() (models.Ad, error) {
	ad := models.Ad{
		ID:              r.ID,
		AdType:          r.AdType,
		TargetType:      r.TargetType,
		TargetURL:       r.TargetURL,
		Category:        r.Category,
		PlacementType:   r.PlacementType,
		Priority:        r.Priority,
		Status:          r.Status,
		StartDate:       r.StartDate,
		IsPaid:          r.IsPaid,
		ImpressionCount: r.ImpressionCount,
		ClickCount:      r.ClickCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.CampaignID.Valid {
		v := r.CampaignID.Int64
		ad.CampaignID = &v
	}
	if r.TargetID.Valid {
		v := r.TargetID.Int64
		ad.TargetID = &v
	}
	if r.EndDate.Valid {
		v := r.EndDate.Time
		ad.EndDate = &v
	}
	for _, f := range []struct {
		raw []byte
		dst *models.LocalizedText
	}{{r.Titles, &ad.Titles}, {r.Descriptions, &ad.Descriptions}, {r.MediaURLs, &ad.MediaURLs}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return models.Ad{}, fmt.Errorf("decode ad %d creative: %w", r.ID, err)
		}
	}
	return ad, nil
}

// ListActiveAds returns servable ads for the placement, highest priority
// first, newest first among equals.
func (p *Postgres) ListActiveAds(ctx context.Context, placementCode string, now time.Time) ([]models.Ad, error) {
	query := `SELECT ` + adColumns + ` FROM ads
WHERE is_deleted = FALSE AND status = $1 AND placement_type = $2
  AND start_date <= $3 AND (end_date IS NULL OR end_date >= $3)
ORDER BY priority DESC, created_at DESC, id DESC`

	var rows []adRow
	if err := p.DB.SelectContext(ctx, &rows, query, models.StatusActive, placementCode, now); err != nil {
		return nil, fmt.Errorf("query active ads: %w", err)
	}
	ads := make([]models.Ad, 0, len(rows))
	for _, r := range rows {
		ad, err := r.toModel()
		if err != nil {
			return nil, err
		}
		ads = append(ads, ad)
	}
	return ads, nil
}

// GetAd loads one ad. Missing and soft-deleted ads return models.ErrNotFound.
func (p *Postgres) GetAd(ctx context.Context, id int64) (*models.Ad, error) {
	var row adRow
	err := p.DB.GetContext(ctx, &row, `SELECT `+adColumns+` FROM ads WHERE id = $1 AND is_deleted = FALSE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ad %d: %w", id, err)
	}
	ad, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &ad, nil
}

type rulesRow struct {
	AdID              int64          `db:"ad_id"`
	Roles             pq.StringArray `db:"target_user_roles"`
	SubscriptionPlans pq.Int64Array  `db:"target_subscription_plans"`
	MinAge            sql.NullInt32  `db:"min_age"`
	MaxAge            sql.NullInt32  `db:"max_age"`
	Locations         pq.StringArray `db:"target_locations"`
	Interests         pq.StringArray `db:"target_interests"`
	Behavior          []byte         `db:"target_behavior"`
}

func (r rulesRow) toModel() (*models.TargetingRules, error) {
	rules := &models.TargetingRules{
		AdID:              r.AdID,
		Roles:             []string(r.Roles),
		SubscriptionPlans: []int64(r.SubscriptionPlans),
		Locations:         []string(r.Locations),
		Interests:         []string(r.Interests),
	}
	if r.MinAge.Valid || r.MaxAge.Valid {
		rules.AgeRange = &models.AgeRange{}
		if r.MinAge.Valid {
			v := int(r.MinAge.Int32)
			rules.AgeRange.Min = &v
		}
		if r.MaxAge.Valid {
			v := int(r.MaxAge.Int32)
			rules.AgeRange.Max = &v
		}
	}
	if len(r.Behavior) > 0 && string(r.Behavior) != "null" {
		var b models.BehaviorRule
		if err := json.Unmarshal(r.Behavior, &b); err != nil {
			return nil, fmt.Errorf("decode behavior for ad %d: %w", r.AdID, err)
		}
		rules.Behavior = &b
	}
	return rules, nil
}

// GetTargetingRules loads the rule sets of the given ads. Ads without a rule
// row are absent from the map.
func (p *Postgres) GetTargetingRules(ctx context.Context, adIDs []int64) (map[int64]*models.TargetingRules, error) {
	out := make(map[int64]*models.TargetingRules, len(adIDs))
	if len(adIDs) == 0 {
		return out, nil
	}
	query := `SELECT ad_id, target_user_roles, target_subscription_plans, min_age, max_age,
       target_locations, target_interests, target_behavior
FROM ad_targeting_rules WHERE ad_id = ANY($1) AND is_deleted = FALSE`

	var rows []rulesRow
	if err := p.DB.SelectContext(ctx, &rows, query, pq.Array(adIDs)); err != nil {
		return nil, fmt.Errorf("query targeting rules: %w", err)
	}
	for _, r := range rows {
		rules, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out[r.AdID] = rules
	}
	return out, nil
}

// InsertAd stores a new ad and returns its id.
func (p *Postgres) InsertAd(ctx context.Context, ad models.Ad) (int64, error) {
	if err := ad.Validate(); err != nil {
		return 0, err
	}
	titles, err := json.Marshal(nonNilText(ad.Titles))
	if err != nil {
		return 0, err
	}
	descriptions, err := json.Marshal(nonNilText(ad.Descriptions))
	if err != nil {
		return 0, err
	}
	media, err := json.Marshal(nonNilText(ad.MediaURLs))
	if err != nil {
		return 0, err
	}

	var id int64
	err = p.DB.QueryRowxContext(ctx, `INSERT INTO ads
  (campaign_id, ad_type, target_type, target_id, target_url, titles, descriptions, media_urls,
   category, placement_type, priority, status, start_date, end_date, is_paid)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		ad.CampaignID, ad.AdType, ad.TargetType, ad.TargetID, ad.TargetURL,
		string(titles), string(descriptions), string(media),
		ad.Category, ad.PlacementType, ad.Priority, ad.Status, ad.StartDate, ad.EndDate, ad.IsPaid,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert ad: %w", err)
	}
	return id, nil
}

func nonNilText(t models.LocalizedText) models.LocalizedText {
	if t == nil {
		return models.LocalizedText{}
	}
	return t
}

// UpsertTargetingRules replaces the rule set of rules.AdID.
func (p *Postgres) UpsertTargetingRules(ctx context.Context, rules models.TargetingRules) error {
	var minAge, maxAge *int
	if rules.AgeRange != nil {
		minAge, maxAge = rules.AgeRange.Min, rules.AgeRange.Max
	}
	var behavior *string
	if !rules.Behavior.IsEmpty() || (rules.Behavior != nil && len(rules.Behavior.Unknown) > 0) {
		raw, err := json.Marshal(rules.Behavior)
		if err != nil {
			return err
		}
		s := string(raw)
		behavior = &s
	}
	_, err := p.DB.ExecContext(ctx, `INSERT INTO ad_targeting_rules
  (ad_id, target_user_roles, target_subscription_plans, min_age, max_age, target_locations, target_interests, target_behavior)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (ad_id) DO UPDATE SET
  target_user_roles = EXCLUDED.target_user_roles,
  target_subscription_plans = EXCLUDED.target_subscription_plans,
  min_age = EXCLUDED.min_age,
  max_age = EXCLUDED.max_age,
  target_locations = EXCLUDED.target_locations,
  target_interests = EXCLUDED.target_interests,
  target_behavior = EXCLUDED.target_behavior,
  is_deleted = FALSE,
  updated_at = NOW()`,
		rules.AdID, pq.Array(rules.Roles), pq.Array(rules.SubscriptionPlans), minAge, maxAge,
		pq.Array(rules.Locations), pq.Array(rules.Interests), behavior)
	if err != nil {
		return fmt.Errorf("upsert targeting rules for ad %d: %w", rules.AdID, err)
	}
	return nil
}

type impressionRow struct {
	ID            string    `db:"id"`
	AdID          int64     `db:"ad_id"`
	UserID        *int64    `db:"user_id"`
	SessionID     string    `db:"session_id"`
	PlacementCode *string   `db:"placement_code"`
	IPAddress     string    `db:"ip_address"`
	UserAgent     string    `db:"user_agent"`
	Metadata      string    `db:"metadata"`
	CreatedAt     time.Time `db:"created_at"`
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

const insertImpressions = `INSERT INTO ad_impressions
  (id, ad_id, user_id, session_id, placement_code, ip_address, user_agent, metadata, created_at)
VALUES (:id, :ad_id, :user_id, :session_id, :placement_code, :ip_address, :user_agent, :metadata, :created_at)`

// InsertImpressions writes the batch in one transaction, as multi-row
// inserts of at most impressionChunk rows.
func (p *Postgres) InsertImpressions(ctx context.Context, batch []models.Impression) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]impressionRow, 0, len(batch))
	for _, imp := range batch {
		meta, err := encodeMetadata(imp.Metadata)
		if err != nil {
			return err
		}
		rows = append(rows, impressionRow{
			ID:            imp.ID.String(),
			AdID:          imp.AdID,
			UserID:        imp.UserID,
			SessionID:     imp.SessionID,
			PlacementCode: imp.PlacementCode,
			IPAddress:     imp.IPAddress,
			UserAgent:     imp.UserAgent,
			Metadata:      meta,
			CreatedAt:     imp.CreatedAt,
		})
	}

	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin impression batch: %w", err)
	}
	for start := 0; start < len(rows); start += impressionChunk {
		end := min(start+impressionChunk, len(rows))
		if _, err := tx.NamedExecContext(ctx, insertImpressions, rows[start:end]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert impressions: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit impression batch: %w", err)
	}
	return nil
}

// InsertClick writes one click. A click on an unknown ad fails the foreign
// key and is reported as models.ErrNotFound.
func (p *Postgres) InsertClick(ctx context.Context, c models.Click) error {
	meta, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	var impressionID *string
	if c.ImpressionID != nil {
		s := c.ImpressionID.String()
		impressionID = &s
	}
	_, err = p.DB.ExecContext(ctx, `INSERT INTO ad_clicks
  (id, ad_id, impression_id, user_id, session_id, referrer, destination_url, ip_address, user_agent, metadata, is_conversion, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID.String(), c.AdID, impressionID, c.UserID, c.SessionID, c.Referrer, c.DestinationURL,
		c.IPAddress, c.UserAgent, meta, c.IsConversion, c.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
			return models.ErrNotFound
		}
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

// UpdateAdStats applies all counter increments in one statement. Counters
// are incremented in place and the stored ctr recomputed from the new
// values, so concurrent updates to the same ad never lose a count.
func (p *Postgres) UpdateAdStats(ctx context.Context, deltas map[int64]models.CounterDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	// fixed lock order across concurrent flushes
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	imps := make([]int64, len(ids))
	clicks := make([]int64, len(ids))
	for i, id := range ids {
		imps[i] = deltas[id].Impressions
		clicks[i] = deltas[id].Clicks
	}

	_, err := p.DB.ExecContext(ctx, `UPDATE ads AS a SET
  impression_count = a.impression_count + d.imps,
  click_count = a.click_count + d.clicks,
  ctr = CASE WHEN a.impression_count + d.imps > 0
             THEN ROUND((a.click_count + d.clicks)::numeric / (a.impression_count + d.imps), 4)
             ELSE 0 END,
  updated_at = NOW()
FROM unnest($1::bigint[], $2::bigint[], $3::bigint[]) AS d(ad_id, imps, clicks)
WHERE a.id = d.ad_id`, pq.Array(ids), pq.Array(imps), pq.Array(clicks))
	if err != nil {
		return fmt.Errorf("update ad stats: %w", err)
	}
	return nil
}

// windowFilter takes the ad id and the optional range bounds as $1..$3.
// A nil bound is open.
const windowFilter = `ad_id = $1 AND is_deleted = FALSE
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at <= $3)`

func (p *Postgres) countRows(ctx context.Context, query string, adID int64, r models.DateRange) (int64, error) {
	var n int64
	if err := p.DB.GetContext(ctx, &n, query, adID, r.Start, r.End); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Postgres) CountImpressions(ctx context.Context, adID int64, r models.DateRange) (int64, error) {
	n, err := p.countRows(ctx, `SELECT COUNT(*) FROM ad_impressions WHERE `+windowFilter, adID, r)
	if err != nil {
		return 0, fmt.Errorf("count impressions: %w", err)
	}
	return n, nil
}

func (p *Postgres) CountClicks(ctx context.Context, adID int64, r models.DateRange) (int64, error) {
	n, err := p.countRows(ctx, `SELECT COUNT(*) FROM ad_clicks WHERE `+windowFilter, adID, r)
	if err != nil {
		return 0, fmt.Errorf("count clicks: %w", err)
	}
	return n, nil
}

func (p *Postgres) CountUniqueUsers(ctx context.Context, adID int64, r models.DateRange) (int64, error) {
	n, err := p.countRows(ctx, `SELECT COUNT(DISTINCT user_id) FROM ad_impressions WHERE `+windowFilter, adID, r)
	if err != nil {
		return 0, fmt.Errorf("count unique users: %w", err)
	}
	return n, nil
}

func (p *Postgres) DailyImpressions(ctx context.Context, adID int64, r models.DateRange) ([]models.DailyStat, error) {
	var rows []struct {
		Date        string `db:"day"`
		Impressions int64  `db:"impressions"`
	}
	query := `SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*) AS impressions
FROM ad_impressions WHERE ` + windowFilter + `
GROUP BY day ORDER BY day`
	if err := p.DB.SelectContext(ctx, &rows, query, adID, r.Start, r.End); err != nil {
		return nil, fmt.Errorf("daily impressions: %w", err)
	}
	out := make([]models.DailyStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.DailyStat{Date: row.Date, Impressions: row.Impressions})
	}
	return out, nil
}

func (p *Postgres) TopPlacements(ctx context.Context, adID int64, r models.DateRange, limit int) ([]models.PlacementStat, error) {
	var rows []struct {
		Code        string `db:"placement_code"`
		Impressions int64  `db:"impressions"`
	}
	query := `SELECT placement_code, COUNT(*) AS impressions
FROM ad_impressions WHERE ` + windowFilter + ` AND placement_code IS NOT NULL
GROUP BY placement_code ORDER BY impressions DESC, placement_code ASC LIMIT $4`
	if err := p.DB.SelectContext(ctx, &rows, query, adID, r.Start, r.End, limit); err != nil {
		return nil, fmt.Errorf("top placements: %w", err)
	}
	out := make([]models.PlacementStat, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.PlacementStat{PlacementCode: row.Code, Impressions: row.Impressions})
	}
	return out, nil
}
