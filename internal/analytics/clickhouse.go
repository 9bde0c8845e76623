package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/mohamedhabibwork/leap-system-sub004/internal/models"
)

// ErrUnavailable is returned when the ClickHouse mirror is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// ClickHouse mirrors tracking rows into the ad_events table and answers
// analytics queries from it. A nil *ClickHouse returns ErrUnavailable.
type ClickHouse struct {
	DB     *sql.DB
	logger *zap.Logger
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS ad_events (
       event_id       String,
       event_type     LowCardinality(String),
       ad_id          Int64,
       impression_id  Nullable(String),
       user_id        Nullable(Int64),
       session_id     String,
       placement_code Nullable(String),
       device_type    LowCardinality(String),
       country        LowCardinality(String),
       timestamp      DateTime64(3, 'UTC')
   ) ENGINE=MergeTree() ORDER BY (ad_id, event_type, timestamp)`

const insertEvent = `INSERT INTO ad_events (event_id, event_type, ad_id, impression_id, user_id, session_id, placement_code, device_type, country, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// OpenClickHouse connects to dsn and ensures the ad_events table exists.
func OpenClickHouse(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}
	logger.Info("connected to clickhouse")
	return &ClickHouse{DB: db, logger: logger}, nil
}

type eventRow struct {
	id            string
	eventType     string
	adID          int64
	impressionID  sql.NullString
	userID        sql.NullInt64
	sessionID     string
	placementCode sql.NullString
	deviceType    string
	country       string
	ts            time.Time
}

func impressionRow(imp models.Impression) eventRow {
	row := eventRow{
		id:         imp.ID.String(),
		eventType:  models.EventImpression,
		adID:       imp.AdID,
		sessionID:  imp.SessionID,
		deviceType: imp.Metadata[models.MetaDeviceType],
		country:    imp.Metadata[models.MetaCountry],
		ts:         imp.CreatedAt,
	}
	row.impressionID = sql.NullString{String: row.id, Valid: true}
	if imp.UserID != nil {
		row.userID = sql.NullInt64{Int64: *imp.UserID, Valid: true}
	}
	if imp.PlacementCode != nil {
		row.placementCode = sql.NullString{String: *imp.PlacementCode, Valid: true}
	}
	return row
}

func clickRow(c models.Click) eventRow {
	row := eventRow{
		id:         c.ID.String(),
		eventType:  models.EventClick,
		adID:       c.AdID,
		sessionID:  c.SessionID,
		deviceType: c.Metadata[models.MetaDeviceType],
		country:    c.Metadata[models.MetaCountry],
		ts:         c.CreatedAt,
	}
	if c.ImpressionID != nil {
		row.impressionID = sql.NullString{String: c.ImpressionID.String(), Valid: true}
	}
	if c.UserID != nil {
		row.userID = sql.NullInt64{Int64: *c.UserID, Valid: true}
	}
	return row
}

// insert writes rows as one ClickHouse batch: the driver buffers Exec calls
// on a prepared statement and sends them on Commit.
func (c *ClickHouse) insert(ctx context.Context, rows []eventRow) error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	if len(rows) == 0 {
		return nil
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.id, r.eventType, r.adID, r.impressionID, r.userID, r.sessionID, r.placementCode, r.deviceType, r.country, r.ts); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append %s event: %w", r.eventType, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// RecordImpressions mirrors a flushed impression batch.
func (c *ClickHouse) RecordImpressions(ctx context.Context, batch []models.Impression) error {
	rows := make([]eventRow, 0, len(batch))
	for _, imp := range batch {
		rows = append(rows, impressionRow(imp))
	}
	return c.insert(ctx, rows)
}

// RecordClick mirrors one persisted click.
func (c *ClickHouse) RecordClick(ctx context.Context, click models.Click) error {
	return c.insert(ctx, []eventRow{clickRow(click)})
}

// eventFilter builds the WHERE clause shared by the analytics queries.
func eventFilter(adID int64, eventType string, r models.DateRange) (string, []any) {
	clauses := []string{"ad_id = ?", "event_type = ?"}
	args := []any{adID, eventType}
	if r.Start != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, r.Start.UTC())
	}
	if r.End != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, r.End.UTC())
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (c *ClickHouse) count(ctx context.Context, expr string, adID int64, eventType string, r models.DateRange) (int64, error) {
	if c == nil || c.DB == nil {
		return 0, ErrUnavailable
	}
	where, args := eventFilter(adID, eventType, r)
	var n uint64
	if err := c.DB.QueryRowContext(ctx, "SELECT "+expr+" FROM ad_events"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("clickhouse count: %w", err)
	}
	return int64(n), nil
}

func (c *ClickHouse) CountImpressions(ctx context.Context, adID int64, r models.DateRange) (int64, error) {
	return c.count(ctx, "count()", adID, models.EventImpression, r)
}

func (c *ClickHouse) CountClicks(ctx context.Context, adID int64, r models.DateRange) (int64, error) {
	return c.count(ctx, "count()", adID, models.EventClick, r)
}

// CountUniqueUsers counts distinct user ids; uniqExact skips NULLs.
func (c *ClickHouse) CountUniqueUsers(ctx context.Context, adID int64, r models.DateRange) (int64, error) {
	return c.count(ctx, "uniqExact(user_id)", adID, models.EventImpression, r)
}

func (c *ClickHouse) DailyImpressions(ctx context.Context, adID int64, r models.DateRange) ([]models.DailyStat, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	where, args := eventFilter(adID, models.EventImpression, r)
	query := "SELECT toString(toDate(timestamp)) AS day, count() FROM ad_events" + where + " GROUP BY day ORDER BY day"
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query daily impressions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			c.logger.Warn("rows close", zap.Error(err))
		}
	}()

	out := []models.DailyStat{}
	for rows.Next() {
		var (
			day string
			n   uint64
		)
		if err := rows.Scan(&day, &n); err != nil {
			return nil, fmt.Errorf("scan daily impressions: %w", err)
		}
		out = append(out, models.DailyStat{Date: day, Impressions: int64(n)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (c *ClickHouse) TopPlacements(ctx context.Context, adID int64, r models.DateRange, limit int) ([]models.PlacementStat, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	where, args := eventFilter(adID, models.EventImpression, r)
	query := "SELECT assumeNotNull(placement_code) AS code, count() AS c FROM ad_events" + where +
		" AND placement_code IS NOT NULL GROUP BY code ORDER BY c DESC, code ASC LIMIT ?"
	rows, err := c.DB.QueryContext(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query top placements: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			c.logger.Warn("rows close", zap.Error(err))
		}
	}()

	out := []models.PlacementStat{}
	for rows.Next() {
		var (
			code string
			n    uint64
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("scan top placements: %w", err)
		}
		out = append(out, models.PlacementStat{PlacementCode: code, Impressions: int64(n)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Close terminates the ClickHouse connection.
func (c *ClickHouse) Close() {
	if c != nil && c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.logger.Error("clickhouse close", zap.Error(err))
		}
	}
}
