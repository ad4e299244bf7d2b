package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"meme_bot/internal/model"
	"meme_bot/migrations"
)

// SQLite implements Storage backed by a SQLite database.
// Expiry timestamps are stored as unix nanoseconds so they compare in SQL.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Up(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// PushItems appends items to a category pool inside one transaction.
func (s *SQLite) PushItems(ctx context.Context, category model.Category, items []model.Item, ttl time.Duration) (int, error) {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := purgeExpiredPool(ctx, tx, category, now); err != nil {
		return 0, err
	}

	for _, it := range items {
		payload, err := json.Marshal(it)
		if err != nil {
			return 0, fmt.Errorf("marshal item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cache_items (category, payload) VALUES (?, ?)`,
			string(category), string(payload),
		); err != nil {
			return 0, unavailable("insert item", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cache_pools (category, expires_at) VALUES (?, ?)
		 ON CONFLICT (category) DO UPDATE SET expires_at = excluded.expires_at`,
		string(category), now.Add(ttl).UnixNano(),
	); err != nil {
		return 0, unavailable("set pool expiry", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_items WHERE category = ?`, string(category),
	).Scan(&n); err != nil {
		return 0, unavailable("count items", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit", err)
	}
	return n, nil
}

// PopItem removes the head of a live pool with a single DELETE ... RETURNING
// statement, so two callers can never receive the same row.
func (s *SQLite) PopItem(ctx context.Context, category model.Category) (*model.Item, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM cache_items WHERE id = (
		     SELECT i.id FROM cache_items i
		     JOIN cache_pools p ON p.category = i.category
		     WHERE i.category = ? AND p.expires_at > ?
		     ORDER BY i.id LIMIT 1)
		 RETURNING payload`,
		string(category), s.now().UnixNano(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("pop item", err)
	}

	var it model.Item
	if err := json.Unmarshal([]byte(payload), &it); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return &it, nil
}

// PoolLen returns the number of items in a live pool.
func (s *SQLite) PoolLen(ctx context.Context, category model.Category) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_items i
		 JOIN cache_pools p ON p.category = i.category
		 WHERE i.category = ? AND p.expires_at > ?`,
		string(category), s.now().UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, unavailable("count items", err)
	}
	return n, nil
}

func purgeExpiredPool(ctx context.Context, tx *sql.Tx, category model.Category, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM cache_items WHERE category = ? AND EXISTS (
		     SELECT 1 FROM cache_pools WHERE category = ? AND expires_at <= ?)`,
		string(category), string(category), now.UnixNano(),
	)
	if err != nil {
		return unavailable("purge expired pool", err)
	}
	return nil
}

// SaveSchedule upserts the schedule record and its membership row.
func (s *SQLite) SaveSchedule(ctx context.Context, sched *model.Schedule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schedules (tenant_id, channel_id, category, interval_minutes, next_fire_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		     channel_id = excluded.channel_id,
		     category = excluded.category,
		     interval_minutes = excluded.interval_minutes,
		     next_fire_at = excluded.next_fire_at`,
		sched.TenantID, sched.ChannelID, string(sched.Category), sched.IntervalMinutes, sched.NextFireAt.UnixNano(),
	); err != nil {
		return unavailable("upsert schedule", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO scheduled_tenants (tenant_id) VALUES (?)`, sched.TenantID,
	); err != nil {
		return unavailable("add scheduled tenant", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// UpdateSchedule rewrites an existing schedule row.
func (s *SQLite) UpdateSchedule(ctx context.Context, sched *model.Schedule) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET channel_id = ?, category = ?, interval_minutes = ?, next_fire_at = ?
		 WHERE tenant_id = ?`,
		sched.ChannelID, string(sched.Category), sched.IntervalMinutes, sched.NextFireAt.UnixNano(), sched.TenantID,
	)
	if err != nil {
		return unavailable("update schedule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update schedule", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSchedule returns the schedule of a tenant.
func (s *SQLite) GetSchedule(ctx context.Context, tenantID string) (*model.Schedule, error) {
	var (
		sched    model.Schedule
		category string
		nextFire int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, channel_id, category, interval_minutes, next_fire_at
		 FROM schedules WHERE tenant_id = ?`, tenantID,
	).Scan(&sched.TenantID, &sched.ChannelID, &category, &sched.IntervalMinutes, &nextFire)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get schedule", err)
	}
	sched.Category = model.Category(category)
	sched.NextFireAt = time.Unix(0, nextFire).UTC()
	return &sched, nil
}

// DeleteSchedule removes the schedule and membership rows of a tenant.
func (s *SQLite) DeleteSchedule(ctx context.Context, tenantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_tenants WHERE tenant_id = ?`, tenantID); err != nil {
		return unavailable("delete scheduled tenant", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE tenant_id = ?`, tenantID); err != nil {
		return unavailable("delete schedule", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// ListScheduledTenants returns the membership set.
func (s *SQLite) ListScheduledTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM scheduled_tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, unavailable("query scheduled tenants", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RemoveScheduledTenant drops a tenant from the membership set only.
func (s *SQLite) RemoveScheduledTenant(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tenants WHERE tenant_id = ?`, tenantID); err != nil {
		return unavailable("delete scheduled tenant", err)
	}
	return nil
}

// GetHistory returns the live turns of a channel.
func (s *SQLite) GetHistory(ctx context.Context, tenantID, channelID string) ([]model.Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM channel_history
		 WHERE tenant_id = ? AND channel_id = ? AND expires_at > ?`,
		tenantID, channelID, s.now().UnixNano(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []model.Turn{}, nil
	}
	if err != nil {
		return nil, unavailable("get history", err)
	}
	return decodeTurns(raw)
}

// SaveHistory replaces the turns of a channel and pushes its expiry forward.
func (s *SQLite) SaveHistory(ctx context.Context, tenantID, channelID string, turns []model.Turn, ttl time.Duration) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channel_history (tenant_id, channel_id, turns, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, channel_id) DO UPDATE SET
		     turns = excluded.turns,
		     expires_at = excluded.expires_at`,
		tenantID, channelID, string(raw), s.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return unavailable("save history", err)
	}
	return nil
}

// SetAIChannel points a tenant's AI chat at a channel.
func (s *SQLite) SetAIChannel(ctx context.Context, tenantID, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_channels (tenant_id, channel_id) VALUES (?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET channel_id = excluded.channel_id`,
		tenantID, channelID,
	)
	if err != nil {
		return unavailable("set ai channel", err)
	}
	return nil
}

// GetAIChannel returns the AI channel of a tenant.
func (s *SQLite) GetAIChannel(ctx context.Context, tenantID string) (string, error) {
	var channelID string
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id FROM ai_channels WHERE tenant_id = ?`, tenantID,
	).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", unavailable("get ai channel", err)
	}
	return channelID, nil
}

// ClearAIChannel removes the AI channel pointer of a tenant.
func (s *SQLite) ClearAIChannel(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ai_channels WHERE tenant_id = ?`, tenantID); err != nil {
		return unavailable("clear ai channel", err)
	}
	return nil
}

func decodeTurns(raw string) ([]model.Turn, error) {
	turns := []model.Turn{}
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}
