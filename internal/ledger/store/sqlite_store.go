// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/metrics"
	"github.com/ManuGH/cargoforge/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 1

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_counters (
	principal_id TEXT NOT NULL,
	period_key TEXT NOT NULL,
	consumed INTEGER NOT NULL,
	PRIMARY KEY (principal_id, period_key)
);

CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	ts_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	item_count INTEGER NOT NULL,
	placed_count INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_records_principal_ts ON usage_records(principal_id, ts_ms);
`

// SqliteStore implements ledger.Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the ledger database at dbPath.
func NewSqliteStore(ctx context.Context, dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, "ledger", sqliteSchemaVersion, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

// Reserve is a single UPSERT whose update arm only fires below the limit.
// No returned row means the counter was already at the limit.
func (s *SqliteStore) Reserve(ctx context.Context, principalID, periodKey string, limit int, _ time.Time) (ledger.Reservation, error) {
	var consumed int
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO usage_counters (principal_id, period_key, consumed)
		SELECT ?, ?, 1 WHERE ? > 0
		ON CONFLICT(principal_id, period_key) DO UPDATE SET consumed = consumed + 1
		WHERE consumed < ?
		RETURNING consumed`,
		principalID, periodKey, limit, limit,
	).Scan(&consumed)
	if err == nil {
		return ledger.Reservation{Admitted: true, Consumed: consumed}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		metrics.IncLedgerStoreError("sqlite", "reserve")
		return ledger.Reservation{}, err
	}

	err = s.DB.QueryRowContext(ctx,
		`SELECT consumed FROM usage_counters WHERE principal_id = ? AND period_key = ?`,
		principalID, periodKey,
	).Scan(&consumed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		metrics.IncLedgerStoreError("sqlite", "reserve")
		return ledger.Reservation{}, err
	}
	return ledger.Reservation{Consumed: consumed}, nil
}

func (s *SqliteStore) Record(ctx context.Context, rec ledger.UsageRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_records (id, principal_id, ts_ms, success, outcome, item_count, placed_count, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PrincipalID, rec.Timestamp.UnixMilli(), boolToInt(rec.Success), rec.Outcome,
		rec.ItemCount, rec.PlacedCount, rec.Latency.Milliseconds(),
	)
	if err != nil {
		metrics.IncLedgerStoreError("sqlite", "record")
		return err
	}
	return nil
}

func (s *SqliteStore) ConsumedInPeriod(ctx context.Context, principalID string, periodStart time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE principal_id = ? AND ts_ms >= ?`,
		principalID, periodStart.UnixMilli(),
	).Scan(&n)
	if err != nil {
		metrics.IncLedgerStoreError("sqlite", "consumed")
		return 0, err
	}
	return n, nil
}

func (s *SqliteStore) Aggregate(ctx context.Context, principalID string, since time.Time) (ledger.Aggregate, error) {
	var (
		agg       ledger.Aggregate
		latencyMS int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(SUM(latency_ms), 0)
		FROM usage_records WHERE principal_id = ? AND ts_ms >= ?`,
		principalID, since.UnixMilli(),
	).Scan(&agg.Total, &agg.Succeeded, &latencyMS)
	if err != nil {
		metrics.IncLedgerStoreError("sqlite", "aggregate")
		return ledger.Aggregate{}, err
	}
	agg.TotalLatency = time.Duration(latencyMS) * time.Millisecond
	return agg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
