// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/persistence/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	tier TEXT NOT NULL,
	status TEXT NOT NULL,
	customer_ref TEXT,
	subscription_ref TEXT,
	updated_at_ms INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_customer ON principals(customer_ref) WHERE customer_ref IS NOT NULL;
`

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the principal database at dbPath.
func NewSqliteStore(ctx context.Context, dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, "principals", schemaVersion, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("principal store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

const selectPrincipal = `SELECT id, tier, status, customer_ref, subscription_ref, updated_at_ms FROM principals`

func (s *SqliteStore) Get(ctx context.Context, id string) (Principal, error) {
	return s.scanOne(s.DB.QueryRowContext(ctx, selectPrincipal+` WHERE id = ?`, id))
}

func (s *SqliteStore) GetByCustomer(ctx context.Context, ref string) (Principal, error) {
	if ref == "" {
		return Principal{}, ErrNotFound
	}
	return s.scanOne(s.DB.QueryRowContext(ctx, selectPrincipal+` WHERE customer_ref = ?`, ref))
}

func (s *SqliteStore) scanOne(row *sql.Row) (Principal, error) {
	var (
		p             Principal
		tier, status  string
		customer, sub sql.NullString
		updatedMS     int64
	)
	if err := row.Scan(&p.ID, &tier, &status, &customer, &sub, &updatedMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, err
	}
	p.Tier = ledger.Tier(tier)
	p.Status = Status(status)
	p.CustomerRef = customer.String
	p.SubscriptionRef = sub.String
	p.UpdatedAt = time.UnixMilli(updatedMS).UTC()
	return p, nil
}

func (s *SqliteStore) Put(ctx context.Context, p Principal) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO principals (id, tier, status, customer_ref, subscription_ref, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			status = excluded.status,
			customer_ref = excluded.customer_ref,
			subscription_ref = excluded.subscription_ref,
			updated_at_ms = excluded.updated_at_ms`,
		p.ID, string(p.Tier), string(p.Status), nullString(p.CustomerRef), nullString(p.SubscriptionRef), p.UpdatedAt.UnixMilli(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: principals.customer_ref") {
		return ErrCustomerTaken
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
