// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("ledger: store is closed")

// UsageRecord is an append-only fact about one dispatch attempt that passed
// admission, whether or not it succeeded.
type UsageRecord struct {
	ID          string        `json:"id"`
	PrincipalID string        `json:"principal_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Success     bool          `json:"success"`
	Outcome     string        `json:"outcome"`
	ItemCount   int           `json:"item_count"`
	PlacedCount int           `json:"placed_count"`
	Latency     time.Duration `json:"latency"`
}

// Reservation is the result of a conditional increment.
type Reservation struct {
	Admitted bool
	// Consumed is the counter value after the increment when admitted, or the
	// current value when denied.
	Consumed int
	Limit    int
}

// Aggregate sums a principal's usage records.
type Aggregate struct {
	Total        int
	Succeeded    int
	TotalLatency time.Duration
}

// Add folds rec into a.
func (a *Aggregate) Add(rec UsageRecord) {
	a.Total++
	if rec.Success {
		a.Succeeded++
	}
	a.TotalLatency += rec.Latency
}

// Store persists period counters and usage records.
//
// Reserve must be a single atomic conditional increment: the counter for
// (principalID, periodKey) is incremented only while it is below limit.
// expiresAt is a hint for backends that can expire counters.
type Store interface {
	Reserve(ctx context.Context, principalID, periodKey string, limit int, expiresAt time.Time) (Reservation, error)
	Record(ctx context.Context, rec UsageRecord) error
	ConsumedInPeriod(ctx context.Context, principalID string, periodStart time.Time) (int, error)
	// Aggregate sums the records of principalID at or after since. A zero
	// since covers every retained record.
	Aggregate(ctx context.Context, principalID string, since time.Time) (Aggregate, error)
	Close() error
}
