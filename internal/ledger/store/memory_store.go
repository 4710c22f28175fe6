// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/cargoforge/internal/ledger"
)

// MemoryStore keeps counters and records in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	closed   bool
	counters map[string]int
	records  map[string][]ledger.UsageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]int),
		records:  make(map[string][]ledger.UsageRecord),
	}
}

func counterKey(principalID, periodKey string) string {
	return principalID + "\x00" + periodKey
}

func (s *MemoryStore) Reserve(ctx context.Context, principalID, periodKey string, limit int, _ time.Time) (ledger.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Reservation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.Reservation{}, ledger.ErrStoreClosed
	}

	k := counterKey(principalID, periodKey)
	c := s.counters[k]
	if c >= limit {
		return ledger.Reservation{Consumed: c}, nil
	}
	c++
	s.counters[k] = c
	return ledger.Reservation{Admitted: true, Consumed: c}, nil
}

func (s *MemoryStore) Record(ctx context.Context, rec ledger.UsageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.ErrStoreClosed
	}
	s.records[rec.PrincipalID] = append(s.records[rec.PrincipalID], rec)
	return nil
}

func (s *MemoryStore) ConsumedInPeriod(ctx context.Context, principalID string, periodStart time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ledger.ErrStoreClosed
	}
	n := 0
	for _, r := range s.records[principalID] {
		if !r.Timestamp.Before(periodStart) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, principalID string, since time.Time) (ledger.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Aggregate{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.Aggregate{}, ledger.ErrStoreClosed
	}
	var agg ledger.Aggregate
	for _, r := range s.records[principalID] {
		if !r.Timestamp.Before(since) {
			agg.Add(r)
		}
	}
	return agg, nil
}

// Records returns a copy of principalID's usage records.
func (s *MemoryStore) Records(principalID string) []ledger.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.UsageRecord(nil), s.records[principalID]...)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
