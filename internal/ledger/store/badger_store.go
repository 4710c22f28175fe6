// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/metrics"
)

// maxConflictRetries bounds optimistic retries on contended counters.
const maxConflictRetries = 64

// BadgerStore keys:
//   - counters: "ctr\x00<principal>\x00<period>" (decimal) with TTL
//   - records:  "usage\x00<principal>\x00<ts_ms %020d>\x00<id>" (JSON)
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens a badger database in dir. An empty dir runs in memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func badgerCounterKey(principalID, periodKey string) []byte {
	return []byte("ctr\x00" + principalID + "\x00" + periodKey)
}

func badgerUsagePrefix(principalID string) []byte {
	return []byte("usage\x00" + principalID + "\x00")
}

func badgerUsageKey(rec ledger.UsageRecord) []byte {
	return []byte(fmt.Sprintf("usage\x00%s\x00%020d\x00%s", rec.PrincipalID, rec.Timestamp.UnixMilli(), rec.ID))
}

// badgerSeek positions an iterator at the first record at or after since.
func badgerSeek(prefix []byte, since time.Time) []byte {
	seek := append([]byte(nil), prefix...)
	if since.IsZero() {
		return seek
	}
	return append(seek, []byte(fmt.Sprintf("%020d", since.UnixMilli()))...)
}

// Reserve reads and conditionally writes the counter in one transaction.
// Concurrent writers surface as badger.ErrConflict and are retried.
func (s *BadgerStore) Reserve(ctx context.Context, principalID, periodKey string, limit int, expiresAt time.Time) (ledger.Reservation, error) {
	key := badgerCounterKey(principalID, periodKey)
	ttl := counterTTL(expiresAt)

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return ledger.Reservation{}, err
		}
		var res ledger.Reservation
		err := s.db.Update(func(txn *badger.Txn) error {
			current := 0
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					n, perr := strconv.Atoi(string(val))
					current = n
					return perr
				}); err != nil {
					return err
				}
			}
			if current >= limit {
				res = ledger.Reservation{Consumed: current}
				return nil
			}
			current++
			res = ledger.Reservation{Admitted: true, Consumed: current}
			return txn.SetEntry(badger.NewEntry(key, []byte(strconv.Itoa(current))).WithTTL(ttl))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			metrics.IncLedgerStoreError("badger", "reserve")
			return ledger.Reservation{}, err
		}
		return res, nil
	}
	metrics.IncLedgerStoreError("badger", "reserve")
	return ledger.Reservation{}, fmt.Errorf("badger reserve: %w after %d attempts", badger.ErrConflict, maxConflictRetries)
}

func (s *BadgerStore) Record(ctx context.Context, rec ledger.UsageRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerUsageKey(rec), buf)
	})
	if err != nil {
		metrics.IncLedgerStoreError("badger", "record")
		return err
	}
	return nil
}

func (s *BadgerStore) ConsumedInPeriod(ctx context.Context, principalID string, periodStart time.Time) (int, error) {
	prefix := badgerUsagePrefix(principalID)
	seek := badgerSeek(prefix, periodStart)

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		metrics.IncLedgerStoreError("badger", "consumed")
		return 0, err
	}
	return n, nil
}

func (s *BadgerStore) Aggregate(ctx context.Context, principalID string, since time.Time) (ledger.Aggregate, error) {
	prefix := badgerUsagePrefix(principalID)
	seek := badgerSeek(prefix, since)

	var agg ledger.Aggregate
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec ledger.UsageRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			agg.Add(rec)
		}
		return nil
	})
	if err != nil {
		metrics.IncLedgerStoreError("badger", "aggregate")
		return ledger.Aggregate{}, err
	}
	return agg, nil
}
