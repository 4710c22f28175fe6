// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/metrics"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// recordRetention bounds how long usage records stay in the sorted set.
const recordRetention = 35 * 24 * time.Hour

// reserveScript increments KEYS[1] only while it is below ARGV[1].
// Returns {admitted, consumed}.
var reserveScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if c >= limit then
	return {0, c}
end
c = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {1, c}
`)

// RedisStore keeps counters as plain keys and records in a per-principal
// sorted set scored by timestamp.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger := log.WithComponent("ledger")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis ledger")
	return &RedisStore{client: client}, nil
}

func redisCounterKey(principalID, periodKey string) string {
	return "cf:ledger:ctr:{" + principalID + "}:" + periodKey
}

func redisUsageKey(principalID string) string {
	return "cf:ledger:usage:{" + principalID + "}"
}

func (s *RedisStore) Reserve(ctx context.Context, principalID, periodKey string, limit int, expiresAt time.Time) (ledger.Reservation, error) {
	vals, err := reserveScript.Run(ctx, s.client,
		[]string{redisCounterKey(principalID, periodKey)},
		limit, counterTTL(expiresAt).Milliseconds(),
	).Int64Slice()
	if err != nil {
		metrics.IncLedgerStoreError("redis", "reserve")
		return ledger.Reservation{}, err
	}
	if len(vals) != 2 {
		metrics.IncLedgerStoreError("redis", "reserve")
		return ledger.Reservation{}, fmt.Errorf("redis reserve: unexpected reply %v", vals)
	}
	return ledger.Reservation{Admitted: vals[0] == 1, Consumed: int(vals[1])}, nil
}

func (s *RedisStore) Record(ctx context.Context, rec ledger.UsageRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := redisUsageKey(rec.PrincipalID)
	cutoff := rec.Timestamp.Add(-recordRetention).UnixMilli()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(rec.Timestamp.UnixMilli()), Member: buf})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, recordRetention)
		return nil
	})
	if err != nil {
		metrics.IncLedgerStoreError("redis", "record")
		return err
	}
	return nil
}

func (s *RedisStore) ConsumedInPeriod(ctx context.Context, principalID string, periodStart time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, redisUsageKey(principalID),
		strconv.FormatInt(periodStart.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		metrics.IncLedgerStoreError("redis", "consumed")
		return 0, err
	}
	return int(n), nil
}

func (s *RedisStore) Aggregate(ctx context.Context, principalID string, since time.Time) (ledger.Aggregate, error) {
	lo := "-inf"
	if !since.IsZero() {
		lo = strconv.FormatInt(since.UnixMilli(), 10)
	}
	members, err := s.client.ZRangeByScore(ctx, redisUsageKey(principalID), &redis.ZRangeBy{Min: lo, Max: "+inf"}).Result()
	if err != nil {
		metrics.IncLedgerStoreError("redis", "aggregate")
		return ledger.Aggregate{}, err
	}
	var agg ledger.Aggregate
	for _, m := range members {
		var rec ledger.UsageRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			metrics.IncLedgerStoreError("redis", "aggregate")
			return ledger.Aggregate{}, fmt.Errorf("redis aggregate: decode record: %w", err)
		}
		agg.Add(rec)
	}
	return agg, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
