// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store provides the ledger's persistence backends.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/cargoforge/internal/ledger"
)

// Config selects and parameterises a backend.
type Config struct {
	Backend string // sqlite (default), memory, redis, badger
	Path    string // sqlite file or badger directory
	Redis   RedisConfig
}

// Open creates a ledger.Store based on the backend configuration.
func Open(ctx context.Context, cfg Config) (ledger.Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSqliteStore(ctx, cfg.Path)
	case "redis":
		return NewRedisStore(ctx, cfg.Redis)
	case "badger":
		return OpenBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", backend)
	}
}

// counterGrace keeps a counter alive for a while past its period end.
const counterGrace = time.Hour

func counterTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + counterGrace
	if ttl < counterGrace {
		return counterGrace
	}
	return ttl
}
