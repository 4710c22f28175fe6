// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/cargoforge/internal/billing"
	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/solver"
)

const (
	// writeTimeoutHeadroom leaves room to encode the response after the
	// solver has used its full budget.
	writeTimeoutHeadroom    = 15 * time.Second
	shutdownTimeoutHeadroom = 5 * time.Second
)

// WriteTimeoutFor is the HTTP write timeout derived from a solver timeout.
func WriteTimeoutFor(solverTimeout time.Duration) time.Duration {
	return solverTimeout + writeTimeoutHeadroom
}

// ShutdownTimeoutFor is the drain timeout derived from a solver timeout, so
// in-flight dispatches can finish.
func ShutdownTimeoutFor(solverTimeout time.Duration) time.Duration {
	return solverTimeout + shutdownTimeoutHeadroom
}

// Defaults returns the configuration used when neither file nor environment
// set a value.
func Defaults() AppConfig {
	limits := make(map[string]int)
	for tier, n := range ledger.DefaultLimits() {
		limits[string(tier)] = n
	}
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    WriteTimeoutFor(solver.DefaultTimeout),
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: ShutdownTimeoutFor(solver.DefaultTimeout),
			MaxBodyBytes:    1 << 20,
		},
		Solver: SolverConfig{
			Bin:       "cargoforge",
			Args:      append([]string(nil), solver.DefaultArgs...),
			Timeout:   solver.DefaultTimeout,
			KillGrace: solver.DefaultKillGrace,
		},
		Workspace: WorkspaceConfig{
			Root:     filepath.Join(os.TempDir(), "cargoforge"),
			SweepAge: time.Hour,
		},
		Ledger: LedgerConfig{
			Backend:  "sqlite",
			Path:     "data/ledger.db",
			Timezone: "UTC",
			Limits:   limits,
		},
		Subscriptions: SubscriptionsConfig{
			Backend: "sqlite",
			Path:    "data/principals.db",
		},
		Billing: BillingConfig{
			Tolerance:  billing.DefaultTolerance,
			APITimeout: 10 * time.Second,
		},
		Auth: AuthConfig{APIKeys: map[string]string{}},
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "production",
			SamplingRate: 1.0,
		},
		Log: LogConfig{
			Level:   "info",
			Service: "cargoforge",
		},
	}
}
