// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration from defaults, an optional
// YAML file and CFG_* environment variables, in increasing precedence.
package config

import "time"

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	Server        ServerConfig        `yaml:"server"`
	Solver        SolverConfig        `yaml:"solver"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Billing       BillingConfig       `yaml:"billing"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Log           LogConfig           `yaml:"log"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type SolverConfig struct {
	Bin       string        `yaml:"bin"`
	Args      []string      `yaml:"args"`
	Timeout   time.Duration `yaml:"timeout"`
	KillGrace time.Duration `yaml:"kill_grace"`
}

type WorkspaceConfig struct {
	Root string `yaml:"root"`
	// SweepAge is the minimum age of a leftover workspace removed at startup.
	SweepAge time.Duration `yaml:"sweep_age"`
}

type LedgerConfig struct {
	// Backend is one of memory, sqlite, redis, badger.
	Backend  string         `yaml:"backend"`
	Path     string         `yaml:"path"`
	Timezone string         `yaml:"timezone"`
	Limits   map[string]int `yaml:"limits"`
	Redis    RedisConfig    `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SubscriptionsConfig struct {
	// Backend is one of memory, sqlite.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type BillingConfig struct {
	WebhookSecret string        `yaml:"webhook_secret"`
	Tolerance     time.Duration `yaml:"tolerance"`
	// APIBase is the provider REST root; empty disables cancel/reactivate.
	APIBase    string        `yaml:"api_base"`
	APIKey     string        `yaml:"api_key"`
	APITimeout time.Duration `yaml:"api_timeout"`
}

type AuthConfig struct {
	// APIKeys maps a key to the principal id it authenticates.
	APIKeys map[string]string `yaml:"api_keys"`
}

type RateLimitConfig struct {
	// Requests per Window per principal; 0 disables the limiter.
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}
