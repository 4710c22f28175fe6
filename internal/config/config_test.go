// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/cargoforge/internal/ledger"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, ledger.DefaultLimits(), cfg.TierLimits())
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  listen_addr: "127.0.0.1:9000"
solver:
  bin: /opt/cargoforge/bin/cargoforge
  timeout: 45s
  kill_grace: 1s
ledger:
  backend: redis
  timezone: Europe/Berlin
  redis:
    addr: "localhost:6379"
  limits:
    free: 3
auth:
  api_keys:
    "0123456789abcdef": alice
`)
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 45*time.Second, cfg.Solver.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "redis", cfg.Ledger.Backend)
	assert.Equal(t, "Europe/Berlin", cfg.Ledger.Timezone)
	assert.Equal(t, map[string]int{"free": 3, "pro": 1000, "enterprise": 10000}, cfg.Ledger.Limits)
	assert.Equal(t, map[string]string{"0123456789abcdef": "alice"}, cfg.Auth.APIKeys)
	// untouched sections keep their defaults
	assert.Equal(t, "sqlite", cfg.Subscriptions.Backend)
}

func TestServerTimeoutsFollowSolverTimeout(t *testing.T) {
	defaults := Defaults()
	assert.Equal(t, defaults.Solver.Timeout+15*time.Second, defaults.Server.WriteTimeout)
	assert.Equal(t, defaults.Solver.Timeout+5*time.Second, defaults.Server.ShutdownTimeout)

	t.Run("file sets only solver timeout", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "solver:\n  timeout: 60s\n")
		cfg, err := NewLoader(path, "").Load()
		require.NoError(t, err)
		assert.Equal(t, 75*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 65*time.Second, cfg.Server.ShutdownTimeout)
	})

	t.Run("env sets only solver timeout", func(t *testing.T) {
		t.Setenv("CFG_SOLVER_TIMEOUT", "2m")
		cfg, err := NewLoader("", "").Load()
		require.NoError(t, err)
		assert.Equal(t, 2*time.Minute+15*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 2*time.Minute+5*time.Second, cfg.Server.ShutdownTimeout)
	})

	t.Run("explicit values are kept", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), `
server:
  write_timeout: 90s
  shutdown_timeout: 20s
solver:
  timeout: 60s
`)
		cfg, err := NewLoader(path, "").Load()
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	})

	t.Run("explicit write timeout below solver still fails", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "server:\n  write_timeout: 30s\nsolver:\n  timeout: 60s\n")
		_, err := NewLoader(path, "").Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.write_timeout")
	})
}

func TestFileRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "ledger:\n  backnd: memory\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestFileRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "")
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.ListenAddr, cfg.Server.ListenAddr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "ledger:\n  backend: memory\n  limits:\n    free: 3\n")
	t.Setenv("CFG_LEDGER_BACKEND", "badger")
	t.Setenv("CFG_LEDGER_LIMIT_PRO", "50")
	t.Setenv("CFG_SOLVER_ARGS", "run {ship} {cargo}")
	t.Setenv("CFG_AUTH_API_KEYS", "aaaaaaaaaaaaaaaa=alice, bbbbbbbbbbbbbbbb=bob")
	t.Setenv("CFG_TELEMETRY_ENABLED", "yes")
	t.Setenv("CFG_SOLVER_TIMEOUT", "not-a-duration")
	t.Setenv("CFG_BILLING_API_BASE", "https://api.billing.example")
	t.Setenv("CFG_BILLING_API_KEY", "sk_env")

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Ledger.Backend)
	assert.Equal(t, map[string]int{"free": 3, "pro": 50, "enterprise": 10000}, cfg.Ledger.Limits)
	assert.Equal(t, []string{"run", "{ship}", "{cargo}"}, cfg.Solver.Args)
	assert.Equal(t, map[string]string{"aaaaaaaaaaaaaaaa": "alice", "bbbbbbbbbbbbbbbb": "bob"}, cfg.Auth.APIKeys)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, Defaults().Solver.Timeout, cfg.Solver.Timeout)
	assert.Equal(t, "https://api.billing.example", cfg.Billing.APIBase)
	assert.Equal(t, "sk_env", cfg.Billing.APIKey)
}

func TestEnvMalformedAPIKeys(t *testing.T) {
	t.Setenv("CFG_AUTH_API_KEYS", "aaaaaaaaaaaaaaaa")
	_, err := NewLoader("", "").Load()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "aaaaaaaaaaaaaaaa")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"bad listen addr", func(c *AppConfig) { c.Server.ListenAddr = "8080" }, "server.listen_addr"},
		{"write timeout below solver", func(c *AppConfig) { c.Server.WriteTimeout = time.Second }, "server.write_timeout"},
		{"missing placeholders", func(c *AppConfig) { c.Solver.Args = []string{"optimize"} }, "solver.args"},
		{"unknown backend", func(c *AppConfig) { c.Ledger.Backend = "postgres" }, "ledger.backend"},
		{"redis without addr", func(c *AppConfig) { c.Ledger.Backend = "redis" }, "ledger.redis.addr"},
		{"bad timezone", func(c *AppConfig) { c.Ledger.Timezone = "Mars/Olympus" }, "ledger.timezone"},
		{"unknown tier", func(c *AppConfig) { c.Ledger.Limits["platinum"] = 5 }, "ledger.limits"},
		{"negative limit", func(c *AppConfig) { c.Ledger.Limits["free"] = -1 }, "ledger.limits.free"},
		{"short api key", func(c *AppConfig) { c.Auth.APIKeys = map[string]string{"short": "alice"} }, "auth.api_keys"},
		{"sampling rate", func(c *AppConfig) { c.Telemetry.SamplingRate = 2 }, "telemetry.sampling_rate"},
		{"telemetry exporter", func(c *AppConfig) { c.Telemetry.Enabled = true; c.Telemetry.Exporter = "zipkin" }, "telemetry.exporter"},
		{"log level", func(c *AppConfig) { c.Log.Level = "loud" }, "log.level"},
		{"billing api base scheme", func(c *AppConfig) { c.Billing.APIBase = "ftp://billing"; c.Billing.APIKey = "sk" }, "billing.api_base"},
		{"billing api without key", func(c *AppConfig) { c.Billing.APIBase = "https://api.billing.example" }, "billing.api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Billing.WebhookSecret = "whsec_live"
	cfg.Billing.APIKey = "sk_live"
	cfg.Auth.APIKeys = map[string]string{"0123456789abcdef": "alice"}

	r := Redacted(cfg)
	assert.Equal(t, masked, r.Billing.WebhookSecret)
	assert.Equal(t, masked, r.Billing.APIKey)
	assert.Equal(t, map[string]string{masked + "1": "alice"}, r.Auth.APIKeys)
	assert.Equal(t, "whsec_live", cfg.Billing.WebhookSecret)
	assert.Contains(t, cfg.Auth.APIKeys, "0123456789abcdef")
}

func TestHolderReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "ledger:\n  backend: memory\n  limits:\n    free: 3\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	writeConfig(t, dir, "ledger:\n  backend: memory\n  limits:\n    free: 7\n")
	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, 7, h.Get().Ledger.Limits["free"])

	select {
	case got := <-ch:
		assert.Equal(t, 7, got.Ledger.Limits["free"])
	default:
		t.Fatal("listener not notified")
	}

	writeConfig(t, dir, "ledger:\n  backend: nope\n")
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 7, h.Get().Ledger.Limits["free"], "invalid reload keeps the previous config")
}

func TestHolderGetReturnsCopy(t *testing.T) {
	h := NewHolder(Defaults(), NewLoader("", ""))
	cfg := h.Get()
	cfg.Ledger.Limits["free"] = 999
	assert.Equal(t, ledger.DefaultFreeLimit, h.Get().Ledger.Limits["free"])
}

func TestHolderWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "ledger:\n  backend: memory\n  limits:\n    free: 3\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewHolder(initial, loader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "ledger:\n  backend: memory\n  limits:\n    free: 9\n")

	assert.Eventually(t, func() bool {
		return h.Get().Ledger.Limits["free"] == 9
	}, 5*time.Second, 50*time.Millisecond)
}

func TestHolderWatchWithoutFile(t *testing.T) {
	h := NewHolder(Defaults(), NewLoader("", ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, h.Watch(ctx))
}
