// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader. An empty configPath means ENV-only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the config file path, if any.
func (l *Loader) Path() string { return l.configPath }

// Load builds and validates the configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	// Left zero until the sources are merged; unset values follow solver.timeout.
	cfg.Server.WriteTimeout = 0
	cfg.Server.ShutdownTimeout = 0

	if l.configPath != "" {
		if err := l.mergeFile(&cfg, l.configPath); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := mergeEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load environment: %w", err)
	}

	deriveTimeouts(&cfg)

	if cfg.Workspace.Root != "" {
		if abs, err := filepath.Abs(cfg.Workspace.Root); err == nil {
			cfg.Workspace.Root = abs
		}
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// mergeFile decodes the YAML file on top of cfg. Unknown fields are rejected.
func (l *Loader) mergeFile(cfg *AppConfig, path string) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	// Tier limits from the file merge over the defaults; API keys replace them.
	fileCfg := cfg.clone()
	fileCfg.Auth.APIKeys = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}

	if fileCfg.Auth.APIKeys == nil {
		fileCfg.Auth.APIKeys = cfg.Auth.APIKeys
	}
	*cfg = fileCfg
	return nil
}

// deriveTimeouts fills the server timeouts that neither file nor environment
// set from the effective solver timeout.
func deriveTimeouts(cfg *AppConfig) {
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = WriteTimeoutFor(cfg.Solver.Timeout)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = ShutdownTimeoutFor(cfg.Solver.Timeout)
	}
}

func mergeEnv(cfg *AppConfig) error {
	s := &cfg.Server
	s.ListenAddr = ParseString("CFG_LISTEN_ADDR", s.ListenAddr)
	s.ReadTimeout = ParseDuration("CFG_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = ParseDuration("CFG_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = ParseDuration("CFG_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = ParseDuration("CFG_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = ParseInt64("CFG_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.CORSOrigins = ParseList("CFG_CORS_ORIGINS", s.CORSOrigins)

	sv := &cfg.Solver
	sv.Bin = ParseString("CFG_SOLVER_BIN", sv.Bin)
	if raw := ParseString("CFG_SOLVER_ARGS", ""); raw != "" {
		sv.Args = strings.Fields(raw)
	}
	sv.Timeout = ParseDuration("CFG_SOLVER_TIMEOUT", sv.Timeout)
	sv.KillGrace = ParseDuration("CFG_SOLVER_KILL_GRACE", sv.KillGrace)

	cfg.Workspace.Root = ParseString("CFG_WORKSPACE_ROOT", cfg.Workspace.Root)
	cfg.Workspace.SweepAge = ParseDuration("CFG_WORKSPACE_SWEEP_AGE", cfg.Workspace.SweepAge)

	lg := &cfg.Ledger
	lg.Backend = ParseString("CFG_LEDGER_BACKEND", lg.Backend)
	lg.Path = ParseString("CFG_LEDGER_PATH", lg.Path)
	lg.Timezone = ParseString("CFG_LEDGER_TIMEZONE", lg.Timezone)
	if lg.Limits == nil {
		lg.Limits = make(map[string]int)
	}
	for _, tier := range []string{"free", "pro", "enterprise"} {
		key := "CFG_LEDGER_LIMIT_" + strings.ToUpper(tier)
		if _, ok := os.LookupEnv(key); ok {
			lg.Limits[tier] = ParseInt(key, lg.Limits[tier])
		}
	}
	lg.Redis.Addr = ParseString("CFG_LEDGER_REDIS_ADDR", lg.Redis.Addr)
	lg.Redis.Password = ParseString("CFG_LEDGER_REDIS_PASSWORD", lg.Redis.Password)
	lg.Redis.DB = ParseInt("CFG_LEDGER_REDIS_DB", lg.Redis.DB)

	cfg.Subscriptions.Backend = ParseString("CFG_SUBSCRIPTIONS_BACKEND", cfg.Subscriptions.Backend)
	cfg.Subscriptions.Path = ParseString("CFG_SUBSCRIPTIONS_PATH", cfg.Subscriptions.Path)

	cfg.Billing.WebhookSecret = ParseString("CFG_BILLING_WEBHOOK_SECRET", cfg.Billing.WebhookSecret)
	cfg.Billing.Tolerance = ParseDuration("CFG_BILLING_TOLERANCE", cfg.Billing.Tolerance)
	cfg.Billing.APIBase = ParseString("CFG_BILLING_API_BASE", cfg.Billing.APIBase)
	cfg.Billing.APIKey = ParseString("CFG_BILLING_API_KEY", cfg.Billing.APIKey)
	cfg.Billing.APITimeout = ParseDuration("CFG_BILLING_API_TIMEOUT", cfg.Billing.APITimeout)

	if raw := ParseString("CFG_AUTH_API_KEYS", ""); raw != "" {
		keys, err := ParseKeyPairs(raw)
		if err != nil {
			return fmt.Errorf("CFG_AUTH_API_KEYS: %w", err)
		}
		cfg.Auth.APIKeys = keys
	}

	cfg.RateLimit.Requests = ParseInt("CFG_RATELIMIT_REQUESTS", cfg.RateLimit.Requests)
	cfg.RateLimit.Window = ParseDuration("CFG_RATELIMIT_WINDOW", cfg.RateLimit.Window)

	t := &cfg.Telemetry
	t.Enabled = ParseBool("CFG_TELEMETRY_ENABLED", t.Enabled)
	t.Exporter = ParseString("CFG_TELEMETRY_EXPORTER", t.Exporter)
	t.Endpoint = ParseString("CFG_TELEMETRY_ENDPOINT", t.Endpoint)
	t.Environment = ParseString("CFG_TELEMETRY_ENVIRONMENT", t.Environment)
	t.SamplingRate = ParseFloat("CFG_TELEMETRY_SAMPLING_RATE", t.SamplingRate)
	t.Insecure = ParseBool("CFG_TELEMETRY_INSECURE", t.Insecure)

	cfg.Log.Level = ParseString("CFG_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Service = ParseString("CFG_LOG_SERVICE", cfg.Log.Service)
	return nil
}
