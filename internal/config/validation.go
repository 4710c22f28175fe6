// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/cargoforge/internal/ledger"
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

type validator struct {
	errs []error
}

func (v *validator) add(field string, value any, msg string) {
	v.errs = append(v.errs, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *validator) positive(field string, d time.Duration) {
	if d <= 0 {
		v.add(field, d, "must be positive")
	}
}

func (v *validator) oneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.add(field, value, "must be one of "+strings.Join(allowed, ", "))
}

func (v *validator) err() error {
	return errors.Join(v.errs...)
}

// Validate reports every invalid field, joined.
func Validate(cfg AppConfig) error {
	v := &validator{}

	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		v.add("server.listen_addr", cfg.Server.ListenAddr, "must be host:port")
	}
	v.positive("server.read_timeout", cfg.Server.ReadTimeout)
	v.positive("server.write_timeout", cfg.Server.WriteTimeout)
	v.positive("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	if cfg.Server.MaxBodyBytes <= 0 {
		v.add("server.max_body_bytes", cfg.Server.MaxBodyBytes, "must be positive")
	}
	if cfg.Server.WriteTimeout > 0 && cfg.Server.WriteTimeout <= cfg.Solver.Timeout {
		v.add("server.write_timeout", cfg.Server.WriteTimeout, "must exceed solver.timeout")
	}

	if strings.TrimSpace(cfg.Solver.Bin) == "" {
		v.add("solver.bin", cfg.Solver.Bin, "is required")
	}
	if len(cfg.Solver.Args) > 0 && !hasPlaceholders(cfg.Solver.Args) {
		v.add("solver.args", cfg.Solver.Args, "must reference {ship} and {cargo}")
	}
	v.positive("solver.timeout", cfg.Solver.Timeout)
	v.positive("solver.kill_grace", cfg.Solver.KillGrace)

	if cfg.Workspace.Root == "" {
		v.add("workspace.root", cfg.Workspace.Root, "is required")
	}

	v.oneOf("ledger.backend", cfg.Ledger.Backend, "memory", "sqlite", "redis", "badger")
	if (cfg.Ledger.Backend == "sqlite") && cfg.Ledger.Path == "" {
		v.add("ledger.path", cfg.Ledger.Path, "is required for the sqlite backend")
	}
	if cfg.Ledger.Backend == "redis" && cfg.Ledger.Redis.Addr == "" {
		v.add("ledger.redis.addr", cfg.Ledger.Redis.Addr, "is required for the redis backend")
	}
	if _, err := ledger.NewPeriod(cfg.Ledger.Timezone); err != nil {
		v.add("ledger.timezone", cfg.Ledger.Timezone, "must be an IANA timezone")
	}
	for name, n := range cfg.Ledger.Limits {
		if !ledger.ParseTier(name).Known() {
			v.add("ledger.limits", name, "unknown tier")
		}
		if n < 0 {
			v.add("ledger.limits."+name, n, "must not be negative")
		}
	}

	v.oneOf("subscriptions.backend", cfg.Subscriptions.Backend, "memory", "sqlite")
	if cfg.Subscriptions.Backend == "sqlite" && cfg.Subscriptions.Path == "" {
		v.add("subscriptions.path", cfg.Subscriptions.Path, "is required for the sqlite backend")
	}

	v.positive("billing.tolerance", cfg.Billing.Tolerance)
	if cfg.Billing.APIBase != "" {
		if u, err := url.Parse(cfg.Billing.APIBase); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.add("billing.api_base", cfg.Billing.APIBase, "must be an http(s) URL")
		}
		if cfg.Billing.APIKey == "" {
			v.add("billing.api_key", cfg.Billing.APIKey, "is required when billing.api_base is set")
		}
		v.positive("billing.api_timeout", cfg.Billing.APITimeout)
	}

	for key, principal := range cfg.Auth.APIKeys {
		if len(key) < 16 {
			v.add("auth.api_keys", masked, "keys must be at least 16 characters")
		}
		if strings.TrimSpace(principal) == "" {
			v.add("auth.api_keys", masked, "principal id must not be empty")
		}
	}

	if cfg.RateLimit.Requests < 0 {
		v.add("rate_limit.requests", cfg.RateLimit.Requests, "must not be negative")
	}
	if cfg.RateLimit.Requests > 0 {
		v.positive("rate_limit.window", cfg.RateLimit.Window)
	}

	if cfg.Telemetry.Enabled {
		v.oneOf("telemetry.exporter", cfg.Telemetry.Exporter, "grpc", "http")
		if cfg.Telemetry.Endpoint == "" {
			v.add("telemetry.endpoint", cfg.Telemetry.Endpoint, "is required when telemetry is enabled")
		}
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		v.add("telemetry.sampling_rate", cfg.Telemetry.SamplingRate, "must be within [0, 1]")
	}

	if cfg.Log.Level != "" {
		if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
			v.add("log.level", cfg.Log.Level, "unknown level")
		}
	}

	return v.err()
}

func hasPlaceholders(args []string) bool {
	joined := strings.Join(args, " ")
	return strings.Contains(joined, "{ship}") && strings.Contains(joined, "{cargo}")
}
