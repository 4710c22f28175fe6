// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/cargoforge/internal/api"
	"github.com/ManuGH/cargoforge/internal/api/middleware"
	"github.com/ManuGH/cargoforge/internal/auth"
	"github.com/ManuGH/cargoforge/internal/billing"
	"github.com/ManuGH/cargoforge/internal/config"
	"github.com/ManuGH/cargoforge/internal/gateway"
	"github.com/ManuGH/cargoforge/internal/health"
	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/ledger/store"
	cflog "github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/solver"
	"github.com/ManuGH/cargoforge/internal/subscription"
	"github.com/ManuGH/cargoforge/internal/telemetry"
	"github.com/ManuGH/cargoforge/internal/version"
	"github.com/ManuGH/cargoforge/internal/workspace"
)

const defaultConfigPath = "/etc/cargoforge/config.yaml"

// resolveConfigPath prefers the flag, then CFG_CONFIG, then the default path
// if it exists. Empty means ENV-only.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := config.ParseString("CFG_CONFIG", ""); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func serve(ctx context.Context, configPath string) error {
	logger := cflog.WithComponent("daemon")

	loader := config.NewLoader(configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cflog.Configure(cflog.Config{Level: cfg.Log.Level, Service: cfg.Log.Service, Version: version.Version})
	logger = cflog.WithComponent("daemon")
	logger.Info().
		Str(cflog.FieldEvent, "config.loaded").
		Str(cflog.FieldPath, configPath).
		Str("ledger_backend", cfg.Ledger.Backend).
		Msg("configuration loaded")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	rt, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	keyring, err := auth.NewKeyring(cfg.Auth.APIKeys)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := registerPrincipals(ctx, rt.principals, keyring); err != nil {
		return err
	}
	var currentKeys atomic.Pointer[auth.Keyring]
	currentKeys.Store(keyring)

	workspaces := workspace.NewManager(cfg.Workspace.Root)
	if err := os.MkdirAll(cfg.Workspace.Root, 0o700); err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}
	if n, err := workspaces.Sweep(ctx, cfg.Workspace.SweepAge); err != nil {
		logger.Warn().Err(err).Str(cflog.FieldEvent, "workspace.sweep_failed").Msg("stale workspace sweep failed")
	} else if n > 0 {
		logger.Info().Str(cflog.FieldEvent, "workspace.swept").Int("removed", n).Msg("removed stale workspaces")
	}

	gw, err := gateway.New(gateway.Deps{
		Ledger:     rt.ledger,
		Principals: rt.principals,
		Workspaces: workspaces,
		Solver:     solver.NewAdapter(cfg.Solver.Bin, cfg.Solver.Args, cfg.Solver.KillGrace),
		Timeout:    cfg.Solver.Timeout,
	})
	if err != nil {
		return err
	}

	if cfg.Billing.WebhookSecret == "" {
		logger.Warn().Str(cflog.FieldEvent, "billing.secret_missing").Msg("no webhook secret configured; every billing delivery will be rejected")
	}
	machine := subscription.NewMachine(rt.principals)
	processor := newProcessor(cfg, machine)
	billingClient, err := newBillingClient(cfg)
	if err != nil {
		return err
	}
	if billingClient == nil {
		logger.Info().Str(cflog.FieldEvent, "billing.client_disabled").Msg("no billing API configured; cancel and reactivate are unavailable")
	}

	srv, err := api.NewServer(api.Deps{
		Gateway:       gw,
		Usage:         rt.ledger,
		Principals:    rt.principals,
		Billing:       processor,
		BillingClient: billingClient,
		Subscriptions: machine,
		Keyring:       currentKeys.Load,
		Health:        newHealth(cfg, rt),
		RateLimit:     api.RateLimit{Requests: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window},
		Stack: middleware.StackConfig{
			EnableCORS:            len(cfg.Server.CORSOrigins) > 0,
			AllowedOrigins:        cfg.Server.CORSOrigins,
			EnableSecurityHeaders: true,
			EnableMetrics:         true,
			TracingService:        tracingService(cfg),
			EnableLogging:         true,
		},
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Routes(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	holder := config.NewHolder(cfg, loader)
	reloads := make(chan config.AppConfig, 1)
	holder.RegisterListener(reloads)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str(cflog.FieldEvent, "http.listen").Str("addr", cfg.Server.ListenAddr).Msg("serving")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return holder.Watch(gctx)
	})
	g.Go(func() error {
		applyReloads(gctx, reloads, rt, &currentKeys, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info().Str(cflog.FieldEvent, "http.shutdown").Msg("draining in-flight requests")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newHealth registers the readiness probes for every dependency a dispatch
// needs.
func newHealth(cfg config.AppConfig, rt *services) *health.Manager {
	m := health.NewManager(version.Version)
	m.RegisterChecker(health.NewBinaryChecker("solver", cfg.Solver.Bin))
	m.RegisterChecker(health.NewWritableDirChecker("workspace", cfg.Workspace.Root))
	m.RegisterChecker(health.NewFuncChecker("ledger", func(ctx context.Context) error {
		_, err := rt.ledger.ConsumedInPeriod(ctx, "readiness-probe", time.Now())
		return err
	}))
	m.RegisterChecker(health.NewFuncChecker("principals", func(ctx context.Context) error {
		_, err := rt.principals.Get(ctx, "readiness-probe")
		if errors.Is(err, subscription.ErrNotFound) {
			return nil
		}
		return err
	}))
	return m
}

func tracingService(cfg config.AppConfig) string {
	if !cfg.Telemetry.Enabled {
		return ""
	}
	return cfg.Log.Service
}

// services bundles the stores so they are closed together.
type services struct {
	ledger     *ledger.Ledger
	principals subscription.Store
}

func openServices(ctx context.Context, cfg config.AppConfig) (*services, error) {
	for _, p := range []string{cfg.Ledger.Path, cfg.Subscriptions.Path} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return nil, fmt.Errorf("data dir: %w", err)
		}
	}

	period, err := ledger.NewPeriod(cfg.Ledger.Timezone)
	if err != nil {
		return nil, err
	}
	ls, err := store.Open(ctx, store.Config{
		Backend: cfg.Ledger.Backend,
		Path:    cfg.Ledger.Path,
		Redis: store.RedisConfig{
			Addr:     cfg.Ledger.Redis.Addr,
			Password: cfg.Ledger.Redis.Password,
			DB:       cfg.Ledger.Redis.DB,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	principals, err := subscription.OpenStore(ctx, cfg.Subscriptions.Backend, cfg.Subscriptions.Path)
	if err != nil {
		_ = ls.Close()
		return nil, fmt.Errorf("open principal store: %w", err)
	}
	return &services{
		ledger:     ledger.New(ls, period, cfg.TierLimits()),
		principals: principals,
	}, nil
}

func (r *services) Close() {
	_ = r.ledger.Close()
	_ = r.principals.Close()
}

func newProcessor(cfg config.AppConfig, machine *subscription.Machine) *billing.Processor {
	p := billing.NewProcessor(cfg.Billing.WebhookSecret, machine)
	p.Tolerance = cfg.Billing.Tolerance
	return p
}

// newBillingClient returns nil when no provider API is configured.
func newBillingClient(cfg config.AppConfig) (billing.Client, error) {
	c, err := billing.NewHTTPClient(billing.ClientConfig{
		BaseURL: cfg.Billing.APIBase,
		APIKey:  cfg.Billing.APIKey,
		Timeout: cfg.Billing.APITimeout,
	})
	if errors.Is(err, billing.ErrClientDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("billing client: %w", err)
	}
	return c, nil
}

// registerPrincipals creates a free principal for every id the keyring
// authenticates that is not stored yet.
func registerPrincipals(ctx context.Context, principals subscription.Store, kr *auth.Keyring) error {
	now := time.Now()
	for _, id := range kr.Principals() {
		if _, err := subscription.Register(ctx, principals, id, now); err != nil {
			return fmt.Errorf("register principal %s: %w", id, err)
		}
	}
	return nil
}

// applyReloads pushes hot-reloadable settings into the running components.
func applyReloads(ctx context.Context, reloads <-chan config.AppConfig, rt *services, keys *atomic.Pointer[auth.Keyring], logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-reloads:
			rt.ledger.SetLimits(cfg.TierLimits())

			kr, err := auth.NewKeyring(cfg.Auth.APIKeys)
			if err != nil {
				logger.Error().Err(err).Str(cflog.FieldEvent, "config.keyring_rejected").Msg("keeping previous API keys")
				continue
			}
			if err := registerPrincipals(ctx, rt.principals, kr); err != nil {
				logger.Error().Err(err).Str(cflog.FieldEvent, "config.keyring_rejected").Msg("keeping previous API keys")
				continue
			}
			keys.Store(kr)
			logger.Info().Str(cflog.FieldEvent, "config.applied").Int("api_keys", len(cfg.Auth.APIKeys)).Msg("applied reloaded configuration")
		}
	}
}
