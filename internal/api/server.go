// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the dispatch gateway and the billing webhook over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/cargoforge/internal/api/middleware"
	"github.com/ManuGH/cargoforge/internal/auth"
	"github.com/ManuGH/cargoforge/internal/billing"
	"github.com/ManuGH/cargoforge/internal/cargo"
	"github.com/ManuGH/cargoforge/internal/health"
	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/solver"
	"github.com/ManuGH/cargoforge/internal/subscription"
)

const (
	defaultMaxBodyBytes    = 1 << 20
	defaultRateLimitWindow = time.Minute
)

// Dispatcher runs optimizations.
type Dispatcher interface {
	Dispatch(ctx context.Context, principalID string, req cargo.Request) (solver.Outcome, error)
	Timeout() time.Duration
}

// UsageReader reports consumption and usage history.
type UsageReader interface {
	Usage(ctx context.Context, principalID string, tier ledger.Tier) (ledger.Usage, error)
	Stats(ctx context.Context, principalID string, tier ledger.Tier) (ledger.Stats, error)
	Limit(tier ledger.Tier) int
}

// PrincipalReader resolves principal ids.
type PrincipalReader interface {
	Get(ctx context.Context, id string) (subscription.Principal, error)
}

// WebhookProcessor handles a billing delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, d billing.Delivery) billing.Result
}

// SubscriptionApplier applies a provider-side change to the principal it
// belongs to.
type SubscriptionApplier interface {
	Apply(ctx context.Context, ev billing.Event) (subscription.Principal, error)
}

// RateLimit bounds requests per principal on authenticated routes. A zero
// Requests disables it.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Gateway    Dispatcher
	Usage      UsageReader
	Principals PrincipalReader
	Billing    WebhookProcessor
	// BillingClient is optional; without it cancel and reactivate answer 503.
	BillingClient billing.Client
	// Subscriptions mirrors successful provider calls locally before the
	// confirming webhook arrives. Optional.
	Subscriptions SubscriptionApplier
	Keyring       func() *auth.Keyring
	Health        *health.Manager
	RateLimit     RateLimit
	Stack         middleware.StackConfig
	MaxBodyBytes  int64
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
}

// NewServer validates deps.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Gateway == nil:
		return nil, errors.New("api: gateway is required")
	case deps.Usage == nil:
		return nil, errors.New("api: usage reader is required")
	case deps.Principals == nil:
		return nil, errors.New("api: principal reader is required")
	case deps.Billing == nil:
		return nil, errors.New("api: billing processor is required")
	case deps.Keyring == nil:
		return nil, errors.New("api: keyring is required")
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	if deps.RateLimit.Window <= 0 {
		deps.RateLimit.Window = defaultRateLimitWindow
	}
	return &Server{deps: deps}, nil
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := middleware.NewRouter(s.deps.Stack)

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhooks/billing", s.handleBillingWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/billing/pricing", s.handlePricing)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(s.deps.Keyring))
			if s.deps.RateLimit.Requests > 0 {
				r.Use(middleware.PrincipalRateLimit(s.deps.RateLimit.Requests, s.deps.RateLimit.Window))
			}
			r.Post("/optimize", s.handleOptimize)
			r.Get("/usage", s.handleUsage)
			r.Get("/analytics", s.handleAnalytics)
			r.Post("/billing/cancel", s.handleBillingCancel)
			r.Post("/billing/reactivate", s.handleBillingReactivate)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "system/not_found", "Not Found", "NOT_FOUND", "", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "system/method_not_allowed", "Method Not Allowed", "METHOD_NOT_ALLOWED", "", nil)
	})
	return r
}
