// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gateway orchestrates one optimization dispatch: validation,
// entitlement admission, workspace lifecycle, solver invocation and usage
// recording.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/cargoforge/internal/cargo"
	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/metrics"
	"github.com/ManuGH/cargoforge/internal/solver"
	"github.com/ManuGH/cargoforge/internal/subscription"
	"github.com/ManuGH/cargoforge/internal/telemetry"
	"github.com/ManuGH/cargoforge/internal/workspace"
)

const (
	tracerName = "github.com/ManuGH/cargoforge/internal/gateway"

	// recordTimeout bounds the detached usage write.
	recordTimeout = 5 * time.Second

	outcomeResourceExhausted = "resource_exhausted"
)

// ErrUnknownPrincipal is returned for a principal id with no stored record.
var ErrUnknownPrincipal = errors.New("gateway: unknown principal")

// Entitlements is the part of the ledger the gateway uses.
type Entitlements interface {
	Admit(ctx context.Context, principalID string, tier ledger.Tier) (ledger.Reservation, error)
	Record(ctx context.Context, rec ledger.UsageRecord) error
}

// Principals resolves principal ids.
type Principals interface {
	Get(ctx context.Context, id string) (subscription.Principal, error)
}

// Workspaces hands out and reclaims scratch directories.
type Workspaces interface {
	Acquire(ctx context.Context) (*workspace.Workspace, error)
	Release(ctx context.Context, ws *workspace.Workspace)
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Ledger     Entitlements
	Principals Principals
	Workspaces Workspaces
	Solver     solver.Invoker
	// Timeout bounds each solver run; zero means solver.DefaultTimeout.
	Timeout time.Duration
	Clock   func() time.Time
}

// Gateway is safe for concurrent use.
type Gateway struct {
	deps   Deps
	tracer trace.Tracer
}

// New validates deps and returns a Gateway.
func New(deps Deps) (*Gateway, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("gateway: ledger is required")
	case deps.Principals == nil:
		return nil, errors.New("gateway: principal store is required")
	case deps.Workspaces == nil:
		return nil, errors.New("gateway: workspace manager is required")
	case deps.Solver == nil:
		return nil, errors.New("gateway: solver is required")
	}
	if deps.Timeout <= 0 {
		deps.Timeout = solver.DefaultTimeout
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Gateway{deps: deps, tracer: otel.Tracer(tracerName)}, nil
}

// Timeout returns the configured solver bound.
func (g *Gateway) Timeout() time.Duration { return g.deps.Timeout }

// Dispatch runs one optimization for principalID.
//
// Errors before admission (*cargo.ValidationError, ErrUnknownPrincipal,
// *ledger.EntitlementDenied) have no side effects. Once admitted, exactly one
// UsageRecord is written, and the workspace is released before Dispatch
// returns. Solver results, including timeouts, come back as the Outcome.
func (g *Gateway) Dispatch(ctx context.Context, principalID string, req cargo.Request) (solver.Outcome, error) {
	dispatchID := uuid.NewString()
	ctx = log.ContextWithDispatchID(ctx, dispatchID)
	ctx, span := g.tracer.Start(ctx, "gateway.dispatch", trace.WithAttributes(
		telemetry.DispatchAttributes(dispatchID, principalID, len(req.Items))...,
	))
	defer span.End()

	logger := log.WithComponentFromContext(ctx, "gateway")

	if err := req.Validate(); err != nil {
		metrics.RecordDispatch("invalid")
		span.SetStatus(codes.Error, "validation")
		return nil, err
	}

	principal, err := g.deps.Principals.Get(ctx, principalID)
	if err != nil {
		metrics.RecordDispatch("error")
		span.SetStatus(codes.Error, "principal lookup")
		if errors.Is(err, subscription.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principalID)
		}
		return nil, fmt.Errorf("gateway: load principal: %w", err)
	}
	span.SetAttributes(attribute.String(telemetry.PrincipalTierKey, string(principal.Tier)))

	if _, err := g.deps.Ledger.Admit(ctx, principal.ID, principal.Tier); err != nil {
		var denied *ledger.EntitlementDenied
		if errors.As(err, &denied) {
			metrics.RecordDispatch("denied")
			span.SetStatus(codes.Error, "entitlement denied")
			logger.Info().
				Str(log.FieldEvent, "dispatch.denied").
				Str(log.FieldPrincipalID, principal.ID).
				Int(log.FieldLimit, denied.Limit).
				Msg("dispatch rejected by entitlement ledger")
			return nil, err
		}
		metrics.RecordDispatch("error")
		span.RecordError(err)
		return nil, err
	}

	start := g.deps.Clock()
	rec := ledger.UsageRecord{
		ID:          dispatchID,
		PrincipalID: principal.ID,
		ItemCount:   len(req.Items),
	}

	ws, err := g.deps.Workspaces.Acquire(ctx)
	if err != nil {
		rec.Outcome = outcomeResourceExhausted
		g.record(ctx, rec, start)
		metrics.RecordDispatch(outcomeResourceExhausted)
		span.RecordError(err)
		span.SetStatus(codes.Error, "workspace")
		return nil, err
	}
	defer g.deps.Workspaces.Release(context.WithoutCancel(ctx), ws)

	outcome, err := g.deps.Solver.Invoke(ctx, ws, req, g.deps.Timeout)
	if err != nil {
		rec.Outcome = outcomeResourceExhausted
		g.record(ctx, rec, start)
		metrics.RecordDispatch(outcomeResourceExhausted)
		span.RecordError(err)
		span.SetStatus(codes.Error, "artifacts")
		return nil, err
	}

	kind := string(outcome.Kind())
	rec.Outcome = kind
	if s, ok := outcome.(solver.Success); ok {
		rec.Success = true
		rec.PlacedCount = s.Plan.Analysis.PlacedCount
	}
	g.record(ctx, rec, start)

	metrics.RecordDispatch(kind)
	metrics.ObserveSolver(kind, outcome.Elapsed())
	span.SetAttributes(attribute.String(telemetry.DispatchOutcomeKey, kind))
	if !rec.Success {
		span.SetStatus(codes.Error, kind)
	}

	logger.Info().
		Str(log.FieldEvent, "dispatch.completed").
		Str(log.FieldPrincipalID, principal.ID).
		Str(log.FieldOutcome, kind).
		Int(log.FieldItemCount, rec.ItemCount).
		Int64(log.FieldLatencyMS, outcome.Elapsed().Milliseconds()).
		Msg("dispatch finished")
	return outcome, nil
}

// record writes the usage fact on a context the caller cannot cancel. A
// failed write is logged; the admission counter has already charged the
// attempt.
func (g *Gateway) record(ctx context.Context, rec ledger.UsageRecord, start time.Time) {
	rec.Timestamp = start
	rec.Latency = g.deps.Clock().Sub(start)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := g.deps.Ledger.Record(wctx, rec); err != nil {
		logger := log.WithComponentFromContext(ctx, "gateway")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "dispatch.record_failed").
			Str(log.FieldPrincipalID, rec.PrincipalID).
			Str(log.FieldOutcome, rec.Outcome).
			Msg("failed to record usage")
	}
}
