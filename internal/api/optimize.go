// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/cargoforge/internal/auth"
	"github.com/ManuGH/cargoforge/internal/cargo"
	"github.com/ManuGH/cargoforge/internal/gateway"
	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/solver"
	"github.com/ManuGH/cargoforge/internal/workspace"
)

// writeDeadlineSlack covers encoding and the kill grace after a timeout.
const writeDeadlineSlack = 10 * time.Second

// optimizeResponse is the 200 body of POST /api/v1/optimize.
type optimizeResponse struct {
	Cargo     []solver.Placement `json:"cargo"`
	Analysis  analysisView       `json:"analysis"`
	Execution executionView      `json:"execution"`
}

type analysisView struct {
	GM                  *float64 `json:"gm"`
	KG                  *float64 `json:"kg"`
	LongitudinalBalance float64  `json:"longitudinal_balance"`
	LateralBalance      float64  `json:"lateral_balance"`
	CargoUtilization    float64  `json:"cargo_utilization"`
	WeightUtilization   float64  `json:"weight_utilization"`
	PlacedCount         int      `json:"placed_count"`
	TotalCount          int      `json:"total_count"`
	StabilityStatus     string   `json:"stability_status"`
	BalanceStatus       string   `json:"balance_status"`
	Overweight          bool     `json:"overweight"`
}

type executionView struct {
	Success         bool     `json:"success"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
	Warnings        []string `json:"warnings"`
}

func newOptimizeResponse(s solver.Success) optimizeResponse {
	a := s.Plan.Analysis
	total := a.TotalCount
	if total == 0 {
		total = len(s.Plan.Cargo)
	}
	utilization := 0.0
	if total > 0 {
		utilization = float64(a.PlacedCount) / float64(total) * 100
	}
	cargoOut := s.Plan.Cargo
	if cargoOut == nil {
		cargoOut = []solver.Placement{}
	}
	warnings := s.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return optimizeResponse{
		Cargo: cargoOut,
		Analysis: analysisView{
			GM:                  a.MetacentricHeight,
			KG:                  a.VerticalCenterOfGravity,
			LongitudinalBalance: a.CenterOfGravity.LongitudinalPercent,
			LateralBalance:      a.CenterOfGravity.TransversePercent,
			CargoUtilization:    utilization,
			WeightUtilization:   a.CapacityUsedPercent,
			PlacedCount:         a.PlacedCount,
			TotalCount:          total,
			StabilityStatus:     a.StabilityStatus,
			BalanceStatus:       a.BalanceStatus,
			Overweight:          a.Overweight,
		},
		Execution: executionView{
			Success:         true,
			ExecutionTimeMS: float64(s.Elapsed().Microseconds()) / 1000,
			Warnings:        warnings,
		},
	}
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	principalID, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeProblem(w, r, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized", "UNAUTHORIZED", "", nil)
		return
	}

	var req cargo.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.deps.MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, r, http.StatusRequestEntityTooLarge, "request/too_large", "Request Too Large", "BODY_TOO_LARGE", err.Error(), nil)
			return
		}
		writeProblem(w, r, http.StatusBadRequest, "request/invalid_json", "Invalid Request Body", "INVALID_JSON", err.Error(), nil)
		return
	}

	// Allow the response to outlive the server write timeout for slow solves;
	// recorders and some proxies do not support deadlines.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(s.deps.Gateway.Timeout() + writeDeadlineSlack))

	outcome, err := s.deps.Gateway.Dispatch(r.Context(), principalID, req)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeOutcome(w, r, outcome)
}

// writeDispatchError maps errors returned before or around the solver run.
func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *cargo.ValidationError
		denied *ledger.EntitlementDenied
	)
	switch {
	case errors.As(err, &verr):
		writeProblem(w, r, http.StatusBadRequest, "dispatch/validation", "Invalid Request", "VALIDATION_FAILED", verr.Error(),
			map[string]any{"field": verr.Field})
	case errors.As(err, &denied):
		retry := time.Until(denied.ResetsAt)
		if retry > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
		}
		writeProblem(w, r, http.StatusTooManyRequests, "entitlement/exhausted", "Daily Limit Reached", "LIMIT_REACHED", denied.Error(),
			map[string]any{
				"limit":     denied.Limit,
				"consumed":  denied.Consumed,
				"tier":      denied.Tier,
				"resets_at": denied.ResetsAt.UTC().Format(time.RFC3339),
			})
	case errors.Is(err, gateway.ErrUnknownPrincipal):
		writeProblem(w, r, http.StatusForbidden, "auth/unknown_principal", "Unknown Principal", "PRINCIPAL_UNKNOWN", "", nil)
	case errors.Is(err, workspace.ErrResourceExhausted):
		w.Header().Set("Retry-After", "1")
		writeProblem(w, r, http.StatusServiceUnavailable, "dispatch/resource_exhausted", "Scratch Storage Unavailable", "RESOURCE_EXHAUSTED",
			"temporary storage for the solver could not be allocated", nil)
	default:
		log.FromContext(r.Context()).Error().Err(err).Str(log.FieldEvent, "dispatch.error").Msg("dispatch failed")
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL_ERROR", "", nil)
	}
}

// writeOutcome maps a solver outcome to the response.
func writeOutcome(w http.ResponseWriter, r *http.Request, outcome solver.Outcome) {
	switch o := outcome.(type) {
	case solver.Success:
		writeJSON(w, http.StatusOK, newOptimizeResponse(o))
	case solver.Timeout:
		writeProblem(w, r, http.StatusRequestTimeout, "dispatch/timeout", "Optimization Timed Out", "SOLVER_TIMEOUT",
			"the solver did not finish within the time limit",
			map[string]any{"timeout_seconds": o.Limit.Seconds()})
	case solver.SolverFailed:
		writeProblem(w, r, http.StatusInternalServerError, "dispatch/solver_failed", "Optimization Failed", "SOLVER_FAILED", o.String(),
			map[string]any{"exit_code": o.ExitCode, "diagnostics": nonNil(o.Stderr)})
	case solver.MalformedOutput:
		writeProblem(w, r, http.StatusInternalServerError, "dispatch/malformed_output", "Unreadable Solver Output", "MALFORMED_OUTPUT", o.Reason, nil)
	case solver.Canceled:
		writeProblem(w, r, http.StatusServiceUnavailable, "dispatch/canceled", "Optimization Canceled", "DISPATCH_CANCELED", "", nil)
	default:
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL_ERROR", "", nil)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
