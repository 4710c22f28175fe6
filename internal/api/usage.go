// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/ManuGH/cargoforge/internal/auth"
	"github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/subscription"
)

type usageResponse struct {
	PrincipalID string              `json:"principal_id"`
	Tier        string              `json:"tier"`
	Status      subscription.Status `json:"status"`
	Consumed    int                 `json:"consumed"`
	Limit       int                 `json:"limit"`
	Remaining   int                 `json:"remaining"`
	PeriodStart string              `json:"period_start"`
	ResetsAt    string              `json:"resets_at"`
}

// principal resolves the authenticated principal or writes the problem.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (subscription.Principal, bool) {
	principalID, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeProblem(w, r, http.StatusUnauthorized, "auth/unauthenticated", "Unauthorized", "UNAUTHORIZED", "", nil)
		return subscription.Principal{}, false
	}

	p, err := s.deps.Principals.Get(r.Context(), principalID)
	if errors.Is(err, subscription.ErrNotFound) {
		writeProblem(w, r, http.StatusForbidden, "auth/unknown_principal", "Unknown Principal", "PRINCIPAL_UNKNOWN", "", nil)
		return subscription.Principal{}, false
	}
	if err != nil {
		log.FromContext(r.Context()).Error().Err(err).Msg("principal lookup failed")
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL_ERROR", "", nil)
		return subscription.Principal{}, false
	}
	return p, true
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	u, err := s.deps.Usage.Usage(r.Context(), p.ID, p.Tier)
	if err != nil {
		log.FromContext(r.Context()).Error().Err(err).Msg("usage lookup failed")
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL_ERROR", "", nil)
		return
	}

	writeJSON(w, http.StatusOK, usageResponse{
		PrincipalID: p.ID,
		Tier:        string(p.Tier),
		Status:      p.Status,
		Consumed:    u.Consumed,
		Limit:       u.Limit,
		Remaining:   u.Remaining,
		PeriodStart: u.PeriodStart.UTC().Format(time.RFC3339),
		ResetsAt:    u.ResetsAt.UTC().Format(time.RFC3339),
	})
}

type analyticsResponse struct {
	PrincipalID        string  `json:"principal_id"`
	Tier               string  `json:"tier"`
	TotalOptimizations int     `json:"total_optimizations"`
	Successful         int     `json:"successful"`
	SuccessRate        float64 `json:"success_rate"`
	AvgExecutionTimeMS float64 `json:"avg_execution_time_ms"`
	TodayUsage         int     `json:"today_usage"`
	DailyLimit         int     `json:"daily_limit"`
	UsagePercentage    float64 `json:"usage_percentage"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}

	st, err := s.deps.Usage.Stats(r.Context(), p.ID, p.Tier)
	if err != nil {
		log.FromContext(r.Context()).Error().Err(err).Msg("usage stats failed")
		writeProblem(w, r, http.StatusInternalServerError, "system/internal", "Internal Server Error", "INTERNAL_ERROR", "", nil)
		return
	}

	writeJSON(w, http.StatusOK, analyticsResponse{
		PrincipalID:        p.ID,
		Tier:               string(p.Tier),
		TotalOptimizations: st.TotalOptimizations,
		Successful:         st.Successful,
		SuccessRate:        round2(st.SuccessRate),
		AvgExecutionTimeMS: round2(float64(st.AvgExecutionTime) / float64(time.Millisecond)),
		TodayUsage:         st.PeriodConsumed,
		DailyLimit:         st.Limit,
		UsagePercentage:    round2(st.UsagePercentage),
	})
}
