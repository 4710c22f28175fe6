// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ManuGH/cargoforge/internal/billing"
	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/log"
)

type tierPrice struct {
	Tier       string `json:"tier"`
	DailyLimit int    `json:"daily_limit"`
}

type pricingResponse struct {
	Tiers []tierPrice `json:"tiers"`
}

// handlePricing lists the tiers with their current limits. Limits follow
// config reloads.
func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	tiers := ledger.Tiers()
	resp := pricingResponse{Tiers: make([]tierPrice, 0, len(tiers))}
	for _, t := range tiers {
		resp.Tiers = append(resp.Tiers, tierPrice{Tier: string(t), DailyLimit: s.deps.Usage.Limit(t)})
	}
	writeJSON(w, http.StatusOK, resp)
}

type subscriptionChangeResponse struct {
	SubscriptionRef   string `json:"subscription_ref"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	PeriodEnd         string `json:"period_end,omitempty"`
}

func (s *Server) handleBillingCancel(w http.ResponseWriter, r *http.Request) {
	s.changeSubscription(w, r, true)
}

func (s *Server) handleBillingReactivate(w http.ResponseWriter, r *http.Request) {
	s.changeSubscription(w, r, false)
}

// changeSubscription sets cancel-at-period-end at the provider, then mirrors
// the result onto the principal. A failed local update is only logged: the
// provider's own webhook delivers the same transition.
func (s *Server) changeSubscription(w http.ResponseWriter, r *http.Request, cancel bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if s.deps.BillingClient == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, "billing/unavailable", "Billing Unavailable", "BILLING_UNAVAILABLE", "", nil)
		return
	}
	if p.SubscriptionRef == "" {
		writeProblem(w, r, http.StatusConflict, "billing/no_subscription", "No Subscription", "NO_SUBSCRIPTION", "principal has no paid subscription", nil)
		return
	}

	ctx := r.Context()
	var (
		sub billing.Subscription
		err error
	)
	if cancel {
		sub, err = s.deps.BillingClient.SetCancelAtPeriodEnd(ctx, p.SubscriptionRef, true)
	} else {
		sub, err = s.deps.BillingClient.Reactivate(ctx, p.SubscriptionRef)
	}
	logger := log.WithComponentFromContext(ctx, "billing")
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "billing.provider_failed").
			Str(log.FieldPrincipalID, p.ID).
			Bool("cancel", cancel).
			Msg("subscription change rejected by provider")
		status := http.StatusBadGateway
		var apiErr *billing.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			status = http.StatusConflict
		}
		writeProblem(w, r, status, "billing/provider_error", "Billing Provider Error", "BILLING_PROVIDER_ERROR", "", nil)
		return
	}

	if sub.ID == "" {
		sub.ID = p.SubscriptionRef
	}
	if sub.Status == "" {
		sub.Status = "active"
	}
	status := sub.Status
	if s.deps.Subscriptions != nil && p.CustomerRef != "" {
		next, err := s.deps.Subscriptions.Apply(ctx, billing.NewSubscriptionUpdated(p.CustomerRef, sub.ID, sub.Status, sub.CancelAtPeriodEnd))
		if err != nil {
			logger.Warn().Err(err).
				Str(log.FieldEvent, "billing.local_update_failed").
				Str(log.FieldPrincipalID, p.ID).
				Msg("principal not updated; waiting for webhook")
		} else {
			status = string(next.Status)
		}
	}

	resp := subscriptionChangeResponse{
		SubscriptionRef:   sub.ID,
		Status:            status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		resp.PeriodEnd = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
