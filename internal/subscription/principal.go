// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"time"

	"github.com/ManuGH/cargoforge/internal/ledger"
)

// Status is a subscription status. SubscriptionUpdated may carry provider
// statuses outside the named set; they are stored verbatim.
type Status string

const (
	StatusFree      Status = "free"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCanceling Status = "canceling"
	StatusCanceled  Status = "canceled"
)

// Principal is an identity subject to entitlement limits.
type Principal struct {
	ID              string      `json:"id"`
	Tier            ledger.Tier `json:"tier"`
	Status          Status      `json:"status"`
	CustomerRef     string      `json:"customer_ref,omitempty"`
	SubscriptionRef string      `json:"subscription_ref,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewPrincipal returns a freshly registered free principal.
func NewPrincipal(id string, now time.Time) Principal {
	return Principal{ID: id, Tier: ledger.TierFree, Status: StatusFree, UpdatedAt: now}
}

// sameState compares everything but UpdatedAt.
func sameState(a, b Principal) bool {
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a == b
}
