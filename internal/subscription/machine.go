// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subscription owns principal tier and status, which change only in
// response to billing events.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/cargoforge/internal/billing"
	"github.com/ManuGH/cargoforge/internal/ledger"
	"github.com/ManuGH/cargoforge/internal/log"
)

// ErrUnknownCustomer is returned when an event references no known principal.
var ErrUnknownCustomer = billing.ErrUnknownCustomer

// Transition returns p after applying ev. It depends only on the event's
// fields, so applying the same event twice gives the same result.
func Transition(p Principal, ev billing.Event) Principal {
	switch e := ev.(type) {
	case billing.CheckoutCompleted:
		p.Tier = ledger.ParseTier(e.Tier)
		p.Status = StatusActive
		p.CustomerRef = e.CustomerRef()
		if e.Subscription != "" {
			p.SubscriptionRef = e.Subscription
		}
	case billing.InvoicePaid:
		p.Status = StatusActive
	case billing.InvoiceFailed:
		p.Status = StatusPastDue
	case billing.SubscriptionUpdated:
		if e.CancelAtPeriodEnd {
			p.Status = StatusCanceling
		} else {
			p.Status = Status(e.Status)
		}
		if e.Subscription != "" {
			p.SubscriptionRef = e.Subscription
		}
	case billing.SubscriptionDeleted:
		p.Tier = ledger.TierFree
		p.Status = StatusCanceled
		p.SubscriptionRef = ""
	}
	return p
}

// Machine applies billing events to stored principals. Writes for one
// principal are serialised; different principals proceed concurrently.
type Machine struct {
	store Store
	locks sync.Map // principal id -> *sync.Mutex
	now   func() time.Time
}

// NewMachine creates a state machine over store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store, now: time.Now}
}

// WithClock overrides the time source used for UpdatedAt.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

func (m *Machine) lock(id string) func() {
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	l := mu.(*sync.Mutex)
	l.Lock()
	return l.Unlock
}

// resolve finds the principal an event targets: by customer reference, or
// for checkouts by the client reference the checkout was opened with.
func (m *Machine) resolve(ctx context.Context, ev billing.Event) (string, error) {
	p, err := m.store.GetByCustomer(ctx, ev.CustomerRef())
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if co, ok := ev.(billing.CheckoutCompleted); ok && co.ClientReference != "" {
		p, err := m.store.Get(ctx, co.ClientReference)
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCustomer, ev.CustomerRef())
}

// Apply applies ev to its principal and returns the resulting state.
func (m *Machine) Apply(ctx context.Context, ev billing.Event) (Principal, error) {
	id, err := m.resolve(ctx, ev)
	if err != nil {
		return Principal{}, err
	}

	unlock := m.lock(id)
	defer unlock()

	// Re-read under the lock; the resolve read may be stale.
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return Principal{}, fmt.Errorf("subscription: load %s: %w", id, err)
	}

	next := Transition(cur, ev)
	if sameState(cur, next) {
		return cur, nil
	}
	next.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, next); err != nil {
		return Principal{}, fmt.Errorf("subscription: store %s: %w", id, err)
	}

	logger := log.WithComponentFromContext(ctx, "subscription")
	logger.Info().
		Str(log.FieldEvent, "subscription.transition").
		Str(log.FieldPrincipalID, id).
		Str(log.FieldCustomerRef, ev.CustomerRef()).
		Str("type", ev.Type()).
		Str(log.FieldOldState, string(cur.Status)).
		Str(log.FieldNewState, string(next.Status)).
		Str(log.FieldTier, string(next.Tier)).
		Msg("principal updated")
	return next, nil
}

// Handle implements billing.Handler.
func (m *Machine) Handle(ctx context.Context, ev billing.Event) error {
	_, err := m.Apply(ctx, ev)
	return err
}
