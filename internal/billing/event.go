// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package billing is the boundary between the payment provider's webhook
// deliveries and the subscription state machine.
//
// Payloads are verified, then parsed exactly once into a closed set of event
// types. Nothing past this package sees provider JSON.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Provider event type names.
const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeInvoicePaid         = "invoice.payment_succeeded"
	TypeInvoiceFailed       = "invoice.payment_failed"
	TypeSubscriptionUpdated = "customer.subscription.updated"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

// DefaultCheckoutTier applies when a checkout carries no metadata.tier.
const DefaultCheckoutTier = "pro"

var (
	// ErrUnsupportedEvent marks a well-formed delivery of a type we do not handle.
	ErrUnsupportedEvent = errors.New("billing: unsupported event type")
	// ErrMalformedEvent marks a payload that cannot be parsed into an Event.
	ErrMalformedEvent = errors.New("billing: malformed event")
	// ErrUnknownCustomer is returned by handlers when no principal matches the
	// event's customer reference.
	ErrUnknownCustomer = errors.New("billing: unknown customer")
)

// Event is one of CheckoutCompleted, InvoicePaid, InvoiceFailed,
// SubscriptionUpdated or SubscriptionDeleted.
type Event interface {
	// Type returns the provider event type name.
	Type() string
	// CustomerRef returns the external customer reference.
	CustomerRef() string
	// ID returns the provider's event id, if any.
	ID() string

	event()
}

type meta struct {
	EventID  string
	Customer string
}

func (m meta) CustomerRef() string { return m.Customer }
func (m meta) ID() string          { return m.EventID }
func (meta) event()                {}

// CheckoutCompleted upgrades a principal after a successful checkout.
type CheckoutCompleted struct {
	meta
	Subscription    string
	Tier            string
	ClientReference string
}

// InvoicePaid reactivates a subscription.
type InvoicePaid struct {
	meta
	Subscription string
}

// InvoiceFailed marks a subscription past due.
type InvoiceFailed struct {
	meta
}

// SubscriptionUpdated carries the provider's raw subscription status.
type SubscriptionUpdated struct {
	meta
	Subscription      string
	Status            string
	CancelAtPeriodEnd bool
}

// SubscriptionDeleted downgrades a principal to the free tier.
type SubscriptionDeleted struct {
	meta
	Subscription string
}

func (CheckoutCompleted) Type() string   { return TypeCheckoutCompleted }
func (InvoicePaid) Type() string         { return TypeInvoicePaid }
func (InvoiceFailed) Type() string       { return TypeInvoiceFailed }
func (SubscriptionUpdated) Type() string { return TypeSubscriptionUpdated }
func (SubscriptionDeleted) Type() string { return TypeSubscriptionDeleted }

// NewCheckoutCompleted and friends build events directly, mainly for tests
// and replays.
func NewCheckoutCompleted(customer, subscription, tier, clientRef string) CheckoutCompleted {
	return CheckoutCompleted{meta: meta{Customer: customer}, Subscription: subscription, Tier: tier, ClientReference: clientRef}
}

func NewInvoicePaid(customer, subscription string) InvoicePaid {
	return InvoicePaid{meta: meta{Customer: customer}, Subscription: subscription}
}

func NewInvoiceFailed(customer string) InvoiceFailed {
	return InvoiceFailed{meta: meta{Customer: customer}}
}

func NewSubscriptionUpdated(customer, subscription, status string, cancelAtPeriodEnd bool) SubscriptionUpdated {
	return SubscriptionUpdated{meta: meta{Customer: customer}, Subscription: subscription, Status: status, CancelAtPeriodEnd: cancelAtPeriodEnd}
}

func NewSubscriptionDeleted(customer, subscription string) SubscriptionDeleted {
	return SubscriptionDeleted{meta: meta{Customer: customer}, Subscription: subscription}
}

// envelope is the wire shape: {"id", "type", "data": {"object": {...}}}.
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object wireObject `json:"object"`
	} `json:"data"`
}

// wireObject is the union of the fields the five object kinds carry.
type wireObject struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
}

// Parse decodes a verified payload into an Event. Unknown types return an
// error wrapping ErrUnsupportedEvent; structurally broken payloads wrap
// ErrMalformedEvent.
func Parse(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	obj := env.Data.Object
	m := meta{EventID: env.ID, Customer: strings.TrimSpace(obj.Customer)}

	var ev Event
	switch env.Type {
	case TypeCheckoutCompleted:
		tier := strings.TrimSpace(obj.Metadata["tier"])
		if tier == "" {
			tier = DefaultCheckoutTier
		}
		ev = CheckoutCompleted{meta: m, Subscription: obj.Subscription, Tier: tier, ClientReference: obj.ClientReferenceID}
	case TypeInvoicePaid:
		ev = InvoicePaid{meta: m, Subscription: obj.Subscription}
	case TypeInvoiceFailed:
		ev = InvoiceFailed{meta: m}
	case TypeSubscriptionUpdated:
		if obj.Status == "" {
			return nil, fmt.Errorf("%w: %s without status", ErrMalformedEvent, env.Type)
		}
		ev = SubscriptionUpdated{meta: m, Subscription: obj.ID, Status: obj.Status, CancelAtPeriodEnd: obj.CancelAtPeriodEnd}
	case TypeSubscriptionDeleted:
		ev = SubscriptionDeleted{meta: m, Subscription: obj.ID}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, env.Type)
	}

	if m.Customer == "" {
		return nil, fmt.Errorf("%w: %s without customer", ErrMalformedEvent, env.Type)
	}
	return ev, nil
}
