// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package billing

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/metrics"
)

// Handler applies a parsed event to local state.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Delivery is one raw webhook delivery.
type Delivery struct {
	Payload   []byte `json:"payload"`
	Signature string `json:"signature"`
}

// Status classifies the processing of one delivery.
type Status string

const (
	StatusApplied          Status = "applied"
	StatusIgnored          Status = "ignored"
	StatusInvalidSignature Status = "invalid_signature"
	StatusMalformed        Status = "malformed"
	StatusUnknownCustomer  Status = "unknown_customer"
	StatusFailed           Status = "failed"
)

// Result reports what happened to one delivery.
type Result struct {
	Status   Status
	EventID  string
	Type     string
	Customer string
	Err      error
}

// Accepted reports whether the delivery is acknowledged to the provider.
// Unknown customers and unsupported types are acknowledged so they stop being
// redelivered; signature, payload and handler failures are not.
func (r Result) Accepted() bool {
	switch r.Status {
	case StatusInvalidSignature, StatusMalformed, StatusFailed:
		return false
	}
	return true
}

// Processor verifies, parses and dispatches deliveries.
type Processor struct {
	Secret    string
	Tolerance time.Duration
	Handler   Handler
	Now       func() time.Time
	// Limiter paces ProcessBatch; nil processes as fast as the handler allows.
	Limiter *rate.Limiter
}

// NewProcessor creates a processor with DefaultTolerance.
func NewProcessor(secret string, h Handler) *Processor {
	return &Processor{Secret: secret, Tolerance: DefaultTolerance, Handler: h, Now: time.Now}
}

// Process handles a single delivery. The signature is verified before the
// payload is parsed; an invalid signature never reaches the handler.
func (p *Processor) Process(ctx context.Context, d Delivery) Result {
	logger := log.WithComponentFromContext(ctx, "billing")
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	if err := VerifySignature(d.Payload, d.Signature, p.Secret, p.Tolerance, now()); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "billing.signature_rejected").Msg("webhook signature rejected")
		return p.finish(Result{Status: StatusInvalidSignature, Err: err})
	}

	ev, err := Parse(d.Payload)
	switch {
	case errors.Is(err, ErrUnsupportedEvent):
		logger.Debug().Err(err).Str(log.FieldEvent, "billing.ignored").Msg("unsupported billing event")
		return p.finish(Result{Status: StatusIgnored, Err: err})
	case err != nil:
		logger.Warn().Err(err).Str(log.FieldEvent, "billing.malformed").Msg("malformed billing event")
		return p.finish(Result{Status: StatusMalformed, Err: err})
	}

	res := Result{EventID: ev.ID(), Type: ev.Type(), Customer: ev.CustomerRef()}
	err = p.Handler.Handle(ctx, ev)
	switch {
	case err == nil:
		res.Status = StatusApplied
	case errors.Is(err, ErrUnknownCustomer):
		res.Status, res.Err = StatusUnknownCustomer, err
		logger.Warn().
			Str(log.FieldEvent, "billing.unknown_customer").
			Str(log.FieldCustomerRef, res.Customer).
			Str("type", res.Type).
			Msg("billing event for unknown customer dropped")
	default:
		res.Status, res.Err = StatusFailed, err
		logger.Error().Err(err).
			Str(log.FieldEvent, "billing.handler_failed").
			Str(log.FieldCustomerRef, res.Customer).
			Str("type", res.Type).
			Msg("billing event handler failed")
	}
	return p.finish(res)
}

// ProcessBatch handles deliveries in order. A failing delivery never stops
// the ones after it.
func (p *Processor) ProcessBatch(ctx context.Context, ds []Delivery) []Result {
	out := make([]Result, 0, len(ds))
	for _, d := range ds {
		if ctx.Err() != nil {
			out = append(out, Result{Status: StatusFailed, Err: ctx.Err()})
			continue
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				out = append(out, Result{Status: StatusFailed, Err: err})
				continue
			}
		}
		out = append(out, p.Process(ctx, d))
	}
	return out
}

func (p *Processor) finish(r Result) Result {
	typ := r.Type
	if typ == "" {
		typ = "unknown"
	}
	metrics.RecordBillingEvent(typ, string(r.Status))
	return r
}
