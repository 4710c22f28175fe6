// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ledger enforces per-principal dispatch entitlements.
//
// Admission is an atomic conditional increment of a per-period counter, so
// concurrent dispatches at the limit boundary cannot over-admit. Every
// admitted attempt is followed by exactly one UsageRecord.
package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/cargoforge/internal/log"
	"github.com/ManuGH/cargoforge/internal/metrics"
)

// EntitlementDenied is returned when a principal has exhausted its limit.
type EntitlementDenied struct {
	PrincipalID string
	Tier        Tier
	Limit       int
	Consumed    int
	ResetsAt    time.Time
}

func (e *EntitlementDenied) Error() string {
	return fmt.Sprintf("ledger: daily limit of %d dispatches reached for tier %s", e.Limit, e.Tier)
}

// Usage summarises a principal's consumption in the current period.
type Usage struct {
	Tier        Tier      `json:"tier"`
	Consumed    int       `json:"consumed"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	ResetsAt    time.Time `json:"resets_at"`
}

// Stats summarises a principal's retained usage history. Rates are
// percentages in [0, 100].
type Stats struct {
	TotalOptimizations int           `json:"total_optimizations"`
	Successful         int           `json:"successful"`
	SuccessRate        float64       `json:"success_rate"`
	AvgExecutionTime   time.Duration `json:"avg_execution_time"`
	PeriodConsumed     int           `json:"period_consumed"`
	Limit              int           `json:"limit"`
	UsagePercentage    float64       `json:"usage_percentage"`
}

// Ledger combines tier limits, the period clock and a Store.
type Ledger struct {
	store  Store
	period Period
	limits atomic.Pointer[Limits]
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a ledger. A nil limits map means DefaultLimits.
func New(store Store, period Period, limits Limits, opts ...Option) *Ledger {
	l := &Ledger{store: store, period: period, now: time.Now}
	if limits == nil {
		limits = DefaultLimits()
	}
	l.SetLimits(limits)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLimits swaps the tier limits; safe for concurrent use with Admit.
func (l *Ledger) SetLimits(limits Limits) {
	cp := make(Limits, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	l.limits.Store(&cp)
}

// Limit returns the current limit for tier.
func (l *Ledger) Limit(tier Tier) int {
	return l.limits.Load().Limit(tier)
}

// Admit atomically reserves one dispatch for principalID. It returns
// *EntitlementDenied when the period limit is already reached.
func (l *Ledger) Admit(ctx context.Context, principalID string, tier Tier) (Reservation, error) {
	now := l.now()
	limit := l.Limit(tier)
	res, err := l.store.Reserve(ctx, principalID, l.period.Key(now), limit, l.period.End(now))
	if err != nil {
		return Reservation{}, fmt.Errorf("ledger: reserve: %w", err)
	}
	res.Limit = limit
	metrics.RecordAdmission(string(tier), res.Admitted)
	if !res.Admitted {
		logger := log.WithComponentFromContext(ctx, "ledger")
		logger.Info().
			Str(log.FieldEvent, "ledger.denied").
			Str(log.FieldPrincipalID, principalID).
			Str(log.FieldTier, string(tier)).
			Int(log.FieldLimit, limit).
			Int(log.FieldConsumed, res.Consumed).
			Msg("entitlement exhausted")
		return res, &EntitlementDenied{
			PrincipalID: principalID,
			Tier:        tier,
			Limit:       limit,
			Consumed:    res.Consumed,
			ResetsAt:    l.period.End(now),
		}
	}
	return res, nil
}

// Record appends a usage record, filling in ID and Timestamp when empty.
func (l *Ledger) Record(ctx context.Context, rec UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	if err := l.store.Record(ctx, rec); err != nil {
		return fmt.Errorf("ledger: record usage: %w", err)
	}
	return nil
}

// ConsumedInPeriod counts the usage records of principalID since periodStart.
func (l *Ledger) ConsumedInPeriod(ctx context.Context, principalID string, periodStart time.Time) (int, error) {
	n, err := l.store.ConsumedInPeriod(ctx, principalID, periodStart)
	if err != nil {
		return 0, fmt.Errorf("ledger: consumed in period: %w", err)
	}
	return n, nil
}

// Usage reports the current-period consumption of principalID.
func (l *Ledger) Usage(ctx context.Context, principalID string, tier Tier) (Usage, error) {
	now := l.now()
	start := l.period.Start(now)
	consumed, err := l.ConsumedInPeriod(ctx, principalID, start)
	if err != nil {
		return Usage{}, err
	}
	limit := l.Limit(tier)
	remaining := limit - consumed
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Tier:        tier,
		Consumed:    consumed,
		Limit:       limit,
		Remaining:   remaining,
		PeriodStart: start,
		ResetsAt:    l.period.End(now),
	}, nil
}

// Stats reports principalID's history together with the current period's
// share of the tier limit.
func (l *Ledger) Stats(ctx context.Context, principalID string, tier Tier) (Stats, error) {
	agg, err := l.store.Aggregate(ctx, principalID, time.Time{})
	if err != nil {
		return Stats{}, fmt.Errorf("ledger: aggregate usage: %w", err)
	}
	consumed, err := l.ConsumedInPeriod(ctx, principalID, l.period.Start(l.now()))
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		TotalOptimizations: agg.Total,
		Successful:         agg.Succeeded,
		PeriodConsumed:     consumed,
		Limit:              l.Limit(tier),
	}
	if agg.Total > 0 {
		st.SuccessRate = float64(agg.Succeeded) / float64(agg.Total) * 100
		st.AvgExecutionTime = agg.TotalLatency / time.Duration(agg.Total)
	}
	if st.Limit > 0 {
		st.UsagePercentage = float64(consumed) / float64(st.Limit) * 100
	}
	return st, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
