// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerAdmissionTotal counts admission decisions by tier and decision (admit/deny).
	LedgerAdmissionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_admission_total",
		Help:      "Entitlement admission decisions, by tier and decision.",
	}, []string{"tier", "decision"})

	ledgerStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_store_errors_total",
		Help:      "Ledger store operation failures, by backend and operation.",
	}, []string{"backend", "op"})

	// BillingEventsTotal counts processed billing deliveries by event type and result.
	BillingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "billing_events_total",
		Help:      "Billing webhook deliveries, by event type and result.",
	}, []string{"type", "result"})
)

// RecordAdmission counts a ledger admission decision.
func RecordAdmission(tier string, admitted bool) {
	decision := "deny"
	if admitted {
		decision = "admit"
	}
	LedgerAdmissionTotal.WithLabelValues(tier, decision).Inc()
}

// IncLedgerStoreError counts a failed store operation.
func IncLedgerStoreError(backend, op string) {
	ledgerStoreErrors.WithLabelValues(backend, op).Inc()
}

// RecordBillingEvent counts a processed billing delivery.
func RecordBillingEvent(eventType, result string) {
	BillingEventsTotal.WithLabelValues(eventType, result).Inc()
}
