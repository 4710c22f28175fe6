// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"testing"

	"github.com/ManuGH/cargoforge/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAdmission(t *testing.T) {
	before := testutil.ToFloat64(metrics.LedgerAdmissionTotal.WithLabelValues("pro", "deny"))
	metrics.RecordAdmission("pro", false)
	after := testutil.ToFloat64(metrics.LedgerAdmissionTotal.WithLabelValues("pro", "deny"))
	assert.Equal(t, before+1, after)
}

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(metrics.DispatchTotal.WithLabelValues("timeout"))
	metrics.RecordDispatch("timeout")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DispatchTotal.WithLabelValues("timeout")))
}

func TestRecordBillingEvent(t *testing.T) {
	before := testutil.ToFloat64(metrics.BillingEventsTotal.WithLabelValues("invoice.paid", "applied"))
	metrics.RecordBillingEvent("invoice.paid", "applied")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.BillingEventsTotal.WithLabelValues("invoice.paid", "applied")))
}

func TestSolverStartedBalances(t *testing.T) {
	done := metrics.SolverStarted()
	done()
}
