// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts dispatch attempts by final result
	// (success, solver_failed, timeout, malformed_output, canceled,
	// denied, invalid, resource_exhausted, error).
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Total dispatch attempts, by result.",
	}, []string{"result"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_solver_duration_seconds",
		Help:      "Wall-clock time spent in the solver subprocess, by outcome.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45},
	}, []string{"outcome"})

	dispatchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_in_flight",
		Help:      "Solver invocations currently running.",
	})

	workspaceCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workspace_cleanup_failures_total",
		Help:      "Workspaces that could not be removed after a dispatch.",
	})
)

// RecordDispatch increments the dispatch counter for result.
func RecordDispatch(result string) {
	DispatchTotal.WithLabelValues(result).Inc()
}

// ObserveSolver records a solver run duration for outcome.
func ObserveSolver(outcome string, d time.Duration) {
	dispatchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SolverStarted marks one more solver run in flight and returns the matching
// completion func.
func SolverStarted() func() {
	dispatchInFlight.Inc()
	return dispatchInFlight.Dec
}

// IncWorkspaceCleanupFailure counts a best-effort cleanup failure.
func IncWorkspaceCleanupFailure() {
	workspaceCleanupFailures.Inc()
}
