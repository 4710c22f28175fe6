// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldDispatchID    = "dispatch_id"
	FieldPrincipalID   = "principal_id"
	FieldCustomerRef   = "customer_ref"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"

	// Dispatch fields
	FieldOutcome   = "outcome"
	FieldItemCount = "item_count"
	FieldLatencyMS = "latency_ms"
	FieldTier      = "tier"
	FieldLimit     = "limit"
	FieldConsumed  = "consumed"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath = "path"
)
