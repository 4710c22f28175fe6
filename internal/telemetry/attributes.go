// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys shared across packages.
const (
	DispatchIDKey      = "dispatch.id"
	DispatchOutcomeKey = "dispatch.outcome"
	PrincipalIDKey     = "principal.id"
	PrincipalTierKey   = "principal.tier"
	CargoItemsKey      = "cargo.items"
)

// DispatchAttributes are set on the dispatch span at start.
func DispatchAttributes(dispatchID, principalID string, items int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DispatchIDKey, dispatchID),
		attribute.String(PrincipalIDKey, principalID),
		attribute.Int(CargoItemsKey, items),
	}
}
