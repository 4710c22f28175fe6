// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cargo

import (
	"fmt"
	"math"
	"strings"
)

const (
	// MaxIDLength bounds item ids; the solver stores ids in a fixed 32 byte field.
	MaxIDLength = 31
	// MaxTypeLength bounds category tags; the solver stores them in 16 bytes.
	MaxTypeLength = 15
)

// ValidationError reports the first request field that violates an invariant.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the request invariants. It returns a *ValidationError or nil.
func (r Request) Validate() error {
	if err := r.Ship.validate(); err != nil {
		return err
	}
	if len(r.Items) == 0 {
		return invalid("cargo", "at least one item is required")
	}
	for i, it := range r.Items {
		if err := it.validate(fmt.Sprintf("cargo[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func (s Ship) validate() *ValidationError {
	if !positive(s.LengthM) {
		return invalid("ship.length", "must be a positive number")
	}
	if !positive(s.WidthM) {
		return invalid("ship.width", "must be a positive number")
	}
	if !positive(s.MaxWeightKg) {
		return invalid("ship.max_weight", "must be a positive number")
	}
	if s.LightshipWeightKg != nil && !nonNegative(*s.LightshipWeightKg) {
		return invalid("ship.lightship_weight", "must not be negative")
	}
	if s.LightshipKGM != nil && !nonNegative(*s.LightshipKGM) {
		return invalid("ship.lightship_kg", "must not be negative")
	}
	return nil
}

func (i Item) validate(path string) *ValidationError {
	id := strings.TrimSpace(i.ID)
	if id == "" {
		return invalid(path+".id", "must not be empty")
	}
	// Ids and types travel as whitespace separated manifest columns.
	if strings.ContainsAny(i.ID, " \t\r\n") {
		return invalid(path+".id", "must not contain whitespace")
	}
	// The solver skips manifest lines starting with '#' as comments.
	if strings.HasPrefix(i.ID, "#") {
		return invalid(path+".id", "must not start with '#'")
	}
	if len(i.ID) > MaxIDLength {
		return invalid(path+".id", "must be at most %d characters", MaxIDLength)
	}
	if strings.ContainsAny(i.Type, " \t\r\n") {
		return invalid(path+".type", "must not contain whitespace")
	}
	if len(i.Type) > MaxTypeLength {
		return invalid(path+".type", "must be at most %d characters", MaxTypeLength)
	}
	if !positive(i.WeightKg) {
		return invalid(path+".weight", "must be a positive number")
	}
	if len(i.Dimensions) != 3 {
		return invalid(path+".dimensions", "expected exactly 3 values, got %d", len(i.Dimensions))
	}
	for d, v := range i.Dimensions {
		if !positive(v) {
			return invalid(fmt.Sprintf("%s.dimensions[%d]", path, d), "must be a positive number")
		}
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
