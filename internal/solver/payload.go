// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package solver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadMarker is the byte that opens the structured result on stdout.
const PayloadMarker = '{'

// ExtractPayload locates the structured result in the solver's primary output.
//
// The payload starts at the first '{' in stdout; anything before it is
// diagnostic text and is discarded. It reports false when stdout contains no
// marker at all. Only stdout is ever searched, so marker-like characters on
// the diagnostic stream cannot be mistaken for the result. A '{' inside
// leading stdout diagnostics still wins and then fails to parse.
func ExtractPayload(stdout []byte) ([]byte, bool) {
	i := bytes.IndexByte(stdout, PayloadMarker)
	if i < 0 {
		return nil, false
	}
	return stdout[i:], true
}

// Plan is the solver's structured placement result.
type Plan struct {
	Ship     PlanShip    `json:"ship"`
	Cargo    []Placement `json:"cargo"`
	Analysis Analysis    `json:"analysis"`
}

// PlanShip echoes the vessel parameters the solver used.
type PlanShip struct {
	Length          float64 `json:"length"`
	Width           float64 `json:"width"`
	MaxWeight       float64 `json:"max_weight"`
	LightshipWeight float64 `json:"lightship_weight"`
	LightshipKG     float64 `json:"lightship_kg"`
}

// Placement is one cargo item with its placement, if any.
type Placement struct {
	ID         string    `json:"id"`
	Weight     float64   `json:"weight"`
	Dimensions []float64 `json:"dimensions"`
	Type       string    `json:"type"`
	Position   *Position `json:"position"`
	Placed     bool      `json:"placed"`
}

// Position is the placement origin in metres.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Analysis carries the stability figures computed by the solver.
type Analysis struct {
	PlacedCount         int             `json:"placed_count"`
	TotalCount          int             `json:"total_count"`
	TotalCargoWeight    float64         `json:"total_cargo_weight"`
	TotalShipWeight     float64         `json:"total_ship_weight"`
	CapacityUsedPercent float64         `json:"capacity_used_percent"`
	CenterOfGravity     CenterOfGravity `json:"center_of_gravity"`
	// MetacentricHeight is null when the vessel is overweight.
	MetacentricHeight *float64 `json:"metacentric_height"`
	// VerticalCenterOfGravity (KG) is only reported by newer solver builds.
	VerticalCenterOfGravity *float64 `json:"vertical_center_of_gravity,omitempty"`
	StabilityStatus         string   `json:"stability_status"`
	BalanceStatus           string   `json:"balance_status"`
	Overweight              bool     `json:"overweight"`
}

// CenterOfGravity is expressed as percentages of length and width.
type CenterOfGravity struct {
	LongitudinalPercent float64 `json:"longitudinal_percent"`
	TransversePercent   float64 `json:"transverse_percent"`
}

var errMissingCargo = errors.New("result has no cargo array")

// ParsePlan decodes the first JSON value of payload. Trailing bytes after the
// value are ignored.
func ParsePlan(payload []byte) (*Plan, error) {
	var raw struct {
		Plan
		Cargo *[]Placement `json:"cargo"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if raw.Cargo == nil {
		return nil, errMissingCargo
	}
	plan := raw.Plan
	plan.Cargo = *raw.Cargo
	return &plan, nil
}
