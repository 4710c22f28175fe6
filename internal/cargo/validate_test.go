// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cargo

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{
		Ship: Ship{LengthM: 100, WidthM: 20, MaxWeightKg: 10_000_000},
		Items: []Item{
			{ID: "C1", WeightKg: 1000, Dimensions: []float64{6, 2.4, 2.6}, Type: "standard"},
			{ID: "C2", WeightKg: 2000, Dimensions: []float64{12, 2.4, 2.6}},
		},
	}
}

func TestValidateAcceptsValidRequest(t *testing.T) {
	require.NoError(t, validRequest().Validate())
}

func TestValidateRejectsMalformedItems(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(r *Request)
		field string
	}{
		{"empty id", func(r *Request) { r.Items[0].ID = "" }, "cargo[0].id"},
		{"blank id", func(r *Request) { r.Items[0].ID = "   " }, "cargo[0].id"},
		{"id with space", func(r *Request) { r.Items[1].ID = "C 2" }, "cargo[1].id"},
		{"id read as comment", func(r *Request) { r.Items[1].ID = "#7" }, "cargo[1].id"},
		{"id too long", func(r *Request) { r.Items[0].ID = strings.Repeat("a", MaxIDLength+1) }, "cargo[0].id"},
		{"type too long", func(r *Request) { r.Items[0].Type = strings.Repeat("t", MaxTypeLength+1) }, "cargo[0].type"},
		{"zero weight", func(r *Request) { r.Items[1].WeightKg = 0 }, "cargo[1].weight"},
		{"negative weight", func(r *Request) { r.Items[0].WeightKg = -5 }, "cargo[0].weight"},
		{"nan weight", func(r *Request) { r.Items[0].WeightKg = math.NaN() }, "cargo[0].weight"},
		{"two dimensions", func(r *Request) { r.Items[0].Dimensions = []float64{1, 2} }, "cargo[0].dimensions"},
		{"four dimensions", func(r *Request) { r.Items[0].Dimensions = []float64{1, 2, 3, 4} }, "cargo[0].dimensions"},
		{"zero dimension", func(r *Request) { r.Items[1].Dimensions[2] = 0 }, "cargo[1].dimensions[2]"},
		{"no items", func(r *Request) { r.Items = nil }, "cargo"},
		{"zero length", func(r *Request) { r.Ship.LengthM = 0 }, "ship.length"},
		{"negative lightship", func(r *Request) { v := -1.0; r.Ship.LightshipWeightKg = &v }, "ship.lightship_weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mut(&req)
			err := req.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateAcceptsBoundaryLengths(t *testing.T) {
	req := validRequest()
	req.Items[0].ID = strings.Repeat("a", MaxIDLength)
	req.Items[0].Type = strings.Repeat("t", MaxTypeLength)
	req.Items[1].ID = "C#2"
	require.NoError(t, req.Validate())
}

func TestShipDefaults(t *testing.T) {
	s := Ship{LengthM: 100, WidthM: 20, MaxWeightKg: 50_000}
	assert.InDelta(t, 10_000, s.EffectiveLightshipWeight(), 1e-9)
	assert.InDelta(t, 8.0, s.EffectiveLightshipKGM(), 1e-9)

	w, kg := 1234.0, 5.5
	s.LightshipWeightKg, s.LightshipKGM = &w, &kg
	assert.Equal(t, 1234.0, s.EffectiveLightshipWeight())
	assert.Equal(t, 5.5, s.EffectiveLightshipKGM())
}

func TestItemDefaultType(t *testing.T) {
	assert.Equal(t, "standard", Item{}.EffectiveType())
	assert.Equal(t, "reefer", Item{Type: "reefer"}.EffectiveType())
}
