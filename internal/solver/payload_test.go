// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/cargoforge/internal/cargo"
)

func TestExtractPayload(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
		found  bool
	}{
		{name: "no marker", stdout: "optimizer finished\n", found: false},
		{name: "empty", stdout: "", found: false},
		{name: "payload only", stdout: `{"cargo":[]}`, want: `{"cargo":[]}`, found: true},
		{name: "leading diagnostics", stdout: "loading ship\nplacing 3 items\n{\"cargo\":[]}\n", want: "{\"cargo\":[]}\n", found: true},
		{name: "marker-like diagnostic wins", stdout: "step {1/2}\n{\"cargo\":[]}", want: "{1/2}\n{\"cargo\":[]}", found: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractPayload([]byte(tt.stdout))
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan([]byte(`{"cargo":[{"id":"A","weight":10,"dimensions":[1,2,3],"type":"standard","position":{"x":1,"y":2,"z":0},"placed":true}],
		"analysis":{"placed_count":1,"total_count":1,"metacentric_height":null,"stability_status":"rejected","overweight":true}} trailing`))
	require.NoError(t, err)
	require.Len(t, plan.Cargo, 1)
	assert.Equal(t, "A", plan.Cargo[0].ID)
	assert.Equal(t, 1.0, plan.Cargo[0].Position.X)
	assert.Equal(t, 1, plan.Analysis.PlacedCount)
	assert.Nil(t, plan.Analysis.MetacentricHeight)
	assert.True(t, plan.Analysis.Overweight)

	_, err = ParsePlan([]byte(`{"analysis":{}}`))
	assert.ErrorIs(t, err, errMissingCargo)

	_, err = ParsePlan([]byte(`{50%`))
	assert.Error(t, err)
}

func TestEncodeArtifacts(t *testing.T) {
	ship := cargo.Ship{LengthM: 100, WidthM: 20, MaxWeightKg: 50000}
	assert.Equal(t,
		"# ship descriptor\nlength_m=100\nwidth_m=20\nmax_weight_kg=50000\nlightship_weight_kg=10000\nlightship_kg_m=8\n",
		string(EncodeShip(ship)))

	items := []cargo.Item{
		{ID: "C1", WeightKg: 1500.5, Dimensions: []float64{6, 2.4, 2.6}, Type: "reefer"},
		{ID: "C2", WeightKg: 900, Dimensions: []float64{1, 1, 1}},
	}
	assert.Equal(t,
		"# id weight_kg length_m width_m height_m type\nC1 1500.5 6 2.4 2.6 reefer\nC2 900 1 1 1 standard\n",
		string(EncodeCargo(items)))
}

func TestLineRing(t *testing.T) {
	r := NewLineRing(2)
	_, _ = r.Write([]byte("one\ntw"))
	_, _ = r.Write([]byte("o\n\nthree"))
	assert.Equal(t, []string{"two", "three"}, r.Lines())

	empty := NewLineRing(4)
	assert.Empty(t, empty.Lines())
}
