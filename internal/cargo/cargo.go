// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cargo holds the optimization request model: one vessel and the
// ordered cargo items to place on it.
package cargo

const (
	// DefaultLightshipFraction is the share of max weight assumed for the empty
	// vessel when no lightship weight is given.
	DefaultLightshipFraction = 0.20
	// DefaultLightshipKGM is the assumed vertical centre of gravity of the empty
	// vessel in metres.
	DefaultLightshipKGM = 8.0
	// DefaultItemType is used for items without a category tag.
	DefaultItemType = "standard"
)

// Ship describes the vessel geometry and weight budget.
type Ship struct {
	LengthM           float64  `json:"length"`
	WidthM            float64  `json:"width"`
	MaxWeightKg       float64  `json:"max_weight"`
	LightshipWeightKg *float64 `json:"lightship_weight,omitempty"`
	LightshipKGM      *float64 `json:"lightship_kg,omitempty"`
}

// EffectiveLightshipWeight returns the lightship weight, defaulting to 20% of max weight.
func (s Ship) EffectiveLightshipWeight() float64 {
	if s.LightshipWeightKg != nil {
		return *s.LightshipWeightKg
	}
	return s.MaxWeightKg * DefaultLightshipFraction
}

// EffectiveLightshipKGM returns the lightship KG, defaulting to 8.0 m.
func (s Ship) EffectiveLightshipKGM() float64 {
	if s.LightshipKGM != nil {
		return *s.LightshipKGM
	}
	return DefaultLightshipKGM
}

// Item is one piece of cargo. Dimensions are length, width and height in metres.
type Item struct {
	ID         string    `json:"id"`
	WeightKg   float64   `json:"weight"`
	Dimensions []float64 `json:"dimensions"`
	Type       string    `json:"type,omitempty"`
}

// EffectiveType returns the category tag, defaulting to "standard".
func (i Item) EffectiveType() string {
	if i.Type == "" {
		return DefaultItemType
	}
	return i.Type
}

// Request is one optimization request. It is never persisted.
type Request struct {
	Ship  Ship   `json:"ship"`
	Items []Item `json:"cargo"`
}
