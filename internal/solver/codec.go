// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package solver

import (
	"bytes"
	"strconv"

	"github.com/ManuGH/cargoforge/internal/cargo"
)

// EncodeShip renders the ship descriptor as key=value lines.
func EncodeShip(s cargo.Ship) []byte {
	var b bytes.Buffer
	b.WriteString("# ship descriptor\n")
	writeKV(&b, "length_m", s.LengthM)
	writeKV(&b, "width_m", s.WidthM)
	writeKV(&b, "max_weight_kg", s.MaxWeightKg)
	writeKV(&b, "lightship_weight_kg", s.EffectiveLightshipWeight())
	writeKV(&b, "lightship_kg_m", s.EffectiveLightshipKGM())
	return b.Bytes()
}

// EncodeCargo renders the cargo manifest: a header comment followed by one
// "id weight_kg length_m width_m height_m type" line per item.
func EncodeCargo(items []cargo.Item) []byte {
	var b bytes.Buffer
	b.WriteString("# id weight_kg length_m width_m height_m type\n")
	for _, it := range items {
		b.WriteString(it.ID)
		b.WriteByte(' ')
		b.WriteString(formatFloat(it.WeightKg))
		for _, d := range it.Dimensions {
			b.WriteByte(' ')
			b.WriteString(formatFloat(d))
		}
		b.WriteByte(' ')
		b.WriteString(it.EffectiveType())
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func writeKV(b *bytes.Buffer, key string, v float64) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(formatFloat(v))
	b.WriteByte('\n')
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
