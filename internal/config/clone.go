// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"maps"
	"slices"
	"sort"

	"github.com/ManuGH/cargoforge/internal/ledger"
)

// clone deep-copies the reference fields so holders never share maps.
func (c AppConfig) clone() AppConfig {
	out := c
	out.Server.CORSOrigins = slices.Clone(c.Server.CORSOrigins)
	out.Solver.Args = slices.Clone(c.Solver.Args)
	out.Ledger.Limits = maps.Clone(c.Ledger.Limits)
	out.Auth.APIKeys = maps.Clone(c.Auth.APIKeys)
	return out
}

// TierLimits converts the configured limits for the ledger.
func (c AppConfig) TierLimits() ledger.Limits {
	out := make(ledger.Limits, len(c.Ledger.Limits))
	for name, n := range c.Ledger.Limits {
		out[ledger.ParseTier(name)] = n
	}
	return out
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
