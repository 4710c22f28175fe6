// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import "strings"

// Tier is a subscription level. It determines the per-period dispatch limit.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ParseTier normalises s. Unknown values are kept verbatim so that Limits can
// apply the fail-safe default.
func ParseTier(s string) Tier {
	return Tier(strings.ToLower(strings.TrimSpace(s)))
}

// Tiers lists the defined tiers from lowest to highest.
func Tiers() []Tier {
	return []Tier{TierFree, TierPro, TierEnterprise}
}

// Known reports whether t is one of the defined tiers.
func (t Tier) Known() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Limits maps tiers to the number of dispatches allowed per period.
type Limits map[Tier]int

// DefaultFreeLimit applies when a Limits map lacks a free entry.
const DefaultFreeLimit = 10

// DefaultLimits returns the reference tier limits.
func DefaultLimits() Limits {
	return Limits{
		TierFree:       DefaultFreeLimit,
		TierPro:        1000,
		TierEnterprise: 10000,
	}
}

// Limit returns the limit for t. Unknown tiers get the free limit: the ledger
// fails safe, never open.
func (l Limits) Limit(t Tier) int {
	if v, ok := l[t]; ok && t.Known() {
		return v
	}
	if v, ok := l[TierFree]; ok {
		return v
	}
	return DefaultFreeLimit
}
