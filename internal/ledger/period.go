// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"fmt"
	"time"
)

// Period is a calendar day in a fixed processing timezone.
type Period struct {
	loc *time.Location
}

// NewPeriod returns a daily period in the named IANA zone ("" means UTC).
func NewPeriod(tz string) (Period, error) {
	if tz == "" {
		return Period{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Period{}, fmt.Errorf("ledger: load timezone %q: %w", tz, err)
	}
	return Period{loc: loc}, nil
}

func (p Period) location() *time.Location {
	if p.loc == nil {
		return time.UTC
	}
	return p.loc
}

// Start returns the beginning of the period containing now.
func (p Period) Start(now time.Time) time.Time {
	t := now.In(p.location())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.location())
}

// End returns the beginning of the next period.
func (p Period) End(now time.Time) time.Time {
	s := p.Start(now)
	return time.Date(s.Year(), s.Month(), s.Day()+1, 0, 0, 0, 0, p.location())
}

// Key identifies the period containing now, e.g. "2026-10-15".
func (p Period) Key(now time.Time) string {
	return p.Start(now).Format(time.DateOnly)
}
