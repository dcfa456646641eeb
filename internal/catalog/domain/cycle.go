package domain

import (
	"fmt"
	"time"
)

// BillingCycle is the length of one billing period.
type BillingCycle string

const (
	CycleMonthly  BillingCycle = "monthly"
	CycleYearly   BillingCycle = "yearly"
	CycleLifetime BillingCycle = "lifetime"
)

// LifetimeSpan is how far a lifetime period extends. It keeps period
// bounds well formed without pretending there is a renewal.
const LifetimeSpan = 100

// ParseBillingCycle parses a cycle name.
func ParseBillingCycle(s string) (BillingCycle, error) {
	switch c := BillingCycle(s); c {
	case CycleMonthly, CycleYearly, CycleLifetime:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBillingCycle, s)
	}
}

// IsRecurring reports whether the cycle renews.
func (c BillingCycle) IsRecurring() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Advance returns the end of the period that starts at start.
//
// anchorDay is the day of month billing is pinned to. When the target month
// is shorter the date is clamped to its last day, and the next advance
// returns to the anchor: Jan 31 -> Feb 28 -> Mar 31.
func (c BillingCycle) Advance(start time.Time, anchorDay int) time.Time {
	switch c {
	case CycleMonthly:
		return addMonthsAnchored(start, 1, anchorDay)
	case CycleYearly:
		return addMonthsAnchored(start, 12, anchorDay)
	default:
		return start.AddDate(LifetimeSpan, 0, 0)
	}
}

func addMonthsAnchored(t time.Time, months, anchorDay int) time.Time {
	if anchorDay < 1 {
		anchorDay = t.Day()
	}
	year, month, _ := t.Date()
	target := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := anchorDay
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
