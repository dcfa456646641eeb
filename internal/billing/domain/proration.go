package domain

import (
	"fmt"
	"time"

	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
)

const day = 24 * time.Hour

// Proration is the result of moving between prices mid-period.
type Proration struct {
	Credit          int64 `json:"credit"`
	ImmediateCharge int64 `json:"immediate_charge"`
}

// Prorate computes the unused credit of the current price and the amount
// due now for the new price. All values are minor currency units.
//
//	credit          = round_half_up(currentPrice * daysRemaining / totalDays)
//	immediateCharge = max(0, newPrice - credit)
func Prorate(currentPrice, newPrice, daysRemaining, totalDays int64) (Proration, error) {
	if totalDays <= 0 {
		return Proration{}, fmt.Errorf("%w: total days must be positive, got %d", ErrInvalidPeriod, totalDays)
	}
	if daysRemaining < 0 || daysRemaining > totalDays {
		return Proration{}, fmt.Errorf("%w: days remaining %d outside [0, %d]", ErrInvalidPeriod, daysRemaining, totalDays)
	}
	if currentPrice < 0 || newPrice < 0 {
		return Proration{}, fmt.Errorf("%w: negative price", ErrInvalidPeriod)
	}

	credit := roundHalfUp(currentPrice*daysRemaining, totalDays)
	charge := newPrice - credit
	if charge < 0 {
		charge = 0
	}
	return Proration{Credit: credit, ImmediateCharge: charge}, nil
}

// roundHalfUp divides non-negative num by positive den, rounding .5 up.
func roundHalfUp(num, den int64) int64 {
	return (2*num + den) / (2 * den)
}

// PeriodDays returns the whole days in p and the days left at now.
// Total rounds to the nearest day so DST shifts do not change it; remaining
// rounds up so a partially used day is credited.
func PeriodDays(p Period, now time.Time) (remainingDays, totalDays int64) {
	totalDays = int64((p.End.Sub(p.Start) + day/2) / day)

	left := p.End.Sub(now)
	switch {
	case left <= 0:
		remainingDays = 0
	default:
		remainingDays = int64((left + day - 1) / day)
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}
	return remainingDays, totalDays
}

// PlanChangeEstimate previews a plan change without applying it.
type PlanChangeEstimate struct {
	CurrentPlan       catalog.PlanRef `json:"current_plan"`
	NewPlan           catalog.PlanRef `json:"new_plan"`
	Currency          string          `json:"currency"`
	Credit            int64           `json:"credit"`
	ImmediateCharge   int64           `json:"immediate_charge"`
	NextBillingAmount int64           `json:"next_billing_amount"`
	DaysRemaining     int64           `json:"days_remaining"`
	TotalDays         int64           `json:"total_days"`
	EffectiveAt       time.Time       `json:"effective_at"`
}

// EstimatePlanChange prices moving s from current to next at now.
//
// A trialing subscription has paid nothing, so it earns no credit, and the
// change opens a full paid period of next at now. A lifetime plan earns no
// credit either.
func EstimatePlanChange(s *Subscription, current, next *catalog.Plan, now time.Time) (PlanChangeEstimate, error) {
	if current == nil || next == nil {
		return PlanChangeEstimate{}, ErrMissingTargetPlan
	}
	if current.Ref() != s.plan {
		return PlanChangeEstimate{}, ErrPlanMismatch
	}
	if next.Ref() == s.plan {
		return PlanChangeEstimate{}, ErrPlanUnchanged
	}
	if !CanApply(s.status, TriggerChangePlan) {
		return PlanChangeEstimate{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, TriggerChangePlan, s.status)
	}
	if !current.Price().SameCurrency(next.Price()) {
		return PlanChangeEstimate{}, fmt.Errorf("%w: %s to %s", ErrCurrencyMismatch, current.Price().Currency, next.Price().Currency)
	}

	currentPrice := current.Price().Amount
	if current.Cycle() == catalog.CycleLifetime {
		currentPrice = 0
	}

	daysRemaining, totalDays := PeriodDays(s.period, now)
	if s.status == StatusTrial {
		currentPrice = 0
		_, totalDays = PeriodDays(FreshPeriod(next.Cycle(), now), now)
		daysRemaining = totalDays
	}
	p, err := Prorate(currentPrice, next.Price().Amount, daysRemaining, totalDays)
	if err != nil {
		return PlanChangeEstimate{}, err
	}

	nextBilling := next.Price().Amount
	if next.Cycle() == catalog.CycleLifetime {
		nextBilling = 0
	}

	return PlanChangeEstimate{
		CurrentPlan:       current.Ref(),
		NewPlan:           next.Ref(),
		Currency:          next.Price().Currency,
		Credit:            p.Credit,
		ImmediateCharge:   p.ImmediateCharge,
		NextBillingAmount: nextBilling,
		DaysRemaining:     daysRemaining,
		TotalDays:         totalDays,
		EffectiveAt:       now.UTC(),
	}, nil
}
