package domain

import (
	"fmt"
	"time"

	catalog "github.com/felixgeelhaar/cadence/internal/catalog/domain"
)

// Trigger is a named input to the subscription state machine.
type Trigger string

const (
	TriggerActivate                   Trigger = "activate"
	TriggerPaymentFailed              Trigger = "payment_failed"
	TriggerPaymentRecovered           Trigger = "payment_recovered"
	TriggerCancelImmediate            Trigger = "cancel_immediate"
	TriggerCancelAtPeriodEnd          Trigger = "cancel_at_period_end"
	TriggerPause                      Trigger = "pause"
	TriggerResume                     Trigger = "resume"
	TriggerPeriodRollover             Trigger = "period_rollover"
	TriggerTrialExpiredWithoutPayment Trigger = "trial_expired_without_payment"
	TriggerChangePlan                 Trigger = "change_plan"
	TriggerSuspend                    Trigger = "suspend"
	TriggerReinstate                  Trigger = "reinstate"
)

// AllTriggers lists every trigger in declaration order.
func AllTriggers() []Trigger {
	return []Trigger{
		TriggerActivate, TriggerPaymentFailed, TriggerPaymentRecovered,
		TriggerCancelImmediate, TriggerCancelAtPeriodEnd, TriggerPause, TriggerResume,
		TriggerPeriodRollover, TriggerTrialExpiredWithoutPayment,
		TriggerChangePlan, TriggerSuspend, TriggerReinstate,
	}
}

// ParseTrigger parses a trigger name.
func ParseTrigger(s string) (Trigger, error) {
	for _, trigger := range AllTriggers() {
		if string(trigger) == s {
			return trigger, nil
		}
	}
	return "", fmt.Errorf("%w: unknown trigger %q", ErrInvalidTransition, s)
}

// TriggerParams carries optional inputs for a trigger.
type TriggerParams struct {
	// PeriodStart and PeriodEnd override the computed period on activate.
	PeriodStart *time.Time
	PeriodEnd   *time.Time

	// Plan is the target of change_plan.
	Plan *catalog.Plan

	// EventTime is the provider timestamp of the gateway event driving the
	// trigger. It advances the last-reconciled mark.
	EventTime *time.Time

	Reason string
}

// Policy holds tunable lifecycle rules.
type Policy struct {
	// DunningThreshold is the consecutive failure count that moves a
	// subscription to unpaid.
	DunningThreshold int
	// DunningRetryInterval is the wait after a failed payment before the
	// next collection attempt on a past_due subscription.
	DunningRetryInterval time.Duration
}

const (
	// DefaultDunningThreshold is the failure count used when none is configured.
	DefaultDunningThreshold = 5
	// DefaultDunningRetryInterval spaces collection attempts during dunning.
	DefaultDunningRetryInterval = 24 * time.Hour
)

// DefaultPolicy returns the standard lifecycle rules.
func DefaultPolicy() Policy {
	return Policy{
		DunningThreshold:     DefaultDunningThreshold,
		DunningRetryInterval: DefaultDunningRetryInterval,
	}
}

func (p Policy) dunningRetryInterval() time.Duration {
	if p.DunningRetryInterval <= 0 {
		return DefaultDunningRetryInterval
	}
	return p.DunningRetryInterval
}

func (p Policy) dunningThreshold() int {
	if p.DunningThreshold < 1 {
		return DefaultDunningThreshold
	}
	return p.DunningThreshold
}
