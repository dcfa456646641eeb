package domain

import (
	billing "github.com/felixgeelhaar/cadence/internal/billing/domain"
	payments "github.com/felixgeelhaar/cadence/internal/payments/domain"
)

// TriggerFor maps a gateway event onto the trigger it means for s in its
// current status. ok is false when the event calls for no transition.
func TriggerFor(ev *payments.GatewayEvent, s *billing.Subscription) (trigger billing.Trigger, params billing.TriggerParams, ok bool) {
	status := s.Status()

	switch ev.Kind {
	case payments.KindPaymentSucceeded:
		switch status {
		case billing.StatusTrial, billing.StatusIncomplete:
			trigger = billing.TriggerActivate
			params.PeriodStart = ev.PeriodStart
			params.PeriodEnd = ev.PeriodEnd
		case billing.StatusPastDue, billing.StatusUnpaid:
			trigger = billing.TriggerPaymentRecovered
		case billing.StatusActive:
			// Only an invoice for the next period renews; a repeat for
			// the current one changes nothing.
			if ev.PeriodStart == nil || ev.PeriodStart.Before(s.Period().End) {
				return "", params, false
			}
			trigger = billing.TriggerPeriodRollover
		}
	case payments.KindPaymentFailed:
		trigger = billing.TriggerPaymentFailed
	case payments.KindSubscriptionCanceled:
		trigger = billing.TriggerCancelImmediate
	case payments.KindCancelScheduled:
		if s.CancelAt() != nil {
			return "", params, false
		}
		trigger = billing.TriggerCancelAtPeriodEnd
	case payments.KindSubscriptionPaused:
		trigger = billing.TriggerPause
	case payments.KindSubscriptionResumed:
		trigger = billing.TriggerResume
	case payments.KindTrialEnded:
		trigger = billing.TriggerTrialExpiredWithoutPayment
	}

	if trigger == "" || !billing.CanApply(status, trigger) {
		return "", billing.TriggerParams{}, false
	}
	at := ev.OccurredAt
	params.EventTime = &at
	params.Reason = ev.Provider + " " + ev.Type + " " + ev.EventID
	return trigger, params, true
}
