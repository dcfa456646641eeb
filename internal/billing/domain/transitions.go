package domain

// nonTerminal is every status a subscription can still leave.
var nonTerminal = []Status{
	StatusTrial, StatusActive, StatusPastDue, StatusUnpaid,
	StatusIncomplete, StatusPaused, StatusSuspended,
}

// sources maps each trigger to the statuses it may fire from.
var sources = map[Trigger][]Status{
	TriggerActivate:                   {StatusTrial, StatusIncomplete},
	TriggerPaymentFailed:              {StatusActive, StatusPastDue},
	TriggerPaymentRecovered:           {StatusPastDue, StatusUnpaid},
	TriggerCancelImmediate:            nonTerminal,
	TriggerCancelAtPeriodEnd:          nonTerminal,
	TriggerPause:                      {StatusActive},
	TriggerResume:                     {StatusPaused},
	TriggerPeriodRollover:             {StatusActive},
	TriggerTrialExpiredWithoutPayment: {StatusTrial},
	TriggerChangePlan:                 {StatusTrial, StatusActive},
	TriggerSuspend:                    {StatusActive, StatusPastDue, StatusUnpaid},
	TriggerReinstate:                  {StatusSuspended},
}

// CanApply reports whether trigger may fire from status.
func CanApply(status Status, trigger Trigger) bool {
	for _, s := range sources[trigger] {
		if s == status {
			return true
		}
	}
	return false
}

// SourceStatuses returns the statuses trigger may fire from.
func SourceStatuses(trigger Trigger) []Status {
	return append([]Status(nil), sources[trigger]...)
}
