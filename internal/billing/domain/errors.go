package domain

import "errors"

var (
	// ErrInvalidTransition means the trigger is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStaleWrite means the stored revision moved since the subscription was read.
	ErrStaleWrite = errors.New("stale write")

	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrInvalidPeriod        = errors.New("invalid period")
	ErrInvalidPairing       = errors.New("invalid gateway pairing")
	ErrPairingConflict      = errors.New("gateway subscription is paired elsewhere")

	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrUnknownMetric     = errors.New("unknown metric")
	ErrUsageNotAllowed   = errors.New("usage not allowed in current status")
	ErrInvalidUsage      = errors.New("usage amount must be positive")
	ErrPlanMismatch      = errors.New("plan does not match subscription")
	ErrPlanUnchanged     = errors.New("subscription is already on this plan")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrMissingTargetPlan = errors.New("target plan is required")
)
