package domain

import "errors"

var (
	ErrReconciliationFailed = errors.New("reconciliation failed")
	ErrEventInFlight        = errors.New("event is being processed by another worker")
	ErrFailureNotFound      = errors.New("reconciliation failure not found")
	ErrFailureResolved      = errors.New("reconciliation failure already resolved")
)
