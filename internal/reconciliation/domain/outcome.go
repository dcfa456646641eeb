// Package domain models the reconciliation of gateway notifications
// against subscription state.
package domain

import (
	"github.com/google/uuid"
)

// Outcome is what happened to one inbound gateway event.
type Outcome string

const (
	// OutcomeProcessed means a transition was committed.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate means the event was already handled.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means no trigger applies to the event in the current state.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeUnmatched means no subscription is paired with the event's references.
	OutcomeUnmatched Outcome = "unmatched"
	// OutcomeStale means the event is older than the newest applied event.
	OutcomeStale Outcome = "stale"
	// OutcomeRejected means the event failed authentication or could not be decoded.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means processing failed; see Result.Retryable.
	OutcomeFailed Outcome = "failed"
)

// Result reports the handling of one event.
type Result struct {
	Outcome        Outcome
	Retryable      bool
	Provider       string
	EventID        string
	SubscriptionID uuid.UUID
	Trigger        string
	Err            error
}

// Acknowledged reports whether the sender should stop redelivering.
// Everything except retryable failures is acknowledged, including
// authentication rejections.
func (r Result) Acknowledged() bool {
	return !r.Retryable
}
