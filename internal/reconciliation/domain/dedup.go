package domain

import "context"

// ClaimState is the answer to a dedup claim.
type ClaimState int

const (
	// ClaimAcquired means the caller owns the event and must Complete or Release it.
	ClaimAcquired ClaimState = iota
	// ClaimDuplicate means the event was already processed.
	ClaimDuplicate
	// ClaimInFlight means another worker holds the claim right now.
	ClaimInFlight
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimDuplicate:
		return "duplicate"
	case ClaimInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// DedupWindow remembers recently seen event keys. Implementations bound
// memory by age and, where applicable, by capacity.
type DedupWindow interface {
	// Claim atomically marks key in flight unless it is already known.
	Claim(ctx context.Context, key string) (ClaimState, error)

	// Complete marks key processed for the rest of the window.
	Complete(ctx context.Context, key string) error

	// Release forgets an in-flight claim so a redelivery can try again.
	Release(ctx context.Context, key string) error
}
