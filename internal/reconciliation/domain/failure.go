package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Failure is an event that could not be reconciled, kept for operator review.
type Failure struct {
	ID             uuid.UUID  `json:"id"`
	Provider       string     `json:"provider"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	Reason         string     `json:"reason"`
	Attempts       int        `json:"attempts"`
	Payload        []byte     `json:"-"`
	RecordedAt     time.Time  `json:"recorded_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

// NewFailure creates an open failure record.
func NewFailure(provider, eventID, eventType string, subscriptionID *uuid.UUID, reason string, payload []byte, now time.Time) *Failure {
	if strings.TrimSpace(eventID) == "" {
		eventID = "unknown-" + uuid.NewString()
	}
	return &Failure{
		ID:             uuid.New(),
		Provider:       provider,
		EventID:        eventID,
		EventType:      eventType,
		SubscriptionID: subscriptionID,
		Reason:         reason,
		Attempts:       1,
		Payload:        payload,
		RecordedAt:     now.UTC(),
	}
}

// IsResolved reports whether an operator closed the failure.
func (f *Failure) IsResolved() bool {
	return f.ResolvedAt != nil
}

// Resolve closes the failure.
func (f *Failure) Resolve(note string, at time.Time) error {
	if f.IsResolved() {
		return ErrFailureResolved
	}
	at = at.UTC()
	f.ResolvedAt = &at
	f.ResolutionNote = note
	return nil
}

// FailureFilter narrows List.
type FailureFilter struct {
	IncludeResolved bool
	Provider        string
	Limit           int
}

// FailureRepository stores failures.
type FailureRepository interface {
	// Record stores f. An open failure for the same provider and event id
	// is updated in place with its attempt count incremented.
	Record(ctx context.Context, f *Failure) error

	// Find returns a failure by id.
	Find(ctx context.Context, id uuid.UUID) (*Failure, error)

	// List returns failures, newest first.
	List(ctx context.Context, filter FailureFilter) ([]*Failure, error)

	// Save writes a resolved failure back.
	Save(ctx context.Context, f *Failure) error
}
