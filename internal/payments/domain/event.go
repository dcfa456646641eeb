package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind is the closed set of gateway notifications the core understands.
type EventKind string

const (
	KindPaymentSucceeded     EventKind = "payment_succeeded"
	KindPaymentFailed        EventKind = "payment_failed"
	KindSubscriptionCanceled EventKind = "subscription_canceled"
	KindCancelScheduled      EventKind = "cancel_scheduled"
	KindSubscriptionPaused   EventKind = "subscription_paused"
	KindSubscriptionResumed  EventKind = "subscription_resumed"
	KindTrialEnded           EventKind = "trial_ended"
	KindUnsupported          EventKind = "unsupported"
)

// GatewayEvent is a verified provider notification decoded at the boundary.
type GatewayEvent struct {
	Provider        string
	EventID         string
	Type            string
	Kind            EventKind
	OccurredAt      time.Time
	SubscriptionRef string
	CustomerRef     string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	Raw             json.RawMessage
}

// Validate checks the fields every kind needs.
func (e *GatewayEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.Provider) == "":
		return fmt.Errorf("%w: provider is required", ErrMalformedEvent)
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("%w: event id is required", ErrMalformedEvent)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: event %s has no timestamp", ErrMalformedEvent, e.EventID)
	}
	if e.Kind == KindUnsupported {
		return nil
	}
	if e.SubscriptionRef == "" && e.CustomerRef == "" {
		return fmt.Errorf("%w: event %s has no subscription or customer reference", ErrMalformedEvent, e.EventID)
	}
	if e.PeriodStart != nil && e.PeriodEnd != nil && !e.PeriodStart.Before(*e.PeriodEnd) {
		return fmt.Errorf("%w: event %s has an empty period", ErrMalformedEvent, e.EventID)
	}
	return nil
}

// DedupKey identifies the event across redeliveries.
func (e *GatewayEvent) DedupKey() string {
	return e.Provider + ":" + e.EventID
}

// Provider authenticates and decodes one gateway's webhooks.
type Provider interface {
	Name() string

	// SignatureHeader is the HTTP header carrying the signature.
	SignatureHeader() string

	// Authenticate returns ErrAuthentication unless header signs payload.
	Authenticate(payload []byte, header string) error

	// Decode turns an authenticated payload into a GatewayEvent.
	// Payloads that are not valid envelopes return ErrMalformedEvent.
	Decode(payload []byte) (*GatewayEvent, error)
}
