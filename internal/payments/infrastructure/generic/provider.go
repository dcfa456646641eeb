// Package generic implements a provider-neutral webhook format signed with
// HMAC-SHA256, for gateways without a dedicated adapter.
package generic

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
)

const (
	// ProviderName is the path segment and dedup namespace of this provider.
	ProviderName = "generic"
	// SignatureHeader carries "sha256=<hex hmac>".
	SignatureHeader = "X-Signature"
)

// Sign returns the header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks header against payload in constant time.
func Verify(payload []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(header)))
}

// Envelope is the wire format.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      Data      `json:"data"`
}

// Data is the subscription reference carried by every event.
type Data struct {
	SubscriptionRef string     `json:"subscription_ref"`
	CustomerRef     string     `json:"customer_ref"`
	PeriodStart     *time.Time `json:"period_start,omitempty"`
	PeriodEnd       *time.Time `json:"period_end,omitempty"`
}

// Provider verifies and decodes generic envelopes.
type Provider struct {
	secret string
}

// NewProvider creates a provider for secret.
func NewProvider(secret string) *Provider {
	return &Provider{secret: secret}
}

func (p *Provider) Name() string            { return ProviderName }
func (p *Provider) SignatureHeader() string { return SignatureHeader }

func (p *Provider) Authenticate(payload []byte, header string) error {
	if !Verify(payload, header, p.secret) {
		return fmt.Errorf("%w: %s signature mismatch", domain.ErrAuthentication, ProviderName)
	}
	return nil
}

func (p *Provider) Decode(payload []byte) (*domain.GatewayEvent, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	event := &domain.GatewayEvent{
		Provider:        ProviderName,
		EventID:         env.ID,
		Type:            env.Type,
		Kind:            kindOf(env.Type),
		OccurredAt:      env.CreatedAt.UTC(),
		SubscriptionRef: env.Data.SubscriptionRef,
		CustomerRef:     env.Data.CustomerRef,
		PeriodStart:     env.Data.PeriodStart,
		PeriodEnd:       env.Data.PeriodEnd,
		Raw:             json.RawMessage(payload),
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

// kindOf accepts the kind names themselves as event types.
func kindOf(eventType string) domain.EventKind {
	switch k := domain.EventKind(eventType); k {
	case domain.KindPaymentSucceeded, domain.KindPaymentFailed,
		domain.KindSubscriptionCanceled, domain.KindCancelScheduled,
		domain.KindSubscriptionPaused, domain.KindSubscriptionResumed,
		domain.KindTrialEnded:
		return k
	default:
		return domain.KindUnsupported
	}
}
