package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
	stripelib "github.com/stripe/stripe-go/v82"
)

// SignatureHeader is the header Stripe signs webhooks with.
const SignatureHeader = "Stripe-Signature"

// Provider verifies and decodes Stripe webhook events.
type Provider struct {
	secret string
}

// NewProvider creates a provider using the endpoint's signing secret.
func NewProvider(secret string) *Provider {
	return &Provider{secret: secret}
}

func (p *Provider) Name() string            { return ProviderName }
func (p *Provider) SignatureHeader() string { return SignatureHeader }

func (p *Provider) Authenticate(payload []byte, header string) error {
	if err := verify(payload, header, p.secret); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	return nil
}

// invoice is the subset of a Stripe invoice the reconciler reads.
type invoice struct {
	ID           string          `json:"id"`
	Customer     json.RawMessage `json:"customer"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// subscription is the subset of a Stripe subscription the reconciler reads.
type subscription struct {
	ID                string          `json:"id"`
	Customer          json.RawMessage `json:"customer"`
	Status            string          `json:"status"`
	CancelAtPeriodEnd bool            `json:"cancel_at_period_end"`
}

func (p *Provider) Decode(payload []byte) (*domain.GatewayEvent, error) {
	var ev stripelib.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", domain.ErrMalformedEvent, ev.ID)
	}

	out := &domain.GatewayEvent{
		Provider:   ProviderName,
		EventID:    ev.ID,
		Type:       string(ev.Type),
		Kind:       domain.KindUnsupported,
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
		Raw:        json.RawMessage(payload),
	}

	switch ev.Type {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: decode invoice: %v", domain.ErrMalformedEvent, err)
		}
		out.Kind = domain.KindPaymentSucceeded
		if ev.Type == "invoice.payment_failed" {
			out.Kind = domain.KindPaymentFailed
		}
		out.CustomerRef = expandableID(inv.Customer)
		out.SubscriptionRef = expandableID(inv.Subscription)
		if out.SubscriptionRef == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
			out.SubscriptionRef = expandableID(inv.Parent.SubscriptionDetails.Subscription)
		}
		if len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.End > 0 {
			start := time.Unix(inv.Lines.Data[0].Period.Start, 0).UTC()
			end := time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
			out.PeriodStart, out.PeriodEnd = &start, &end
		}

	case "customer.subscription.deleted", "customer.subscription.paused",
		"customer.subscription.resumed", "customer.subscription.updated":
		var sub subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", domain.ErrMalformedEvent, err)
		}
		out.SubscriptionRef = sub.ID
		out.CustomerRef = expandableID(sub.Customer)
		switch ev.Type {
		case "customer.subscription.deleted":
			out.Kind = domain.KindSubscriptionCanceled
		case "customer.subscription.paused":
			out.Kind = domain.KindSubscriptionPaused
		case "customer.subscription.resumed":
			out.Kind = domain.KindSubscriptionResumed
		default:
			if sub.CancelAtPeriodEnd {
				out.Kind = domain.KindCancelScheduled
			} else if sub.Status == "incomplete_expired" {
				out.Kind = domain.KindTrialEnded
			}
		}
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// expandableID reads a Stripe field that is either an id string or an
// expanded object with an "id".
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}
