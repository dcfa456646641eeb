// Package stripe adapts Stripe's API and webhooks to the payments domain.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ProviderName is the path segment and dedup namespace for Stripe.
const ProviderName = "stripe"

// Client charges customers through PaymentIntents.
type Client struct {
	intents paymentintent.Client
}

// NewClient creates a client for apiKey on Stripe's default backend.
func NewClient(apiKey string) *Client {
	return NewClientWithBackend(apiKey, stripelib.GetBackend(stripelib.APIBackend))
}

// NewClientWithBackend creates a client on a custom backend, e.g. stripe-mock.
func NewClientWithBackend(apiKey string, backend stripelib.Backend) *Client {
	return &Client{intents: paymentintent.Client{B: backend, Key: apiKey}}
}

// Charge confirms an off-session PaymentIntent against the customer's
// default payment method. The idempotency key is forwarded so Stripe
// collapses retries into one charge.
func (c *Client) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := &stripelib.PaymentIntentParams{
		Amount:      stripelib.Int64(req.Amount),
		Currency:    stripelib.String(strings.ToLower(req.Currency)),
		Customer:    stripelib.String(req.CustomerRef),
		Confirm:     stripelib.Bool(true),
		OffSession:  stripelib.Bool(true),
		Description: stripelib.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := c.intents.New(params)
	if err != nil {
		return nil, translateError(ctx, err)
	}
	return chargeResult(intent, req.IdempotencyKey)
}

// chargeResult accepts only a settled intent. A processing intent has not
// collected the money yet and is reported as pending.
func chargeResult(intent *stripelib.PaymentIntent, idempotencyKey string) (*domain.ChargeResult, error) {
	switch intent.Status {
	case stripelib.PaymentIntentStatusSucceeded:
	case stripelib.PaymentIntentStatusProcessing:
		return nil, fmt.Errorf("%w: payment intent %s", domain.ErrChargePending, intent.ID)
	default:
		return nil, fmt.Errorf("%w: payment intent %s is %s", domain.ErrGatewayFailure, intent.ID, intent.Status)
	}

	return &domain.ChargeResult{
		ChargeID:       intent.ID,
		Provider:       ProviderName,
		Amount:         intent.Amount,
		Currency:       strings.ToUpper(string(intent.Currency)),
		IdempotencyKey: idempotencyKey,
	}, nil
}

// VerifySignature checks a Stripe-Signature header.
func (c *Client) VerifySignature(payload []byte, header, secret string) bool {
	return verify(payload, header, secret) == nil
}

func verify(payload []byte, header, secret string) error {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(header) == "" {
		return errors.New("missing secret or signature")
	}
	_, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	return err
}

func translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Type == stripelib.ErrorTypeCard:
			return fmt.Errorf("%w: %s", domain.ErrCardDeclined, stripeErr.Msg)
		case stripeErr.HTTPStatusCode == http.StatusRequestTimeout || stripeErr.HTTPStatusCode == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %s", domain.ErrGatewayTimeout, stripeErr.Msg)
		default:
			return fmt.Errorf("%w: %s (%s)", domain.ErrGatewayFailure, stripeErr.Msg, stripeErr.Type)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrGatewayFailure, err)
}
