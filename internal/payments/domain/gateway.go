package domain

import (
	"context"
	"fmt"
	"strings"
)

// ChargeRequest asks the gateway to collect an amount from a customer.
type ChargeRequest struct {
	CustomerRef    string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Validate checks the request before it leaves the process.
func (r ChargeRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.CustomerRef) == "":
		return fmt.Errorf("%w: customer reference is required", ErrInvalidCharge)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidCharge)
	case len(r.Currency) != 3:
		return fmt.Errorf("%w: currency %q", ErrInvalidCharge, r.Currency)
	case strings.TrimSpace(r.IdempotencyKey) == "":
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidCharge)
	}
	return nil
}

// ChargeResult is a successful charge.
type ChargeResult struct {
	ChargeID       string `json:"charge_id"`
	Provider       string `json:"provider"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Gateway is the outbound payment provider client.
type Gateway interface {
	// Charge collects money. Repeating a request with the same idempotency
	// key must not charge twice.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	// VerifySignature checks a webhook signature header over the raw payload.
	VerifySignature(payload []byte, header, secret string) bool
}
