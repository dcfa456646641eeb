// Package sandbox is an in-process gateway for local mode and tests.
package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/generic"
	"github.com/google/uuid"
)

// ProviderName identifies charges made by the sandbox.
const ProviderName = "sandbox"

// Gateway records charges in memory. Customers marked as declining fail
// with ErrCardDeclined; a queued fault is returned by the next call.
type Gateway struct {
	mu        sync.Mutex
	charges   map[string]*domain.ChargeResult
	declining map[string]bool
	faults    []error
	calls     int
}

// NewGateway creates an empty sandbox.
func NewGateway() *Gateway {
	return &Gateway{
		charges:   make(map[string]*domain.ChargeResult),
		declining: make(map[string]bool),
	}
}

// Decline makes every charge for customerRef fail.
func (g *Gateway) Decline(customerRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declining[customerRef] = true
}

// Accept lets charges for customerRef succeed again.
func (g *Gateway) Accept(customerRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.declining, customerRef)
}

// FailNext queues errors returned by the following calls, in order.
func (g *Gateway) FailNext(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = append(g.faults, errs...)
}

func (g *Gateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++

	if len(g.faults) > 0 {
		err := g.faults[0]
		g.faults = g.faults[1:]
		return nil, err
	}
	if existing, ok := g.charges[req.IdempotencyKey]; ok {
		return existing, nil
	}
	if g.declining[req.CustomerRef] {
		return nil, fmt.Errorf("%w: customer %s", domain.ErrCardDeclined, req.CustomerRef)
	}

	result := &domain.ChargeResult{
		ChargeID:       "ch_" + uuid.NewString(),
		Provider:       ProviderName,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	}
	g.charges[req.IdempotencyKey] = result
	return result, nil
}

// VerifySignature uses the generic HMAC scheme.
func (g *Gateway) VerifySignature(payload []byte, header, secret string) bool {
	return generic.Verify(payload, header, secret)
}

// Charges returns the number of distinct charges captured.
func (g *Gateway) Charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

// Calls returns how many times Charge reached the sandbox.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
