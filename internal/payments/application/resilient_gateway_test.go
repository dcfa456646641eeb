package application

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/sandbox"
	"github.com/felixgeelhaar/cadence/pkg/observability"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(inner domain.Gateway, cfg Config, metrics observability.Metrics) *ResilientGateway {
	g := NewResilientGateway(inner, cfg, nil, metrics)
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func chargeReq(key string) domain.ChargeRequest {
	return domain.ChargeRequest{CustomerRef: "cus_1", Amount: 1500, Currency: "USD", IdempotencyKey: key}
}

func TestResilientGateway_RetriesWithSameKey(t *testing.T) {
	inner := sandbox.NewGateway()
	inner.FailNext(domain.ErrGatewayTimeout, domain.ErrGatewayFailure)
	metrics := observability.NewInMemoryMetrics()
	g := newTestGateway(inner, Config{MaxAttempts: 3}, metrics)

	result, err := g.Charge(context.Background(), chargeReq("plan-change:1"))

	require.NoError(t, err)
	assert.Equal(t, "plan-change:1", result.IdempotencyKey)
	assert.Equal(t, 3, inner.Calls())
	assert.Equal(t, 1, inner.Charges())
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricGatewayCharges, observability.T("outcome", "succeeded")))
}

func TestResilientGateway_GivesUpAfterMaxAttempts(t *testing.T) {
	inner := sandbox.NewGateway()
	inner.FailNext(domain.ErrGatewayTimeout, domain.ErrGatewayTimeout, domain.ErrGatewayTimeout)
	g := newTestGateway(inner, Config{MaxAttempts: 2}, nil)

	_, err := g.Charge(context.Background(), chargeReq("k"))

	assert.ErrorIs(t, err, domain.ErrGatewayTimeout)
	assert.Equal(t, 2, inner.Calls())
	assert.Zero(t, inner.Charges())
}

func TestResilientGateway_DeclineIsNotRetried(t *testing.T) {
	inner := sandbox.NewGateway()
	inner.Decline("cus_1")
	g := newTestGateway(inner, Config{MaxAttempts: 3, BreakerFailures: 1}, nil)

	_, err := g.Charge(context.Background(), chargeReq("k"))

	assert.ErrorIs(t, err, domain.ErrCardDeclined)
	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, gobreaker.StateClosed, g.BreakerState(), "declines do not trip the breaker")
}

func TestResilientGateway_PendingIsNotRetried(t *testing.T) {
	inner := sandbox.NewGateway()
	inner.FailNext(domain.ErrChargePending)
	metrics := observability.NewInMemoryMetrics()
	g := newTestGateway(inner, Config{MaxAttempts: 3, BreakerFailures: 1}, metrics)

	_, err := g.Charge(context.Background(), chargeReq("k"))

	assert.ErrorIs(t, err, domain.ErrChargePending)
	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, gobreaker.StateClosed, g.BreakerState())
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricGatewayCharges, observability.T("outcome", "pending")))
}

func TestResilientGateway_BreakerOpens(t *testing.T) {
	inner := sandbox.NewGateway()
	inner.FailNext(domain.ErrGatewayFailure, domain.ErrGatewayFailure)
	g := newTestGateway(inner, Config{MaxAttempts: 1, BreakerFailures: 2, BreakerTimeout: time.Hour}, nil)
	ctx := context.Background()

	_, err := g.Charge(ctx, chargeReq("a"))
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)
	_, err = g.Charge(ctx, chargeReq("b"))
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)
	assert.Equal(t, gobreaker.StateOpen, g.BreakerState())

	_, err = g.Charge(ctx, chargeReq("c"))
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, 2, inner.Calls(), "open breaker short-circuits the gateway")
}

type slowGateway struct{ *sandbox.Gateway }

func (s slowGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResilientGateway_Timeout(t *testing.T) {
	g := newTestGateway(slowGateway{sandbox.NewGateway()}, Config{Timeout: 10 * time.Millisecond, MaxAttempts: 2}, nil)

	_, err := g.Charge(context.Background(), chargeReq("slow"))

	assert.ErrorIs(t, err, domain.ErrGatewayTimeout)
}
