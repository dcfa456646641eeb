package sandbox

import (
	"context"
	"testing"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/felixgeelhaar/cadence/internal/payments/infrastructure/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_Charge(t *testing.T) {
	ctx := context.Background()
	g := NewGateway()
	req := domain.ChargeRequest{CustomerRef: "cus_1", Amount: 1500, Currency: "USD", IdempotencyKey: "k1"}

	first, err := g.Charge(ctx, req)
	require.NoError(t, err)
	again, err := g.Charge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ChargeID, again.ChargeID, "same idempotency key charges once")
	assert.Equal(t, 1, g.Charges())

	g.Decline("cus_2")
	_, err = g.Charge(ctx, domain.ChargeRequest{CustomerRef: "cus_2", Amount: 1, Currency: "USD", IdempotencyKey: "k2"})
	assert.ErrorIs(t, err, domain.ErrCardDeclined)
	assert.ErrorIs(t, err, domain.ErrGatewayFailure)

	g.Accept("cus_2")
	_, err = g.Charge(ctx, domain.ChargeRequest{CustomerRef: "cus_2", Amount: 1, Currency: "USD", IdempotencyKey: "k2b"})
	require.NoError(t, err)

	g.FailNext(domain.ErrGatewayTimeout)
	_, err = g.Charge(ctx, domain.ChargeRequest{CustomerRef: "cus_1", Amount: 1, Currency: "USD", IdempotencyKey: "k3"})
	assert.ErrorIs(t, err, domain.ErrGatewayTimeout)

	_, err = g.Charge(ctx, domain.ChargeRequest{CustomerRef: "cus_1", Amount: 0, Currency: "USD", IdempotencyKey: "k4"})
	assert.ErrorIs(t, err, domain.ErrInvalidCharge)
}

func TestGateway_VerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt"}`)
	g := NewGateway()
	assert.True(t, g.VerifySignature(payload, generic.Sign(payload, "s"), "s"))
	assert.False(t, g.VerifySignature(payload, generic.Sign(payload, "s"), "t"))
}
