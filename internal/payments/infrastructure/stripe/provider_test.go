package stripe

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_123"

func sign(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	}).Header
}

const invoicePaid = `{
  "id": "evt_inv_1",
  "object": "event",
  "type": "invoice.paid",
  "created": 1769940000,
  "data": {"object": {
    "id": "in_1",
    "object": "invoice",
    "customer": "cus_1",
    "parent": {"subscription_details": {"subscription": "sub_1"}},
    "lines": {"data": [{"period": {"start": 1769904000, "end": 1772323200}}]}
  }}
}`

func TestProvider_Authenticate(t *testing.T) {
	p := NewProvider(testSecret)
	payload := []byte(invoicePaid)

	assert.NoError(t, p.Authenticate(payload, sign(payload, testSecret)))
	assert.ErrorIs(t, p.Authenticate(payload, sign(payload, "whsec_wrong")), domain.ErrAuthentication)
	assert.ErrorIs(t, p.Authenticate(payload, ""), domain.ErrAuthentication)

	client := NewClient("sk_test")
	assert.True(t, client.VerifySignature(payload, sign(payload, testSecret), testSecret))
	assert.False(t, client.VerifySignature(payload, sign(payload, testSecret), ""))
}

func TestProvider_Decode(t *testing.T) {
	p := NewProvider(testSecret)

	t.Run("invoice paid reads the parent subscription", func(t *testing.T) {
		event, err := p.Decode([]byte(invoicePaid))
		require.NoError(t, err)

		assert.Equal(t, domain.KindPaymentSucceeded, event.Kind)
		assert.Equal(t, "stripe:evt_inv_1", event.DedupKey())
		assert.Equal(t, "sub_1", event.SubscriptionRef)
		assert.Equal(t, "cus_1", event.CustomerRef)
		assert.Equal(t, time.Unix(1769940000, 0).UTC(), event.OccurredAt)
		require.NotNil(t, event.PeriodStart)
		assert.Equal(t, time.Unix(1769904000, 0).UTC(), *event.PeriodStart)
	})

	tests := []struct {
		name     string
		payload  string
		wantKind domain.EventKind
	}{
		{
			"payment failed with legacy subscription field",
			`{"id":"evt_2","type":"invoice.payment_failed","created":1769940000,"data":{"object":{"id":"in_2","customer":{"id":"cus_2"},"subscription":"sub_2"}}}`,
			domain.KindPaymentFailed,
		},
		{
			"subscription deleted",
			`{"id":"evt_3","type":"customer.subscription.deleted","created":1769940000,"data":{"object":{"id":"sub_3","customer":"cus_3","status":"canceled"}}}`,
			domain.KindSubscriptionCanceled,
		},
		{
			"cancel at period end",
			`{"id":"evt_4","type":"customer.subscription.updated","created":1769940000,"data":{"object":{"id":"sub_4","customer":"cus_4","status":"active","cancel_at_period_end":true}}}`,
			domain.KindCancelScheduled,
		},
		{
			"plain update",
			`{"id":"evt_5","type":"customer.subscription.updated","created":1769940000,"data":{"object":{"id":"sub_5","customer":"cus_5","status":"active"}}}`,
			domain.KindUnsupported,
		},
		{
			"paused",
			`{"id":"evt_6","type":"customer.subscription.paused","created":1769940000,"data":{"object":{"id":"sub_6","customer":"cus_6","status":"paused"}}}`,
			domain.KindSubscriptionPaused,
		},
		{
			"unrelated type",
			`{"id":"evt_7","type":"charge.refunded","created":1769940000,"data":{"object":{"id":"ch_1"}}}`,
			domain.KindUnsupported,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := p.Decode([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, event.Kind)
		})
	}

	t.Run("malformed", func(t *testing.T) {
		_, err := p.Decode([]byte(`{"id":"evt_8","type":"invoice.paid","created":1769940000}`))
		assert.ErrorIs(t, err, domain.ErrMalformedEvent)

		_, err = p.Decode([]byte(`{"id":"evt_9","type":"invoice.paid","created":1769940000,"data":{"object":{"id":"in_9"}}}`))
		assert.ErrorIs(t, err, domain.ErrMalformedEvent, "no subscription or customer reference")
	})
}

func TestChargeResult_OnlySucceededIntentIsPaid(t *testing.T) {
	t.Run("succeeded", func(t *testing.T) {
		res, err := chargeResult(&stripelib.PaymentIntent{
			ID: "pi_1", Status: stripelib.PaymentIntentStatusSucceeded, Amount: 1500, Currency: "usd",
		}, "plan-change:x:1")
		require.NoError(t, err)
		assert.Equal(t, "pi_1", res.ChargeID)
		assert.Equal(t, "USD", res.Currency)
		assert.Equal(t, int64(1500), res.Amount)
		assert.Equal(t, "plan-change:x:1", res.IdempotencyKey)
	})

	t.Run("processing is pending, not paid", func(t *testing.T) {
		res, err := chargeResult(&stripelib.PaymentIntent{
			ID: "pi_2", Status: stripelib.PaymentIntentStatusProcessing, Amount: 1500, Currency: "usd",
		}, "k")
		assert.Nil(t, res)
		assert.ErrorIs(t, err, domain.ErrChargePending)
		assert.False(t, domain.IsRetryable(err))
	})

	for _, status := range []stripelib.PaymentIntentStatus{
		stripelib.PaymentIntentStatusRequiresAction,
		stripelib.PaymentIntentStatusRequiresPaymentMethod,
		stripelib.PaymentIntentStatusCanceled,
	} {
		t.Run(string(status), func(t *testing.T) {
			_, err := chargeResult(&stripelib.PaymentIntent{ID: "pi_3", Status: status}, "k")
			assert.ErrorIs(t, err, domain.ErrGatewayFailure)
			assert.NotErrorIs(t, err, domain.ErrChargePending)
		})
	}
}
