package generic

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/cadence/internal/payments/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_generic"

func TestProvider_Authenticate(t *testing.T) {
	p := NewProvider(testSecret)
	payload := []byte(`{"id":"evt_1"}`)

	assert.NoError(t, p.Authenticate(payload, Sign(payload, testSecret)))
	assert.ErrorIs(t, p.Authenticate(payload, Sign(payload, "other")), domain.ErrAuthentication)
	assert.ErrorIs(t, p.Authenticate([]byte(`{"id":"evt_2"}`), Sign(payload, testSecret)), domain.ErrAuthentication)
	assert.ErrorIs(t, p.Authenticate(payload, ""), domain.ErrAuthentication)
	assert.ErrorIs(t, NewProvider("").Authenticate(payload, Sign(payload, "")), domain.ErrAuthentication)
}

func TestProvider_Decode(t *testing.T) {
	p := NewProvider(testSecret)

	t.Run("known kind", func(t *testing.T) {
		event, err := p.Decode([]byte(`{
			"id": "evt_1",
			"type": "payment_succeeded",
			"created_at": "2026-02-01T10:00:00Z",
			"data": {"subscription_ref": "sub_9", "customer_ref": "cus_9",
			         "period_start": "2026-02-01T00:00:00Z", "period_end": "2026-03-01T00:00:00Z"}
		}`))
		require.NoError(t, err)

		assert.Equal(t, domain.KindPaymentSucceeded, event.Kind)
		assert.Equal(t, "generic:evt_1", event.DedupKey())
		assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), event.OccurredAt)
		assert.Equal(t, "sub_9", event.SubscriptionRef)
		require.NotNil(t, event.PeriodEnd)
	})

	t.Run("unknown type is unsupported", func(t *testing.T) {
		event, err := p.Decode([]byte(`{"id":"evt_2","type":"customer.updated","created_at":"2026-02-01T10:00:00Z","data":{}}`))
		require.NoError(t, err)
		assert.Equal(t, domain.KindUnsupported, event.Kind)
	})

	t.Run("malformed envelopes", func(t *testing.T) {
		for _, payload := range []string{
			`not json`,
			`{"type":"payment_failed","created_at":"2026-02-01T10:00:00Z","data":{"subscription_ref":"sub_1"}}`,
			`{"id":"evt_3","type":"payment_failed","data":{"subscription_ref":"sub_1"}}`,
			`{"id":"evt_4","type":"payment_failed","created_at":"2026-02-01T10:00:00Z","data":{}}`,
		} {
			_, err := p.Decode([]byte(payload))
			assert.ErrorIs(t, err, domain.ErrMalformedEvent, payload)
		}
	})
}
