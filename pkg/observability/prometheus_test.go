package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_Counter(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())

	m.Counter(MetricTransitions, 1, T("trigger", "activate"), T("to", "active"))
	m.Counter(MetricTransitions, 2, T("to", "active"), T("trigger", "activate"))
	// Mismatched label set is dropped.
	m.Counter(MetricTransitions, 5, T("trigger", "pause"))

	vec := m.counters["cadence_subscription_transitions_total"]
	require.NotNil(t, vec)
	assert.Equal(t, 3.0, testutil.ToFloat64(vec.WithLabelValues("active", "activate")))
}

func TestPrometheusMetrics_TimingAndHandler(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	m.Timing(MetricGatewayChargeDuration, 150*time.Millisecond, T("outcome", "succeeded"))
	m.Gauge(MetricGatewayBreakerState, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "cadence_gateway_charge_duration_seconds_bucket")
	assert.Contains(t, string(body), "cadence_gateway_breaker_state 1")
}
