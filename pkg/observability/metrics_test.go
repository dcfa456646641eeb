package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NoopMetrics{}
	m.Counter(MetricTransitions, 1)
	m.Gauge(MetricGatewayBreakerState, 1)
	m.Histogram(MetricSweepProcessed, 3)
	m.Timing(MetricReconcileDuration, time.Second)
}

func TestInMemoryMetrics_Counter(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Counter(MetricTransitions, 1, T("trigger", "activate"), T("to", "active"))
	m.Counter(MetricTransitions, 1, T("to", "active"), T("trigger", "activate"))
	m.Counter(MetricTransitions, 1, T("trigger", "pause"), T("to", "paused"))

	assert.Equal(t, int64(2), m.GetCounter(MetricTransitions, T("trigger", "activate"), T("to", "active")))
	assert.Equal(t, int64(1), m.GetCounter(MetricTransitions, T("to", "paused"), T("trigger", "pause")))
	assert.Zero(t, m.GetCounter(MetricTransitions), "untagged series is separate")
}

func TestInMemoryMetrics_GaugeKeepsLastValue(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Gauge(MetricGatewayBreakerState, 2, T("gateway", "stripe"))
	m.Gauge(MetricGatewayBreakerState, 0, T("gateway", "stripe"))
	m.Gauge(MetricGatewayBreakerState, 1, T("gateway", "sandbox"))

	assert.Equal(t, 0.0, m.GetGauge(MetricGatewayBreakerState, T("gateway", "stripe")))
	assert.Equal(t, 1.0, m.GetGauge(MetricGatewayBreakerState, T("gateway", "sandbox")))
}

func TestInMemoryMetrics_Distributions(t *testing.T) {
	m := NewInMemoryMetrics()

	m.Histogram(MetricSweepProcessed, 3)
	m.Histogram(MetricSweepProcessed, 7)
	m.Timing(MetricGatewayChargeDuration, 120*time.Millisecond)

	assert.Equal(t, []float64{3, 7}, m.GetHistogram(MetricSweepProcessed))
	assert.Equal(t, []time.Duration{120 * time.Millisecond}, m.GetTimings(MetricGatewayChargeDuration))

	// Returned slices are copies.
	m.GetHistogram(MetricSweepProcessed)[0] = 99
	assert.Equal(t, 3.0, m.GetHistogram(MetricSweepProcessed)[0])
}

func TestInMemoryMetrics_Reset(t *testing.T) {
	m := NewInMemoryMetrics()
	m.Counter(MetricStaleWrites, 4)
	m.Timing(MetricReconcileDuration, time.Second)

	m.Reset()

	assert.Zero(t, m.GetCounter(MetricStaleWrites))
	assert.Empty(t, m.GetTimings(MetricReconcileDuration))
}

func TestSeriesKey(t *testing.T) {
	assert.Equal(t, "requests", seriesKey("requests", nil))
	assert.Equal(t, "requests{method=GET}", seriesKey("requests", []Tag{T("method", "GET")}))
	assert.Equal(t, "requests{method=GET,status=200}",
		seriesKey("requests", []Tag{T("status", "200"), T("method", "GET")}))
}
