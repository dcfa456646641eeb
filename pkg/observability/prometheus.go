package observability

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a Prometheus registry.
//
// Collectors are created on first use. The tag keys seen on that first call
// become the metric's label set; later calls with a different key set are
// dropped because Prometheus cannot mix label sets under one name.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

// NewPrometheusMetrics creates a collector set on registry.
// A nil registry gets a fresh one with Go runtime and process collectors.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		)
	}
	return &PrometheusMetrics{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) Counter(name string, value int64, tags ...Tag) {
	if value < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := promName(name) + "_total"
	keys, values, ok := m.labelValues(key, tags)
	if !ok {
		return
	}
	vec, exists := m.counters[key]
	if !exists {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: key, Help: name}, keys)
		if err := m.registry.Register(vec); err != nil {
			return
		}
		m.counters[key] = vec
	}
	vec.WithLabelValues(values...).Add(float64(value))
}

func (m *PrometheusMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := promName(name)
	keys, values, ok := m.labelValues(key, tags)
	if !ok {
		return
	}
	vec, exists := m.gauges[key]
	if !exists {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: key, Help: name}, keys)
		if err := m.registry.Register(vec); err != nil {
			return
		}
		m.gauges[key] = vec
	}
	vec.WithLabelValues(values...).Set(value)
}

func (m *PrometheusMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.observe(promName(name), value, prometheus.DefBuckets, tags)
}

func (m *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.observe(promName(name)+"_seconds", duration.Seconds(), prometheus.DefBuckets, tags)
}

func (m *PrometheusMetrics) observe(key string, value float64, buckets []float64, tags []Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, values, ok := m.labelValues(key, tags)
	if !ok {
		return
	}
	vec, exists := m.histograms[key]
	if !exists {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: key, Help: key, Buckets: buckets}, keys)
		if err := m.registry.Register(vec); err != nil {
			return
		}
		m.histograms[key] = vec
	}
	vec.WithLabelValues(values...).Observe(value)
}

// labelValues orders tag values by the metric's label set, fixing the set on first use.
func (m *PrometheusMetrics) labelValues(key string, tags []Tag) ([]string, []string, bool) {
	byKey := make(map[string]string, len(tags))
	for _, t := range tags {
		byKey[promName(t.Key)] = t.Value
	}

	keys, known := m.labels[key]
	if !known {
		keys = make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m.labels[key] = keys
	}
	if len(keys) != len(byKey) {
		return nil, nil, false
	}

	values := make([]string, len(keys))
	for i, k := range keys {
		v, ok := byKey[k]
		if !ok {
			return nil, nil, false
		}
		values[i] = v
	}
	return keys, values, true
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
