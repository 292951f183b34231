package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsClient is the narrow metrics surface fishnet-go components use.
type MetricsClient interface {
	IncCounter(name string, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ObserveDuration(name string, labels map[string]string, d time.Duration)
	Close() error
}

// NoopMetrics discards everything; used when metrics are disabled.
type NoopMetrics struct{}

func NewNoopMetrics() MetricsClient { return &NoopMetrics{} }

func (NoopMetrics) IncCounter(string, map[string]string)                    {}
func (NoopMetrics) SetGauge(string, float64, map[string]string)             {}
func (NoopMetrics) ObserveDuration(string, map[string]string, time.Duration) {}
func (NoopMetrics) Close() error                                            { return nil }

// PrometheusMetrics registers and serves the client's default
// instruments, mirroring the ambient stack's namespaced registration
// pattern (counters/gauges/histograms keyed by name, created lazily
// and cached).
type PrometheusMetrics struct {
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates a client and pre-registers fishnet's
// default instruments under the given namespace (e.g. "fishnet").
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		namespace:  namespace,
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	m.counterVec("chunks_total", []string{"result"})
	m.counterVec("api_requests_total", []string{"op", "status"})
	m.histogramVec("api_request_duration_seconds", []string{"op"}, prometheus.DefBuckets)
	m.gaugeVec("circuit_breaker_state", []string{"name"})
	m.gaugeVec("nps_estimate", nil)
	m.gaugeVec("queue_depth", nil)
	m.gaugeVec("pending_batches", nil)
	return m
}

func (m *PrometheusMetrics) counterVec(name string, labelNames []string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      name,
	}, labelNames)
	m.counters[name] = c
	return c
}

func (m *PrometheusMetrics) gaugeVec(name string, labelNames []string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g := promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      name,
	}, labelNames)
	m.gauges[name] = g
	return g
}

func (m *PrometheusMetrics) histogramVec(name string, labelNames []string, buckets []float64) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h := promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      name,
		Buckets:   buckets,
	}, labelNames)
	m.histograms[name] = h
	return h
}

func labelNamesOf(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (m *PrometheusMetrics) IncCounter(name string, labels map[string]string) {
	c := m.counterVec(name, labelNamesOf(labels))
	c.With(prometheus.Labels(labels)).Inc()
}

func (m *PrometheusMetrics) SetGauge(name string, value float64, labels map[string]string) {
	g := m.gaugeVec(name, labelNamesOf(labels))
	g.With(prometheus.Labels(labels)).Set(value)
}

func (m *PrometheusMetrics) ObserveDuration(name string, labels map[string]string, d time.Duration) {
	h := m.histogramVec(name, labelNamesOf(labels), prometheus.DefBuckets)
	h.With(prometheus.Labels(labels)).Observe(d.Seconds())
}

func (m *PrometheusMetrics) Close() error { return nil }
