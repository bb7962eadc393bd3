// Package metrics exposes engine and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"folio/api/internal/vcs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in
// tests.
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	materializes    *prometheus.CounterVec
	reconstructWalk prometheus.Histogram
	requests        *prometheus.CounterVec
	requestTime     *prometheus.HistogramVec
	sideEffects     *prometheus.CounterVec
}

var _ vcs.Observer = (*Metrics)(nil)

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_engine_operations_total",
			Help: "Engine operations by name and outcome",
		}, []string{"op", "outcome"}),
		operationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_engine_operation_duration_seconds",
			Help:    "Engine operation latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
		materializes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_page_materializations_total",
			Help: "Page reads by content source",
		}, []string{"source"}),
		reconstructWalk: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_page_reconstruction_walk_length",
			Help:    "Ancestors replayed per page reconstruction",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 1000},
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		requestTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		sideEffects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_side_effect_failures_total",
			Help: "Best-effort side effects that failed",
		}, []string{"effect"}),
	}
}

func outcome(kind vcs.Kind) string {
	if kind == 0 {
		return "ok"
	}
	return kind.String()
}

func (m *Metrics) ObserveOperation(op string, kind vcs.Kind, elapsed time.Duration) {
	m.operations.WithLabelValues(op, outcome(kind)).Inc()
	m.operationTime.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMaterialize(source vcs.PageSource, walked int) {
	m.materializes.WithLabelValues(string(source)).Inc()
	if source == vcs.SourceReconstructed {
		m.reconstructWalk.Observe(float64(walked))
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestTime.WithLabelValues(route).Observe(elapsed.Seconds())
}

// SideEffectFailed counts a failed mirror, index or cache write.
func (m *Metrics) SideEffectFailed(effect string) {
	m.sideEffects.WithLabelValues(effect).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
