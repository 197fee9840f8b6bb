// Package metrics holds the Prometheus collectors of the organizer service.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. A nil *Metrics records nothing, so
// components can take one optionally.
type Metrics struct {
	registry *prometheus.Registry

	StoreWrites   *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec
	SweepFailures *prometheus.CounterVec
	StreamChanges *prometheus.CounterVec
	StreamErrors  *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_store_writes_total",
			Help: "Document writes issued by reconciliation sweeps, by operation and outcome.",
		}, []string{"op", "outcome"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "organizer_sweep_duration_seconds",
			Help:    "Duration of reconciliation sweeps.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		SweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_sweep_partial_failures_total",
			Help: "Sweeps that finished with at least one failed write.",
		}, []string{"kind"}),
		StreamChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_stream_changes_total",
			Help: "Changes applied from live subscriptions, by collection and type.",
		}, []string{"collection", "type"}),
		StreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_stream_errors_total",
			Help: "Errors reported by live subscriptions.",
		}, []string{"collection"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "organizer_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "organizer_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		m.StoreWrites,
		m.SweepDuration,
		m.SweepFailures,
		m.StreamChanges,
		m.StreamErrors,
		m.HTTPRequests,
		m.HTTPDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "organizer_goroutines",
			Help: "Number of active goroutines.",
		}, func() float64 { return float64(runtime.NumGoroutine()) }),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveWrite(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StoreWrites.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveSweep(kind string, start time.Time, failed bool) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if failed {
		m.SweepFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveChange(collection, changeType string) {
	if m == nil {
		return
	}
	m.StreamChanges.WithLabelValues(collection, changeType).Inc()
}

func (m *Metrics) ObserveStreamError(collection string) {
	if m == nil {
		return
	}
	m.StreamErrors.WithLabelValues(collection).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, code int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
}
