package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the peer's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so callers need no enabled checks.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestSize       *prometheus.HistogramVec
	responseSize      *prometheus.HistogramVec
	handlerErrors     *prometheus.CounterVec
	activeConnections prometheus.Gauge
	portAttempts      prometheus.Counter
}

var (
	// /sleep/ requests land in the 30s bucket
	defaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
)

// NewMetrics creates a new Metrics instance on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llpeer_requests_total",
				Help: "Total number of requests answered, by rule",
			},
			[]string{"method", "rule", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llpeer_request_duration_seconds",
				Help:    "Time from request receipt to reply written",
				Buckets: defaultBuckets,
			},
			[]string{"method", "rule"},
		),
		requestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llpeer_request_size_bytes",
				Help:    "Request body size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method"},
		),
		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llpeer_response_size_bytes",
				Help:    "Bytes written to the connection per reply",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"rule"},
		),
		handlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llpeer_handler_errors_total",
				Help: "Requests dropped because handling failed",
			},
			[]string{"stage"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "llpeer_active_connections",
				Help: "Number of requests currently being handled",
			},
		),
		portAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "llpeer_port_bind_attempts_total",
				Help: "Ports tried while looking for a free one",
			},
		),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.requestSize,
		m.responseSize,
		m.handlerErrors,
		m.activeConnections,
		m.portAttempts,
	)

	return m
}

// RecordRequest records one answered request
func (m *Metrics) RecordRequest(method, rule string, status int, duration time.Duration, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, rule, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, rule).Observe(duration.Seconds())
	m.requestSize.WithLabelValues(method).Observe(float64(requestSize))
	m.responseSize.WithLabelValues(rule).Observe(float64(responseSize))
}

// RecordHandlerError records a request dropped at the given stage
// ("read", "decode", "write", "panic").
func (m *Metrics) RecordHandlerError(stage string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(stage).Inc()
}

// RecordPortAttempt records one bind attempt
func (m *Metrics) RecordPortAttempt() {
	if m == nil {
		return
	}
	m.portAttempts.Inc()
}

func (m *Metrics) IncActiveConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) DecActiveConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
