package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utilibill/utilibill/internal/settlement"
)

const namespace = "utilibill"

// Metrics is the API process's Prometheus surface: traffic on the settlement
// routes and the outcomes the engine reports through settlement.MetricsPort.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	scrape   http.Handler

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	operations *prometheus.CounterVec
	dissolved  prometheus.Counter
}

var _ settlement.MetricsPort = (*Metrics)(nil)

// NewMetrics builds a private registry holding every collector the API
// exports. Runtime and process collectors are not included.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
		}, []string{"route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "operations_total",
			Help:      "Settlement operations by operation and outcome (success, failure, unknown).",
		}, []string{"operation", "outcome"}),
		dissolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_dissolved_total",
			Help:      "Batches dissolved after their last member left.",
		}),
	}
	m.registry.MustRegister(m.requests, m.latency, m.operations, m.dissolved)
	m.scrape = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.scrape
}

// ObserveOperation counts one settlement operation.
func (m *Metrics) ObserveOperation(operation string, outcome settlement.Outcome) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, string(outcome)).Inc()
}

// ObserveDissolved counts one dissolved batch.
func (m *Metrics) ObserveDissolved() {
	if m == nil {
		return
	}
	m.dissolved.Inc()
}

// Middleware samples every request after chi has resolved its route, so
// batch and item ids never become label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.code())).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(started).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
