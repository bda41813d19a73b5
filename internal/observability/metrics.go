// Package observability collects Prometheus metrics for the gateway.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcome labels.
const (
	LoginOK        = "ok"
	LoginRejected  = "rejected"
	LoginTransport = "transport"
	LoginConflict  = "conflict"
)

// Route cache operation labels.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheStore    = "store"
	CacheEviction = "eviction"
)

// Metrics aggregates the Prometheus registry and the gateway's metric
// families.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	loginsTotal     *prometheus.CounterVec
	rehydrations    prometheus.Counter
	teardowns       *prometheus.CounterVec
	routeCacheOps   *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metric families.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_logins_total",
		Help: "Login attempts by outcome.",
	}, []string{"outcome"})
	rehydrations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_session_rehydrations_total",
		Help: "Sessions rehydrated from persistence at startup.",
	})
	teardowns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_session_teardowns_total",
		Help: "Session teardowns by reason.",
	}, []string{"reason"})
	cacheOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_route_cache_operations_total",
		Help: "Route cache operations by kind.",
	}, []string{"op"})
	registry.MustRegister(requests, duration, logins, rehydrations, teardowns, cacheOps)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		loginsTotal:     logins,
		rehydrations:    rehydrations,
		teardowns:       teardowns,
		routeCacheOps:   cacheOps,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveLogin counts a login attempt by outcome.
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRehydration counts a successful startup rehydration.
func (m *Metrics) ObserveRehydration() {
	if m == nil {
		return
	}
	m.rehydrations.Inc()
}

// ObserveTeardown counts a session teardown by reason.
func (m *Metrics) ObserveTeardown(reason string) {
	if m == nil {
		return
	}
	m.teardowns.WithLabelValues(reason).Inc()
}

// ObserveRouteCache counts a route cache operation.
func (m *Metrics) ObserveRouteCache(op string) {
	if m == nil {
		return
	}
	m.routeCacheOps.WithLabelValues(op).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
