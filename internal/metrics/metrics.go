// Package metrics provides Prometheus instrumentation for the orderz server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only orderz metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Result labels shared by the engine counters.
const (
	ResultOK         = "ok"
	ResultIncomplete = "incomplete"
	ResultInvalid    = "invalid"
	ResultError      = "error"
)

// Metrics holds all Prometheus collectors used by the orderz server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	MetadataGenerations  *prometheus.CounterVec
	PricingRuns          *prometheus.CounterVec
	OrdersPlacedTotal    prometheus.Counter
	CatalogReloadsTotal  prometheus.Counter
	CatalogInvalidations prometheus.Counter
	CatalogRows          *prometheus.GaugeVec
	CatalogVersions      prometheus.Gauge
	RateLimitedTotal     *prometheus.CounterVec
}

// New creates and registers all orderz metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderz_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderz_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderz_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderz_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		MetadataGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderz_metadata_generations_total",
			Help: "Total number of product metadata generations by result.",
		}, []string{"result"}),

		PricingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderz_pricing_runs_total",
			Help: "Total number of order pricing pipeline runs by outcome.",
		}, []string{"outcome"}),

		OrdersPlacedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderz_orders_placed_total",
			Help: "Total number of orders persisted.",
		}),

		CatalogReloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderz_catalog_reloads_total",
			Help: "Total number of full catalog reloads from the database.",
		}),

		CatalogInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderz_catalog_invalidations_total",
			Help: "Total number of NOTIFY-triggered catalog invalidations.",
		}),

		CatalogRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderz_catalog_rows",
			Help: "Number of catalog rows held in memory by entity kind.",
		}, []string{"kind"}),

		CatalogVersions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderz_catalog_versions",
			Help: "Number of published catalog versions.",
		}),

		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderz_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		}, []string{"transport"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.MetadataGenerations,
		m.PricingRuns,
		m.OrdersPlacedTotal,
		m.CatalogReloadsTotal,
		m.CatalogInvalidations,
		m.CatalogRows,
		m.CatalogVersions,
		m.RateLimitedTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RouteFunc reports the route pattern that will serve r, e.g. the second
// return value of [http.ServeMux.Handler].
type RouteFunc func(r *http.Request) string

// HTTPMiddleware records request count and latency labelled by route
// pattern rather than raw path, so ids in URLs do not explode cardinality.
func (m *Metrics) HTTPMiddleware(route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pattern := route(r)
			if pattern == "" {
				pattern = "unmatched"
			}
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(recorder, r)
			code := strconv.Itoa(recorder.status)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, code).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, pattern, code).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		st, _ := status.FromError(err)
		code := st.Code().String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// RecordGeneration counts one metadata generation with the given result.
func (m *Metrics) RecordGeneration(result string) {
	m.MetadataGenerations.WithLabelValues(result).Inc()
}

// RecordPricing counts one pricing pipeline run with the given outcome.
func (m *Metrics) RecordPricing(outcome string) {
	m.PricingRuns.WithLabelValues(outcome).Inc()
}

// IncOrdersPlaced increments the placed order counter.
func (m *Metrics) IncOrdersPlaced() {
	m.OrdersPlacedTotal.Inc()
}

// IncCatalogReloads increments the catalog reload counter.
func (m *Metrics) IncCatalogReloads() {
	m.CatalogReloadsTotal.Inc()
}

// IncCatalogInvalidations increments the catalog invalidation counter.
func (m *Metrics) IncCatalogInvalidations() {
	m.CatalogInvalidations.Inc()
}

// SetCatalogSize replaces the catalog row gauges and the version gauge.
func (m *Metrics) SetCatalogSize(rowsByKind map[string]int, versions int) {
	m.CatalogRows.Reset()
	for kind, n := range rowsByKind {
		m.CatalogRows.WithLabelValues(kind).Set(float64(n))
	}
	m.CatalogVersions.Set(float64(versions))
}

// IncRateLimited counts a request rejected on the given transport.
func (m *Metrics) IncRateLimited(transport string) {
	m.RateLimitedTotal.WithLabelValues(transport).Inc()
}
