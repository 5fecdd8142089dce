// Package metrics exposes Prometheus collectors for the scraping service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Total number of upstream fetches, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	scraperCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_cache_hits_total",
			Help: "Total number of cache lookups served from a resident entry.",
		},
	)

	scraperCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_cache_misses_total",
			Help: "Total number of cache lookups that required population.",
		},
	)

	scraperCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_cache_evictions_total",
			Help: "Total number of entries evicted under capacity pressure.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// ObserveFetch increments the upstream fetch counter.
func ObserveFetch(kind, outcome string) {
	scraperFetchesTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveCacheHit increments the cache hit counter.
func ObserveCacheHit() {
	scraperCacheHitsTotal.Inc()
}

// ObserveCacheMiss increments the cache miss counter.
func ObserveCacheMiss() {
	scraperCacheMissesTotal.Inc()
}

// ObserveCacheEviction increments the eviction counter.
func ObserveCacheEviction() {
	scraperCacheEvictionsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
