// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bibliored"

var (
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of searches by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"source"},
	)

	sharedSearchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_shared_total",
			Help:      "Searches answered by another caller's in-flight catalog fetch",
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by match kind and status",
		},
		[]string{"match", "status"},
	)

	cacheInsertedBooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_inserted_books_total",
			Help:      "Books written to the cache by insert status",
		},
		[]string{"status"},
	)

	upstreamAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_attempts_total",
			Help:      "Upstream catalog request attempts by outcome",
		},
		[]string{"outcome"},
	)

	upstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_attempt_duration_seconds",
			Help:      "Upstream catalog request latency per attempt in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	maintenanceDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_maintenance_deleted_total",
			Help:      "Cached books removed by maintenance operation",
		},
		[]string{"operation"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// ObserveSearch records one completed search.
func ObserveSearch(source, outcome string, took time.Duration, shared bool) {
	searchesTotal.WithLabelValues(source, outcome).Inc()
	searchDuration.WithLabelValues(source).Observe(took.Seconds())
	if shared {
		sharedSearchesTotal.Inc()
	}
}

// ObserveCacheLookup records a cache lookup result.
func ObserveCacheLookup(match, status string) {
	cacheLookupsTotal.WithLabelValues(match, status).Inc()
}

// ObserveCacheInsert records books written by a cache insert.
func ObserveCacheInsert(status string, books int) {
	cacheInsertedBooks.WithLabelValues(status).Add(float64(books))
}

// ObserveCatalogAttempt records one upstream request attempt.
func ObserveCatalogAttempt(outcome string, took time.Duration) {
	upstreamAttemptsTotal.WithLabelValues(outcome).Inc()
	upstreamDuration.Observe(took.Seconds())
}

// ObserveMaintenance records rows removed by a maintenance operation.
func ObserveMaintenance(operation string, deleted int64) {
	maintenanceDeleted.WithLabelValues(operation).Add(float64(deleted))
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, path string, status int, took time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(took.Seconds())
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
