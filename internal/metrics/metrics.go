// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal          *prometheus.CounterVec
	retriesTotal           *prometheus.CounterVec
	rateLimitDelaySeconds  prometheus.Histogram
	pagesTotal             *prometheus.CounterVec
	reviewsTotal           prometheus.Counter
	entitiesTotal          *prometheus.CounterVec
	sinkFailuresTotal      *prometheus.CounterVec
	activeWorkers          prometheus.Gauge
	checkpointFlushesTotal *prometheus.CounterVec
	entityDurationSeconds  prometheus.Histogram
	statusRequestSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_requests_total",
				Help: "Remote API request attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_request_retries_total",
				Help: "Scheduled retries, labeled by failure reason.",
			},
			[]string{"reason"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of rate limiter waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Review pages walked, labeled by result (records, empty, failed).",
			},
			[]string{"result"},
		)

		reviewsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_reviews_total",
				Help: "Review records collected.",
			},
		)

		entitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_entities_total",
				Help: "Entities finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sinkFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_sink_failures_total",
				Help: "Sink write failures, labeled by sink.",
			},
			[]string{"sink"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently processing an entity.",
			},
		)

		checkpointFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_checkpoint_flushes_total",
				Help: "Checkpoint flushes, labeled by status.",
			},
			[]string{"status"},
		)

		entityDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_entity_duration_seconds",
				Help:    "Wall time spent on one entity.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		statusRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_status_http_request_duration_seconds",
				Help:    "Status server request latency, labeled by method, route, and status code.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRequest counts one API request attempt.
func ObserveRequest(outcome string) {
	Init()
	requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one scheduled retry.
func ObserveRetry(reason string) {
	Init()
	retriesTotal.WithLabelValues(reason).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(d time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObservePage counts one walked page and the records it carried.
func ObservePage(result string, records int) {
	Init()
	pagesTotal.WithLabelValues(result).Inc()
	if records > 0 {
		reviewsTotal.Add(float64(records))
	}
}

// ObserveEntity counts one finished entity.
func ObserveEntity(outcome string, d time.Duration) {
	Init()
	entitiesTotal.WithLabelValues(outcome).Inc()
	entityDurationSeconds.Observe(d.Seconds())
}

// ObserveSinkFailure counts one failed sink write.
func ObserveSinkFailure(sink string) {
	Init()
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}

// ObserveCheckpointFlush counts one checkpoint flush attempt.
func ObserveCheckpointFlush(status string) {
	Init()
	checkpointFlushesTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveStatusRequest records one status server request.
func ObserveStatusRequest(method, route string, status int, d time.Duration) {
	Init()
	statusRequestSeconds.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
