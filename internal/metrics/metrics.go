// Package metrics exposes Prometheus collectors for the persona service.
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
	transformJobsTotal         *prometheus.CounterVec
	transformStageSeconds      *prometheus.HistogramVec
	transformCacheOpsTotal     *prometheus.CounterVec
	transformActiveWorkers     prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		transformJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persona_transform_jobs_total",
				Help: "Total number of transformation jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		transformStageSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "persona_transform_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		)

		transformCacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persona_transform_cache_ops_total",
				Help: "Total result cache lookups, labeled by outcome (hit/miss).",
			},
			[]string{"outcome"},
		)

		transformActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "persona_transform_active_workers",
				Help: "Number of workers currently processing a job.",
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	if transformJobsTotal == nil {
		return
	}
	transformJobsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records the duration of a pipeline stage.
func ObserveStage(stage string, duration time.Duration) {
	if transformStageSeconds == nil {
		return
	}
	transformStageSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveCacheLookup increments the cache hit/miss counter.
func ObserveCacheLookup(hit bool) {
	if transformCacheOpsTotal == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	transformCacheOpsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if transformActiveWorkers == nil {
		return
	}
	transformActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if transformActiveWorkers == nil {
		return
	}
	transformActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
