// Package metrics exposes Prometheus collectors for the extraction service,
// grounded on the teacher's internal/metrics/metrics.go: package-level
// collectors created once via a sync.Once Init, with small Observe*
// helpers hiding label construction from callers.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapesTotal           *prometheus.CounterVec
	jobsTotal              *prometheus.CounterVec
	ssrfBlockedTotal       prometheus.Counter
	rateLimitedTotal       prometheus.Counter
	fetchDurationSeconds   *prometheus.HistogramVec
	extractDurationSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webextract_scrapes_total",
				Help: "Total number of scrape attempts, labeled by cache hit, renderer, and error code.",
			},
			[]string{"cached", "renderer", "error_code"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webextract_jobs_total",
				Help: "Total number of background jobs processed, labeled by type and terminal status.",
			},
			[]string{"type", "status"},
		)

		ssrfBlockedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webextract_ssrf_blocked_total",
				Help: "Total number of requests rejected by the SSRF guard.",
			},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webextract_rate_limited_total",
				Help: "Total number of requests rejected by the per-key rate limiter.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webextract_fetch_duration_seconds",
				Help:    "Histogram of fetch durations, labeled by renderer.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"renderer"},
		)

		extractDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webextract_extract_duration_seconds",
				Help:    "Histogram of LLM extraction durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
			},
		)
	})
}

// Handler exposes the registered collectors over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScrape records the outcome of one scrape attempt.
func ObserveScrape(cached bool, renderer, errorCode string) {
	scrapesTotal.WithLabelValues(boolLabel(cached), renderer, errorCode).Inc()
}

// ObserveJob records a job's terminal status.
func ObserveJob(jobType, status string) {
	jobsTotal.WithLabelValues(jobType, status).Inc()
}

// IncSSRFBlocked increments the SSRF-guard rejection counter.
func IncSSRFBlocked() {
	ssrfBlockedTotal.Inc()
}

// IncRateLimited increments the rate-limiter rejection counter.
func IncRateLimited() {
	rateLimitedTotal.Inc()
}

// ObserveFetchDuration records a fetch's wall-clock duration.
func ObserveFetchDuration(renderer string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(renderer).Observe(d.Seconds())
}

// ObserveExtractDuration records an LLM extraction's wall-clock duration.
func ObserveExtractDuration(d time.Duration) {
	extractDurationSeconds.Observe(d.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
