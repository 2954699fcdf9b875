// Package metrics exposes Prometheus collectors for the freshness pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectorCandidatesTotal   *prometheus.CounterVec
	enqueueTotal               *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	sequenceAttemptsTotal      *prometheus.CounterVec
	decayScore                 prometheus.Histogram
	decaySignalFallbacksTotal  *prometheus.CounterVec
	probesTotal                *prometheus.CounterVec
	jobRunsTotal               *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	robotsTLSHandshakeTimeouts prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	embeddingCacheLookupsTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		connectorCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_connector_candidates_total",
				Help: "Candidates returned by each connector, labeled by result.",
			},
			[]string{"connector", "result"},
		)

		enqueueTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pending_enqueue_total",
				Help: "Enqueue attempts, labeled by outcome (added, skipped, error).",
			},
			[]string{"outcome"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_items_total",
				Help: "Pending items processed, labeled by final status.",
			},
			[]string{"status"},
		)

		sequenceAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_sequence_attempts_total",
				Help: "Extract/embed/score/persist attempts, labeled by result.",
			},
			[]string{"result"},
		)

		decayScore = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "decay_probability",
				Help:    "Distribution of decay probabilities assigned at save time.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		)

		decaySignalFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decay_signal_fallbacks_total",
				Help: "Decay signals that used their fallback value, labeled by signal.",
			},
			[]string{"signal"},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decay_probes_total",
				Help: "Liveness probes, labeled by outcome (alive, decayed, error).",
			},
			[]string{"outcome"},
		)

		jobRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_job_runs_total",
				Help: "Scheduled job runs, labeled by job and status (ok, error, skipped).",
			},
			[]string{"job", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_job_duration_seconds",
				Help:    "Histogram of job run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
			},
			[]string{"job"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "batch_active_workers",
				Help: "Number of workers currently processing a pending item.",
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

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetcher_requests_total",
				Help: "Outbound fetches, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetcher_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		robotsTLSHandshakeTimeouts = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fetcher_robots_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetcher_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		embeddingCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_cache_lookups_total",
				Help: "Embedding cache lookups, labeled by result (hit, miss).",
			},
			[]string{"result"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveConnector records how many candidates a connector produced.
func ObserveConnector(connector string, count int, fallback bool) {
	Init()
	result := "ok"
	if fallback {
		result = "fallback"
	}
	connectorCandidatesTotal.WithLabelValues(connector, result).Add(float64(count))
}

// ObserveEnqueue increments the enqueue counter for the given outcome.
func ObserveEnqueue(outcome string) {
	Init()
	enqueueTotal.WithLabelValues(outcome).Inc()
}

// ObserveItem increments the item counter for the given final status.
func ObserveItem(status string) {
	Init()
	itemsTotal.WithLabelValues(status).Inc()
}

// ObserveSequenceAttempt records one attempt of the processing sequence.
func ObserveSequenceAttempt(success bool) {
	Init()
	result := "success"
	if !success {
		result = "failure"
	}
	sequenceAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveDecayScore records a decay probability.
func ObserveDecayScore(score float64) {
	Init()
	decayScore.Observe(score)
}

// ObserveSignalFallback counts a decay signal that used its fallback value.
func ObserveSignalFallback(signal string) {
	Init()
	decaySignalFallbacksTotal.WithLabelValues(signal).Inc()
}

// ObserveProbe counts a liveness probe outcome.
func ObserveProbe(outcome string) {
	Init()
	probesTotal.WithLabelValues(outcome).Inc()
}

// ObserveJobRun records a scheduled job run and, when it ran, its duration.
func ObserveJobRun(job, status string, duration time.Duration) {
	Init()
	jobRunsTotal.WithLabelValues(job, status).Inc()
	if status != "skipped" {
		jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
	}
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetch records an outbound fetch.
func ObserveFetch(site string, statusCode int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchesTotal.WithLabelValues(sanitizedSite, statusClass(statusCode)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRobotsTLSHandshakeTimeout increments the robots.txt handshake timeout counter.
func ObserveRobotsTLSHandshakeTimeout() {
	Init()
	robotsTLSHandshakeTimeouts.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveEmbeddingCache counts an embedding cache lookup.
func ObserveEmbeddingCache(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	embeddingCacheLookupsTotal.WithLabelValues(result).Inc()
}

func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
