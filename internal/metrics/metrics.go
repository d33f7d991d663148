// Package metrics exposes Prometheus collectors for the sourcing service.
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
	sourcerPagesTotal                    *prometheus.CounterVec
	sourcerBytesTotal                    *prometheus.CounterVec
	httpRequestsTotal                    *prometheus.CounterVec
	httpRequestDurationSeconds           *prometheus.HistogramVec
	sourcerProbeTLSHandshakeTimeoutTotal prometheus.Counter
	sourcerRunsTotal                     *prometheus.CounterVec
	sourcerActiveWorkers                 prometheus.Gauge
	sourcerRateLimitDelaysSeconds        *prometheus.HistogramVec
	sourcerUpstreamRequestsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourcerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_pages_total",
				Help: "Total number of search pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		sourcerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		sourcerProbeTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sourcer_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		sourcerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_worker_runs_total",
				Help: "Total number of queued runs processed by workers, labeled by status.",
			},
			[]string{"status"},
		)

		sourcerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sourcer_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)

		sourcerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sourcer_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		sourcerUpstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sourcer_upstream_requests_total",
				Help: "Paid API requests, labeled by source and HTTP status code.",
			},
			[]string{"source", "code"},
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
	return promhttp.Handler()
}

// ObserveFetch increments the page fetch metrics.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	sourcerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		sourcerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveUpstream counts one paid API response. code 0 means a transport error.
func ObserveUpstream(source string, code int) {
	Init()
	sourcerUpstreamRequestsTotal.WithLabelValues(source, strconv.Itoa(code)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	sourcerProbeTLSHandshakeTimeoutTotal.Inc()
}

// ObserveRun increments the worker run counter for the given status.
func ObserveRun(status string) {
	Init()
	sourcerRunsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	sourcerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	sourcerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	sourcerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
