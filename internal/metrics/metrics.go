// Package metrics exposes Prometheus collectors for the HTTP control surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	artifactDownloadsTotal     *prometheus.CounterVec
	configRejectedFieldsTotal  *prometheus.CounterVec
	stalenessChecksTotal       *prometheus.CounterVec

	once sync.Once
)

// knownTargets bounds the label cardinality of artifact downloads.
var knownTargets = map[string]string{
	"analysis":     "analysis",
	"analysisjson": "analysis",
	"csv":          "csv",
	"pricingcsv":   "csv",
	"history":      "history",
	"log":          "log",
}

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewise_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricewise_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		artifactDownloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewise_artifact_downloads_total",
				Help: "Artifact download attempts, labeled by target and outcome.",
			},
			[]string{"target", "outcome"},
		)

		configRejectedFieldsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewise_config_rejected_fields_total",
				Help: "Scraper config fields dropped during validation.",
			},
			[]string{"field"},
		)

		stalenessChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricewise_staleness_checks_total",
				Help: "Staleness evaluations, labeled by reason.",
			},
			[]string{"reason"},
		)
	})
}

// SanitizeTarget maps an artifact target to a bounded label value.
func SanitizeTarget(target string) string {
	if label, ok := knownTargets[strings.ToLower(strings.TrimSpace(target))]; ok {
		return label
	}
	return "other"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveArtifactDownload records an artifact request outcome (ok, missing, error).
func ObserveArtifactDownload(target, outcome string) {
	if artifactDownloadsTotal == nil {
		return
	}
	artifactDownloadsTotal.WithLabelValues(SanitizeTarget(target), outcome).Inc()
}

// ObserveConfigRejections counts each rejected config field.
func ObserveConfigRejections(fields []string) {
	if configRejectedFieldsTotal == nil {
		return
	}
	for _, f := range fields {
		configRejectedFieldsTotal.WithLabelValues(f).Inc()
	}
}

// ObserveStalenessCheck records the reason returned by a staleness evaluation.
func ObserveStalenessCheck(reason string) {
	if stalenessChecksTotal == nil {
		return
	}
	if reason == "" {
		reason = "fresh"
	}
	stalenessChecksTotal.WithLabelValues(reason).Inc()
}
