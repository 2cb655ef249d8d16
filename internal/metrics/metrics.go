// Package metrics holds the Prometheus collectors shared by the gateway
// components. Collectors register with the default registry on init and are
// served by the HTTP API on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts counts attempts per operation label and outcome.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgate_retry_attempts_total",
		Help: "Retry executor attempts by label and outcome",
	}, []string{"label", "outcome"})

	// BreakerState exposes 0=closed, 1=half-open, 2=open per breaker.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "docgate_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgate_circuit_breaker_rejections_total",
		Help: "Calls rejected while a circuit was open",
	}, []string{"name"})

	RateLimitWaits = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docgate_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"class"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgate_cache_lookups_total",
		Help: "Document cache lookups by result",
	}, []string{"result"})

	SyncChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgate_sync_changes_total",
		Help: "Changes produced by the sync monitor by type",
	}, []string{"type"})

	SanitizerFlags = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docgate_sanitizer_flagged_total",
		Help: "Documents flagged by the content sanitizer",
	})

	SecretFindings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgate_secret_findings_total",
		Help: "Secret scanner findings by severity",
	}, []string{"severity"})

	GatewayOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgate_gateway_outcomes_total",
		Help: "Gateway transformation outcomes",
	}, []string{"outcome"})

	IngestDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgate_ingest_documents_total",
		Help: "Documents handled by the ingest pipeline by outcome",
	}, []string{"outcome"})

	ReviewsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "docgate_reviews_pending",
		Help: "Review items currently pending",
	})
)
