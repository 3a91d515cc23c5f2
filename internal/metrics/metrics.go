// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package metrics registers the Prometheus collectors used across StateSync.
//
// Collectors are package-level and registered with promauto on the default
// registry, which the webhook server exposes on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation Metrics
	ReconcileItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_reconcile_items_total",
			Help: "Per-item reconciliation outcomes",
		},
		[]string{"backend", "action", "type", "outcome"},
	)

	ReconcileRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statesync_reconcile_run_duration_seconds",
			Help:    "Duration of reconciliation runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		},
		[]string{"backend", "action"},
	)

	ReconcileRunErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_reconcile_run_errors_total",
			Help: "Reconciliation runs that returned a failed result",
		},
		[]string{"backend", "action"},
	)

	ReconcileLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statesync_reconcile_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run",
		},
		[]string{"backend", "action"},
	)

	// Write Queue Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statesync_queue_depth",
			Help: "Write requests staged and not yet dispatched",
		},
	)

	QueueDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_queue_dispatched_total",
			Help: "Dispatched write requests by result",
		},
		[]string{"backend", "purpose", "result"}, // result: "success", "failure"
	)

	// Backend Request Metrics
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_backend_requests_total",
			Help: "Outbound backend HTTP requests",
		},
		[]string{"backend", "method", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statesync_backend_request_duration_seconds",
			Help:    "Outbound backend HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "method"},
	)

	BackendRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_backend_retries_total",
			Help: "Retries after 429/503 responses",
		},
		[]string{"backend"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_cache_hits_total",
			Help: "Metadata cache hits",
		},
		[]string{"backend", "kind"}, // kind: "meta", "show"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_cache_misses_total",
			Help: "Metadata cache misses",
		},
		[]string{"backend", "kind"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statesync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Webhook Metrics
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_webhook_requests_total",
			Help: "Inbound webhook requests by HTTP status written",
		},
		[]string{"backend", "status"},
	)

	// Event Bus Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_events_published_total",
			Help: "Events published on the bus",
		},
		[]string{"topic"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_events_consumed_total",
			Help: "Events consumed from the bus",
		},
		[]string{"topic"},
	)

	PendingItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "statesync_pending_items",
			Help: "Items touched by webhooks and waiting for push",
		},
	)

	// Store Metrics
	StoreCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statesync_store_commit_items_total",
			Help: "Items written by store commits",
		},
		[]string{"type", "result"}, // result: "added", "updated", "unchanged"
	)
)

// RecordOutcome counts one reconciliation decision.
func RecordOutcome(backend, action, itemType, outcome string) {
	ReconcileItems.WithLabelValues(backend, action, itemType, outcome).Inc()
}

// RecordRun records a finished run.
func RecordRun(backend, action string, duration time.Duration, success bool) {
	ReconcileRunDuration.WithLabelValues(backend, action).Observe(duration.Seconds())
	if !success {
		ReconcileRunErrors.WithLabelValues(backend, action).Inc()
		return
	}
	ReconcileLastSuccess.WithLabelValues(backend, action).Set(float64(time.Now().Unix()))
}

// RecordBackendRequest records an outbound request. status 0 means a transport error.
func RecordBackendRequest(backend, method string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	BackendRequests.WithLabelValues(backend, method, label).Inc()
	BackendRequestDuration.WithLabelValues(backend, method).Observe(duration.Seconds())
}

// RecordDispatch records one dispatched write request.
func RecordDispatch(backend, purpose string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	QueueDispatched.WithLabelValues(backend, purpose, result).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(backend, kind string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(backend, kind).Inc()
		return
	}
	CacheMisses.WithLabelValues(backend, kind).Inc()
}

// RecordWebhook records the status written for one webhook request.
func RecordWebhook(backend string, status int) {
	WebhookRequests.WithLabelValues(backend, strconv.Itoa(status)).Inc()
}
