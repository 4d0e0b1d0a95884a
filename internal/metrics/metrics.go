// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package metrics provides Prometheus instrumentation for the command audit
// core: ingestion throughput, per-backend query latency, merge fan-out
// behavior, alert dispatch, and HTTP request tracking.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	CommandsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "commands_ingested_total",
			Help: "Total number of command records durably written",
		},
	)

	IngestValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_validation_failures_total",
			Help: "Total number of rejected ingestion batches",
		},
	)

	IngestWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_write_failures_total",
			Help: "Total number of default-backend write failures",
		},
	)

	// Query metrics
	BackendQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_query_duration_seconds",
			Help:    "Duration of per-backend command queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	MergeBackendsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merge_backends_skipped_total",
			Help: "Backends skipped during merge-mode fan-out (invalid or failed)",
		},
	)

	MergeRecords = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "merge_materialized_records",
			Help:    "Records materialized in memory per merge-mode query",
			Buckets: []float64{10, 100, 1000, 10000, 100000},
		},
	)

	// Alert metrics
	AlertsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_dispatched_total",
			Help: "Total number of high-risk command alerts handed to the dispatcher",
		},
	)

	AlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_dropped_total",
			Help: "Alerts dropped because the dispatch queue was full",
		},
	)

	AlertPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_publish_errors_total",
			Help: "Failed alert publishes (best-effort, never surfaced to callers)",
		},
	)

	// HTTP metrics
	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	apiActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Number of API requests currently in flight",
		},
	)
)

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, path string, status int, duration time.Duration) {
	apiRequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		apiActiveRequests.Inc()
	} else {
		apiActiveRequests.Dec()
	}
}

// ObserveBackendQuery records the duration of one backend query.
func ObserveBackendQuery(backend string, start time.Time) {
	BackendQueryDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}
