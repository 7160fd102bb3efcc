// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Device API calls (Hikvision ISAPI)
// - Event pagination and classification
// - Attendance aggregation and database writes (DuckDB)
// - Sync orchestration
// - HTTP API endpoint latency and throughput

var (
	// Device Client Metrics
	DeviceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "device_request_duration_seconds",
			Help:    "Duration of Hikvision device API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"device"},
	)

	DeviceRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_request_errors_total",
			Help: "Total number of device API call failures",
		},
		[]string{"device", "error_type"}, // "auth_expired", "http", "timeout", "malformed"
	)

	DeviceAuthRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_auth_refreshes_total",
			Help: "Total number of digest session re-authentications",
		},
		[]string{"device"},
	)

	// Paginator Metrics
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_pages_fetched_total",
			Help: "Total number of event pages fetched from devices",
		},
		[]string{"device"},
	)

	PaginationAborts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_pagination_aborts_total",
			Help: "Total number of pagination runs aborted before completion",
		},
		[]string{"device", "reason"}, // "consecutive_errors", "max_pages", "cancelled"
	)

	EventsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_fetched_total",
			Help: "Total number of access events fetched from devices",
		},
		[]string{"device"},
	)

	// Classifier Metrics
	EventsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_classified_total",
			Help: "Total number of events classified by punch type",
		},
		[]string{"punch_type"}, // "check_in", "check_out", "break_out", "break_in", "overtime_in", "overtime_out", "unknown"
	)

	// Aggregator Metrics
	AggregatedDays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_aggregated_days_total",
			Help: "Total number of (employee, day) attendance rows produced by aggregation",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_events_dropped_total",
			Help: "Total number of events dropped during aggregation",
		},
		[]string{"reason"}, // "no_employee_id", "no_event_time", "no_punch_times"
	)

	// Writer Metrics
	RecordsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_records_inserted_total",
			Help: "Total number of new attendance rows inserted",
		},
	)

	RecordsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_records_updated_total",
			Help: "Total number of existing attendance rows merged",
		},
	)

	RecordsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_records_failed_total",
			Help: "Total number of attendance rows that failed to persist",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	// Checkpoint Store Metrics
	CheckpointReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_reads_total",
			Help: "Total number of checkpoint store reads",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	CheckpointWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkpoint_writes_total",
			Help: "Total number of checkpoint store writes",
		},
	)

	// Sync Orchestration Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of full sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"outcome"}, // "success", "partial", "failure", "skipped"
	)

	SyncDevicesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_devices_failed_total",
			Help: "Total number of per-device failures across sync runs",
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful sync",
		},
	)

	SyncInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_in_progress",
			Help: "Whether a sync run is currently executing (0 or 1)",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Application Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDeviceRequest records a device API call metric.
func RecordDeviceRequest(device string, duration time.Duration, errorType string) {
	DeviceRequestDuration.WithLabelValues(device).Observe(duration.Seconds())
	if errorType != "" {
		DeviceRequestErrors.WithLabelValues(device, errorType).Inc()
	}
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSyncRun records the outcome and duration of a full sync run.
func RecordSyncRun(duration time.Duration, outcome string) {
	SyncDuration.Observe(duration.Seconds())
	SyncRunsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" || outcome == "partial" {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordWriteReport records writer outcome counts for one sync run.
func RecordWriteReport(inserted, updated, failed int) {
	RecordsInserted.Add(float64(inserted))
	RecordsUpdated.Add(float64(updated))
	RecordsFailed.Add(float64(failed))
}
