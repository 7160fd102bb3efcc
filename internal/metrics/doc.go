// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

// Package metrics defines the Prometheus instrumentation for Hiksync.
//
// All metrics are registered at package load time via promauto and exposed
// by the HTTP server on GET /metrics. Recording helpers (RecordDeviceRequest,
// RecordSyncRun, RecordWriteReport, ...) bound label cardinality so that a
// misbehaving device or a noisy error path cannot explode the series count.
//
// Naming follows the Prometheus conventions: *_total for counters,
// *_seconds for durations, plain gauges for point-in-time state.
package metrics
