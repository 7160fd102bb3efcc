// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

// Package sync implements the attendance synchronization pipeline: it
// fetches access events from Hikvision devices over ISAPI, classifies them
// into punches, aggregates them into daily attendance records, and writes
// the result through the reconciling database layer.
//
// The pipeline stages are:
//
//	DeviceClient -> Paginator -> Classifier -> Aggregator -> Store
//
// The Manager orchestrates the stages, fanning out to all configured
// devices in parallel and letting every device settle before the combined
// aggregate is written.
package sync
