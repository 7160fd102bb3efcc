// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncOutcome describes how a sync run ended.
type SyncOutcome string

const (
	// SyncSuccess means every device was fetched and every record written.
	SyncSuccess SyncOutcome = "success"

	// SyncPartial means at least one device or record failed but the run
	// still produced persisted data.
	SyncPartial SyncOutcome = "partial"

	// SyncFailure means no device produced usable data.
	SyncFailure SyncOutcome = "failure"

	// SyncSkipped means the run was refused because another was in flight.
	SyncSkipped SyncOutcome = "skipped"
)

// DeviceReport summarizes one device's contribution to a sync run.
type DeviceReport struct {
	Device     string `json:"device"`
	Pages      int    `json:"pages"`
	Events     int    `json:"events"`
	Classified int    `json:"classified"`
	Unknown    int    `json:"unknown"`

	// Error is the device-level failure, empty when the device synced
	// cleanly. A failed device never aborts the run; other devices still
	// settle.
	Error string `json:"error,omitempty"`
}

// WriteReport summarizes the reconciling writer's outcome for one run.
type WriteReport struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// SyncRun is the full report of one orchestrated sync pass. It is returned
// by the API status endpoint and logged at completion.
type SyncRun struct {
	ID         uuid.UUID      `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    SyncOutcome    `json:"outcome"`
	Window     SyncWindow     `json:"window"`
	Devices    []DeviceReport `json:"devices"`
	Writes     WriteReport    `json:"writes"`
}

// SyncWindow is the half-open time range a run fetched events for.
type SyncWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SyncOptions narrows a manually triggered run. The zero value means the
// default window (the current day in local time, up to now) across every
// configured device.
type SyncOptions struct {
	// Window overrides the fetch range. A zero Start and End selects the
	// default; a zero End alone means "up to now".
	Window SyncWindow

	// Devices restricts the run to the named devices. Empty means all.
	Devices []string
}
