// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

// Package models defines the data structures shared across the Hiksync
// pipeline: classified access events, daily attendance records, and sync
// run reports.

package models

import "time"

// MultipleDevices is the sentinel device identifier stored when punches for
// the same employee and day originate from more than one physical device.
const MultipleDevices = "multiple"

// PunchType classifies an access event by its attendance meaning.
type PunchType string

const (
	PunchCheckIn     PunchType = "check_in"
	PunchCheckOut    PunchType = "check_out"
	PunchBreakOut    PunchType = "break_out"
	PunchBreakIn     PunchType = "break_in"
	PunchOvertimeIn  PunchType = "overtime_in"
	PunchOvertimeOut PunchType = "overtime_out"
	PunchUnknown     PunchType = "unknown"
)

// AccessEvent is a single classified punch from a device.
//
// It is the normalized form of a raw Hikvision event: the employee identity
// has been resolved through the fallback chain (employeeNoString, then
// cardNo, then numeric employeeNo), the punch type has been classified, and
// the originating device identifier has been attached by the paginator.
type AccessEvent struct {
	// EmployeeID is the resolved employee identifier. Never empty for
	// events that reach aggregation.
	EmployeeID string `json:"employee_id"`

	// Name is the display name reported by the device. May be empty.
	Name string `json:"name,omitempty"`

	// Time is the punch timestamp after applying the device's configured
	// clock offset.
	Time time.Time `json:"time"`

	// Punch is the classified attendance meaning of this event.
	Punch PunchType `json:"punch"`

	// DeviceID identifies the device the event was fetched from.
	DeviceID string `json:"device_id"`

	// PhotoURL is the snapshot picture reference, when the device captured
	// one.
	PhotoURL string `json:"photo_url,omitempty"`
}

// AttendanceRecord is one employee's attendance for one calendar day.
//
// Identity is (EmployeeID, Day); the database enforces it as the primary
// key. The four punch times follow the earliest-start latest-end policy:
// CheckIn and BreakOut keep the minimum observed time for the day, CheckOut
// and BreakIn keep the maximum. A record with all four times null is never
// persisted.
type AttendanceRecord struct {
	EmployeeID string `json:"employee_id"`

	// Day is the calendar date the punches belong to, truncated to
	// midnight in the device's local zone.
	Day time.Time `json:"day"`

	// Name is the employee display name. Resolution order: the name seen
	// on events for this day, then the name already stored for this
	// employee, then "Unknown".
	Name string `json:"name"`

	CheckIn  *time.Time `json:"check_in,omitempty"`
	CheckOut *time.Time `json:"check_out,omitempty"`
	BreakOut *time.Time `json:"break_out,omitempty"`
	BreakIn  *time.Time `json:"break_in,omitempty"`

	// DeviceID is the originating device, or MultipleDevices when the
	// day's punches span devices.
	DeviceID string `json:"device_id,omitempty"`

	// Department is an optional organizational label carried through from
	// configuration or an earlier import.
	Department string `json:"department,omitempty"`

	PhotoURL string `json:"photo_url,omitempty"`

	// Flagged marks records with suspicious shape, such as a check-in and
	// check-out at the same instant. Flagged records are persisted and
	// surfaced for review rather than dropped.
	Flagged bool `json:"flagged"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAnyTime reports whether at least one of the four punch times is set.
func (r *AttendanceRecord) HasAnyTime() bool {
	return r.CheckIn != nil || r.CheckOut != nil || r.BreakOut != nil || r.BreakIn != nil
}
