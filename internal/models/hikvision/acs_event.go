// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

// Package hikvision defines the wire structures of the Hikvision ISAPI
// access-control event search endpoint
// (POST /ISAPI/AccessControl/AcsEvent?format=json).
//
// Field names mirror the vendor JSON exactly. Nullable vendor fields use
// pointer types so that absent and zero values stay distinguishable;
// firmware versions differ in which identity fields they populate.
package hikvision

// AcsEventCond is the search condition posted to the device.
//
// searchID must be unique per logical search: devices cache result cursors
// keyed by it, and reusing an identifier across overlapping searches returns
// stale pages. searchResultPosition is a zero-based offset into the full
// result set, advanced by numOfMatches after each page.
type AcsEventCond struct {
	SearchID             string `json:"searchID"`
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
	Major                int    `json:"major"`
	Minor                int    `json:"minor"`

	// StartTime and EndTime are ISO-8601 strings in the device's local
	// zone, e.g. "2026-08-31T00:00:00+07:00".
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// AcsEventRequest is the JSON body wrapper the device expects.
type AcsEventRequest struct {
	AcsEventCond AcsEventCond `json:"AcsEventCond"`
}

// AcsEventResponse is the top-level response wrapper.
type AcsEventResponse struct {
	AcsEvent AcsEvent `json:"AcsEvent"`
}

// AcsEvent is one page of search results.
//
// ResponseStatusStrg is "OK" when this page completes the search, "MORE"
// when further pages remain, and "NO MATCH" when the window holds no events.
type AcsEvent struct {
	SearchID           string         `json:"searchID"`
	ResponseStatusStrg string         `json:"responseStatusStrg"`
	NumOfMatches       int            `json:"numOfMatches"`
	TotalMatches       int            `json:"totalMatches"`
	InfoList           []AcsEventInfo `json:"InfoList"`
}

// Page status values reported in ResponseStatusStrg.
const (
	StatusOK      = "OK"
	StatusMore    = "MORE"
	StatusNoMatch = "NO MATCH"
)

// AcsEventInfo is a single raw access event.
type AcsEventInfo struct {
	// Major and Minor form the vendor event code pair. Major 5 is the
	// attendance event class on access controllers.
	Major int `json:"major"`
	Minor int `json:"minor"`

	// Time is an ISO-8601 timestamp string in the device's configured
	// zone. Not normalized here; parsing happens in the classifier.
	Time string `json:"time"`

	// Identity fields. Resolution priority is EmployeeNoString, then
	// CardNo, then the numeric EmployeeNo. Which ones are populated
	// depends on firmware and enrollment method.
	EmployeeNoString *string `json:"employeeNoString,omitempty"`
	CardNo           *string `json:"cardNo,omitempty"`
	EmployeeNo       *int64  `json:"employeeNo,omitempty"`

	Name *string `json:"name,omitempty"`

	// AttendanceStatus is a free-text vendor label such as "checkIn",
	// "checkOut", "breakOut", "breakIn". Empty or absent on devices not
	// configured for attendance modes.
	AttendanceStatus *string `json:"attendanceStatus,omitempty"`

	// Label is an alternate status field some firmware emits instead of
	// attendanceStatus.
	Label *string `json:"label,omitempty"`

	// CardReaderNo identifies the reader that produced the punch. Used as
	// the last classification fallback on installations that dedicate
	// readers to in/out directions.
	CardReaderNo *int `json:"cardReaderNo,omitempty"`

	DoorNo   *int    `json:"doorNo,omitempty"`
	SerialNo *int64  `json:"serialNo,omitempty"`
	UserType *string `json:"userType,omitempty"`

	// CurrentVerifyMode describes how the person authenticated, e.g.
	// "cardOrFaceOrFp".
	CurrentVerifyMode *string `json:"currentVerifyMode,omitempty"`

	// PictureURL is the snapshot captured at the punch, when the device
	// has a camera and picture storage enabled.
	PictureURL *string `json:"pictureURL,omitempty"`
}
