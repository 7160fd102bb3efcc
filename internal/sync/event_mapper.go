// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package sync

import (
	"strconv"
	"time"

	"github.com/Jorge-Tano/hiksync/internal/logging"
	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/models"
	"github.com/Jorge-Tano/hiksync/internal/models/hikvision"
)

// Timestamp layouts observed across firmware versions. Most devices emit
// RFC 3339 with a zone offset; a few older ones drop the offset entirely.
var eventTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// mapEvent normalizes one raw device event into an AccessEvent.
//
// Events without a resolvable employee identity or with an unparseable
// timestamp are dropped here, logged at debug, and counted; they cannot be
// aggregated into any day. Classification to PunchUnknown does not drop
// the event at this stage; the caller counts and filters those separately
// so the per-device report can tell the two apart.
func mapEvent(info *hikvision.AcsEventInfo, classifier *Classifier, device string, offset time.Duration) (models.AccessEvent, bool) {
	employeeID := resolveEmployeeID(info)
	if employeeID == "" {
		metrics.EventsDropped.WithLabelValues("no_employee_id").Inc()
		logging.Debug().
			Str("device", device).
			Str("time", info.Time).
			Msg("Dropping event without employee identity")
		return models.AccessEvent{}, false
	}

	eventTime, ok := parseEventTime(info.Time)
	if !ok {
		metrics.EventsDropped.WithLabelValues("no_event_time").Inc()
		logging.Debug().
			Str("device", device).
			Str("employee_id", employeeID).
			Str("time", info.Time).
			Msg("Dropping event with unparseable timestamp")
		return models.AccessEvent{}, false
	}

	event := models.AccessEvent{
		EmployeeID: employeeID,
		Time:       eventTime.Add(offset),
		Punch:      classifier.Classify(info),
		DeviceID:   device,
	}
	if info.Name != nil {
		event.Name = *info.Name
	}
	if info.PictureURL != nil {
		event.PhotoURL = *info.PictureURL
	}
	return event, true
}

// resolveEmployeeID applies the identity fallback chain. Firmware differs
// in which field it populates: enrolled employees carry employeeNoString,
// card-only punches carry cardNo, and some exports only fill the numeric
// employeeNo.
func resolveEmployeeID(info *hikvision.AcsEventInfo) string {
	if info.EmployeeNoString != nil && *info.EmployeeNoString != "" {
		return *info.EmployeeNoString
	}
	if info.CardNo != nil && *info.CardNo != "" {
		return *info.CardNo
	}
	if info.EmployeeNo != nil && *info.EmployeeNo != 0 {
		return strconv.FormatInt(*info.EmployeeNo, 10)
	}
	return ""
}

func parseEventTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
