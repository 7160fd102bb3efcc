// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
classifier.go - Punch Classification

Turns a raw device event into a punch type. Devices report attendance
intent in three inconsistent ways depending on firmware and installation:

 1. A free-text status label ("checkIn", "Check Out", ...). Checked first,
    by case-insensitive substring, because it is explicit operator intent.
    breakout/breakin are matched before checkout/checkin since "breakout"
    contains no ambiguity but a naive "in"/"out" scan would misread it.
 2. The major/minor event code pair. The minor-to-punch table is a
    per-installation device setting, so it comes from configuration.
 3. The card reader number, for sites that dedicate readers to directions.

An event no rule matches classifies as PunchUnknown and is dropped by the
pipeline, counted per device.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"strconv"
	"strings"

	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/models"
	"github.com/Jorge-Tano/hiksync/internal/models/hikvision"
)

// labelRules are checked in order; the first substring match wins.
// "breakout" and "breakin" must come before "checkout" and "checkin" so
// that a combined label like "breakOut/checkOut" resolves to the break.
var labelRules = []struct {
	substring string
	punch     models.PunchType
}{
	{"breakout", models.PunchBreakOut},
	{"breakin", models.PunchBreakIn},
	{"overtimein", models.PunchOvertimeIn},
	{"overtimeout", models.PunchOvertimeOut},
	{"checkin", models.PunchCheckIn},
	{"checkout", models.PunchCheckOut},
}

// Classifier resolves raw events to punch types using the configured
// fallback tables. It is immutable after construction and safe for
// concurrent use.
type Classifier struct {
	attendanceMajor int
	minorCodes      map[int]models.PunchType
	readers         map[int]models.PunchType
}

// NewClassifier builds a classifier from configuration. Table keys arrive
// as decimal strings from YAML and env; non-numeric keys are rejected by
// config validation before this runs.
func NewClassifier(cfg *config.ClassifierConfig) *Classifier {
	c := &Classifier{
		attendanceMajor: cfg.AttendanceMajor,
		minorCodes:      make(map[int]models.PunchType, len(cfg.MinorCodes)),
		readers:         make(map[int]models.PunchType, len(cfg.Readers)),
	}
	for key, punch := range cfg.MinorCodes {
		if code, err := strconv.Atoi(key); err == nil {
			c.minorCodes[code] = models.PunchType(punch)
		}
	}
	for key, punch := range cfg.Readers {
		if reader, err := strconv.Atoi(key); err == nil {
			c.readers[reader] = models.PunchType(punch)
		}
	}
	return c
}

// Classify resolves one raw event to its punch type.
func (c *Classifier) Classify(info *hikvision.AcsEventInfo) models.PunchType {
	if punch, ok := classifyLabel(info.AttendanceStatus); ok {
		return punch
	}
	if punch, ok := classifyLabel(info.Label); ok {
		return punch
	}

	if info.Major == c.attendanceMajor {
		if punch, ok := c.minorCodes[info.Minor]; ok {
			return punch
		}
	}

	if info.CardReaderNo != nil {
		if punch, ok := c.readers[*info.CardReaderNo]; ok {
			return punch
		}
	}

	return models.PunchUnknown
}

// classifyLabel matches a status label against the substring rules. Labels
// are normalized by lowercasing and stripping separators so "Check-In",
// "check in" and "checkIn" all match.
func classifyLabel(label *string) (models.PunchType, bool) {
	if label == nil || *label == "" {
		return models.PunchUnknown, false
	}

	normalized := strings.ToLower(*label)
	normalized = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(normalized)

	for _, rule := range labelRules {
		if strings.Contains(normalized, rule.substring) {
			return rule.punch, true
		}
	}
	return models.PunchUnknown, false
}
