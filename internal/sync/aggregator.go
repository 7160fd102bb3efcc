// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
aggregator.go - Daily Attendance Aggregation

Folds classified punches into one record per employee per calendar day.

Bucketing policy is earliest-start latest-end: the day's check-in and
break-out keep the minimum observed time, the check-out and break-in keep
the maximum. An employee who badges the entrance three times in a morning
still gets their first badge as the check-in. Overtime punches fold into
the same day boundaries.

The calendar day is taken in the event's own zone, which is the device's
configured zone carried through timestamp parsing. Cross-midnight shifts
therefore split at the device's local midnight, matching how the terminals
themselves report attendance.

A draft whose four punch times are all empty is dropped rather than
written. A check-in equal to the check-out is kept but flagged; it usually
means a misclassified reader rather than a zero-length workday.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"sort"
	"time"

	"github.com/Jorge-Tano/hiksync/internal/logging"
	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/models"
)

// NameLookup resolves an employee's stored display name. Implemented by
// the database layer; the aggregator consults it only for employees whose
// events carried no name.
type NameLookup interface {
	LookupEmployeeName(ctx context.Context, employeeID string) (string, error)
}

// Aggregator groups classified events into daily attendance records.
type Aggregator struct {
	names NameLookup

	// departments maps a device name to its configured department label,
	// attached to records whose employee has no department on file.
	departments map[string]string
}

// NewAggregator builds an aggregator. names may be nil, in which case the
// stored-name fallback is skipped.
func NewAggregator(names NameLookup, departments map[string]string) *Aggregator {
	return &Aggregator{
		names:       names,
		departments: departments,
	}
}

const dayKeyLayout = "2006-01-02"

type dayKey struct {
	employeeID string
	day        string
}

// draft accumulates one (employee, day) group before it becomes a record.
type draft struct {
	record  models.AttendanceRecord
	devices map[string]struct{}
}

// Aggregate folds events into attendance records. The result is sorted by
// employee then day so runs produce deterministic write order.
func (a *Aggregator) Aggregate(ctx context.Context, events []models.AccessEvent) []models.AttendanceRecord {
	drafts := make(map[dayKey]*draft)

	for i := range events {
		a.fold(drafts, &events[i])
	}

	records := make([]models.AttendanceRecord, 0, len(drafts))
	for _, d := range drafts {
		rec := d.record

		if !rec.HasAnyTime() {
			metrics.EventsDropped.WithLabelValues("no_punch_times").Inc()
			logging.Debug().
				Str("employee_id", rec.EmployeeID).
				Str("day", rec.Day.Format(dayKeyLayout)).
				Msg("Dropping draft with no punch times")
			continue
		}

		if len(d.devices) > 1 {
			rec.DeviceID = models.MultipleDevices
		}
		if rec.CheckIn != nil && rec.CheckOut != nil && rec.CheckIn.Equal(*rec.CheckOut) {
			rec.Flagged = true
		}
		rec.Name = a.resolveName(ctx, rec.EmployeeID, rec.Name)

		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].EmployeeID != records[j].EmployeeID {
			return records[i].EmployeeID < records[j].EmployeeID
		}
		return records[i].Day.Before(records[j].Day)
	})

	metrics.AggregatedDays.Add(float64(len(records)))
	return records
}

// fold merges one event into its (employee, day) draft.
func (a *Aggregator) fold(drafts map[dayKey]*draft, event *models.AccessEvent) {
	day := event.Time.Format(dayKeyLayout)
	key := dayKey{employeeID: event.EmployeeID, day: day}

	d, ok := drafts[key]
	if !ok {
		midnight := time.Date(
			event.Time.Year(), event.Time.Month(), event.Time.Day(),
			0, 0, 0, 0, event.Time.Location())
		d = &draft{
			record: models.AttendanceRecord{
				EmployeeID: event.EmployeeID,
				Day:        midnight,
				DeviceID:   event.DeviceID,
				Department: a.departments[event.DeviceID],
			},
			devices: map[string]struct{}{event.DeviceID: {}},
		}
		drafts[key] = d
	}
	d.devices[event.DeviceID] = struct{}{}

	rec := &d.record
	t := event.Time

	switch event.Punch {
	case models.PunchCheckIn, models.PunchOvertimeIn:
		rec.CheckIn = keepEarliest(rec.CheckIn, t)
	case models.PunchCheckOut, models.PunchOvertimeOut:
		rec.CheckOut = keepLatest(rec.CheckOut, t)
	case models.PunchBreakOut:
		rec.BreakOut = keepEarliest(rec.BreakOut, t)
	case models.PunchBreakIn:
		rec.BreakIn = keepLatest(rec.BreakIn, t)
	}

	if rec.Name == "" && event.Name != "" {
		rec.Name = event.Name
	}
	if rec.PhotoURL == "" && event.PhotoURL != "" {
		rec.PhotoURL = event.PhotoURL
	}
}

// resolveName applies the name fallback chain: the name seen on the day's
// events, then the name already stored for this employee, then "Unknown".
func (a *Aggregator) resolveName(ctx context.Context, employeeID, fromEvents string) string {
	if fromEvents != "" {
		return fromEvents
	}
	if a.names != nil {
		stored, err := a.names.LookupEmployeeName(ctx, employeeID)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("employee_id", employeeID).
				Msg("Stored name lookup failed")
		} else if stored != "" {
			return stored
		}
	}
	return "Unknown"
}

func keepEarliest(current *time.Time, candidate time.Time) *time.Time {
	if current == nil || candidate.Before(*current) {
		return &candidate
	}
	return current
}

func keepLatest(current *time.Time, candidate time.Time) *time.Time {
	if current == nil || candidate.After(*current) {
		return &candidate
	}
	return current
}
