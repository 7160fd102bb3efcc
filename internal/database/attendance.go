// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
attendance.go - Reconciling Attendance Writer

Implements the conditional upsert that merges a freshly aggregated day draft
into storage. Merge policy on conflict:

  - Punch times: the draft wins when it supplies a value, otherwise the
    stored value is kept (coalesce-replace).
  - Device id: differing devices, or either side already "multiple",
    collapse to the "multiple" sentinel.
  - Name, department, photo: the stored value wins unless absent (name
    treated as absent when it is the "Unknown" placeholder).
  - Flagged: sticky OR, so an anomaly stays visible until reviewed.

Each record is one atomic conditional write. A failed record is counted and
skipped; it never aborts the batch.
*/
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jorge-Tano/hiksync/internal/logging"
	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/models"
)

const dayFormat = "2006-01-02"
const timeOfDayFormat = "15:04:05"

const upsertAttendanceQuery = `
INSERT INTO attendance_records (
	employee_id, day, name, check_in, check_out, break_out, break_in,
	device_id, department, photo_url, flagged, created_at, updated_at
) VALUES (?, CAST(? AS DATE), ?, CAST(? AS TIME), CAST(? AS TIME), CAST(? AS TIME), CAST(? AS TIME), ?, ?, ?, ?, ?, ?)
ON CONFLICT (employee_id, day) DO UPDATE SET
	name = CASE
		WHEN attendance_records.name IS NULL OR attendance_records.name = '' OR attendance_records.name = 'Unknown'
		THEN EXCLUDED.name
		ELSE attendance_records.name
	END,
	check_in = COALESCE(EXCLUDED.check_in, attendance_records.check_in),
	check_out = COALESCE(EXCLUDED.check_out, attendance_records.check_out),
	break_out = COALESCE(EXCLUDED.break_out, attendance_records.break_out),
	break_in = COALESCE(EXCLUDED.break_in, attendance_records.break_in),
	device_id = CASE
		WHEN attendance_records.device_id IS NULL OR attendance_records.device_id = '' THEN EXCLUDED.device_id
		WHEN EXCLUDED.device_id IS NULL OR EXCLUDED.device_id = '' THEN attendance_records.device_id
		WHEN attendance_records.device_id = EXCLUDED.device_id THEN attendance_records.device_id
		ELSE 'multiple'
	END,
	department = COALESCE(NULLIF(attendance_records.department, ''), EXCLUDED.department),
	photo_url = COALESCE(NULLIF(attendance_records.photo_url, ''), EXCLUDED.photo_url),
	flagged = attendance_records.flagged OR EXCLUDED.flagged,
	updated_at = EXCLUDED.updated_at`

// UpsertAttendanceRecord merges one day draft into storage. It reports
// whether a new row was created (as opposed to an existing row merged).
func (db *DB) UpsertAttendanceRecord(ctx context.Context, rec *models.AttendanceRecord) (bool, error) {
	if !rec.HasAnyTime() {
		return false, fmt.Errorf("record %s/%s has no punch times", rec.EmployeeID, rec.Day.Format(dayFormat))
	}

	day := rec.Day.Format(dayFormat)
	key := rec.EmployeeID + "|" + day

	mu := db.acquireRecordLock(key)
	defer mu.Unlock()

	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM attendance_records WHERE employee_id = ? AND day = CAST(? AS DATE))`,
		rec.EmployeeID, day).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing record: %w", err)
	}

	// DuckDB's binder rejects CURRENT_TIMESTAMP inside a VALUES list, so
	// both timestamps are bound as parameters.
	start := time.Now()
	_, err = db.conn.ExecContext(ctx, upsertAttendanceQuery,
		rec.EmployeeID, day, rec.Name,
		timeArg(rec.CheckIn), timeArg(rec.CheckOut),
		timeArg(rec.BreakOut), timeArg(rec.BreakIn),
		rec.DeviceID, rec.Department, rec.PhotoURL, rec.Flagged,
		start, start,
	)
	metrics.RecordDBQuery("UPSERT", "attendance_records", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to upsert attendance record: %w", err)
	}

	return !exists, nil
}

// WriteRecords persists a batch of day drafts. A single record's failure is
// counted and logged but does not abort the batch; the joined error carries
// every individual failure for the run report.
func (db *DB) WriteRecords(ctx context.Context, recs []models.AttendanceRecord) (models.WriteReport, error) {
	var report models.WriteReport
	var errs []error

	for i := range recs {
		rec := &recs[i]
		inserted, err := db.UpsertAttendanceRecord(ctx, rec)
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("%s/%s: %w", rec.EmployeeID, rec.Day.Format(dayFormat), err))
			logging.Error().
				Err(err).
				Str("employee", rec.EmployeeID).
				Str("day", rec.Day.Format(dayFormat)).
				Msg("Failed to persist attendance record")
			continue
		}
		if inserted {
			report.Inserted++
		} else {
			report.Updated++
		}
	}

	metrics.RecordWriteReport(report.Inserted, report.Updated, report.Failed)
	return report, errors.Join(errs...)
}

// LookupEmployeeName returns the most recently stored display name for an
// employee, used by the aggregator's name fallback chain. Returns empty
// string when the employee is unknown or only has placeholder names.
func (db *DB) LookupEmployeeName(ctx context.Context, employeeID string) (string, error) {
	var name string
	err := db.conn.QueryRowContext(ctx,
		`SELECT name FROM attendance_records
		 WHERE employee_id = ? AND name <> '' AND name <> 'Unknown'
		 ORDER BY day DESC LIMIT 1`,
		employeeID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up employee name: %w", err)
	}
	return name, nil
}

// AttendanceFilter narrows ListAttendance results.
type AttendanceFilter struct {
	EmployeeID string
	From       time.Time // inclusive, zero = unbounded
	To         time.Time // inclusive, zero = unbounded
	Flagged    *bool
	Limit      int
	Offset     int
}

const selectAttendanceColumns = `
	employee_id, CAST(day AS VARCHAR), name,
	CAST(check_in AS VARCHAR), CAST(check_out AS VARCHAR),
	CAST(break_out AS VARCHAR), CAST(break_in AS VARCHAR),
	COALESCE(device_id, ''), COALESCE(department, ''), COALESCE(photo_url, ''),
	flagged, created_at, updated_at`

// ListAttendance returns attendance records matching the filter, newest day
// first.
func (db *DB) ListAttendance(ctx context.Context, filter AttendanceFilter) ([]models.AttendanceRecord, error) {
	query := `SELECT ` + selectAttendanceColumns + ` FROM attendance_records WHERE 1=1`
	args := make([]interface{}, 0, 6)

	if filter.EmployeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, filter.EmployeeID)
	}
	if !filter.From.IsZero() {
		query += ` AND day >= CAST(? AS DATE)`
		args = append(args, filter.From.Format(dayFormat))
	}
	if !filter.To.IsZero() {
		query += ` AND day <= CAST(? AS DATE)`
		args = append(args, filter.To.Format(dayFormat))
	}
	if filter.Flagged != nil {
		query += ` AND flagged = ?`
		args = append(args, *filter.Flagged)
	}

	query += ` ORDER BY day DESC, employee_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("SELECT", "attendance_records", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance records: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendanceRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountAttendance returns the number of records matching the filter,
// ignoring pagination.
func (db *DB) CountAttendance(ctx context.Context, filter AttendanceFilter) (int, error) {
	query := `SELECT COUNT(*) FROM attendance_records WHERE 1=1`
	args := make([]interface{}, 0, 4)

	if filter.EmployeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, filter.EmployeeID)
	}
	if !filter.From.IsZero() {
		query += ` AND day >= CAST(? AS DATE)`
		args = append(args, filter.From.Format(dayFormat))
	}
	if !filter.To.IsZero() {
		query += ` AND day <= CAST(? AS DATE)`
		args = append(args, filter.To.Format(dayFormat))
	}
	if filter.Flagged != nil {
		query += ` AND flagged = ?`
		args = append(args, *filter.Flagged)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count attendance records: %w", err)
	}
	return count, nil
}

// GetAttendanceRecord fetches one record by its identity, or nil when
// absent.
func (db *DB) GetAttendanceRecord(ctx context.Context, employeeID string, day time.Time) (*models.AttendanceRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+selectAttendanceColumns+` FROM attendance_records
		 WHERE employee_id = ? AND day = CAST(? AS DATE)`,
		employeeID, day.Format(dayFormat))

	rec, err := scanAttendanceRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAttendanceRecord scans one row into a model, converting the VARCHAR
// casts of DATE and TIME columns back into time values.
func scanAttendanceRecord(row rowScanner) (models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	var day string
	var checkIn, checkOut, breakOut, breakIn sql.NullString

	err := row.Scan(
		&rec.EmployeeID, &day, &rec.Name,
		&checkIn, &checkOut, &breakOut, &breakIn,
		&rec.DeviceID, &rec.Department, &rec.PhotoURL,
		&rec.Flagged, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}

	rec.Day, err = time.Parse(dayFormat, day)
	if err != nil {
		return rec, fmt.Errorf("failed to parse stored day %q: %w", day, err)
	}

	rec.CheckIn = timeOfDay(rec.Day, checkIn)
	rec.CheckOut = timeOfDay(rec.Day, checkOut)
	rec.BreakOut = timeOfDay(rec.Day, breakOut)
	rec.BreakIn = timeOfDay(rec.Day, breakIn)
	return rec, nil
}

// timeArg converts an optional punch time to a TIME parameter.
func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(timeOfDayFormat)
}

// timeOfDay anchors a stored HH:MM:SS string on the record's day.
func timeOfDay(day time.Time, s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	// DuckDB renders sub-second precision when present; the schema stores
	// whole seconds, so any fractional part is noise.
	val, _, _ := strings.Cut(s.String, ".")
	parsed, err := time.Parse(timeOfDayFormat, val)
	if err != nil {
		return nil
	}
	t := time.Date(day.Year(), day.Month(), day.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, day.Location())
	return &t
}
