// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
schema.go - Database Schema Management

Tables:
  - attendance_records: one row per (employee_id, day) holding the four
    nullable punch times, merged device id, and review flag
  - sync_runs: history of orchestrated sync passes with per-device detail
  - schema_migrations: migration tracking (see migrations.go)

All columns are defined in the initial CREATE TABLE statements; versioned
migrations in migrations.go handle post-release changes.
*/
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table creation SQL statements.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS attendance_records (
			employee_id TEXT NOT NULL,
			day DATE NOT NULL,
			name TEXT NOT NULL DEFAULT 'Unknown',
			check_in TIME,
			check_out TIME,
			break_out TIME,
			break_in TIME,
			device_id TEXT,
			department TEXT,
			photo_url TEXT,
			flagged BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (employee_id, day)
		)`,

		`CREATE TABLE IF NOT EXISTS sync_runs (
			id UUID PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			outcome TEXT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			devices_total INTEGER NOT NULL DEFAULT 0,
			devices_failed INTEGER NOT NULL DEFAULT 0,
			events_fetched INTEGER NOT NULL DEFAULT 0,
			records_inserted INTEGER NOT NULL DEFAULT 0,
			records_updated INTEGER NOT NULL DEFAULT 0,
			records_failed INTEGER NOT NULL DEFAULT 0,
			device_detail TEXT
		)`,

		// Frequently filtered columns
		`CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance_records(day)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_employee ON attendance_records(employee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at)`,
	}
}
