// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/models"
)

// parseUUIDInto parses a stored run identifier.
func parseUUIDInto(s string, dst *uuid.UUID) error {
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("failed to parse sync run id %q: %w", s, err)
	}
	*dst = id
	return nil
}

// InsertSyncRun records a completed sync run in the history table. The
// per-device breakdown is stored as a JSON document.
func (db *DB) InsertSyncRun(ctx context.Context, run *models.SyncRun) error {
	detail, err := json.Marshal(run.Devices)
	if err != nil {
		return fmt.Errorf("failed to marshal device detail: %w", err)
	}

	devicesFailed := 0
	eventsFetched := 0
	for _, d := range run.Devices {
		if d.Error != "" {
			devicesFailed++
		}
		eventsFetched += d.Events
	}

	start := time.Now()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO sync_runs (
			id, started_at, finished_at, outcome, window_start, window_end,
			devices_total, devices_failed, events_fetched,
			records_inserted, records_updated, records_failed, device_detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.StartedAt, run.FinishedAt, string(run.Outcome),
		run.Window.Start, run.Window.End,
		len(run.Devices), devicesFailed, eventsFetched,
		run.Writes.Inserted, run.Writes.Updated, run.Writes.Failed,
		string(detail),
	)
	metrics.RecordDBQuery("INSERT", "sync_runs", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent sync runs, newest first.
func (db *DB) ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT CAST(id AS VARCHAR), started_at, finished_at, outcome, window_start, window_end,
		        records_inserted, records_updated, records_failed, COALESCE(device_detail, '[]')
		 FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		var idStr, outcome, detail string
		if err := rows.Scan(&idStr, &run.StartedAt, &run.FinishedAt, &outcome,
			&run.Window.Start, &run.Window.End,
			&run.Writes.Inserted, &run.Writes.Updated, &run.Writes.Failed,
			&detail); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		run.Outcome = models.SyncOutcome(outcome)
		if err := parseUUIDInto(idStr, &run.ID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(detail), &run.Devices); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device detail: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
