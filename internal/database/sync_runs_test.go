// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Jorge-Tano/hiksync/internal/models"
)

func TestSyncRunRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	run := models.SyncRun{
		ID:         uuid.New(),
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
		Outcome:    models.SyncPartial,
		Window: models.SyncWindow{
			Start: started.Add(-24 * time.Hour),
			End:   started,
		},
		Devices: []models.DeviceReport{
			{Device: "entrance", Pages: 3, Events: 57, Classified: 55, Unknown: 2},
			{Device: "back-door", Error: "device timeout after 3 attempts"},
		},
		Writes: models.WriteReport{Inserted: 12, Updated: 30, Failed: 1},
	}

	if err := db.InsertSyncRun(ctx, &run); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	runs, err := db.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	got := runs[0]
	if got.ID != run.ID {
		t.Errorf("expected id %s, got %s", run.ID, got.ID)
	}
	if got.Outcome != models.SyncPartial {
		t.Errorf("expected outcome partial, got %s", got.Outcome)
	}
	if len(got.Devices) != 2 {
		t.Fatalf("expected 2 device reports, got %d", len(got.Devices))
	}
	if got.Devices[1].Error == "" {
		t.Error("expected device error preserved through JSON detail")
	}
	if got.Writes.Updated != 30 {
		t.Errorf("expected 30 updated, got %d", got.Writes.Updated)
	}
}

func TestListSyncRunsOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := models.SyncRun{
			ID:         uuid.New(),
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Outcome:    models.SyncSuccess,
			Window:     models.SyncWindow{Start: base.Add(-24 * time.Hour), End: base},
		}
		if err := db.InsertSyncRun(ctx, &run); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	runs, err := db.ListSyncRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected limit of 2 runs, got %d", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Error("expected newest run first")
	}
}
