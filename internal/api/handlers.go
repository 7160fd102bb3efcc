// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/database"
	"github.com/Jorge-Tano/hiksync/internal/models"
)

// AttendanceStore is the persistence surface the handlers read from.
// Implemented by the database layer.
type AttendanceStore interface {
	ListAttendance(ctx context.Context, filter database.AttendanceFilter) ([]models.AttendanceRecord, error)
	CountAttendance(ctx context.Context, filter database.AttendanceFilter) (int, error)
	GetAttendanceRecord(ctx context.Context, employeeID string, day time.Time) (*models.AttendanceRecord, error)
	ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	HealthCheck(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
}

// SyncController is the sync manager surface the handlers control.
type SyncController interface {
	TriggerSync(ctx context.Context, opts models.SyncOptions) (*models.SyncRun, error)
	IsRunning() bool
	LastRun() *models.SyncRun
}

// Handler processes API requests.
type Handler struct {
	store     AttendanceStore
	sync      SyncController
	config    *config.Config
	startTime time.Time
}

// NewHandler creates the API handler.
func NewHandler(store AttendanceStore, sync SyncController, cfg *config.Config) *Handler {
	return &Handler{
		store:     store,
		sync:      sync,
		config:    cfg,
		startTime: time.Now(),
	}
}

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status            string     `json:"status"`
	DatabaseConnected bool       `json:"database_connected"`
	SchemaVersion     int        `json:"schema_version,omitempty"`
	SyncRunning       bool       `json:"sync_running"`
	LastSyncTime      *time.Time `json:"last_sync_time,omitempty"`
	LastSyncOutcome   string     `json:"last_sync_outcome,omitempty"`
	Devices           int        `json:"devices"`
	UptimeSeconds     float64    `json:"uptime_seconds"`
}

// Health reports service health. The service is degraded, not down, when
// the last sync failed; stored data is still servable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	dbConnected := h.store != nil && h.store.HealthCheck(r.Context()) == nil

	status := "healthy"
	if !dbConnected {
		status = "degraded"
	}

	health := HealthStatus{
		Status:            status,
		DatabaseConnected: dbConnected,
		UptimeSeconds:     time.Since(h.startTime).Seconds(),
	}
	if dbConnected {
		if v, err := h.store.SchemaVersion(r.Context()); err == nil {
			health.SchemaVersion = v
		}
	}
	if h.config != nil {
		health.Devices = len(h.config.Devices)
	}
	if h.sync != nil {
		health.SyncRunning = h.sync.IsRunning()
		if last := h.sync.LastRun(); last != nil {
			health.LastSyncTime = &last.FinishedAt
			health.LastSyncOutcome = string(last.Outcome)
			if last.Outcome == models.SyncFailure && status == "healthy" {
				health.Status = "degraded"
			}
		}
	}

	rw.Success(health)
}
