// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/Jorge-Tano/hiksync/internal/logging"
	"github.com/Jorge-Tano/hiksync/internal/models"
)

// syncStatusResponse is the sync status endpoint payload.
type syncStatusResponse struct {
	Running bool             `json:"running"`
	LastRun *models.SyncRun  `json:"last_run,omitempty"`
	History []models.SyncRun `json:"history,omitempty"`
}

// SyncStatus reports whether a sync is in flight, the most recent run, and
// a short history of persisted runs.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			rw.BadRequest("limit must be an integer between 1 and 100")
			return
		}
		limit = parsed
	}

	history, err := h.store.ListSyncRuns(r.Context(), limit)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list sync runs")
		rw.InternalError("failed to load sync history")
		return
	}

	rw.Success(syncStatusResponse{
		Running: h.sync.IsRunning(),
		LastRun: h.sync.LastRun(),
		History: history,
	})
}

// syncTriggerRequest is the optional trigger body. A single date and an
// explicit start/end range are mutually exclusive.
type syncTriggerRequest struct {
	Date    string   `json:"date,omitempty"`
	Start   string   `json:"start,omitempty"`
	End     string   `json:"end,omitempty"`
	Devices []string `json:"devices,omitempty"`
}

// SyncTrigger starts a sync run in the background. An empty body syncs the
// current day across all devices; the body can narrow the run to an
// explicit date or range and a device subset. A run already in flight is
// answered with 409; triggers are refused, never queued, because the next
// run would fetch the same window again anyway.
func (h *Handler) SyncTrigger(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	opts, errMsg := h.parseSyncOptions(r)
	if errMsg != "" {
		rw.BadRequest(errMsg)
		return
	}

	if h.sync.IsRunning() {
		rw.Conflict("a sync run is already in progress")
		return
	}

	// The run outlives the HTTP request on purpose; a full sync can take
	// minutes. Completion is observable via the status endpoint.
	go func() {
		if _, err := h.sync.TriggerSync(context.Background(), opts); err != nil {
			logging.Error().Err(err).Msg("Triggered sync failed")
		}
	}()

	rw.Accepted(map[string]string{"status": "sync started"})
}

// parseSyncOptions reads the optional trigger body. It returns a non-empty
// message when the body is invalid.
func (h *Handler) parseSyncOptions(r *http.Request) (models.SyncOptions, string) {
	var opts models.SyncOptions

	var req syncTriggerRequest
	err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req)
	if errors.Is(err, io.EOF) {
		return opts, ""
	}
	if err != nil {
		return opts, "invalid request body"
	}

	if req.Date != "" && (req.Start != "" || req.End != "") {
		return opts, "date and start/end are mutually exclusive"
	}

	switch {
	case req.Date != "":
		day, err := time.ParseInLocation(dayParamLayout, req.Date, time.Local)
		if err != nil {
			return opts, "date must be formatted YYYY-MM-DD"
		}
		opts.Window = models.SyncWindow{Start: day, End: day.AddDate(0, 0, 1)}
	case req.Start != "":
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			return opts, "start must be an RFC 3339 timestamp"
		}
		opts.Window.Start = start
		if req.End != "" {
			end, err := time.Parse(time.RFC3339, req.End)
			if err != nil {
				return opts, "end must be an RFC 3339 timestamp"
			}
			if end.Before(start) {
				return opts, "end must not precede start"
			}
			opts.Window.End = end
		}
	case req.End != "":
		return opts, "end requires start"
	}

	if len(req.Devices) > 0 {
		configured := make(map[string]bool, len(h.config.Devices))
		for _, dev := range h.config.Devices {
			configured[dev.Name] = true
		}
		for _, name := range req.Devices {
			if !configured[name] {
				return opts, "unknown device " + strconv.Quote(name)
			}
		}
		opts.Devices = req.Devices
	}

	return opts, ""
}
