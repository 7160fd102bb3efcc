// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Jorge-Tano/hiksync/internal/database"
	"github.com/Jorge-Tano/hiksync/internal/logging"
)

const dayParamLayout = "2006-01-02"

// ListAttendance returns attendance records filtered by employee, date
// range, and flagged status, newest day first.
//
// Query parameters:
//   - employee_id: exact employee match
//   - from, to: inclusive date bounds (YYYY-MM-DD)
//   - flagged: "true" or "false"
//   - limit, offset: page controls
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, ok := h.parseAttendanceFilter(rw, r)
	if !ok {
		return
	}

	records, err := h.store.ListAttendance(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list attendance records")
		rw.InternalError("failed to load attendance records")
		return
	}

	total, err := h.store.CountAttendance(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to count attendance records")
		rw.InternalError("failed to load attendance records")
		return
	}

	rw.SuccessWithPagination(records, &PaginationMeta{
		Total:   total,
		Count:   len(records),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		HasMore: filter.Offset+len(records) < total,
	})
}

// GetAttendance returns one employee's record for one day.
func (h *Handler) GetAttendance(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	employeeID := chi.URLParam(r, "employeeID")
	day, err := time.Parse(dayParamLayout, chi.URLParam(r, "day"))
	if err != nil {
		rw.BadRequest("day must be formatted YYYY-MM-DD")
		return
	}

	record, err := h.store.GetAttendanceRecord(r.Context(), employeeID, day)
	if err != nil {
		logging.Error().Err(err).Str("employee_id", employeeID).Msg("Failed to load attendance record")
		rw.InternalError("failed to load attendance record")
		return
	}
	if record == nil {
		rw.NotFound("no attendance record for that employee and day")
		return
	}

	rw.Success(record)
}

// parseAttendanceFilter validates list query parameters into a filter.
func (h *Handler) parseAttendanceFilter(rw *ResponseWriter, r *http.Request) (database.AttendanceFilter, bool) {
	query := r.URL.Query()

	filter := database.AttendanceFilter{
		EmployeeID: query.Get("employee_id"),
		Limit:      h.config.API.DefaultPageSize,
	}

	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(dayParamLayout, raw)
		if err != nil {
			rw.BadRequest("from must be formatted YYYY-MM-DD")
			return filter, false
		}
		filter.From = from
	}
	if raw := query.Get("to"); raw != "" {
		to, err := time.Parse(dayParamLayout, raw)
		if err != nil {
			rw.BadRequest("to must be formatted YYYY-MM-DD")
			return filter, false
		}
		filter.To = to
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		rw.BadRequest("to must not be before from")
		return filter, false
	}

	if raw := query.Get("flagged"); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			rw.BadRequest("flagged must be true or false")
			return filter, false
		}
		filter.Flagged = &flagged
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			rw.BadRequest("limit must be a positive integer")
			return filter, false
		}
		if limit > h.config.API.MaxPageSize {
			limit = h.config.API.MaxPageSize
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			rw.BadRequest("offset must be a non-negative integer")
			return filter, false
		}
		filter.Offset = offset
	}

	return filter, true
}
