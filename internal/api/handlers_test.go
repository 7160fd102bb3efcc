// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/database"
	"github.com/Jorge-Tano/hiksync/internal/models"
)

// fakeStore serves canned data and records the filters it was given.
type fakeStore struct {
	records    []models.AttendanceRecord
	runs       []models.SyncRun
	healthErr  error
	listErr    error
	lastFilter database.AttendanceFilter
}

func (s *fakeStore) ListAttendance(_ context.Context, filter database.AttendanceFilter) ([]models.AttendanceRecord, error) {
	s.lastFilter = filter
	return s.records, s.listErr
}

func (s *fakeStore) CountAttendance(context.Context, database.AttendanceFilter) (int, error) {
	return len(s.records), s.listErr
}

func (s *fakeStore) GetAttendanceRecord(_ context.Context, employeeID string, day time.Time) (*models.AttendanceRecord, error) {
	for i := range s.records {
		if s.records[i].EmployeeID == employeeID && s.records[i].Day.Equal(day) {
			return &s.records[i], nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListSyncRuns(_ context.Context, limit int) ([]models.SyncRun, error) {
	if limit > len(s.runs) {
		limit = len(s.runs)
	}
	return s.runs[:limit], nil
}

func (s *fakeStore) HealthCheck(context.Context) error { return s.healthErr }

func (s *fakeStore) SchemaVersion(context.Context) (int, error) { return 1, nil }

// fakeSync is a canned SyncController.
type fakeSync struct {
	running   bool
	last      *models.SyncRun
	lastOpts  models.SyncOptions
	triggered chan struct{}
}

func (s *fakeSync) TriggerSync(_ context.Context, opts models.SyncOptions) (*models.SyncRun, error) {
	s.lastOpts = opts
	if s.triggered != nil {
		close(s.triggered)
	}
	return s.last, nil
}

func (s *fakeSync) IsRunning() bool          { return s.running }
func (s *fakeSync) LastRun() *models.SyncRun { return s.last }

func testAPIConfig() *config.Config {
	return &config.Config{
		Devices: []config.DeviceConfig{{Name: "lobby"}},
		API: config.APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

func newTestRouter(store *fakeStore, sync *fakeSync) http.Handler {
	cfg := testAPIConfig()
	return NewRouter(NewHandler(store, sync, cfg), cfg).Setup()
}

func doRequest(t *testing.T, handler http.Handler, method, path string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var envelope APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not an envelope: %v\nbody: %s", err, rec.Body.String())
	}
	return rec, envelope
}

func doJSONRequest(t *testing.T, handler http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)

	var envelope APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not an envelope: %v\nbody: %s", err, rec.Body.String())
	}
	return rec, envelope
}

func testRun() *models.SyncRun {
	return &models.SyncRun{
		ID:         uuid.New(),
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
		Outcome:    models.SyncSuccess,
		Devices:    []models.DeviceReport{{Device: "lobby", Pages: 1, Events: 2}},
		Writes:     models.WriteReport{Inserted: 1},
	}
}

func TestHealth_Healthy(t *testing.T) {
	handler := newTestRouter(&fakeStore{}, &fakeSync{last: testRun()})

	rec, envelope := doRequest(t, handler, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	if !envelope.Success {
		t.Error("expected success envelope")
	}

	data := envelope.Data.(map[string]interface{})
	if data["status"] != "healthy" {
		t.Errorf("status: expected healthy, got %v", data["status"])
	}
	if data["database_connected"] != true {
		t.Error("database should report connected")
	}
}

func TestHealth_DegradedWhenDatabaseDown(t *testing.T) {
	store := &fakeStore{healthErr: errors.New("db closed")}
	handler := newTestRouter(store, &fakeSync{})

	rec, envelope := doRequest(t, handler, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health stays 200 even when degraded, got %d", rec.Code)
	}

	data := envelope.Data.(map[string]interface{})
	if data["status"] != "degraded" {
		t.Errorf("status: expected degraded, got %v", data["status"])
	}
}

func TestSyncStatus(t *testing.T) {
	run := testRun()
	store := &fakeStore{runs: []models.SyncRun{*run}}
	handler := newTestRouter(store, &fakeSync{running: true, last: run})

	rec, envelope := doRequest(t, handler, http.MethodGet, "/api/v1/sync/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}

	data := envelope.Data.(map[string]interface{})
	if data["running"] != true {
		t.Error("running flag should be set")
	}
	if data["last_run"] == nil {
		t.Error("last run should be included")
	}
}

func TestSyncStatus_RejectsBadLimit(t *testing.T) {
	handler := newTestRouter(&fakeStore{}, &fakeSync{})

	rec, envelope := doRequest(t, handler, http.MethodGet, "/api/v1/sync/status?limit=9000")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: expected 400, got %d", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeBadRequest {
		t.Errorf("expected BAD_REQUEST error, got %+v", envelope.Error)
	}
}

func TestSyncTrigger_Accepted(t *testing.T) {
	sync := &fakeSync{triggered: make(chan struct{})}
	handler := newTestRouter(&fakeStore{}, sync)

	rec, envelope := doRequest(t, handler, http.MethodPost, "/api/v1/sync/trigger")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: expected 202, got %d", rec.Code)
	}
	if !envelope.Success {
		t.Error("expected success envelope")
	}

	select {
	case <-sync.triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never reached the sync manager")
	}
}

func TestSyncTrigger_WithDateBody(t *testing.T) {
	sync := &fakeSync{triggered: make(chan struct{})}
	handler := newTestRouter(&fakeStore{}, sync)

	rec, _ := doJSONRequest(t, handler, http.MethodPost, "/api/v1/sync/trigger",
		`{"date": "2026-08-30", "devices": ["lobby"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: expected 202, got %d", rec.Code)
	}

	select {
	case <-sync.triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never reached the sync manager")
	}

	wantStart := time.Date(2026, 8, 30, 0, 0, 0, 0, time.Local)
	if !sync.lastOpts.Window.Start.Equal(wantStart) {
		t.Errorf("window start: expected %v, got %v", wantStart, sync.lastOpts.Window.Start)
	}
	if !sync.lastOpts.Window.End.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Errorf("window end: expected next midnight, got %v", sync.lastOpts.Window.End)
	}
	if len(sync.lastOpts.Devices) != 1 || sync.lastOpts.Devices[0] != "lobby" {
		t.Errorf("devices: expected [lobby], got %v", sync.lastOpts.Devices)
	}
}

func TestSyncTrigger_WithRangeBody(t *testing.T) {
	sync := &fakeSync{triggered: make(chan struct{})}
	handler := newTestRouter(&fakeStore{}, sync)

	rec, _ := doJSONRequest(t, handler, http.MethodPost, "/api/v1/sync/trigger",
		`{"start": "2026-08-29T06:00:00+07:00", "end": "2026-08-29T20:00:00+07:00"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: expected 202, got %d", rec.Code)
	}

	select {
	case <-sync.triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never reached the sync manager")
	}

	start, _ := time.Parse(time.RFC3339, "2026-08-29T06:00:00+07:00")
	end, _ := time.Parse(time.RFC3339, "2026-08-29T20:00:00+07:00")
	if !sync.lastOpts.Window.Start.Equal(start) || !sync.lastOpts.Window.End.Equal(end) {
		t.Errorf("window: expected [%v, %v], got %+v", start, end, sync.lastOpts.Window)
	}
}

func TestSyncTrigger_RejectsBadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"date with range", `{"date": "2026-08-30", "start": "2026-08-29T06:00:00Z"}`},
		{"bad date", `{"date": "30-08-2026"}`},
		{"bad start", `{"start": "yesterday"}`},
		{"end before start", `{"start": "2026-08-30T12:00:00Z", "end": "2026-08-30T06:00:00Z"}`},
		{"end without start", `{"end": "2026-08-30T12:00:00Z"}`},
		{"unknown device", `{"devices": ["ghost"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sync := &fakeSync{triggered: make(chan struct{})}
			handler := newTestRouter(&fakeStore{}, sync)

			rec, envelope := doJSONRequest(t, handler, http.MethodPost, "/api/v1/sync/trigger", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: expected 400, got %d", rec.Code)
			}
			if envelope.Error == nil || envelope.Error.Code != ErrCodeBadRequest {
				t.Errorf("expected BAD_REQUEST error, got %+v", envelope.Error)
			}
			select {
			case <-sync.triggered:
				t.Error("a rejected trigger must not start a run")
			default:
			}
		})
	}
}

func TestSyncTrigger_ConflictWhenRunning(t *testing.T) {
	handler := newTestRouter(&fakeStore{}, &fakeSync{running: true})

	rec, envelope := doRequest(t, handler, http.MethodPost, "/api/v1/sync/trigger")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: expected 409, got %d", rec.Code)
	}
	if envelope.Error == nil || envelope.Error.Code != ErrCodeConflict {
		t.Errorf("expected CONFLICT error, got %+v", envelope.Error)
	}
}

func TestListAttendance_FilterParsing(t *testing.T) {
	store := &fakeStore{}
	handler := newTestRouter(store, &fakeSync{})

	rec, _ := doRequest(t, handler, http.MethodGet,
		"/api/v1/attendance/?employee_id=E001&from=2026-08-01&to=2026-08-31&flagged=true&limit=5&offset=10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}

	filter := store.lastFilter
	if filter.EmployeeID != "E001" {
		t.Errorf("employee filter: got %q", filter.EmployeeID)
	}
	if filter.From.Format("2006-01-02") != "2026-08-01" {
		t.Errorf("from filter: got %v", filter.From)
	}
	if filter.Flagged == nil || !*filter.Flagged {
		t.Error("flagged filter should be true")
	}
	if filter.Limit != 5 || filter.Offset != 10 {
		t.Errorf("page controls: got limit=%d offset=%d", filter.Limit, filter.Offset)
	}
}

func TestListAttendance_BadParams(t *testing.T) {
	handler := newTestRouter(&fakeStore{}, &fakeSync{})

	paths := []string{
		"/api/v1/attendance/?from=yesterday",
		"/api/v1/attendance/?from=2026-08-31&to=2026-08-01",
		"/api/v1/attendance/?flagged=maybe",
		"/api/v1/attendance/?limit=-1",
		"/api/v1/attendance/?offset=-5",
	}
	for _, path := range paths {
		rec, _ := doRequest(t, handler, http.MethodGet, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestListAttendance_LimitClampedToMax(t *testing.T) {
	store := &fakeStore{}
	handler := newTestRouter(store, &fakeSync{})

	rec, _ := doRequest(t, handler, http.MethodGet, "/api/v1/attendance/?limit=9999")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	if store.lastFilter.Limit != 100 {
		t.Errorf("limit should clamp to max page size, got %d", store.lastFilter.Limit)
	}
}

func TestGetAttendance(t *testing.T) {
	day, _ := time.Parse("2006-01-02", "2026-08-31")
	store := &fakeStore{records: []models.AttendanceRecord{{
		EmployeeID: "E001",
		Day:        day,
		Name:       "Maria Santos",
	}}}
	handler := newTestRouter(store, &fakeSync{})

	rec, envelope := doRequest(t, handler, http.MethodGet, "/api/v1/attendance/E001/2026-08-31")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	data := envelope.Data.(map[string]interface{})
	if data["name"] != "Maria Santos" {
		t.Errorf("name: got %v", data["name"])
	}

	rec, _ = doRequest(t, handler, http.MethodGet, "/api/v1/attendance/E999/2026-08-31")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing record: expected 404, got %d", rec.Code)
	}

	rec, _ = doRequest(t, handler, http.MethodGet, "/api/v1/attendance/E001/31-08-2026")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad day format: expected 400, got %d", rec.Code)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	handler := newTestRouter(&fakeStore{}, &fakeSync{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint: expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body should not be empty")
	}
}
