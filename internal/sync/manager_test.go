// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Jorge-Tano/hiksync/internal/checkpoint"
	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/models"
)

// memStore is an in-memory Store that records what the manager writes.
type memStore struct {
	mu      sync.Mutex
	records []models.AttendanceRecord
	runs    []models.SyncRun
}

func (s *memStore) LookupEmployeeName(context.Context, string) (string, error) {
	return "", nil
}

func (s *memStore) WriteRecords(_ context.Context, recs []models.AttendanceRecord) (models.WriteReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, recs...)
	return models.WriteReport{Inserted: len(recs)}, nil
}

func (s *memStore) InsertSyncRun(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

// memCheckpoints is an in-memory Checkpointer.
type memCheckpoints struct {
	mu    sync.Mutex
	saved map[string]checkpoint.Checkpoint
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{saved: make(map[string]checkpoint.Checkpoint)}
}

func (c *memCheckpoints) Save(cp *checkpoint.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved[cp.Device] = *cp
	return nil
}

func (c *memCheckpoints) Get(device string) (*checkpoint.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.saved[device]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return &cp, nil
}

// attendanceDevice serves an unauthenticated single-page event feed.
func attendanceDevice(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
}

const lobbyPage = `{
	"AcsEvent": {
		"responseStatusStrg": "OK",
		"numOfMatches": 2,
		"totalMatches": 2,
		"InfoList": [
			{"major": 5, "minor": 75, "time": "2026-08-31T08:00:00+07:00",
			 "employeeNoString": "E001", "name": "Maria Santos"},
			{"major": 5, "minor": 76, "time": "2026-08-31T17:00:00+07:00",
			 "employeeNoString": "E001", "name": "Maria Santos"}
		]
	}
}`

func managerConfig(deviceURLs ...string) *config.Config {
	cfg := &config.Config{
		Sync: config.SyncConfig{
			Lookback:             24 * time.Hour,
			Timeout:              time.Minute,
			PageSize:             30,
			MaxPages:             10,
			RetryAttempts:        1,
			RetryDelay:           time.Millisecond,
			MaxConsecutiveErrors: 2,
		},
		Classifier: config.ClassifierConfig{
			AttendanceMajor: 5,
			MinorCodes: map[string]string{
				"75": "check_in",
				"76": "check_out",
			},
		},
		Server: config.ServerConfig{Timeout: 5 * time.Second},
	}
	for i, url := range deviceURLs {
		name := "lobby"
		if i > 0 {
			name = "warehouse"
		}
		cfg.Devices = append(cfg.Devices, config.DeviceConfig{
			Name:     name,
			URL:      url,
			Username: "admin",
			Password: "secret12",
		})
	}
	return cfg
}

func TestManager_TriggerSyncWritesRecords(t *testing.T) {
	device := attendanceDevice(t, lobbyPage)
	defer device.Close()

	store := &memStore{}
	m := NewManager(managerConfig(device.URL), store, nil)

	run, err := m.TriggerSync(context.Background(), models.SyncOptions{})
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}

	if run.Outcome != models.SyncSuccess {
		t.Errorf("outcome: expected success, got %s", run.Outcome)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 record written, got %d", len(store.records))
	}

	rec := store.records[0]
	if rec.EmployeeID != "E001" {
		t.Errorf("employee: got %q", rec.EmployeeID)
	}
	if rec.CheckIn == nil || rec.CheckOut == nil {
		t.Fatal("both punch times should be set")
	}
	if rec.Name != "Maria Santos" {
		t.Errorf("name: got %q", rec.Name)
	}

	if len(store.runs) != 1 {
		t.Fatalf("run should be persisted, got %d", len(store.runs))
	}
	if len(run.Devices) != 1 || run.Devices[0].Events != 2 {
		t.Errorf("device report wrong: %+v", run.Devices)
	}
}

func TestManager_DeadDeviceDoesNotAbortOthers(t *testing.T) {
	alive := attendanceDevice(t, lobbyPage)
	defer alive.Close()
	dead := attendanceDevice(t, "")
	dead.Close() // Connection refused from here on

	store := &memStore{}
	m := NewManager(managerConfig(alive.URL, dead.URL), store, nil)

	run, err := m.TriggerSync(context.Background(), models.SyncOptions{})
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}

	if run.Outcome != models.SyncPartial {
		t.Errorf("outcome: expected partial, got %s", run.Outcome)
	}
	if len(store.records) != 1 {
		t.Errorf("alive device's records should still land, got %d", len(store.records))
	}

	var failed int
	for _, dev := range run.Devices {
		if dev.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly 1 failed device, got %d", failed)
	}
}

func TestManager_AllDevicesDeadIsFailure(t *testing.T) {
	dead := attendanceDevice(t, "")
	dead.Close()

	store := &memStore{}
	m := NewManager(managerConfig(dead.URL), store, nil)

	run, err := m.TriggerSync(context.Background(), models.SyncOptions{})
	if err == nil {
		t.Fatal("expected an error when every device fails")
	}
	if run == nil || run.Outcome != models.SyncFailure {
		t.Fatalf("expected failure outcome, got %+v", run)
	}
	if len(store.runs) != 1 {
		t.Errorf("failed runs are persisted too, got %d", len(store.runs))
	}
}

func TestManager_ConcurrentTriggerIsRefused(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(lobbyPage))
	}))
	defer slow.Close()
	defer close(release)

	store := &memStore{}
	m := NewManager(managerConfig(slow.URL), store, nil)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = m.TriggerSync(context.Background(), models.SyncOptions{})
	}()
	<-started

	// Wait until the first run has actually taken the slot.
	deadline := time.After(2 * time.Second)
	for !m.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("first run never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err := m.TriggerSync(context.Background(), models.SyncOptions{})
	if !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestManager_SavesAndUsesCheckpoints(t *testing.T) {
	device := attendanceDevice(t, lobbyPage)
	defer device.Close()

	store := &memStore{}
	checkpoints := newMemCheckpoints()
	m := NewManager(managerConfig(device.URL), store, checkpoints)

	if _, err := m.TriggerSync(context.Background(), models.SyncOptions{}); err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}

	cp, err := checkpoints.Get("lobby")
	if err != nil {
		t.Fatalf("checkpoint should exist after a clean sync: %v", err)
	}
	if cp.Events != 2 {
		t.Errorf("checkpoint events: expected 2, got %d", cp.Events)
	}
	if cp.WindowEnd.IsZero() {
		t.Error("checkpoint window end should be set")
	}
}

func TestManager_BackfillsGapSinceCheckpoint(t *testing.T) {
	now := time.Now()
	staleEnd := now.Add(-12 * time.Hour)
	checkpoints := newMemCheckpoints()
	if err := checkpoints.Save(&checkpoint.Checkpoint{
		Device:    "lobby",
		WindowEnd: staleEnd,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	m := NewManager(managerConfig("http://unused"), &memStore{}, checkpoints)

	window := m.deviceWindow("lobby", models.SyncWindow{
		Start: now.Add(-6 * time.Hour),
		End:   now,
	})
	if !window.Start.Equal(staleEnd) {
		t.Errorf("window should extend back to the checkpoint, got start %v", window.Start)
	}
}

func TestManager_BackfillBoundedByLookback(t *testing.T) {
	now := time.Now()
	checkpoints := newMemCheckpoints()
	if err := checkpoints.Save(&checkpoint.Checkpoint{
		Device:    "lobby",
		WindowEnd: now.Add(-30 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	// Lookback is 24h in managerConfig; a month-old checkpoint must not
	// drag the window back a month.
	m := NewManager(managerConfig("http://unused"), &memStore{}, checkpoints)

	window := m.deviceWindow("lobby", models.SyncWindow{
		Start: now.Add(-6 * time.Hour),
		End:   now,
	})
	floor := now.Add(-24 * time.Hour)
	if !window.Start.Equal(floor) {
		t.Errorf("backfill should stop at the lookback floor %v, got %v", floor, window.Start)
	}
}

func TestManager_LastRunTracksLatest(t *testing.T) {
	device := attendanceDevice(t, lobbyPage)
	defer device.Close()

	store := &memStore{}
	m := NewManager(managerConfig(device.URL), store, nil)

	if m.LastRun() != nil {
		t.Fatal("no run should be recorded before the first trigger")
	}

	run, err := m.TriggerSync(context.Background(), models.SyncOptions{})
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	last := m.LastRun()
	if last == nil || last.ID != run.ID {
		t.Errorf("LastRun should return the run just finished")
	}
}

func TestManager_IdempotentReRun(t *testing.T) {
	device := attendanceDevice(t, lobbyPage)
	defer device.Close()

	store := &memStore{}
	m := NewManager(managerConfig(device.URL), store, nil)

	for i := 0; i < 2; i++ {
		if _, err := m.TriggerSync(context.Background(), models.SyncOptions{}); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	// Both runs produce the identical record; the reconciling writer (a
	// real database in production, additive here) receives equal inputs.
	if len(store.records) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(store.records))
	}
	if store.records[0].EmployeeID != store.records[1].EmployeeID ||
		!store.records[0].Day.Equal(store.records[1].Day) ||
		!store.records[0].CheckIn.Equal(*store.records[1].CheckIn) {
		t.Error("re-running the same window should produce identical records")
	}
}

func TestRunOutcome(t *testing.T) {
	tests := []struct {
		name    string
		devices int
		failed  int
		writes  models.WriteReport
		want    models.SyncOutcome
	}{
		{"all clean", 2, 0, models.WriteReport{Inserted: 5}, models.SyncSuccess},
		{"one device down", 2, 1, models.WriteReport{Inserted: 5}, models.SyncPartial},
		{"write failures", 2, 0, models.WriteReport{Inserted: 4, Failed: 1}, models.SyncPartial},
		{"everything down", 2, 2, models.WriteReport{}, models.SyncFailure},
		{"all down but writes landed", 2, 2, models.WriteReport{Updated: 1}, models.SyncPartial},
		{"nothing to do", 1, 0, models.WriteReport{}, models.SyncSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := runOutcome(tt.devices, tt.failed, tt.writes); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolveWindow(t *testing.T) {
	now := time.Date(2026, 8, 31, 14, 30, 0, 0, time.Local)

	t.Run("zero window defaults to current day", func(t *testing.T) {
		got := resolveWindow(models.SyncWindow{}, now)
		wantStart := time.Date(2026, 8, 31, 0, 0, 0, 0, time.Local)
		if !got.Start.Equal(wantStart) {
			t.Errorf("start: expected local midnight %v, got %v", wantStart, got.Start)
		}
		if !got.End.Equal(now) {
			t.Errorf("end: expected now, got %v", got.End)
		}
	})

	t.Run("open end closes at now", func(t *testing.T) {
		start := now.Add(-3 * time.Hour)
		got := resolveWindow(models.SyncWindow{Start: start}, now)
		if !got.Start.Equal(start) || !got.End.Equal(now) {
			t.Errorf("expected [%v, %v], got [%v, %v]", start, now, got.Start, got.End)
		}
	})

	t.Run("explicit window passes through", func(t *testing.T) {
		win := models.SyncWindow{
			Start: now.Add(-48 * time.Hour),
			End:   now.Add(-24 * time.Hour),
		}
		if got := resolveWindow(win, now); !got.Start.Equal(win.Start) || !got.End.Equal(win.End) {
			t.Errorf("expected %+v, got %+v", win, got)
		}
	})
}

func TestManager_ExplicitWindowUsedByRun(t *testing.T) {
	device := attendanceDevice(t, lobbyPage)
	defer device.Close()

	store := &memStore{}
	m := NewManager(managerConfig(device.URL), store, nil)

	want := models.SyncWindow{
		Start: time.Date(2026, 8, 31, 0, 0, 0, 0, time.Local),
		End:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.Local),
	}
	run, err := m.TriggerSync(context.Background(), models.SyncOptions{Window: want})
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	if !run.Window.Start.Equal(want.Start) || !run.Window.End.Equal(want.End) {
		t.Errorf("run window: expected %+v, got %+v", want, run.Window)
	}
}

func TestManager_DeviceSubset(t *testing.T) {
	lobby := attendanceDevice(t, lobbyPage)
	defer lobby.Close()
	warehouse := attendanceDevice(t, lobbyPage)
	defer warehouse.Close()

	store := &memStore{}
	m := NewManager(managerConfig(lobby.URL, warehouse.URL), store, nil)

	run, err := m.TriggerSync(context.Background(), models.SyncOptions{Devices: []string{"warehouse"}})
	if err != nil {
		t.Fatalf("TriggerSync failed: %v", err)
	}
	if len(run.Devices) != 1 {
		t.Fatalf("expected 1 device report, got %d", len(run.Devices))
	}
	if run.Devices[0].Device != "warehouse" {
		t.Errorf("expected warehouse report, got %q", run.Devices[0].Device)
	}
}

func TestManager_UnknownDeviceRefused(t *testing.T) {
	store := &memStore{}
	m := NewManager(managerConfig("http://unused"), store, nil)

	run, err := m.TriggerSync(context.Background(), models.SyncOptions{Devices: []string{"ghost"}})
	if err == nil {
		t.Fatal("expected an error for an unconfigured device")
	}
	if run != nil {
		t.Errorf("no run should start, got %+v", run)
	}
	if len(store.runs) != 0 {
		t.Errorf("nothing should be persisted, got %d runs", len(store.runs))
	}
	if m.IsRunning() {
		t.Error("manager should not be left running")
	}
}
