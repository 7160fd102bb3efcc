// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
manager.go - Sync Orchestration

The Manager owns the recurring sync loop and the manual trigger path. One
run fans out to every configured device in parallel, lets every device
settle (a dead terminal never cancels the others), then aggregates and
writes the combined result in a single pass so cross-device punches for
the same employee merge before they hit the database.

Concurrency:
  - running guards against overlapping runs. A trigger that arrives while
    a run is in flight is refused with ErrSyncInProgress, not queued;
    re-running immediately afterwards would fetch the same window anyway.
  - Each run is bounded by the configured sync timeout so a wedged device
    cannot stall the loop past the next tick.

Runs are idempotent. The writer upserts on (employee, day), so re-fetching
an already synced window converges to the same records.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jorge-Tano/hiksync/internal/checkpoint"
	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/logging"
	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/models"
)

// ErrSyncInProgress is returned by TriggerSync when a run is already in
// flight. The API layer maps it to HTTP 409.
var ErrSyncInProgress = errors.New("sync already in progress")

// Store is the persistence surface the manager writes through. Implemented
// by the database layer.
type Store interface {
	NameLookup
	WriteRecords(ctx context.Context, recs []models.AttendanceRecord) (models.WriteReport, error)
	InsertSyncRun(ctx context.Context, run *models.SyncRun) error
}

// Checkpointer remembers each device's last successfully synced window.
// Implemented by the checkpoint store; nil disables checkpointing.
type Checkpointer interface {
	Save(cp *checkpoint.Checkpoint) error
	Get(device string) (*checkpoint.Checkpoint, error)
}

// deviceUnit pairs a fetcher with its per-device settings for one run.
type deviceUnit struct {
	fetcher   EventFetcher
	paginator *Paginator
}

// Manager orchestrates recurring and manually triggered sync runs.
type Manager struct {
	cfg         *config.Config
	store       Store
	checkpoints Checkpointer
	classifier  *Classifier
	aggregator  *Aggregator
	devices     []deviceUnit

	syncMu  sync.Mutex // Serializes run execution
	running bool

	lastMu  sync.RWMutex
	lastRun *models.SyncRun
}

// NewManager wires the full pipeline for the configured devices. Each
// device client is wrapped in its own circuit breaker.
func NewManager(cfg *config.Config, store Store, checkpoints Checkpointer) *Manager {
	classifier := NewClassifier(&cfg.Classifier)

	departments := make(map[string]string, len(cfg.Devices))
	devices := make([]deviceUnit, 0, len(cfg.Devices))
	for _, devCfg := range cfg.Devices {
		departments[devCfg.Name] = devCfg.Department

		fetcher := newBreakerFetcher(NewDeviceClient(devCfg, cfg.Server.Timeout))
		devices = append(devices, deviceUnit{
			fetcher:   fetcher,
			paginator: NewPaginator(fetcher, classifier, &cfg.Sync, devCfg.TimeOffset),
		})
	}

	return &Manager{
		cfg:         cfg,
		store:       store,
		checkpoints: checkpoints,
		classifier:  classifier,
		aggregator:  NewAggregator(store, departments),
		devices:     devices,
	}
}

// Serve runs the periodic sync loop until the context is cancelled. It
// implements suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	if m.cfg.Sync.RunOnStartup {
		if _, err := m.TriggerSync(ctx, models.SyncOptions{}); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logging.Error().Err(err).Msg("Startup sync failed")
		}
	}

	if m.cfg.Sync.Interval <= 0 {
		logging.Info().Msg("Periodic sync disabled, waiting for manual triggers")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(m.cfg.Sync.Interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", m.cfg.Sync.Interval).
		Int("devices", len(m.devices)).
		Msg("Sync loop started")

	for {
		select {
		case <-ticker.C:
			if _, err := m.TriggerSync(ctx, models.SyncOptions{}); err != nil && !errors.Is(err, ErrSyncInProgress) {
				logging.Error().Err(err).Msg("Scheduled sync failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TriggerSync executes one sync run. It returns ErrSyncInProgress without
// blocking when another run is in flight, and an error without starting a
// run when opts names a device that is not configured.
func (m *Manager) TriggerSync(ctx context.Context, opts models.SyncOptions) (*models.SyncRun, error) {
	units, err := m.selectDevices(opts.Devices)
	if err != nil {
		return nil, err
	}

	m.syncMu.Lock()
	if m.running {
		m.syncMu.Unlock()
		metrics.SyncRunsTotal.WithLabelValues(string(models.SyncSkipped)).Inc()
		return nil, ErrSyncInProgress
	}
	m.running = true
	m.syncMu.Unlock()

	metrics.SyncInProgress.Set(1)
	defer func() {
		m.syncMu.Lock()
		m.running = false
		m.syncMu.Unlock()
		metrics.SyncInProgress.Set(0)
	}()

	run := m.runSync(ctx, opts.Window, units)

	m.lastMu.Lock()
	m.lastRun = run
	m.lastMu.Unlock()

	if err := m.store.InsertSyncRun(ctx, run); err != nil {
		logging.Error().Err(err).Str("run_id", run.ID.String()).Msg("Failed to persist sync run")
	}
	metrics.RecordSyncRun(run.FinishedAt.Sub(run.StartedAt), string(run.Outcome))

	if run.Outcome == models.SyncFailure {
		return run, fmt.Errorf("sync run %s failed on all devices", run.ID)
	}
	return run, nil
}

// selectDevices resolves a device-name subset to fetch units. Empty names
// selects every configured device.
func (m *Manager) selectDevices(names []string) ([]deviceUnit, error) {
	if len(names) == 0 {
		return m.devices, nil
	}

	byName := make(map[string]deviceUnit, len(m.devices))
	for _, unit := range m.devices {
		byName[unit.fetcher.Name()] = unit
	}

	units := make([]deviceUnit, 0, len(names))
	for _, name := range names {
		unit, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown device %q", name)
		}
		units = append(units, unit)
	}
	return units, nil
}

// resolveWindow fills in an explicit window's gaps. The zero window becomes
// the current day in local time, from midnight up to now.
func resolveWindow(window models.SyncWindow, now time.Time) models.SyncWindow {
	if window.Start.IsZero() && window.End.IsZero() {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return models.SyncWindow{Start: midnight, End: now}
	}
	if window.End.IsZero() {
		window.End = now
	}
	return window
}

// runSync performs the fetch, aggregate, write pipeline for one window.
func (m *Manager) runSync(ctx context.Context, requested models.SyncWindow, units []deviceUnit) *models.SyncRun {
	if m.cfg.Sync.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Sync.Timeout)
		defer cancel()
	}

	now := time.Now()
	window := resolveWindow(requested, now)

	run := &models.SyncRun{
		ID:        uuid.New(),
		StartedAt: now,
		Window:    window,
		Devices:   make([]models.DeviceReport, len(units)),
	}

	logging.Info().
		Str("run_id", run.ID.String()).
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Int("devices", len(units)).
		Msg("Sync run started")

	// Fan out one goroutine per device and let all of them settle.
	var wg sync.WaitGroup
	results := make([]PageResult, len(units))
	for i, unit := range units {
		wg.Add(1)
		go func(i int, unit deviceUnit) {
			defer wg.Done()
			results[i] = m.syncDevice(ctx, i, unit, run)
		}(i, unit)
	}
	wg.Wait()

	var events []models.AccessEvent
	failedDevices := 0
	for i := range results {
		events = append(events, results[i].Events...)
		if run.Devices[i].Error != "" {
			failedDevices++
		}
	}

	if len(events) > 0 {
		records := m.aggregator.Aggregate(ctx, events)
		report, err := m.store.WriteRecords(ctx, records)
		run.Writes = report
		if err != nil {
			logging.Error().
				Err(err).
				Str("run_id", run.ID.String()).
				Int("failed", report.Failed).
				Msg("Some records failed to write")
		}
	}

	run.FinishedAt = time.Now()
	run.Outcome = runOutcome(len(units), failedDevices, run.Writes)
	metrics.SyncDevicesFailed.Add(float64(failedDevices))

	logging.Info().
		Str("run_id", run.ID.String()).
		Str("outcome", string(run.Outcome)).
		Int("devices_failed", failedDevices).
		Int("inserted", run.Writes.Inserted).
		Int("updated", run.Writes.Updated).
		Int("failed", run.Writes.Failed).
		Dur("duration", run.FinishedAt.Sub(run.StartedAt)).
		Msg("Sync run finished")

	return run
}

// syncDevice paginates one device and fills in its report slot. The window
// is widened backwards when a checkpoint shows the device missed runs, so
// downtime gaps get backfilled.
func (m *Manager) syncDevice(ctx context.Context, slot int, unit deviceUnit, run *models.SyncRun) PageResult {
	device := unit.fetcher.Name()
	window := m.deviceWindow(device, run.Window)

	result, err := unit.paginator.FetchWindow(ctx, window)

	report := models.DeviceReport{
		Device:     device,
		Pages:      result.Pages,
		Events:     result.Raw,
		Classified: len(result.Events),
		Unknown:    result.Unknown,
	}
	if err != nil {
		report.Error = err.Error()
		logging.Error().
			Err(err).
			Str("device", device).
			Str("run_id", run.ID.String()).
			Msg("Device sync failed")
	} else {
		m.saveCheckpoint(device, window, result)
	}

	run.Devices[slot] = report
	return result
}

// deviceWindow extends the run window backwards to cover a gap since the
// device's last successful sync. The backfill reaches at most sync.lookback
// behind the window end so a stale checkpoint cannot trigger an unbounded
// re-fetch.
func (m *Manager) deviceWindow(device string, window models.SyncWindow) models.SyncWindow {
	if m.checkpoints == nil {
		return window
	}
	cp, err := m.checkpoints.Get(device)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			logging.Warn().Err(err).Str("device", device).Msg("Checkpoint read failed")
		}
		return window
	}
	if cp.WindowEnd.Before(window.Start) {
		start := cp.WindowEnd
		if m.cfg.Sync.Lookback > 0 {
			if floor := window.End.Add(-m.cfg.Sync.Lookback); start.Before(floor) {
				start = floor
			}
		}
		if start.Before(window.Start) {
			logging.Info().
				Str("device", device).
				Time("checkpoint_end", cp.WindowEnd).
				Time("window_start", window.Start).
				Msg("Extending window to backfill gap since last checkpoint")
			window.Start = start
		}
	}
	return window
}

func (m *Manager) saveCheckpoint(device string, window models.SyncWindow, result PageResult) {
	if m.checkpoints == nil {
		return
	}
	err := m.checkpoints.Save(&checkpoint.Checkpoint{
		Device:      device,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Events:      result.Raw,
		SyncedAt:    time.Now(),
	})
	if err != nil {
		logging.Warn().Err(err).Str("device", device).Msg("Checkpoint save failed")
	}
}

// runOutcome classifies a finished run. A run with nothing written and
// every device failed is a failure; any failed device or failed write
// downgrades success to partial.
func runOutcome(devices, failedDevices int, writes models.WriteReport) models.SyncOutcome {
	persisted := writes.Inserted + writes.Updated
	switch {
	case devices > 0 && failedDevices == devices && persisted == 0:
		return models.SyncFailure
	case failedDevices > 0 || writes.Failed > 0:
		return models.SyncPartial
	default:
		return models.SyncSuccess
	}
}

// IsRunning reports whether a sync run is currently in flight.
func (m *Manager) IsRunning() bool {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	return m.running
}

// LastRun returns the most recent completed run, or nil before the first.
func (m *Manager) LastRun() *models.SyncRun {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.lastRun
}
