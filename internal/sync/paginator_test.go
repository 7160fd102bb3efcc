// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/models"
	"github.com/Jorge-Tano/hiksync/internal/models/hikvision"
)

// pageStep scripts one FetchEvents response for the fake fetcher.
type pageStep struct {
	page *hikvision.AcsEvent
	err  error
}

// fakeFetcher replays a script of pages and records what it was asked.
type fakeFetcher struct {
	script    []pageStep
	calls     int
	refreshes int
	positions []int
	failAuth  error
}

func (f *fakeFetcher) Name() string { return "lobby" }

func (f *fakeFetcher) FetchEvents(_ context.Context, cond hikvision.AcsEventCond) (*hikvision.AcsEvent, error) {
	f.positions = append(f.positions, cond.SearchResultPosition)
	step := f.script[min(f.calls, len(f.script)-1)]
	f.calls++
	return step.page, step.err
}

func (f *fakeFetcher) RefreshAuth(context.Context) error {
	f.refreshes++
	return f.failAuth
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		PageSize:             30,
		MaxPages:             10,
		PageDelay:            0, // Keep tests fast
		RetryAttempts:        1, // No backoff retries unless the test wants them
		RetryDelay:           time.Millisecond,
		MaxConsecutiveErrors: 3,
	}
}

func testWindow(t *testing.T) models.SyncWindow {
	t.Helper()
	return models.SyncWindow{
		Start: at(t, "2026-08-31T00:00:00+07:00"),
		End:   at(t, "2026-09-01T00:00:00+07:00"),
	}
}

func scriptedPage(status string, infos ...hikvision.AcsEventInfo) *hikvision.AcsEvent {
	return &hikvision.AcsEvent{
		ResponseStatusStrg: status,
		NumOfMatches:       len(infos),
		InfoList:           infos,
	}
}

func rawPunch(employee, ts string, minor int) hikvision.AcsEventInfo {
	return hikvision.AcsEventInfo{
		EmployeeNoString: &employee,
		Time:             ts,
		Major:            5,
		Minor:            minor,
	}
}

func TestPaginator_WalksAllPages(t *testing.T) {
	fetcher := &fakeFetcher{script: []pageStep{
		{page: scriptedPage(hikvision.StatusMore,
			rawPunch("E001", "2026-08-31T08:00:00+07:00", 75),
			rawPunch("E002", "2026-08-31T08:01:00+07:00", 75),
		)},
		{page: scriptedPage(hikvision.StatusMore,
			rawPunch("E001", "2026-08-31T17:00:00+07:00", 76),
		)},
		{page: scriptedPage(hikvision.StatusOK,
			rawPunch("E002", "2026-08-31T17:05:00+07:00", 76),
		)},
	}}

	p := NewPaginator(fetcher, testClassifier(), testSyncConfig(), 0)
	result, err := p.FetchWindow(context.Background(), testWindow(t))
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}

	if result.Pages != 3 {
		t.Errorf("pages: expected 3, got %d", result.Pages)
	}
	if len(result.Events) != 4 {
		t.Errorf("events: expected 4, got %d", len(result.Events))
	}

	// The cursor advances by each page's numOfMatches.
	wantPositions := []int{0, 2, 3}
	for i, want := range wantPositions {
		if fetcher.positions[i] != want {
			t.Errorf("page %d position: expected %d, got %d", i, want, fetcher.positions[i])
		}
	}
}

func TestPaginator_EmptyWindow(t *testing.T) {
	fetcher := &fakeFetcher{script: []pageStep{
		{page: scriptedPage(hikvision.StatusNoMatch)},
	}}

	p := NewPaginator(fetcher, testClassifier(), testSyncConfig(), 0)
	result, err := p.FetchWindow(context.Background(), testWindow(t))
	if err != nil {
		t.Fatalf("an empty window is not a failure: %v", err)
	}
	if result.Pages != 1 || len(result.Events) != 0 {
		t.Errorf("expected 1 empty page, got pages=%d events=%d", result.Pages, len(result.Events))
	}
}

func TestPaginator_RefreshesExpiredSessionAndRetries(t *testing.T) {
	fetcher := &fakeFetcher{script: []pageStep{
		{err: &AuthExpiredError{Device: "lobby"}},
		{page: scriptedPage(hikvision.StatusOK,
			rawPunch("E001", "2026-08-31T08:00:00+07:00", 75),
		)},
	}}

	p := NewPaginator(fetcher, testClassifier(), testSyncConfig(), 0)
	result, err := p.FetchWindow(context.Background(), testWindow(t))
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}

	if fetcher.refreshes != 1 {
		t.Errorf("expected 1 auth refresh, got %d", fetcher.refreshes)
	}
	if len(result.Events) != 1 {
		t.Errorf("retried page should yield its events, got %d", len(result.Events))
	}
	// Same offset fetched twice: fail, then retry after refresh.
	if len(fetcher.positions) != 2 || fetcher.positions[0] != 0 || fetcher.positions[1] != 0 {
		t.Errorf("retry should reuse the failed position, got %v", fetcher.positions)
	}
}

func TestPaginator_AbortsAfterConsecutiveErrors(t *testing.T) {
	fetcher := &fakeFetcher{script: []pageStep{
		{err: &HTTPError{Device: "lobby", StatusCode: 500}},
	}}

	p := NewPaginator(fetcher, testClassifier(), testSyncConfig(), 0)
	_, err := p.FetchWindow(context.Background(), testWindow(t))
	if err == nil {
		t.Fatal("persistent failure should abort the device")
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Errorf("abort should wrap the last page error, got %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("expected 3 attempts before abort, got %d", fetcher.calls)
	}
}

func TestPaginator_KeepsEarlierPagesOnLateFailure(t *testing.T) {
	fetcher := &fakeFetcher{script: []pageStep{
		{page: scriptedPage(hikvision.StatusMore,
			rawPunch("E001", "2026-08-31T08:00:00+07:00", 75),
		)},
		{err: &HTTPError{Device: "lobby", StatusCode: 500}},
	}}

	p := NewPaginator(fetcher, testClassifier(), testSyncConfig(), 0)
	result, err := p.FetchWindow(context.Background(), testWindow(t))
	if err == nil {
		t.Fatal("expected a device error")
	}
	if len(result.Events) != 1 {
		t.Errorf("pages fetched before the abort should be kept, got %d events", len(result.Events))
	}
}

func TestPaginator_StopsAtPageCap(t *testing.T) {
	// A stuck cursor keeps claiming MORE forever.
	fetcher := &fakeFetcher{script: []pageStep{
		{page: scriptedPage(hikvision.StatusMore,
			rawPunch("E001", "2026-08-31T08:00:00+07:00", 75),
		)},
	}}

	cfg := testSyncConfig()
	cfg.MaxPages = 5

	p := NewPaginator(fetcher, testClassifier(), cfg, 0)
	result, err := p.FetchWindow(context.Background(), testWindow(t))
	if err != nil {
		t.Fatalf("hitting the cap is not a failure: %v", err)
	}
	if result.Pages != 5 {
		t.Errorf("expected exactly %d pages, got %d", cfg.MaxPages, result.Pages)
	}
}

func TestPaginator_CountsUnknownPunches(t *testing.T) {
	fetcher := &fakeFetcher{script: []pageStep{
		{page: scriptedPage(hikvision.StatusOK,
			rawPunch("E001", "2026-08-31T08:00:00+07:00", 75),
			rawPunch("E002", "2026-08-31T08:01:00+07:00", 21), // Unmapped minor
		)},
	}}

	p := NewPaginator(fetcher, testClassifier(), testSyncConfig(), 0)
	result, err := p.FetchWindow(context.Background(), testWindow(t))
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}

	if result.Raw != 2 {
		t.Errorf("raw: expected 2, got %d", result.Raw)
	}
	if len(result.Events) != 1 {
		t.Errorf("classified: expected 1, got %d", len(result.Events))
	}
	if result.Unknown != 1 {
		t.Errorf("unknown: expected 1, got %d", result.Unknown)
	}
}

func TestPaginator_CancelledContext(t *testing.T) {
	fetcher := &fakeFetcher{script: []pageStep{
		{page: scriptedPage(hikvision.StatusMore,
			rawPunch("E001", "2026-08-31T08:00:00+07:00", 75),
		)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPaginator(fetcher, testClassifier(), testSyncConfig(), 0)
	_, err := p.FetchWindow(ctx, testWindow(t))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPaginator_SendsWindowInDeviceFormat(t *testing.T) {
	var gotCond hikvision.AcsEventCond
	fetcher := &condCaptureFetcher{capture: &gotCond}

	p := NewPaginator(fetcher, testClassifier(), testSyncConfig(), 0)
	if _, err := p.FetchWindow(context.Background(), testWindow(t)); err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}

	if gotCond.StartTime != "2026-08-31T00:00:00+07:00" {
		t.Errorf("start time format: got %q", gotCond.StartTime)
	}
	if gotCond.EndTime != "2026-09-01T00:00:00+07:00" {
		t.Errorf("end time format: got %q", gotCond.EndTime)
	}
	if gotCond.MaxResults != 30 {
		t.Errorf("maxResults: expected 30, got %d", gotCond.MaxResults)
	}
	if gotCond.SearchID == "" {
		t.Error("searchID must be set; devices cache cursors by it")
	}
}

type condCaptureFetcher struct {
	capture *hikvision.AcsEventCond
}

func (f *condCaptureFetcher) Name() string { return "lobby" }

func (f *condCaptureFetcher) FetchEvents(_ context.Context, cond hikvision.AcsEventCond) (*hikvision.AcsEvent, error) {
	*f.capture = cond
	return scriptedPage(hikvision.StatusNoMatch), nil
}

func (f *condCaptureFetcher) RefreshAuth(context.Context) error { return nil }
