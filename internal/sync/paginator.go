// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
paginator.go - ISAPI Search Pagination

Walks one device's AcsEvent search result set page by page. The device
protocol is cursor-by-offset: each request carries searchResultPosition,
and the paginator advances it by the page's numOfMatches. Pages are fetched
sequentially; access controllers are single-board machines that corrupt
search state under concurrent queries.

Failure policy:
  - An expired digest session is refreshed once and the same page retried.
  - Any other page failure is retried in place with backoff; the offset
    never advances past an unfetched page.
  - MaxConsecutiveErrors page failures in a row abort the device for this
    run. Pages already collected are still returned so a late failure does
    not discard an almost complete fetch.
  - MaxPages caps runaway searches (for example a device that keeps
    answering MORE with a stuck cursor).

An empty result set is not a failure. "NO MATCH", an empty page, or a zero
numOfMatches all simply end the walk.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/logging"
	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/models"
	"github.com/Jorge-Tano/hiksync/internal/models/hikvision"
)

// isapiTimeLayout is the ISO-8601 shape the device expects in search
// windows, local zone offset included.
const isapiTimeLayout = "2006-01-02T15:04:05-07:00"

// PageResult is the outcome of paginating one device for one window.
type PageResult struct {
	Events []models.AccessEvent
	Pages  int

	// Unknown counts events that classified to PunchUnknown and were
	// dropped before aggregation.
	Unknown int

	// Raw counts every event the device returned, before identity and
	// timestamp filtering.
	Raw int
}

// Paginator drives the page walk for one device.
type Paginator struct {
	fetcher    EventFetcher
	classifier *Classifier
	cfg        *config.SyncConfig
	offset     time.Duration
}

// NewPaginator builds a paginator for one device. The clock offset comes
// from the device's configuration and is applied to every event timestamp.
func NewPaginator(fetcher EventFetcher, classifier *Classifier, cfg *config.SyncConfig, clockOffset time.Duration) *Paginator {
	return &Paginator{
		fetcher:    fetcher,
		classifier: classifier,
		cfg:        cfg,
		offset:     clockOffset,
	}
}

// FetchWindow walks all pages for the given window and returns the
// classified events. On a device-level failure the events collected before
// the abort are returned alongside the error.
func (p *Paginator) FetchWindow(ctx context.Context, window models.SyncWindow) (PageResult, error) {
	device := p.fetcher.Name()
	searchID := uuid.NewString()

	// The limiter paces successive pages; the initial burst lets the
	// first page go out immediately.
	var limiter *rate.Limiter
	if p.cfg.PageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(p.cfg.PageDelay), 1)
	}

	var result PageResult
	position := 0
	consecutiveErrors := 0

	for result.Pages < p.cfg.MaxPages {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				metrics.PaginationAborts.WithLabelValues(device, "cancelled").Inc()
				return result, err
			}
		} else if ctx.Err() != nil {
			metrics.PaginationAborts.WithLabelValues(device, "cancelled").Inc()
			return result, ctx.Err()
		}

		page, err := p.fetchPage(ctx, searchID, position, window)
		if err != nil {
			if ctx.Err() != nil {
				metrics.PaginationAborts.WithLabelValues(device, "cancelled").Inc()
				return result, ctx.Err()
			}

			consecutiveErrors++
			logging.Warn().
				Err(err).
				Str("device", device).
				Int("position", position).
				Int("consecutive_errors", consecutiveErrors).
				Msg("Page fetch failed")

			if consecutiveErrors >= p.cfg.MaxConsecutiveErrors {
				metrics.PaginationAborts.WithLabelValues(device, "consecutive_errors").Inc()
				return result, fmt.Errorf("aborting after %d consecutive page failures: %w", consecutiveErrors, err)
			}
			continue
		}
		consecutiveErrors = 0
		result.Pages++
		metrics.PagesFetched.WithLabelValues(device).Inc()

		result.Raw += len(page.InfoList)
		metrics.EventsFetched.WithLabelValues(device).Add(float64(len(page.InfoList)))

		for i := range page.InfoList {
			event, ok := mapEvent(&page.InfoList[i], p.classifier, device, p.offset)
			if !ok {
				continue
			}
			metrics.EventsClassified.WithLabelValues(string(event.Punch)).Inc()
			if event.Punch == models.PunchUnknown {
				result.Unknown++
				continue
			}
			result.Events = append(result.Events, event)
		}

		// A page that advances the cursor by nothing would loop forever,
		// whatever status the device claims.
		if page.ResponseStatusStrg != hikvision.StatusMore || page.NumOfMatches == 0 {
			return result, nil
		}
		position += page.NumOfMatches
	}

	metrics.PaginationAborts.WithLabelValues(device, "max_pages").Inc()
	logging.Warn().
		Str("device", device).
		Int("max_pages", p.cfg.MaxPages).
		Msg("Stopping pagination at page cap")
	return result, nil
}

// fetchPage fetches one page, transparently refreshing an expired digest
// session once, and retrying transient failures with backoff.
func (p *Paginator) fetchPage(ctx context.Context, searchID string, position int, window models.SyncWindow) (*hikvision.AcsEvent, error) {
	cond := hikvision.AcsEventCond{
		SearchID:             searchID,
		SearchResultPosition: position,
		MaxResults:           p.cfg.PageSize,
		StartTime:            window.Start.Format(isapiTimeLayout),
		EndTime:              window.End.Format(isapiTimeLayout),
	}

	var page *hikvision.AcsEvent
	err := retryWithBackoff(ctx, p.cfg.RetryAttempts, p.cfg.RetryDelay, func() error {
		var fetchErr error
		page, fetchErr = p.fetcher.FetchEvents(ctx, cond)

		var authErr *AuthExpiredError
		if errors.As(fetchErr, &authErr) {
			if refreshErr := p.fetcher.RefreshAuth(ctx); refreshErr != nil {
				return refreshErr
			}
			page, fetchErr = p.fetcher.FetchEvents(ctx, cond)
		}
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}
