// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
device_client.go - Hikvision ISAPI Device Client

This file provides the DeviceClient struct and HTTP communication layer for
the ISAPI access-control event search endpoint.

Client Features:
  - HTTP Digest authentication with a cached, refreshable session
  - Typed errors (AuthExpiredError, HTTPError, TimeoutError, MalformedError)
    so the paginator can distinguish recoverable from fatal failures
  - Context support for cancellation and timeouts
  - Per-request duration and error metrics

Error Semantics:
An empty page or a "NO MATCH" status is not an error; it means the searched
window holds no events. Only transport failures, auth rejection, unexpected
statuses, and undecodable bodies surface as errors.

Thread Safety: safe for concurrent use. The digest session is swapped under
a mutex during refresh.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/models/hikvision"
)

// acsEventPath is the ISAPI search endpoint for access-control events.
const acsEventPath = "/ISAPI/AccessControl/AcsEvent?format=json"

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics. Devices occasionally answer errors with full HTML pages.
const maxErrorBodySize = 8 * 1024 // 8KB

// EventFetcher is the device-facing surface the paginator consumes. It is
// implemented by DeviceClient for production use and by mocks in tests.
type EventFetcher interface {
	// Name returns the configured device identifier.
	Name() string

	// FetchEvents posts one search condition and returns the resulting
	// page. A page with zero matches is a valid result, not an error.
	FetchEvents(ctx context.Context, cond hikvision.AcsEventCond) (*hikvision.AcsEvent, error)

	// RefreshAuth discards the cached digest session and primes a new one
	// from a fresh challenge.
	RefreshAuth(ctx context.Context) error
}

// DeviceClient talks to one Hikvision access controller over ISAPI.
type DeviceClient struct {
	name     string
	baseURL  string
	username string
	password string
	client   *http.Client

	sessionMu sync.Mutex
	session   *digestSession
}

// NewDeviceClient creates a client for one configured device. The digest
// session is primed lazily on the first request.
func NewDeviceClient(cfg config.DeviceConfig, defaultTimeout time.Duration) *DeviceClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &DeviceClient{
		name:     cfg.Name,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the configured device identifier.
func (c *DeviceClient) Name() string { return c.name }

// FetchEvents posts one AcsEvent search page to the device.
func (c *DeviceClient) FetchEvents(ctx context.Context, cond hikvision.AcsEventCond) (*hikvision.AcsEvent, error) {
	start := time.Now()
	page, err := c.fetchEvents(ctx, cond)
	metrics.RecordDeviceRequest(c.name, time.Since(start), errorType(err))
	return page, err
}

func (c *DeviceClient) fetchEvents(ctx context.Context, cond hikvision.AcsEventCond) (*hikvision.AcsEvent, error) {
	if c.currentSession() == nil {
		if err := c.RefreshAuth(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(hikvision.AcsEventRequest{AcsEventCond: cond})
	if err != nil {
		return nil, fmt.Errorf("encode search condition: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+acsEventPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if session := c.currentSession(); session != nil {
		auth, err := session.authorize(http.MethodPost, acsEventPath)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &AuthExpiredError{Device: c.name}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HTTPError{
			Device:     c.name,
			StatusCode: resp.StatusCode,
			Body:       readBodyForError(resp.Body),
		}
	}

	var decoded hikvision.AcsEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &MalformedError{Device: c.name, Err: err}
	}

	return &decoded.AcsEvent, nil
}

// RefreshAuth sends an unauthenticated probe to collect a fresh digest
// challenge and replaces the cached session with it.
func (c *DeviceClient) RefreshAuth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+acsEventPath, http.NoBody)
	if err != nil {
		return fmt.Errorf("create challenge request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		// A device with auth disabled answers directly. Clear the session
		// so requests go out anonymous.
		c.setSession(nil)
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		return &HTTPError{
			Device:     c.name,
			StatusCode: resp.StatusCode,
			Body:       readBodyForError(resp.Body),
		}
	}

	challenge := resp.Header.Get("WWW-Authenticate")
	session, err := newDigestSession(c.username, c.password, challenge)
	if err != nil {
		return fmt.Errorf("device %s: %w", c.name, err)
	}

	c.setSession(session)
	metrics.DeviceAuthRefreshes.WithLabelValues(c.name).Inc()
	return nil
}

func (c *DeviceClient) currentSession() *digestSession {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.session
}

func (c *DeviceClient) setSession(s *digestSession) {
	c.sessionMu.Lock()
	c.session = s
	c.sessionMu.Unlock()
}

// transportError classifies a transport-level failure. Deadline and
// timeout conditions get their own type so the paginator can log them as
// slowness rather than brokenness.
func (c *DeviceClient) transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Device: c.name, Err: err}
	}
	return fmt.Errorf("device %s: request failed: %w", c.name, err)
}

// readBodyForError reads at most maxErrorBodySize bytes for diagnostics.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	return strings.TrimSpace(string(body))
}
