// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package sync

import (
	"errors"
	"fmt"
)

// Typed device errors. Callers branch on these with errors.As to decide
// between refreshing auth, counting a page failure, or giving up on the
// device for the run.

// AuthExpiredError means the device rejected the current digest session
// with HTTP 401. The session can usually be re-primed with a fresh
// challenge; the paginator retries the same page once after a refresh.
type AuthExpiredError struct {
	Device string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("device %s: digest session expired (HTTP 401)", e.Device)
}

// HTTPError means the device answered with an unexpected non-2xx status.
type HTTPError struct {
	Device     string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("device %s: unexpected HTTP %d", e.Device, e.StatusCode)
	}
	return fmt.Sprintf("device %s: unexpected HTTP %d: %s", e.Device, e.StatusCode, e.Body)
}

// TimeoutError means the request did not complete within the configured
// deadline. Budget terminals stall under load, so this is a normal
// per-page failure rather than a fatal one.
type TimeoutError struct {
	Device string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device %s: request timed out: %v", e.Device, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// MalformedError means the device returned a 2xx response whose body could
// not be decoded as an AcsEvent page.
type MalformedError struct {
	Device string
	Err    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("device %s: malformed response: %v", e.Device, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// errorType maps a device error to its metrics label. Unrecognized errors
// are lumped under "http" so the label set stays bounded.
func errorType(err error) string {
	var authErr *AuthExpiredError
	var timeoutErr *TimeoutError
	var malformedErr *MalformedError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return "auth_expired"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &malformedErr):
		return "malformed"
	default:
		return "http"
	}
}
