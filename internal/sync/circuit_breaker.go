// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

/*
circuit_breaker.go - Per-Device Circuit Breaker

Wraps an EventFetcher with a gobreaker circuit breaker so a dead or
rebooting terminal stops consuming the sync run's time budget. Each device
gets its own breaker; one misbehaving terminal never blocks the others.

States:
  - Closed: requests pass through, failures are counted
  - Open: requests are rejected immediately for the open period
  - Half-Open: a limited number of probes decide recovery

The breaker trips when at least 10 requests have been observed and 60% or
more of them failed. Auth expiry does not count as a failure; it is part of
the normal digest session lifecycle.
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/Jorge-Tano/hiksync/internal/logging"
	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/models/hikvision"
)

// breakerFetcher decorates an EventFetcher with circuit breaker protection.
type breakerFetcher struct {
	inner   EventFetcher
	breaker *gobreaker.CircuitBreaker[interface{}]
}

// newBreakerFetcher wraps a device client in its own circuit breaker.
func newBreakerFetcher(inner EventFetcher) *breakerFetcher {
	name := inner.Name()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,           // Allow 3 probes in half-open state
		Interval:    time.Minute, // Reset failure counts every minute when closed
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("device", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
		IsSuccessful: func(err error) bool {
			// Session expiry is routine; only real failures should trip.
			var authErr *AuthExpiredError
			return err == nil || errors.As(err, &authErr)
		},
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(gobreaker.StateClosed))

	return &breakerFetcher{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

func (b *breakerFetcher) Name() string { return b.inner.Name() }

func (b *breakerFetcher) FetchEvents(ctx context.Context, cond hikvision.AcsEventCond) (*hikvision.AcsEvent, error) {
	result, err := b.execute(func() (interface{}, error) {
		return b.inner.FetchEvents(ctx, cond)
	})
	return castResult[hikvision.AcsEvent](result, err)
}

func (b *breakerFetcher) RefreshAuth(ctx context.Context) error {
	_, err := b.execute(func() (interface{}, error) {
		return nil, b.inner.RefreshAuth(ctx)
	})
	return err
}

// execute runs fn through the breaker and records the outcome.
func (b *breakerFetcher) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.breaker.Execute(fn)

	name := b.inner.Name()
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
	}

	return result, err
}

// castResult converts a breaker result to the expected pointer type.
func castResult[T any](result interface{}, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
