// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

package supervisor

import (
	"context"
)

// SyncRunner is the sync manager surface the wrapper supervises. The
// manager's Serve blocks running the periodic loop until cancellation.
type SyncRunner interface {
	Serve(ctx context.Context) error
}

// SyncService wraps the sync manager as a named supervised service.
type SyncService struct {
	runner SyncRunner
}

// NewSyncService wraps a sync manager for supervision.
func NewSyncService(runner SyncRunner) *SyncService {
	return &SyncService{runner: runner}
}

// Serve implements suture.Service.
func (s *SyncService) Serve(ctx context.Context) error {
	return s.runner.Serve(ctx)
}

// String identifies the service in supervision logs.
func (s *SyncService) String() string {
	return "attendance-sync"
}
