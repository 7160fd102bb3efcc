// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

// Package checkpoint persists each device's last successfully synced window
// in BadgerDB. After a restart the orchestrator resumes from the stored
// window end instead of re-fetching the full lookback, which matters for
// devices that hold months of events.
//
// Losing a checkpoint is harmless: the writer's upsert makes re-fetching a
// window idempotent. The store is therefore best-effort by design.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/Jorge-Tano/hiksync/internal/metrics"
)

const deviceKeyPrefix = "device:"

// ErrNotFound is returned when a device has no stored checkpoint.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint records the last window a device synced cleanly.
type Checkpoint struct {
	Device      string    `json:"device"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Events      int       `json:"events"`
	SyncedAt    time.Time `json:"synced_at"`
}

// Store is a BadgerDB-backed checkpoint store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the checkpoint database at the given path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for checkpoints: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing BadgerDB handle. Used by tests.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Save stores a device checkpoint, replacing any previous one.
func (s *Store) Save(cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(deviceKeyPrefix+cp.Device), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", cp.Device, err)
	}

	metrics.CheckpointWrites.Inc()
	return nil
}

// Get returns the stored checkpoint for a device, or ErrNotFound.
func (s *Store) Get(device string) (*Checkpoint, error) {
	var cp Checkpoint

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(deviceKeyPrefix + device))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get checkpoint: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, ErrNotFound) {
		metrics.CheckpointReads.WithLabelValues("miss").Inc()
		return nil, err
	}
	if err != nil {
		metrics.CheckpointReads.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.CheckpointReads.WithLabelValues("hit").Inc()
	return &cp, nil
}

// All returns every stored checkpoint keyed by device name.
func (s *Store) All() (map[string]Checkpoint, error) {
	out := make(map[string]Checkpoint)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(deviceKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var cp Checkpoint
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			})
			if err != nil {
				return err
			}
			out[cp.Device] = cp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

// Delete removes a device's checkpoint. Deleting a missing checkpoint is
// not an error.
func (s *Store) Delete(device string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(deviceKeyPrefix + device))
	})
}

// Prune removes checkpoints for devices not in the configured set, so a
// renamed or retired device does not leave a stale watermark behind. It
// returns how many checkpoints were removed.
func (s *Store) Prune(configured []string) (int, error) {
	keep := make(map[string]bool, len(configured))
	for _, device := range configured {
		keep[device] = true
	}

	all, err := s.All()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for device := range all {
		if keep[device] {
			continue
		}
		if err := s.Delete(device); err != nil {
			return pruned, fmt.Errorf("prune checkpoint for %q: %w", device, err)
		}
		pruned++
	}
	return pruned, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
