// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

// Package main is the entry point for the Hiksync server.
//
// Hiksync pulls access-control events from Hikvision devices over ISAPI,
// classifies them into attendance punches, folds them into per-employee
// daily records and serves the result over a REST API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and config file via Koanf v2
//  2. Database: DuckDB attendance store
//  3. Checkpoints: BadgerDB per-device sync watermarks (optional)
//  4. Sync Manager: one client + paginator per configured device
//  5. HTTP Server: REST API with Prometheus metrics
//
// Both long-running pieces (the sync loop and the HTTP server) run under a
// Suture supervisor tree, so a crashing sync loop is restarted with backoff
// while the API keeps serving stored data.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HIKSYNC_ prefix)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// Devices are listed under the devices key; each needs a name, URL and
// digest-auth credentials:
//
//	devices:
//	  - name: lobby
//	    url: http://192.168.1.64
//	    username: admin
//	    password: secret
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// stops accepting connections and drains in-flight requests, the sync loop
// finishes or is cancelled, then the database and checkpoint store close.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Jorge-Tano/hiksync/internal/api"
	"github.com/Jorge-Tano/hiksync/internal/checkpoint"
	"github.com/Jorge-Tano/hiksync/internal/config"
	"github.com/Jorge-Tano/hiksync/internal/database"
	"github.com/Jorge-Tano/hiksync/internal/logging"
	"github.com/Jorge-Tano/hiksync/internal/metrics"
	"github.com/Jorge-Tano/hiksync/internal/supervisor"
	"github.com/Jorge-Tano/hiksync/internal/sync"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Int("devices", len(cfg.Devices)).
		Str("db_path", cfg.Database.Path).
		Dur("sync_interval", cfg.Sync.Interval).
		Msg("Starting Hiksync")

	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	var checkpoints sync.Checkpointer
	if cfg.Checkpoint.Enabled {
		store, err := checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			// Checkpoints only shorten backfill after downtime; start without them
			logging.Warn().Err(err).Msg("Checkpoint store unavailable, continuing without checkpoints")
		} else {
			defer func() {
				if err := store.Close(); err != nil {
					logging.Error().Err(err).Msg("Error closing checkpoint store")
				}
			}()
			checkpoints = store
			logging.Info().Str("path", cfg.Checkpoint.Path).Msg("Checkpoint store opened")

			names := make([]string, 0, len(cfg.Devices))
			for _, dev := range cfg.Devices {
				names = append(names, dev.Name)
			}
			if pruned, err := store.Prune(names); err != nil {
				logging.Warn().Err(err).Msg("Checkpoint prune failed")
			} else if pruned > 0 {
				logging.Info().Int("pruned", pruned).Msg("Removed checkpoints for unconfigured devices")
			}
		}
	} else {
		logging.Info().Msg("Checkpoints disabled, every run covers the full lookback window")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := sync.NewManager(cfg, db, checkpoints)

	handler := api.NewHandler(db, manager, cfg)
	router := api.NewRouter(handler, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// Bridge zerolog to slog for supervision event logging
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(supervisor.NewSyncService(manager))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.Timeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	uptimeStart := time.Now()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.AppUptime.Set(time.Since(uptimeStart).Seconds())
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor closes the channel
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
