// Hiksync - Hikvision Attendance Synchronization
// Copyright 2026 Jorge T. (Jorge-Tano)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Jorge-Tano/hiksync

// Package config loads and validates the Hiksync service configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then environment variables. Precedence is ENV > file > defaults.
package config

import "time"

// Config is the root configuration for the Hiksync service.
type Config struct {
	Devices    []DeviceConfig   `koanf:"devices" validate:"required,min=1,dive"`
	Sync       SyncConfig       `koanf:"sync"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Database   DatabaseConfig   `koanf:"database"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Server     ServerConfig     `koanf:"server"`
	API        APIConfig        `koanf:"api"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// DeviceConfig describes one Hikvision access-control device to poll.
type DeviceConfig struct {
	// Name is the stable identifier stored with attendance records. It
	// must be unique across the device list.
	Name string `koanf:"name" validate:"required"`

	// URL is the device base URL, e.g. "http://192.168.1.21".
	URL string `koanf:"url" validate:"required,url"`

	// Username and Password are the digest auth credentials.
	Username string `koanf:"username" validate:"required"`
	Password string `koanf:"password" validate:"required"`

	// TimeOffset corrects a skewed device clock. It is added to every
	// event timestamp fetched from this device.
	TimeOffset time.Duration `koanf:"time_offset"`

	// Department is an optional label attached to records from this
	// device when the employee has no department of their own.
	Department string `koanf:"department"`

	// Timeout overrides the per-request HTTP timeout for this device.
	// Zero means the sync-level default applies.
	Timeout time.Duration `koanf:"timeout"`
}

// SyncConfig controls the recurring sync orchestration.
type SyncConfig struct {
	// Interval between automatic sync runs. Zero disables the timer;
	// syncs then only run via the API trigger.
	Interval time.Duration `koanf:"interval"`

	// Lookback is how far into the past each run fetches events.
	Lookback time.Duration `koanf:"lookback" validate:"required"`

	// Timeout bounds one full sync run across all devices.
	Timeout time.Duration `koanf:"timeout"`

	// RunOnStartup triggers an immediate sync when the service starts.
	RunOnStartup bool `koanf:"run_on_startup"`

	// PageSize is the maxResults value sent per search page.
	PageSize int `koanf:"page_size" validate:"min=1,max=100"`

	// MaxPages caps pages fetched per device per run as a runaway guard.
	MaxPages int `koanf:"max_pages" validate:"min=1"`

	// PageDelay is the pause between successive page requests to the
	// same device. Budget terminals misbehave under rapid-fire searches.
	PageDelay time.Duration `koanf:"page_delay"`

	// RetryAttempts and RetryDelay control per-request retry with
	// exponential backoff.
	RetryAttempts int           `koanf:"retry_attempts" validate:"min=0"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// MaxConsecutiveErrors aborts a device's pagination after this many
	// page failures in a row.
	MaxConsecutiveErrors int `koanf:"max_consecutive_errors" validate:"min=1"`
}

// ClassifierConfig holds the punch classification tables.
//
// The minor-code mapping is a per-installation device setting, not a vendor
// constant, so both fallback tables are configurable. Map keys are strings
// because they arrive from YAML and environment variables; values are punch
// type names (check_in, check_out, break_out, break_in, overtime_in,
// overtime_out).
type ClassifierConfig struct {
	// MinorCodes maps a minor event code (as a decimal string) to a punch
	// type, applied when the status label is inconclusive and the event's
	// major code equals AttendanceMajor.
	MinorCodes map[string]string `koanf:"minor_codes"`

	// AttendanceMajor is the major code the MinorCodes table applies to.
	AttendanceMajor int `koanf:"attendance_major"`

	// Readers maps a card reader number (as a decimal string) to a punch
	// type, the last classification fallback for installations with
	// direction-dedicated readers.
	Readers map[string]string `koanf:"readers"`
}

// DatabaseConfig controls the embedded DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`

	// Threads for DuckDB query execution. 0 = use runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// CheckpointConfig controls the Badger store that remembers each device's
// last successfully synced window.
type CheckpointConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment" validate:"oneof=development production"`
}

// APIConfig controls API behavior.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size" validate:"min=1"`
	MaxPageSize     int           `koanf:"max_page_size" validate:"min=1"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Devices: nil, // Devices must come from file or env; there is no sane default
		Sync: SyncConfig{
			Interval:             15 * time.Minute,
			Lookback:             24 * time.Hour,
			Timeout:              10 * time.Minute,
			RunOnStartup:         true,
			PageSize:             30, // ISAPI caps AcsEvent searches at 30 rows
			MaxPages:             500,
			PageDelay:            250 * time.Millisecond,
			RetryAttempts:        3,
			RetryDelay:           2 * time.Second,
			MaxConsecutiveErrors: 3,
		},
		Classifier: ClassifierConfig{
			AttendanceMajor: 5,
			MinorCodes: map[string]string{
				"75": "check_in",
				"76": "check_out",
				"77": "break_out",
				"78": "break_in",
			},
			Readers: map[string]string{},
		},
		Database: DatabaseConfig{
			Path:      "/data/hiksync.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Path:    "/data/checkpoints",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8790,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
