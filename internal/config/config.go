// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"os"
	"time"
)

// StructuredConfig is the top-level configuration container for the
// offline sync client. It aggregates all sub-configurations and is
// populated by merging values from environment variables, command-line flags,
// an optional JSON file and finally the built-in defaults.
//
// Struct tags:
//   - envPrefix - prefix applied to all nested env tag lookups (caarlos0/env).
//   - env       - direct environment variable name for scalar fields.
type StructuredConfig struct {
	// App holds process-level settings such as logging and the optional
	// terminal status view.
	App App `envPrefix:"APP_"`

	// Store selects and configures the durable store backend.
	Store Store `envPrefix:"STORE_"`

	// Remote describes the remote endpoint all operations are sent to.
	Remote Remote `envPrefix:"REMOTE_"`

	// Network holds the probe cadence of the network monitor.
	Network Network `envPrefix:"NETWORK_"`

	// Sync holds retry, backoff and concurrency policy of the sync processor.
	Sync Sync `envPrefix:"SYNC_"`

	// Progressive holds policy of the progressive sync scheduler.
	Progressive Progressive `envPrefix:"PROGRESSIVE_"`

	// Resolver holds conflict resolution policy.
	Resolver Resolver `envPrefix:"RESOLVER_"`

	// Workers holds configuration for background worker processes.
	Workers Workers `envPrefix:"WORKERS_"`

	// JSONFilePath is the optional path to a JSON configuration file.
	// Populated via the CONFIG environment variable or the -c / -config flag.
	JSONFilePath string `env:"CONFIG"`
}

// App holds process-level settings.
type App struct {
	// LogLevel is a zerolog level name ("debug", "info", ...).
	// Env: APP_LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL"`

	// LogFile is the file the client logger appends to. Empty means stdout.
	// Env: APP_LOG_FILE
	LogFile string `env:"LOG_FILE"`

	// TUI enables the terminal status view.
	// Env: APP_TUI
	TUI bool `env:"TUI"`
}

// Store selects the durable store backend.
type Store struct {
	// Backend is either "sqlite" (preferred) or "file" (key-value fallback).
	// Env: STORE_BACKEND
	Backend string `env:"BACKEND"`

	// DSN is the SQLite database path used by the sqlite backend.
	// Env: STORE_DSN
	DSN string `env:"DSN"`

	// FilePath is the JSON file used by the file backend.
	// Env: STORE_FILE_PATH
	FilePath string `env:"FILE_PATH"`
}

// Remote describes the remote endpoint.
type Remote struct {
	// BaseURL is prepended to every operation endpoint (e.g. "http://localhost:8080").
	// Env: REMOTE_BASE_URL
	BaseURL string `env:"BASE_URL"`

	// HealthPath is the path of the liveness probe.
	// Env: REMOTE_HEALTH_PATH
	HealthPath string `env:"HEALTH_PATH"`

	// RequestTimeout is the per-request timeout on an excellent link. It is
	// scaled up as link quality degrades.
	// Env: REMOTE_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`

	// MaxRequestTimeout bounds the scaled per-request timeout.
	// Env: REMOTE_MAX_REQUEST_TIMEOUT
	MaxRequestTimeout time.Duration `env:"MAX_REQUEST_TIMEOUT"`
}

// Network holds network monitor cadence.
type Network struct {
	// ProbeInterval is the period of the liveness probe.
	// Env: NETWORK_PROBE_INTERVAL
	ProbeInterval time.Duration `env:"PROBE_INTERVAL"`

	// QualityInterval is the period of the latency sampling probe.
	// Env: NETWORK_QUALITY_INTERVAL
	QualityInterval time.Duration `env:"QUALITY_INTERVAL"`

	// QualitySamples is the number of requests sampled per quality probe.
	// Env: NETWORK_QUALITY_SAMPLES
	QualitySamples int `env:"QUALITY_SAMPLES"`

	// ProbeTimeout is the hard timeout of a single liveness probe.
	// Env: NETWORK_PROBE_TIMEOUT
	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT"`
}

// Sync holds sync processor policy.
type Sync struct {
	// MaxRetries is the number of retries after the first attempt of a
	// transiently failing operation.
	// Env: SYNC_MAX_RETRIES
	MaxRetries int `env:"MAX_RETRIES"`

	// BaseDelay is the first backoff delay.
	// Env: SYNC_BASE_DELAY
	BaseDelay time.Duration `env:"BASE_DELAY"`

	// MaxDelay caps every backoff delay.
	// Env: SYNC_MAX_DELAY
	MaxDelay time.Duration `env:"MAX_DELAY"`

	// Jitter is the upper bound of random jitter added to a backoff delay.
	// Env: SYNC_JITTER
	Jitter time.Duration `env:"JITTER"`

	// MaxConcurrency is the hard cap on in-flight requests in one batch.
	// Env: SYNC_MAX_CONCURRENCY
	MaxConcurrency int `env:"MAX_CONCURRENCY"`

	// CriticalPriority is the priority at and above which an operation is
	// treated as critical.
	// Env: SYNC_CRITICAL_PRIORITY
	CriticalPriority int `env:"CRITICAL_PRIORITY"`

	// ScheduleDelay is how long after a queueOperation call the
	// opportunistic sync attempt starts.
	// Env: SYNC_SCHEDULE_DELAY
	ScheduleDelay time.Duration `env:"SCHEDULE_DELAY"`
}

// Progressive holds progressive scheduler policy.
type Progressive struct {
	// BackgroundSyncDisabled limits a backgrounded process to critical work.
	// Env: PROGRESSIVE_BACKGROUND_SYNC_DISABLED
	BackgroundSyncDisabled bool `env:"BACKGROUND_SYNC_DISABLED"`

	// MaxChunkRetries is the number of attempts per chunk.
	// Env: PROGRESSIVE_MAX_CHUNK_RETRIES
	MaxChunkRetries int `env:"MAX_CHUNK_RETRIES"`

	// ChunkRetryDelay is the first delay between chunk attempts.
	// Env: PROGRESSIVE_CHUNK_RETRY_DELAY
	ChunkRetryDelay time.Duration `env:"CHUNK_RETRY_DELAY"`

	// PoorLinkBytesPerSecond paces chunk transfer while the link is poor.
	// Env: PROGRESSIVE_POOR_LINK_BYTES_PER_SECOND
	PoorLinkBytesPerSecond int `env:"POOR_LINK_BYTES_PER_SECOND"`
}

// Resolver holds conflict resolution policy.
type Resolver struct {
	// NoiseThreshold is the timestamp gap under which last-writer-wins is
	// considered ambiguous.
	// Env: RESOLVER_NOISE_THRESHOLD
	NoiseThreshold time.Duration `env:"NOISE_THRESHOLD"`
}

// Workers holds configuration for background worker processes.
type Workers struct {
	// ExpirySweepInterval is how often expired records are purged.
	// Env: WORKERS_EXPIRY_SWEEP_INTERVAL
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL"`
}

// GetStructuredConfig loads, merges, and validates the application
// configuration from all available sources in the following priority order
// (earlier sources win for non-zero fields):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON file (path resolved from sources 1 and 2)
//  4. Defaults
func GetStructuredConfig() (*StructuredConfig, error) {
	return newConfigBuilder().
		withEnv().
		withFlags(os.Args[1:]).
		withJSON().
		withDefaults().
		build()
}
