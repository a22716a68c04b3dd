// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv_AllFields(t *testing.T) {
	// Arrange
	envVars := map[string]string{
		"CONFIG": "/path/to/config.json",

		"APP_LOG_LEVEL": "warn",
		"APP_LOG_FILE":  "sync.log",
		"APP_TUI":       "true",

		"STORE_BACKEND":   "file",
		"STORE_DSN":       "/tmp/sync.db",
		"STORE_FILE_PATH": "/tmp/sync.json",

		"REMOTE_BASE_URL":            "http://localhost:8080",
		"REMOTE_HEALTH_PATH":         "/ping",
		"REMOTE_REQUEST_TIMEOUT":     "15s",
		"REMOTE_MAX_REQUEST_TIMEOUT": "1m",

		"NETWORK_PROBE_INTERVAL":   "2s",
		"NETWORK_QUALITY_INTERVAL": "20s",
		"NETWORK_QUALITY_SAMPLES":  "4",

		"SYNC_MAX_RETRIES":       "5",
		"SYNC_BASE_DELAY":        "500ms",
		"SYNC_MAX_DELAY":         "10s",
		"SYNC_MAX_CONCURRENCY":   "3",
		"SYNC_CRITICAL_PRIORITY": "8",

		"PROGRESSIVE_BACKGROUND_SYNC_DISABLED": "true",
		"RESOLVER_NOISE_THRESHOLD":             "3s",
		"WORKERS_EXPIRY_SWEEP_INTERVAL":        "1m",
	}
	setEnvVars(t, envVars)

	// Act
	cfg := &StructuredConfig{}
	err := parseEnv(cfg)

	// Assert
	require.NoError(t, err)

	assert.Equal(t, "/path/to/config.json", cfg.JSONFilePath)

	assert.Equal(t, "warn", cfg.App.LogLevel)
	assert.Equal(t, "sync.log", cfg.App.LogFile)
	assert.True(t, cfg.App.TUI)

	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, "/tmp/sync.db", cfg.Store.DSN)
	assert.Equal(t, "/tmp/sync.json", cfg.Store.FilePath)

	assert.Equal(t, "http://localhost:8080", cfg.Remote.BaseURL)
	assert.Equal(t, "/ping", cfg.Remote.HealthPath)
	assert.Equal(t, 15*time.Second, cfg.Remote.RequestTimeout)
	assert.Equal(t, time.Minute, cfg.Remote.MaxRequestTimeout)

	assert.Equal(t, 2*time.Second, cfg.Network.ProbeInterval)
	assert.Equal(t, 20*time.Second, cfg.Network.QualityInterval)
	assert.Equal(t, 4, cfg.Network.QualitySamples)

	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Sync.MaxDelay)
	assert.Equal(t, 3, cfg.Sync.MaxConcurrency)
	assert.Equal(t, 8, cfg.Sync.CriticalPriority)

	assert.True(t, cfg.Progressive.BackgroundSyncDisabled)
	assert.Equal(t, 3*time.Second, cfg.Resolver.NoiseThreshold)
	assert.Equal(t, time.Minute, cfg.Workers.ExpirySweepInterval)
}

func TestParseEnv_EmptyEnv(t *testing.T) {
	// Arrange
	clearEnvVars(t)

	// Act
	cfg := &StructuredConfig{}
	err := parseEnv(cfg)

	// Assert
	require.NoError(t, err)

	assert.Equal(t, "", cfg.JSONFilePath)
	assert.Equal(t, App{}, cfg.App)
	assert.Equal(t, Store{}, cfg.Store)
	assert.Equal(t, Remote{}, cfg.Remote)
	assert.Equal(t, Sync{}, cfg.Sync)
}

func TestParseEnv_InvalidDuration(t *testing.T) {
	// Arrange
	setEnvVars(t, map[string]string{
		"SYNC_BASE_DELAY": "invalid_duration",
	})

	// Act
	cfg := &StructuredConfig{}
	err := parseEnv(cfg)

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env")
}

func TestParseEnv_DurationFormats(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"hours", "2h", 2 * time.Hour},
		{"minutes", "45m", 45 * time.Minute},
		{"seconds", "30s", 30 * time.Second},
		{"combined", "1h30m", 90 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvVars(t, map[string]string{
				"REMOTE_REQUEST_TIMEOUT": tt.envValue,
			})

			cfg := &StructuredConfig{}
			err := parseEnv(cfg)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.Remote.RequestTimeout)
		})
	}
}

// Helpers

func setEnvVars(t *testing.T, vars map[string]string) {
	t.Helper()
	clearEnvVars(t)
	for k, v := range vars {
		require.NoError(t, os.Setenv(k, v))
		t.Cleanup(func() { _ = os.Unsetenv(k) })
	}
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG",

		"APP_LOG_LEVEL",
		"APP_LOG_FILE",
		"APP_TUI",

		"STORE_BACKEND",
		"STORE_DSN",
		"STORE_FILE_PATH",

		"REMOTE_BASE_URL",
		"REMOTE_HEALTH_PATH",
		"REMOTE_REQUEST_TIMEOUT",
		"REMOTE_MAX_REQUEST_TIMEOUT",

		"NETWORK_PROBE_INTERVAL",
		"NETWORK_QUALITY_INTERVAL",
		"NETWORK_QUALITY_SAMPLES",
		"NETWORK_PROBE_TIMEOUT",

		"SYNC_MAX_RETRIES",
		"SYNC_BASE_DELAY",
		"SYNC_MAX_DELAY",
		"SYNC_JITTER",
		"SYNC_MAX_CONCURRENCY",
		"SYNC_CRITICAL_PRIORITY",
		"SYNC_SCHEDULE_DELAY",

		"PROGRESSIVE_BACKGROUND_SYNC_DISABLED",
		"PROGRESSIVE_MAX_CHUNK_RETRIES",
		"PROGRESSIVE_CHUNK_RETRY_DELAY",
		"PROGRESSIVE_POOR_LINK_BYTES_PER_SECOND",

		"RESOLVER_NOISE_THRESHOLD",
		"WORKERS_EXPIRY_SWEEP_INTERVAL",
	}
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}
