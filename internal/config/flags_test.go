package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteURL_Set(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError bool
		expected    string
	}{
		{name: "http", input: "http://localhost:8080", expected: "http://localhost:8080"},
		{name: "https with path", input: "https://api.example.com/v1/", expected: "https://api.example.com/v1"},
		{name: "missing scheme", input: "localhost:8080", expectError: true},
		{name: "ftp scheme", input: "ftp://example.com", expectError: true},
		{name: "no host", input: "http://", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u RemoteURL
			err := u.Set(tt.input)
			if tt.expectError {
				assert.Error(t, err)
				assert.Empty(t, u.String())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u.String())
		})
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		assert func(t *testing.T, cfg *StructuredConfig)
	}{
		{
			name: "no flags",
			args: nil,
			assert: func(t *testing.T, cfg *StructuredConfig) {
				assert.Empty(t, cfg.Remote.BaseURL)
				assert.Empty(t, cfg.JSONFilePath)
				assert.False(t, cfg.App.TUI)
			},
		},
		{
			name: "all flags",
			args: []string{
				"-r", "http://127.0.0.1:9000",
				"-health-path", "/healthz",
				"-request-timeout", "20s",
				"-store", "file",
				"-d", "q.db",
				"-f", "q.json",
				"-log-level", "debug",
				"-log-file", "out.log",
				"-max-retries", "4",
				"-max-concurrency", "2",
				"-tui",
			},
			assert: func(t *testing.T, cfg *StructuredConfig) {
				assert.Equal(t, "http://127.0.0.1:9000", cfg.Remote.BaseURL)
				assert.Equal(t, "/healthz", cfg.Remote.HealthPath)
				assert.Equal(t, 20*time.Second, cfg.Remote.RequestTimeout)
				assert.Equal(t, "file", cfg.Store.Backend)
				assert.Equal(t, "q.db", cfg.Store.DSN)
				assert.Equal(t, "q.json", cfg.Store.FilePath)
				assert.Equal(t, "debug", cfg.App.LogLevel)
				assert.Equal(t, "out.log", cfg.App.LogFile)
				assert.Equal(t, 4, cfg.Sync.MaxRetries)
				assert.Equal(t, 2, cfg.Sync.MaxConcurrency)
				assert.True(t, cfg.App.TUI)
			},
		},
		{
			name: "config alias",
			args: []string{"-config", "/etc/sync.json"},
			assert: func(t *testing.T, cfg *StructuredConfig) {
				assert.Equal(t, "/etc/sync.json", cfg.JSONFilePath)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseFlags(tt.args)
			require.NoError(t, err)
			tt.assert(t, cfg)
		})
	}
}

func TestParseFlags_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad url", []string{"-r", "not-a-url"}},
		{"bad duration", []string{"-request-timeout", "soon"}},
		{"unknown flag", []string{"-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseFlags(tt.args)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}
