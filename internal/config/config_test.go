// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "http://127.0.0.1:8080/api/v1/events", cfg.Stream.Endpoint)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.Backoff.InitialInterval)
	assert.Equal(t, 5, cfg.Stream.Backoff.MaxAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Server.HistoryLimit)
	assert.Equal(t, "flowpulse-gateway", cfg.Tracing.ServiceName)
	assert.Empty(t, cfg.Tracing.Endpoint, "tracing is off by default")
	assert.Equal(t, 20, cfg.Monitor.BarWidth)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stream:
  endpoint: http://example.com/events
  backoff:
    initial_interval: 250ms
    max_attempts: 2
server:
  port: 9090
  allowed_origins:
    - http://localhost:3000
`), 0o644))

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://example.com/events", cfg.Stream.Endpoint)
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.Backoff.InitialInterval)
	assert.Equal(t, 2, cfg.Stream.Backoff.MaxAttempts)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)

	// Untouched sections keep their defaults.
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Stream.Backoff.MaxInterval)
}

func TestValidation(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("rejects bad log level", func(t *testing.T) {
		_, err := NewConfig(write(t, "log:\n  level: LOUD\n"))
		assert.ErrorContains(t, err, "invalid log level")
	})

	t.Run("rejects bad port", func(t *testing.T) {
		_, err := NewConfig(write(t, "server:\n  port: 70000\n"))
		assert.ErrorContains(t, err, "invalid server port")
	})

	t.Run("rejects backoff multiplier below one", func(t *testing.T) {
		_, err := NewConfig(write(t, "stream:\n  backoff:\n    multiplier: 0.5\n"))
		assert.ErrorContains(t, err, "multiplier")
	})

	t.Run("rejects empty stream endpoint", func(t *testing.T) {
		_, err := NewConfig(write(t, "stream:\n  endpoint: \"\"\n"))
		assert.ErrorContains(t, err, "stream.endpoint")
	})
}

func TestGetDSN(t *testing.T) {
	t.Run("sqlite in-memory alias", func(t *testing.T) {
		dc := DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
		assert.Equal(t, "file::memory:?cache=shared", dc.GetDSN())
	})

	t.Run("sqlite file path", func(t *testing.T) {
		dc := DatabaseConfig{Driver: "sqlite", Database: "events.db"}
		assert.Equal(t, "events.db", dc.GetDSN())
	})
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))

	t.Setenv("FLOWPULSE_TEST_DIR", "/var/data")
	assert.Equal(t, "/var/data/events.db", expandPath("$FLOWPULSE_TEST_DIR/events.db"))
}
