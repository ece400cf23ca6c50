// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetStreamLogger returns a logger for the SSE stream client
func GetStreamLogger() zerolog.Logger {
	return GetLogger("stream")
}

// GetAggregatorLogger returns a logger for the event aggregator
func GetAggregatorLogger() zerolog.Logger {
	return GetLogger("aggregator")
}

// GetAPILogger returns a logger for gateway API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetDatabaseLogger returns a logger for event-store operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetTUILogger returns a logger for TUI components
func GetTUILogger() zerolog.Logger {
	return GetLogger("tui")
}
