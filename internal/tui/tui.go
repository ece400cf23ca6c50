// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/logger"
	"github.com/flowpulse/flowpulse/internal/monitor"
)

// StartTUI runs the watch screen against a started session. Blocks until the
// user quits or the program fails.
func StartTUI(session *monitor.Session, cfg config.MonitorConfig) error {
	log := logger.GetTUILogger()

	p := tea.NewProgram(NewModel(session, cfg), tea.WithAltScreen())

	// Forward aggregator updates into the program. The channel closes on
	// session teardown, ending the goroutine.
	go func() {
		for range session.Updates() {
			p.Send(refreshMsg{})
		}
	}()

	_, err := p.Run()
	if err != nil {
		log.Error().Err(err).Msg("Watch TUI exited with error")
	}
	return err
}
