// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tui is the terminal UI for watching workflow progress live. It
// renders one row per workflow with a step-progress bar, a detail pane for
// the selected workflow, and the stream connection state.
package tui

import (
	"sort"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/monitor"
	"github.com/flowpulse/flowpulse/internal/progress"
	"github.com/flowpulse/flowpulse/internal/tui/components/runprogress"
)

// refreshMsg tells the model to re-read the session snapshot.
type refreshMsg struct{}

// Model is the watch screen.
type Model struct {
	session *monitor.Session

	view     monitor.View
	order    []string // workflow IDs, sorted for stable display
	selected int

	spinner  spinner.Model
	bar      runprogress.Model
	width    int
	height   int
	quitting bool
}

// NewModel creates the watch screen bound to a running session.
func NewModel(session *monitor.Session, cfg config.MonitorConfig) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))

	return Model{
		session: session,
		view:    session.View(),
		spinner: sp,
		bar:     runprogress.New().SetWidth(cfg.BarWidth),
		width:   80,
		height:  24,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// refresh re-reads the session snapshot and keeps the selection stable.
func (m Model) refresh() Model {
	m.view = m.session.View()

	m.order = m.order[:0]
	for id := range m.view.Workflows {
		m.order = append(m.order, id)
	}
	sort.Strings(m.order)

	if m.selected >= len(m.order) {
		m.selected = len(m.order) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	return m
}

// selectedProgress projects the selected workflow's timeline, or an empty
// model when nothing is selected.
func (m Model) selectedProgress() (string, progress.Model) {
	if len(m.order) == 0 || m.selected >= len(m.order) {
		return "", progress.Model{CurrentIndex: -1, Status: progress.StatusPending}
	}
	id := m.order[m.selected]
	return id, progress.Project(m.view.Workflows[id])
}
