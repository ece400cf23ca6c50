// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package runprogress

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/flowpulse/flowpulse/internal/progress"
)

// Model renders one workflow's step progress as a compact bar.
type Model struct {
	run   progress.Model
	width int
}

// New creates a new run progress model
func New() Model {
	return Model{
		width: 20,
	}
}

// SetRun sets the projected workflow progress to render
func (m Model) SetRun(run progress.Model) Model {
	m.run = run
	return m
}

// SetWidth sets the progress bar width
func (m Model) SetWidth(w int) Model {
	if w > 0 {
		m.width = w
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders: [▓▓▓▓▓░░░░░] 2/4 Validation
func (m Model) View() string {
	total := len(m.run.Steps)
	if total == 0 {
		return ""
	}

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	accent := lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	success := lipgloss.NewStyle().Foreground(lipgloss.Color("35"))

	completed := 0
	for _, s := range m.run.Steps {
		if s.Completed {
			completed++
		}
	}

	filled := (completed * m.width) / total
	if completed < total {
		// Half-fill credit for the step in flight.
		filled = (completed*m.width + m.width/2) / total
	}

	bar := ""
	for i := 0; i < m.width; i++ {
		if i < filled {
			bar += success.Render("▓")
		} else {
			bar += dim.Render("░")
		}
	}

	displayStep := completed
	if completed < total && m.run.CurrentIndex >= 0 {
		displayStep = m.run.CurrentIndex + 1
	}

	label := ""
	switch {
	case completed == total:
		label = success.Render("Complete ✓")
	case m.run.CurrentIndex >= 0 && m.run.CurrentIndex < total:
		label = accent.Render(m.run.Steps[m.run.CurrentIndex].Label)
	}

	return fmt.Sprintf("[%s] %s %s", bar, dim.Render(fmt.Sprintf("%d/%d", displayStep, total)), label)
}
