// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/flowpulse/flowpulse/internal/progress"
	"github.com/flowpulse/flowpulse/internal/stream"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	selectedStyle = lipgloss.NewStyle().Bold(true)
)

// View renders the watch screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Flowpulse"))
	b.WriteString("  ")
	b.WriteString(m.connectionLine())
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(dimStyle.Render("Waiting for workflow events..."))
		b.WriteString("\n")
	}

	for i, id := range m.order {
		run := progress.Project(m.view.Workflows[id])

		cursor := "  "
		name := id
		if i == m.selected {
			cursor = "> "
			name = selectedStyle.Render(id)
		}

		b.WriteString(fmt.Sprintf("%s%-24s %s %s\n", cursor, name, m.bar.SetRun(run).View(), statusBadge(run.Status)))
	}

	if id, run := m.selectedProgress(); id != "" && len(run.Steps) > 0 {
		b.WriteString("\n")
		b.WriteString(m.stepDetail(run))
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("↑/↓ select · r retry · q quit"))
	return b.String()
}

// connectionLine shows the stream state next to the title.
func (m Model) connectionLine() string {
	switch m.view.Status {
	case stream.StatusOpen:
		return successStyle.Render("● live")
	case stream.StatusError:
		msg := m.view.Error
		if msg == "" {
			msg = "connection lost"
		}
		return errorStyle.Render("✗ "+msg) + dimStyle.Render("  press r to retry")
	default:
		return m.spinner.View() + dimStyle.Render(" connecting...")
	}
}

// stepDetail renders the selected workflow's steps, one per line.
func (m Model) stepDetail(run progress.Model) string {
	var b strings.Builder
	for i, step := range run.Steps {
		marker := dimStyle.Render("○")
		label := step.Label
		if step.Completed {
			marker = successStyle.Render("✓")
		} else if i == run.CurrentIndex {
			marker = m.spinner.View()
			label = selectedStyle.Render(label)
		}

		line := fmt.Sprintf("  %s %s", marker, label)
		if !step.Time.IsZero() {
			line += dimStyle.Render("  " + step.Time.Format("15:04:05"))
		}
		if step.Message != "" {
			line += dimStyle.Render("  " + step.Message)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func statusBadge(status string) string {
	switch status {
	case progress.StatusCompleted:
		return successStyle.Render(status)
	case progress.StatusPending:
		return dimStyle.Render(status)
	default:
		return status
	}
}
