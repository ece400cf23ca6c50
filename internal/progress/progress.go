// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress projects workflow timelines into a step-indicator model
// for list and detail views. Projection is pure: the same timeline always
// yields the same model, and nothing here holds state between calls.
package progress

import (
	"time"

	"github.com/flowpulse/flowpulse/internal/workflow"

	"github.com/samber/lo"
)

// Status labels surfaced to list and summary views.
const (
	StatusPending    = "Pending"
	StatusInProgress = "In-Progress"
	StatusCompleted  = "Completed"
)

// Step is one rendered stage of a workflow.
type Step struct {
	Label     string    `json:"label"`
	Time      time.Time `json:"time"`
	Completed bool      `json:"completed"`
	Message   string    `json:"message,omitempty"`
}

// Model is the UI-ready view of one workflow's progress.
type Model struct {
	Steps []Step `json:"steps"`
	// CurrentIndex is the first incomplete step, or the last index when every
	// step is complete (terminal display state). -1 for an empty timeline.
	CurrentIndex int `json:"currentIndex"`
	// Status is "Completed" when the latest event succeeded, otherwise the
	// latest event's currentStatus, falling back to "In-Progress".
	Status string `json:"status"`
}

// Project derives the step model from a timeline. The timeline is expected in
// the aggregator's order: ascending timestamp, ingestion order on exact ties,
// so the last element is the latest event.
//
// A state reported more than once keeps its position from the first report;
// the last report's outcome wins.
func Project(timeline []workflow.Event) Model {
	if len(timeline) == 0 {
		return Model{CurrentIndex: -1, Status: StatusPending}
	}

	var steps []Step
	index := make(map[string]int, len(timeline))
	for _, e := range timeline {
		step := Step{
			Label:     e.StateName,
			Time:      e.Timestamp,
			Completed: e.IsSuccess,
			Message:   e.EventMessage,
		}
		if i, seen := index[e.StateName]; seen {
			steps[i] = step
			continue
		}
		index[e.StateName] = len(steps)
		steps = append(steps, step)
	}

	_, current, found := lo.FindIndexOf(steps, func(s Step) bool {
		return !s.Completed
	})
	if !found {
		current = len(steps) - 1
	}

	return Model{
		Steps:        steps,
		CurrentIndex: current,
		Status:       statusLabel(timeline[len(timeline)-1]),
	}
}

// StatusLabel returns just the summary label for a timeline, for list views
// that don't need the full step model.
func StatusLabel(timeline []workflow.Event) string {
	if len(timeline) == 0 {
		return StatusPending
	}
	return statusLabel(timeline[len(timeline)-1])
}

func statusLabel(latest workflow.Event) string {
	if latest.IsSuccess {
		return StatusCompleted
	}
	if latest.CurrentStatus != "" {
		return latest.CurrentStatus
	}
	return StatusInProgress
}
