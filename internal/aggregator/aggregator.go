// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package aggregator turns the unordered, multiplexed event stream into
// per-workflow timelines sorted by event time. One Aggregator is owned by one
// monitoring session; all mutation goes through Ingest, readers only ever see
// snapshot copies.
package aggregator

import (
	"sort"
	"sync"

	"github.com/flowpulse/flowpulse/internal/logger"
	"github.com/flowpulse/flowpulse/internal/workflow"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAggregatorLogger()
		log = &l
	})
	return log
}

// Aggregator accumulates workflow events into ordered per-workflow timelines.
// Timelines persist for the lifetime of the aggregator; completed workflows
// are never evicted.
type Aggregator struct {
	mu        sync.RWMutex
	timelines map[string][]workflow.Event
	seen      map[string]struct{}
}

// New creates an empty aggregator.
func New() *Aggregator {
	return &Aggregator{
		timelines: make(map[string][]workflow.Event),
		seen:      make(map[string]struct{}),
	}
}

// Ingest appends the event to its workflow's timeline and re-establishes
// ascending timestamp order. Duplicate deliveries (same workflowId, stateName,
// timestamp, and success flag) are dropped, so Ingest is idempotent. Events
// with equal timestamps keep their ingestion order: the sort is stable.
func (a *Aggregator) Ingest(e workflow.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := e.Key()
	if _, dup := a.seen[key]; dup {
		getLog().Debug().
			Str("workflow_id", e.WorkflowID).
			Str("state", e.StateName).
			Msg("Skipping duplicate event delivery")
		return
	}
	a.seen[key] = struct{}{}

	timeline := append(a.timelines[e.WorkflowID], e)
	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].Timestamp.Before(timeline[j].Timestamp)
	})
	a.timelines[e.WorkflowID] = timeline
}

// IngestPayload parses one raw wire payload and ingests it. Malformed
// payloads are dropped without affecting existing timelines.
func (a *Aggregator) IngestPayload(data []byte) error {
	e, err := workflow.Parse(data)
	if err != nil {
		getLog().Warn().Err(err).Msg("Dropping malformed event payload")
		return err
	}
	a.Ingest(e)
	return nil
}

// Snapshot returns a copy of every timeline, keyed by workflow ID. The copy
// is stable: concurrent ingestion never mutates a returned slice.
func (a *Aggregator) Snapshot() map[string][]workflow.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return lo.MapValues(a.timelines, func(timeline []workflow.Event, _ string) []workflow.Event {
		out := make([]workflow.Event, len(timeline))
		copy(out, timeline)
		return out
	})
}

// Timeline returns a copy of one workflow's timeline, or nil if the workflow
// has not been observed.
func (a *Aggregator) Timeline(workflowID string) []workflow.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()

	timeline, ok := a.timelines[workflowID]
	if !ok {
		return nil
	}
	out := make([]workflow.Event, len(timeline))
	copy(out, timeline)
	return out
}

// WorkflowIDs returns the observed workflow IDs in no particular order.
func (a *Aggregator) WorkflowIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return lo.Keys(a.timelines)
}

// Len returns the number of observed workflows.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.timelines)
}
