// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package monitor ties one stream client to one aggregator and exposes the
// projection surface the UI consumes. A Session is created per monitoring
// view and torn down with it; after Close no ingestion happens and no
// updates are signalled.
package monitor

import (
	"context"
	"sync"

	"github.com/flowpulse/flowpulse/internal/aggregator"
	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/progress"
	"github.com/flowpulse/flowpulse/internal/stream"
	"github.com/flowpulse/flowpulse/internal/workflow"
)

// View is the read-only contract exposed to presentation components.
type View struct {
	Workflows map[string][]workflow.Event
	Status    stream.Status
	Error     string
}

// Session owns the connection manager and the aggregator for one monitoring
// view. All consumers share its snapshots; none mutate them.
type Session struct {
	client *stream.Client
	agg    *aggregator.Aggregator

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	closeOnce sync.Once

	updates chan struct{}
	done    chan struct{}
}

// NewSession creates a session for the configured stream. Call Start to
// begin ingesting.
func NewSession(cfg config.StreamConfig) *Session {
	return &Session{
		client:  stream.New(cfg),
		agg:     aggregator.New(),
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start connects the stream and begins pumping events into the aggregator.
// Idempotent: calling Start on a running session is a no-op — exactly one
// pump goroutine ever exists.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.client.Connect(ctx)

	go func() {
		defer close(s.done)
		for e := range s.client.Events() {
			s.agg.Ingest(e)
			s.signal()
		}
	}()
}

// signal coalesces change notifications: the UI re-reads the full view on
// each tick, so one pending signal is enough.
func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates signals after ingestion; consumers re-read View when it fires.
// Closed on teardown.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// View returns a stable snapshot of all timelines plus connection state.
func (s *Session) View() View {
	status, errMsg := s.client.Status()
	return View{
		Workflows: s.agg.Snapshot(),
		Status:    status,
		Error:     errMsg,
	}
}

// Progress projects every workflow's timeline into its step model.
func (s *Session) Progress() map[string]progress.Model {
	snapshot := s.agg.Snapshot()
	models := make(map[string]progress.Model, len(snapshot))
	for id, timeline := range snapshot {
		models[id] = progress.Project(timeline)
	}
	return models
}

// Reconnect requests a manual reconnect of the underlying stream.
func (s *Session) Reconnect() {
	s.client.Reconnect()
}

// Close tears down the stream and waits until the ingest pump has stopped.
// Reconnect timers die with the session context. Idempotent, and closing a
// session that was never started is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if !started {
		return
	}
	s.closeOnce.Do(func() {
		cancel()
		s.client.Close()
		<-s.done
		close(s.updates)
	})
}
