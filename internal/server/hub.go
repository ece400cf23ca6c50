// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the event gateway: job runners report workflow
// state transitions over REST, and monitoring clients receive them over SSE
// or WebSocket with short-term history replay.
package server

import (
	"sync"

	"github.com/flowpulse/flowpulse/internal/logger"
	"github.com/flowpulse/flowpulse/internal/store"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

const (
	maxSubscribers  = 1000
	subscriberQueue = 64
)

// Filter narrows a subscription to one workflow. The zero value matches
// every event.
type Filter struct {
	WorkflowID string `json:"workflow_id,omitempty"`
}

// Matches reports whether the record passes the filter.
func (f Filter) Matches(rec store.EventRecord) bool {
	return f.WorkflowID == "" || f.WorkflowID == rec.WorkflowID
}

// subscriber is one connected SSE or WebSocket client.
type subscriber struct {
	ch     chan store.EventRecord
	filter Filter
}

// Hub fans accepted events out to all connected subscribers. A subscriber
// that cannot keep up has events dropped rather than blocking the hub; the
// client catches up through history replay on its next connect.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber and returns its event channel plus a
// cancel function. Returns false when the connection limit is reached.
func (h *Hub) Subscribe(filter Filter) (<-chan store.EventRecord, func(), bool) {
	sub := &subscriber{
		ch:     make(chan store.EventRecord, subscriberQueue),
		filter: filter,
	}

	h.mu.Lock()
	if len(h.subs) >= maxSubscribers {
		h.mu.Unlock()
		return nil, nil, false
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}
	return sub.ch, cancel, true
}

// Publish delivers the record to every matching subscriber.
func (h *Hub) Publish(rec store.EventRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.filter.Matches(rec) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			// client too slow, skip
			getLog().Warn().Str("workflow_id", rec.WorkflowID).Msg("Dropping event for slow subscriber")
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
