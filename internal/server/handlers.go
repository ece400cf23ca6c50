// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/flowpulse/flowpulse/internal/progress"
	"github.com/flowpulse/flowpulse/internal/store"
	"github.com/flowpulse/flowpulse/internal/workflow"

	"github.com/go-chi/chi/v5"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	hub      *Hub
	registry *ClientRegistry
	events   *store.Store
}

// NewHandlers creates the handler set.
func NewHandlers(hub *Hub, registry *ClientRegistry, events *store.Store) *Handlers {
	return &Handlers{hub: hub, registry: registry, events: events}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// --- POST handlers ---

// IngestEvent handles POST /api/v1/events. The body is a single workflow
// event; missing workflowId and timestamp fields are defaulted, malformed
// JSON is rejected. Accepted events are persisted and fanned out to
// subscribers. Replays of an already-seen event return the original sequence
// number.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read request body", "context": err.Error()})
		return
	}

	event, err := workflow.Parse(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed event payload", "context": err.Error()})
		return
	}

	seq, err := h.events.Append(r.Context(), event)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to persist event", "context": err.Error()})
		return
	}

	rec := store.Record(seq, event)
	h.hub.Publish(rec)
	h.registry.Broadcast(rec)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"workflowId": event.WorkflowID,
		"seq":        seq,
	})
}

// --- GET handlers ---

type workflowSummary struct {
	WorkflowID string `json:"workflowId"`
	Status     string `json:"status"`
	EventCount int    `json:"eventCount"`
}

// GetWorkflows handles GET /api/v1/workflows
func (h *Handlers) GetWorkflows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ids, err := h.events.WorkflowIDs(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list workflows", "context": err.Error()})
		return
	}

	summaries := make([]workflowSummary, 0, len(ids))
	for _, id := range ids {
		timeline, err := h.events.ListByWorkflow(ctx, id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load workflow timeline", "context": err.Error()})
			return
		}
		summaries = append(summaries, workflowSummary{
			WorkflowID: id,
			Status:     progress.StatusLabel(timeline),
			EventCount: len(timeline),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"workflows": summaries})
}

// GetWorkflow handles GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")

	timeline, err := h.events.ListByWorkflow(r.Context(), workflowID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load workflow timeline", "context": err.Error()})
		return
	}
	if len(timeline) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown workflow", "context": workflowID})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflowId": workflowID,
		"timeline":   timeline,
		"progress":   progress.Project(timeline),
	})
}
