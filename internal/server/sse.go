// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flowpulse/flowpulse/internal/store"
)

const keepaliveInterval = 15 * time.Second

// HandleSSE streams workflow events as server-sent events. A newly connected
// client first receives replayed history (bounded by historyLimit, resumable
// via the Last-Event-ID header or an "after" query parameter), then live
// events. An optional "workflow_id" query parameter narrows the feed to one
// workflow.
func HandleSSE(hub *Hub, events *store.Store, historyLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		filter := Filter{WorkflowID: r.URL.Query().Get("workflow_id")}

		after := parseAfter(r)

		// Subscribe before replay so nothing published in between is lost;
		// overlap is resolved by sequence number below.
		live, cancel, ok := hub.Subscribe(filter)
		if !ok {
			http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		getLog().Info().Str("remote", r.RemoteAddr).Uint64("after", after).Msg("SSE subscriber connected")

		var lastSeq uint64
		if events != nil {
			history, err := events.ListAfter(r.Context(), after, historyLimit)
			if err != nil {
				getLog().Error().Err(err).Msg("Failed to replay event history")
			}
			for _, rec := range history {
				if !filter.Matches(rec) {
					continue
				}
				if err := writeFrame(w, rec); err != nil {
					return
				}
				lastSeq = rec.Seq
			}
			flusher.Flush()
		}

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case rec := <-live:
				if rec.Seq <= lastSeq {
					continue // already replayed from history
				}
				if err := writeFrame(w, rec); err != nil {
					return
				}
				lastSeq = rec.Seq
				flusher.Flush()

			case <-keepalive.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()

			case <-r.Context().Done():
				getLog().Info().Str("remote", r.RemoteAddr).Msg("SSE subscriber disconnected")
				return
			}
		}
	}
}

func parseAfter(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return after
}

func writeFrame(w http.ResponseWriter, rec store.EventRecord) error {
	payload, err := json.Marshal(rec.Event())
	if err != nil {
		getLog().Error().Err(err).Msg("Failed to marshal event for SSE frame")
		return nil // skip the frame, keep the stream
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", rec.Seq, payload)
	return err
}
