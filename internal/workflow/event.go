// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package workflow defines the event model shared by the stream client, the
// aggregator, and the gateway. An Event is one reported state transition of a
// running background job (file upload, payroll computation, punch correction).
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one state transition for a workflow run. All fields are normalized
// at the parsing boundary: IsSuccess is always a plain bool and Timestamp is
// always a concrete instant, regardless of how the wire payload spelled them.
type Event struct {
	WorkflowID    string    `json:"workflowId"`
	StateName     string    `json:"stateName"`
	Timestamp     time.Time `json:"timestamp"`
	IsSuccess     bool      `json:"isSuccess"`
	CurrentStatus string    `json:"currentStatus,omitempty"`
	EventMessage  string    `json:"eventMessage,omitempty"`
	FileID        string    `json:"fileId,omitempty"`
	WorkflowName  string    `json:"workflowName,omitempty"`
}

// Key returns the deduplication key for the event: the full normalized tuple.
// Two deliveries of the same transition share a key and must collapse to one
// timeline entry.
func (e Event) Key() string {
	return fmt.Sprintf("%s|%s|%d|%t", e.WorkflowID, e.StateName, e.Timestamp.UnixMilli(), e.IsSuccess)
}

// rawEvent mirrors the wire shape before normalization. isSuccess may arrive
// as a bool or as the strings "true"/"false"; timestamp may be RFC 3339 or
// unix milliseconds.
type rawEvent struct {
	WorkflowID    string          `json:"workflowId"`
	StateName     string          `json:"stateName"`
	Timestamp     json.RawMessage `json:"timestamp"`
	IsSuccess     json.RawMessage `json:"isSuccess"`
	CurrentStatus string          `json:"currentStatus"`
	EventMessage  string          `json:"eventMessage"`
	FileID        string          `json:"fileId"`
	WorkflowName  string          `json:"workflowName"`
}

// Parse decodes one wire payload into a normalized Event.
// Unparsable JSON is an error and the payload is dropped by the caller; a
// payload with a partial shape is kept — a missing workflowId gets a
// generated key so the event is never silently lost.
func Parse(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal workflow event: %w", err)
	}

	e := Event{
		WorkflowID:    raw.WorkflowID,
		StateName:     raw.StateName,
		IsSuccess:     normalizeSuccess(raw.IsSuccess),
		CurrentStatus: raw.CurrentStatus,
		EventMessage:  raw.EventMessage,
		FileID:        raw.FileID,
		WorkflowName:  raw.WorkflowName,
	}

	if e.WorkflowID == "" {
		e.WorkflowID = GenerateKey()
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("workflow %s: %w", e.WorkflowID, err)
	}
	e.Timestamp = ts

	return e, nil
}

// GenerateKey returns a fallback correlation key for events that arrive
// without one.
func GenerateKey() string {
	return "workflow-" + uuid.New().String()
}

// normalizeSuccess coerces the wire value to a bool. Accepts JSON true/false
// and the strings "true"/"false" (any case). Anything else, including a
// missing value, is false.
func normalizeSuccess(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}

	return false
}

// parseTimestamp accepts RFC 3339 (with or without sub-second precision) and
// unix milliseconds. An absent timestamp resolves to the current time so the
// event still lands at the tail of its timeline.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Now().UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %s", raw)
}
