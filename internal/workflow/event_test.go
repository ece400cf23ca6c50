// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("boolean isSuccess", func(t *testing.T) {
		e, err := Parse([]byte(`{"workflowId":"F1","stateName":"Uploaded","timestamp":"2026-03-01T10:00:00Z","isSuccess":true}`))
		require.NoError(t, err)
		assert.Equal(t, "F1", e.WorkflowID)
		assert.Equal(t, "Uploaded", e.StateName)
		assert.True(t, e.IsSuccess)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), e.Timestamp.UTC())
	})

	t.Run("string isSuccess matches boolean", func(t *testing.T) {
		fromString, err := Parse([]byte(`{"workflowId":"F1","stateName":"Uploaded","timestamp":"2026-03-01T10:00:00Z","isSuccess":"true"}`))
		require.NoError(t, err)
		fromBool, err := Parse([]byte(`{"workflowId":"F1","stateName":"Uploaded","timestamp":"2026-03-01T10:00:00Z","isSuccess":true}`))
		require.NoError(t, err)
		assert.Equal(t, fromBool, fromString)
	})

	t.Run("false and unrecognized values are false", func(t *testing.T) {
		for _, raw := range []string{`"false"`, `false`, `"yes"`, `42`, `null`} {
			e, err := Parse([]byte(`{"workflowId":"F1","stateName":"Validated","timestamp":"2026-03-01T10:00:00Z","isSuccess":` + raw + `}`))
			require.NoError(t, err, "isSuccess=%s", raw)
			assert.False(t, e.IsSuccess, "isSuccess=%s", raw)
		}
	})

	t.Run("missing isSuccess is false", func(t *testing.T) {
		e, err := Parse([]byte(`{"workflowId":"F1","stateName":"Validated","timestamp":"2026-03-01T10:00:00Z"}`))
		require.NoError(t, err)
		assert.False(t, e.IsSuccess)
	})

	t.Run("missing workflowId gets generated key", func(t *testing.T) {
		e, err := Parse([]byte(`{"stateName":"Uploaded","timestamp":"2026-03-01T10:00:00Z","isSuccess":true}`))
		require.NoError(t, err)
		assert.NotEmpty(t, e.WorkflowID)
		assert.Contains(t, e.WorkflowID, "workflow-")

		other, err := Parse([]byte(`{"stateName":"Uploaded","timestamp":"2026-03-01T10:00:00Z","isSuccess":true}`))
		require.NoError(t, err)
		assert.NotEqual(t, e.WorkflowID, other.WorkflowID, "generated keys must not collide")
	})

	t.Run("unix milli timestamp", func(t *testing.T) {
		e, err := Parse([]byte(`{"workflowId":"F1","stateName":"Uploaded","timestamp":1772366400000,"isSuccess":true}`))
		require.NoError(t, err)
		assert.Equal(t, time.UnixMilli(1772366400000).UTC(), e.Timestamp)
	})

	t.Run("numeric string timestamp", func(t *testing.T) {
		e, err := Parse([]byte(`{"workflowId":"F1","stateName":"Uploaded","timestamp":"1772366400000","isSuccess":true}`))
		require.NoError(t, err)
		assert.Equal(t, time.UnixMilli(1772366400000).UTC(), e.Timestamp)
	})

	t.Run("missing timestamp defaults to now", func(t *testing.T) {
		before := time.Now().Add(-time.Second)
		e, err := Parse([]byte(`{"workflowId":"F1","stateName":"Uploaded","isSuccess":true}`))
		require.NoError(t, err)
		assert.True(t, e.Timestamp.After(before))
	})

	t.Run("garbage timestamp is an error", func(t *testing.T) {
		_, err := Parse([]byte(`{"workflowId":"F1","stateName":"Uploaded","timestamp":"tomorrow-ish","isSuccess":true}`))
		require.Error(t, err)
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		_, err := Parse([]byte(`{"workflowId":`))
		require.Error(t, err)
	})
}

func TestEventKey(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Event{WorkflowID: "F1", StateName: "Uploaded", Timestamp: ts, IsSuccess: true}
	b := Event{WorkflowID: "F1", StateName: "Uploaded", Timestamp: ts, IsSuccess: true}
	c := Event{WorkflowID: "F1", StateName: "Uploaded", Timestamp: ts, IsSuccess: false}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.NotEqual(t, a.Key(), Event{WorkflowID: "F2", StateName: "Uploaded", Timestamp: ts, IsSuccess: true}.Key())
}
