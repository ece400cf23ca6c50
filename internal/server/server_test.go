// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/store"
	"github.com/flowpulse/flowpulse/internal/workflow"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	events, err := store.New(&config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "events.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	srv := New(&config.ServerConfig{Host: "127.0.0.1", Port: 0, HistoryLimit: 500}, events)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, events
}

func postEvent(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/events", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestIngestEvent(t *testing.T) {
	ts, _ := newTestGateway(t)

	t.Run("accepts a well-formed event", func(t *testing.T) {
		resp := postEvent(t, ts, `{"workflowId":"wf-1","stateName":"Validation","timestamp":"2026-02-01T10:00:00Z","isSuccess":"true"}`)
		defer resp.Body.Close()
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var out struct {
			WorkflowID string `json:"workflowId"`
			Seq        uint64 `json:"seq"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "wf-1", out.WorkflowID)
		assert.NotZero(t, out.Seq)
	})

	t.Run("duplicate returns the original sequence", func(t *testing.T) {
		body := `{"workflowId":"wf-dup","stateName":"Upload","timestamp":"2026-02-01T10:00:00Z","isSuccess":true}`

		first := postEvent(t, ts, body)
		defer first.Body.Close()
		var a struct {
			Seq uint64 `json:"seq"`
		}
		require.NoError(t, json.NewDecoder(first.Body).Decode(&a))

		second := postEvent(t, ts, body)
		defer second.Body.Close()
		var b struct {
			Seq uint64 `json:"seq"`
		}
		require.NoError(t, json.NewDecoder(second.Body).Decode(&b))

		assert.Equal(t, a.Seq, b.Seq)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		resp := postEvent(t, ts, `{not json`)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetWorkflows(t *testing.T) {
	ts, _ := newTestGateway(t)

	postEvent(t, ts, `{"workflowId":"wf-a","stateName":"Upload","timestamp":"2026-02-01T10:00:00Z","isSuccess":true}`).Body.Close()
	postEvent(t, ts, `{"workflowId":"wf-a","stateName":"Validation","timestamp":"2026-02-01T10:01:00Z","isSuccess":false,"currentStatus":"In-Progress"}`).Body.Close()
	postEvent(t, ts, `{"workflowId":"wf-b","stateName":"Upload","timestamp":"2026-02-01T10:02:00Z","isSuccess":true}`).Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/workflows")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Workflows []struct {
			WorkflowID string `json:"workflowId"`
			Status     string `json:"status"`
			EventCount int    `json:"eventCount"`
		} `json:"workflows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Workflows, 2)

	assert.Equal(t, "wf-a", out.Workflows[0].WorkflowID)
	assert.Equal(t, "In-Progress", out.Workflows[0].Status)
	assert.Equal(t, 2, out.Workflows[0].EventCount)

	assert.Equal(t, "wf-b", out.Workflows[1].WorkflowID)
	assert.Equal(t, "Completed", out.Workflows[1].Status)
}

func TestGetWorkflow(t *testing.T) {
	ts, _ := newTestGateway(t)

	postEvent(t, ts, `{"workflowId":"wf-detail","stateName":"Upload","timestamp":"2026-02-01T10:00:00Z","isSuccess":true}`).Body.Close()
	postEvent(t, ts, `{"workflowId":"wf-detail","stateName":"Validation","timestamp":"2026-02-01T10:01:00Z","isSuccess":true}`).Body.Close()

	t.Run("known workflow", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/workflows/wf-detail")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			WorkflowID string           `json:"workflowId"`
			Timeline   []workflow.Event `json:"timeline"`
			Progress   struct {
				CurrentIndex int    `json:"currentIndex"`
				Status       string `json:"status"`
			} `json:"progress"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "wf-detail", out.WorkflowID)
		require.Len(t, out.Timeline, 2)
		assert.Equal(t, "Upload", out.Timeline[0].StateName)
		assert.Equal(t, 1, out.Progress.CurrentIndex)
		assert.Equal(t, "Completed", out.Progress.Status)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/workflows/no-such")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

// sseConn is a minimal SSE reader over an open response body.
type sseConn struct {
	resp   *http.Response
	reader *bufio.Reader
}

func openSSE(t *testing.T, url string, lastEventID string) *sseConn {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	t.Cleanup(func() { resp.Body.Close() })
	return &sseConn{resp: resp, reader: bufio.NewReader(resp.Body)}
}

// next reads frames until one with a data field arrives, returning its id and
// decoded event.
func (c *sseConn) next(t *testing.T) (string, workflow.Event) {
	t.Helper()
	var id string
	var data bytes.Buffer
	for {
		line, err := c.reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			if data.Len() == 0 {
				continue // keepalive or id-only frame
			}
			var ev workflow.Event
			require.NoError(t, json.Unmarshal(data.Bytes(), &ev))
			return id, ev
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func TestSSEFeed(t *testing.T) {
	t.Run("replays history then streams live events", func(t *testing.T) {
		ts, _ := newTestGateway(t)

		postEvent(t, ts, `{"workflowId":"wf-sse","stateName":"Upload","timestamp":"2026-02-01T10:00:00Z","isSuccess":true}`).Body.Close()

		conn := openSSE(t, ts.URL+"/api/v1/events", "")

		id, ev := conn.next(t)
		assert.Equal(t, "1", id)
		assert.Equal(t, "Upload", ev.StateName)

		postEvent(t, ts, `{"workflowId":"wf-sse","stateName":"Validation","timestamp":"2026-02-01T10:01:00Z","isSuccess":true}`).Body.Close()

		id, ev = conn.next(t)
		assert.Equal(t, "2", id)
		assert.Equal(t, "Validation", ev.StateName)
	})

	t.Run("resumes after Last-Event-ID", func(t *testing.T) {
		ts, _ := newTestGateway(t)

		postEvent(t, ts, `{"workflowId":"wf-resume","stateName":"Upload","timestamp":"2026-02-01T10:00:00Z","isSuccess":true}`).Body.Close()
		postEvent(t, ts, `{"workflowId":"wf-resume","stateName":"Validation","timestamp":"2026-02-01T10:01:00Z","isSuccess":true}`).Body.Close()

		conn := openSSE(t, ts.URL+"/api/v1/events", "1")

		id, ev := conn.next(t)
		assert.Equal(t, "2", id)
		assert.Equal(t, "Validation", ev.StateName)
	})

	t.Run("workflow_id filter narrows the feed", func(t *testing.T) {
		ts, _ := newTestGateway(t)

		postEvent(t, ts, `{"workflowId":"wf-one","stateName":"Upload","timestamp":"2026-02-01T10:00:00Z","isSuccess":true}`).Body.Close()
		postEvent(t, ts, `{"workflowId":"wf-two","stateName":"Upload","timestamp":"2026-02-01T10:01:00Z","isSuccess":true}`).Body.Close()

		conn := openSSE(t, ts.URL+"/api/v1/events?workflow_id=wf-two", "")

		_, ev := conn.next(t)
		assert.Equal(t, "wf-two", ev.WorkflowID)
	})
}

func TestWebSocketFeed(t *testing.T) {
	ts, _ := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "subscribe",
		"filters": map[string]string{"workflow_id": "wf-ws"},
	}))
	// Give the server a moment to register the filter.
	time.Sleep(50 * time.Millisecond)

	postEvent(t, ts, `{"workflowId":"wf-other","stateName":"Upload","timestamp":"2026-02-01T10:00:00Z","isSuccess":true}`).Body.Close()
	postEvent(t, ts, `{"workflowId":"wf-ws","stateName":"Upload","timestamp":"2026-02-01T10:01:00Z","isSuccess":true}`).Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string         `json:"type"`
		Seq     uint64         `json:"seq"`
		Payload workflow.Event `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "wf-ws", msg.Payload.WorkflowID, "filtered-out workflow must not arrive first")
	assert.NotZero(t, msg.Seq)
}

func TestHubSlowSubscriber(t *testing.T) {
	hub := NewHub()

	ch, cancel, ok := hub.Subscribe(Filter{})
	require.True(t, ok)
	defer cancel()

	// Overflow the subscriber queue; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueue*2; i++ {
			hub.Publish(store.EventRecord{Seq: uint64(i + 1), WorkflowID: "wf"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The queue still holds the earliest events.
	first := <-ch
	assert.Equal(t, uint64(1), first.Seq)
}

func TestParseAfter(t *testing.T) {
	mk := func(header, query string) *http.Request {
		url := "/api/v1/events"
		if query != "" {
			url += "?after=" + query
		}
		req := httptest.NewRequest(http.MethodGet, url, nil)
		if header != "" {
			req.Header.Set("Last-Event-ID", header)
		}
		return req
	}

	assert.Equal(t, uint64(0), parseAfter(mk("", "")))
	assert.Equal(t, uint64(7), parseAfter(mk("7", "")))
	assert.Equal(t, uint64(3), parseAfter(mk("", "3")))
	assert.Equal(t, uint64(9), parseAfter(mk("9", "3")), "header wins over query")
	assert.Equal(t, uint64(0), parseAfter(mk("garbage", "")))
}

func TestRequestIDPropagation(t *testing.T) {
	ts, _ := newTestGateway(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/workflows", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestGetRequestIDFromContext(t *testing.T) {
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	req.Header.Set("X-Request-ID", "req-ctx-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-ctx-1", got)
	assert.Empty(t, GetRequestID(context.Background()), "no ID outside the middleware")
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestGateway(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Last-Event-ID")
}

func TestHistoryLimitCapsReplay(t *testing.T) {
	events, err := store.New(&config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "events.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	srv := New(&config.ServerConfig{Host: "127.0.0.1", Port: 0, HistoryLimit: 1}, events)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"workflowId":"wf-cap","stateName":"Step-%d","timestamp":"2026-02-01T10:0%d:00Z","isSuccess":true}`, i, i)
		postEvent(t, ts, body).Body.Close()
	}

	// Replay is capped at one record, the oldest after the cursor.
	conn := openSSE(t, ts.URL+"/api/v1/events", "")
	id, ev := conn.next(t)
	assert.Equal(t, "1", id)
	assert.Equal(t, "Step-0", ev.StateName)
}
