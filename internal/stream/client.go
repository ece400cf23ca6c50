// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream owns the persistent SSE connection to the workflow event
// feed. It delivers parsed events on a channel, reconnects with bounded
// exponential backoff, and exposes a connection status for the UI to render.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/logger"
	"github.com/flowpulse/flowpulse/internal/workflow"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetStreamLogger()
		log = &l
	})
	return log
}

// Status is the connection state surfaced to consumers.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusError      Status = "error"
)

// Scanner buffer sizing: a single event line can carry a large payload.
const (
	maxLineSize     = 1 << 20
	initialLineSize = 64 << 10
)

// Client maintains exactly one live SSE connection and forwards parsed
// workflow events. Create with New, start with Connect, stop by cancelling
// the context passed to Connect or by calling Close.
type Client struct {
	endpoint   string
	httpClient *http.Client
	backoffCfg config.BackoffConfig

	mu          sync.Mutex
	status      Status
	lastErr     string
	running     bool
	cancel      context.CancelFunc
	lastEventID string

	events      chan workflow.Event
	reconnectCh chan struct{}
	done        chan struct{}
}

// New creates a client for the configured endpoint. The client does not
// connect until Connect is called.
func New(cfg config.StreamConfig) *Client {
	return &Client{
		endpoint:    cfg.Endpoint,
		httpClient:  &http.Client{}, // no overall timeout: the stream is long-lived
		backoffCfg:  cfg.Backoff,
		status:      StatusConnecting,
		events:      make(chan workflow.Event, 64),
		reconnectCh: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Connect starts the read loop. The client is single-use: the first call
// starts the loop and every later call is a no-op, including after Close —
// once the events channel is closed it stays closed. The loop stops when
// ctx is cancelled or Close is called.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Events returns the channel of parsed events. The channel closes on
// teardown; no events are delivered after that.
func (c *Client) Events() <-chan workflow.Event {
	return c.events
}

// Status returns the current connection status and, in the error state, a
// human-readable message.
func (c *Client) Status() (Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// Reconnect requests an immediate reconnect. It is the manual retry path
// once automatic attempts are exhausted, and is safe to call in any state.
func (c *Client) Reconnect() {
	select {
	case c.reconnectCh <- struct{}{}:
	default:
	}
}

// Close tears the connection down and waits for the read loop to exit.
// After Close returns, no further events are delivered.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	running := c.running
	c.mu.Unlock()

	if !running {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.done
}

func (c *Client) setStatus(s Status, errMsg string) {
	c.mu.Lock()
	c.status = s
	c.lastErr = errMsg
	c.mu.Unlock()
}

// run drives the connect/consume/backoff cycle. The backoff resets after
// every successfully opened stream; after MaxAttempts consecutive failures
// the client parks in the error state until Reconnect() or teardown.
func (c *Client) run(ctx context.Context) {
	// running stays true after exit so a stray Connect cannot restart the
	// loop and re-close the channels.
	defer close(c.done)
	defer close(c.events)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoffCfg.InitialInterval
	policy.Multiplier = c.backoffCfg.Multiplier
	policy.MaxInterval = c.backoffCfg.MaxInterval
	policy.MaxElapsedTime = 0
	policy.Reset()

	attempts := 0
	for {
		c.setStatus(StatusConnecting, "")

		opened, err := c.consume(ctx)
		if ctx.Err() != nil {
			getLog().Info().Msg("Stream client stopped")
			return
		}
		if opened {
			attempts = 0
			policy.Reset()
		}

		attempts++
		msg := "stream closed"
		if err != nil {
			msg = err.Error()
		}

		if c.backoffCfg.MaxAttempts > 0 && attempts > c.backoffCfg.MaxAttempts {
			getLog().Error().Str("err", msg).Int("attempts", attempts-1).
				Msg("Automatic reconnects exhausted, waiting for manual retry")
			c.setStatus(StatusError, msg)
			select {
			case <-c.reconnectCh:
				attempts = 0
				policy.Reset()
				continue
			case <-ctx.Done():
				return
			}
		}

		c.setStatus(StatusError, msg)
		wait := policy.NextBackOff()
		getLog().Warn().Str("err", msg).Int("attempt", attempts).
			Dur("retry_in", wait).Msg("Stream disconnected, reconnecting")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-c.reconnectCh:
			timer.Stop()
			attempts = 0
			policy.Reset()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// consume opens the stream and reads events until it breaks. Returns whether
// the stream was successfully opened, and the terminating error.
func (c *Client) consume(ctx context.Context) (opened bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	c.mu.Lock()
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("connect stream: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.setStatus(StatusOpen, "")
	getLog().Info().Str("endpoint", c.endpoint).Msg("Stream connected")

	if err := c.readEvents(ctx, resp.Body); err != nil {
		return true, err
	}
	return true, errors.New("stream closed by server")
}

// readEvents parses the text/event-stream framing: "data:" lines accumulate
// until a blank line dispatches the event, "id:" updates the resume cursor,
// comments and other fields are ignored. A malformed payload is dropped
// without terminating the stream.
func (c *Client) readEvents(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, initialLineSize), maxLineSize)

	var data strings.Builder
	var eventID string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatch(ctx, data.String(), eventID)
				data.Reset()
			}
			eventID = ""

		case strings.HasPrefix(line, ":"):
			// keepalive comment

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))

		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))

		default:
			// "event:", "retry:" and unknown fields carry nothing we need
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, payload, eventID string) {
	e, err := workflow.Parse([]byte(payload))
	if err != nil {
		getLog().Warn().Err(err).Msg("Dropping malformed stream payload")
		return
	}

	select {
	case c.events <- e:
		if eventID != "" {
			c.mu.Lock()
			c.lastEventID = eventID
			c.mu.Unlock()
		}
	case <-ctx.Done():
	}
}
