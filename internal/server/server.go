// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/store"

	"github.com/go-chi/chi/v5"
)

// Server is the REST + SSE + WebSocket event gateway.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

// New creates and wires up the gateway. It does NOT start listening —
// call Run() for that.
func New(cfg *config.ServerConfig, events *store.Store) *Server {
	hub := NewHub()
	registry := NewClientRegistry()
	handlers := NewHandlers(hub, registry, events)

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Tracing)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodySize(1 << 20)) // 1 MB default

	// REST routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", handlers.IngestEvent)
		r.Get("/events", HandleSSE(hub, events, cfg.HistoryLimit))

		r.Get("/workflows", handlers.GetWorkflows)
		r.Get("/workflows/{id}", handlers.GetWorkflow)
	})

	// WebSocket
	r.Get("/ws", HandleWebSocket(registry, cfg.AllowedOrigins))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// No WriteTimeout: SSE responses stream until the client leaves.
			IdleTimeout: 60 * time.Second,
		},
		handler: r,
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server. Blocks until the server is shut down.
func (s *Server) Run(ctx context.Context) error {
	getLog().Info().Str("addr", s.httpServer.Addr).Msg("Gateway listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
