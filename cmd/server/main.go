// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/logger"
	"github.com/flowpulse/flowpulse/internal/server"
	"github.com/flowpulse/flowpulse/internal/store"
)

func main() {
	cfg, err := config.NewConfig("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting flowpulse gateway")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := server.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error initializing tracing")
		fmt.Fprintf(os.Stderr, "Error initializing tracing: %v\n", err)
		os.Exit(1)
	}

	events, err := store.New(&cfg.Database)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error opening event store")
		fmt.Fprintf(os.Stderr, "Error opening event store: %v\n", err)
		os.Exit(1)
	}
	defer events.Close()

	srv := server.New(&cfg.Server, events)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	// Wait for signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case err := <-serverErrChan:
		if err != nil {
			mainLog.Error().Err(err).Msg("Server error")
		}
	}

	// Graceful shutdown: fresh context with timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down tracer")
	}

	mainLog.Info().Msg("Gateway shut down")
}
