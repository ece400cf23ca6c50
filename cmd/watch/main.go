// Copyright (C) 2026 Flowpulse
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/logger"
	"github.com/flowpulse/flowpulse/internal/monitor"
	"github.com/flowpulse/flowpulse/internal/tui"
)

func main() {
	endpoint := flag.String("endpoint", "", "SSE endpoint to watch (overrides config)")
	flag.Parse()

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

	streamCfg := cfg.Stream
	if *endpoint != "" {
		streamCfg.Endpoint = *endpoint
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := monitor.NewSession(streamCfg)
	session.Start(ctx)
	defer session.Close()

	mainLog.Info().Str("endpoint", streamCfg.Endpoint).Msg("Watching workflow stream")

	if err := tui.StartTUI(session, cfg.Monitor); err != nil {
		mainLog.Error().Err(err).Msg("TUI error")
		fmt.Fprintf(os.Stderr, "Error running watch TUI: %v\n", err)
		os.Exit(1)
	}
}
