// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/pkg/telemetry"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
	"github.com/AleutianAI/AleutianResearch/services/research/api"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	servePort           int    // HTTP port
	serveConfigPath     string // Default research config YAML
	serveExtension      string // System-prompt extension for every run
	serveCheckpointDir  string // File checkpoint directory
	serveBadgerPath     string // BadgerDB checkpoint path (overrides dir)
	serveSearchEndpoint string // SearXNG-style search URL
	serveProviderName   string // openai or ollama (default: from env)
	serveModelName      string // Provider model override
	serveGinMode        string // gin mode: debug, release, test
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// serveCmd starts the research HTTP API.
//
// # Description
//
// Serves research runs over HTTP: POST a question, poll or stream its
// progress, inspect checkpoints, and resume interrupted runs. Telemetry
// exports traces over OTLP and metrics on /metrics.
//
// # Examples
//
//	research serve
//	research serve --port 9090 --badger /var/lib/research/checkpoints
//
// # Limitations
//
//   - Run history is in-memory and lost on restart; checkpoints persist
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research HTTP API server",
	Long: `Starts the HTTP server for research runs.

Endpoints:
  POST /v1/research/run              Accept a question, return a correlation id
  GET  /v1/research/runs/:id         Run status and result
  GET  /v1/research/stream/:id       WebSocket event stream
  GET  /v1/research/checkpoints/:id  Latest checkpoint
  POST /v1/research/resume/:id       Resume from checkpoint
  GET  /health                       Liveness
  GET  /metrics                      Prometheus metrics`,
	Run: runServeCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", getEnvInt("RESEARCH_PORT", 8080),
		"HTTP server port")
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "",
		"Path to the default research config YAML")
	serveCmd.Flags().StringVar(&serveExtension, "extension", "",
		"System-prompt extension applied to every run")
	serveCmd.Flags().StringVar(&serveCheckpointDir, "checkpoint-dir", "",
		"Checkpoint directory (default: ~/.aleutian/research/checkpoints)")
	serveCmd.Flags().StringVar(&serveBadgerPath, "badger", "",
		"Use a BadgerDB checkpoint store at this path instead of files")
	serveCmd.Flags().StringVar(&serveSearchEndpoint, "search-endpoint", "",
		"SearXNG-style search URL for web targets (default: SEARCH_ENDPOINT)")
	serveCmd.Flags().StringVar(&serveProviderName, "provider", "",
		"LLM provider: openai or ollama (default: openai if OPENAI_API_KEY is set)")
	serveCmd.Flags().StringVar(&serveModelName, "model", "",
		"Model override for the selected provider")
	serveCmd.Flags().StringVar(&serveGinMode, "gin-mode", "release",
		"Gin framework mode: debug, release, or test")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runServeCommand wires telemetry, provider, and store, then blocks serving
// HTTP until the process stops.
func runServeCommand(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "research",
		JSON:    true,
	})
	defer logger.Close()

	ctx := context.Background()

	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		logger.Warn("Telemetry init failed, continuing without export", "error", err.Error())
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := shutdown(shutdownCtx); serr != nil {
				logger.Warn("Telemetry shutdown failed", "error", serr.Error())
			}
		}()
	}

	metrics, err := telemetry.NewMetrics(otel.Meter("research"))
	if err != nil {
		logger.Warn("Metrics init failed, continuing without instruments", "error", err.Error())
		metrics = nil
	}

	cfg, err := loadResearchConfig(serveConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	provider, err := buildProvider(serveProviderName, serveModelName, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Provider error: %v\n", err)
		os.Exit(1)
	}

	st, err := buildStore(serveCheckpointDir, serveBadgerPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Checkpoint store error: %v\n", err)
		os.Exit(1)
	}

	opts := []api.Option{
		api.WithAPILogger(logger),
		api.WithAPIMetrics(metrics),
	}
	if sink := influxSinkFromEnv(); sink != nil {
		defer sink.Close()
		opts = append(opts, api.WithEventSink(sink))
		logger.Info("Event export to InfluxDB enabled")
	}

	svc, err := api.New(api.Config{
		Port:      servePort,
		GinMode:   serveGinMode,
		Research:  cfg,
		Extension: serveExtension,
	}, provider, buildToolOptions(serveSearchEndpoint, logger), st, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create research service: %v\n", err)
		os.Exit(1)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Research service error: %v\n", err)
		os.Exit(1)
	}
}

// influxSinkFromEnv builds an event sink when the INFLUXDB_* variables are
// set, mirroring how the rest of the platform discovers InfluxDB.
func influxSinkFromEnv() *events.InfluxSink {
	url := os.Getenv("INFLUXDB_URL")
	token := os.Getenv("INFLUXDB_TOKEN")
	if url == "" || token == "" {
		return nil
	}
	org := getEnvString("INFLUXDB_ORG", "aleutian")
	bucket := getEnvString("INFLUXDB_BUCKET", "research_events")
	return events.NewInfluxSink(url, token, org, bucket)
}
