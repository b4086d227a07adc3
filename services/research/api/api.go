// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the research loop over HTTP.
//
// The server accepts research requests, executes them asynchronously through
// agent.Runner, and lets clients poll run status, stream progress events over
// a WebSocket, inspect checkpoints, and resume interrupted runs. Run state
// lives in an in-memory registry; checkpoints go through the configured
// store, so resumability survives a restart even though run history does not.
//
// The research core stays usable as a library without this package; the api
// layer is a composition root plus transport, nothing more.
package api

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/pkg/telemetry"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/store"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/tools"
	rescfg "github.com/AleutianAI/AleutianResearch/services/research/config"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the research HTTP server lifecycle.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// Researcher executes research requests end to end. *agent.Runner satisfies
// it; tests substitute fakes.
type Researcher interface {
	Run(ctx context.Context, question string, rctx agent.ResearchContext) (*agent.Result, error)
	Resume(ctx context.Context, correlationID string) (*agent.Result, error)
}

// RunnerFactory builds the runner for one research request. The api layer
// pins the correlation id and attaches the per-run event sink before
// launching, so every request gets its own isolated event stream.
type RunnerFactory func(cfg *rescfg.Config, extension, correlationID string, sink events.Sink) (Researcher, error)

// =============================================================================
// Configuration
// =============================================================================

// Config holds research API server options. Zero values use defaults.
type Config struct {
	// Port is the HTTP server port. Default: 8080.
	Port int

	// GinMode sets the Gin framework mode: "debug", "release", or "test".
	// Default: uses the GIN_MODE env var or gin's default.
	GinMode string

	// Research is the default research configuration applied when a request
	// does not carry its own. Nil selects rescfg.Default().
	Research *rescfg.Config

	// Extension is the system-prompt extension applied to every run.
	Extension string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
type service struct {
	config   Config
	router   *gin.Engine
	registry *Registry
	store    store.Store
	provider agent.Provider
	toolOpts tools.ResolveOptions
	factory  RunnerFactory
	sink     events.Sink
	logger   *logging.Logger
	metrics  *telemetry.Metrics
}

// Option configures the service.
type Option func(*service)

// WithAPILogger sets the structured logger. Defaults to logging.Default().
func WithAPILogger(logger *logging.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAPIMetrics sets the OTel metrics instance forwarded to runs.
func WithAPIMetrics(m *telemetry.Metrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithEventSink adds a sink receiving every run's events in addition to the
// per-run stream, e.g. an events.InfluxSink.
func WithEventSink(sink events.Sink) Option {
	return func(s *service) {
		s.sink = sink
	}
}

// WithRunnerFactory replaces run construction. Tests use this to substitute
// canned runners.
func WithRunnerFactory(factory RunnerFactory) Option {
	return func(s *service) {
		if factory != nil {
			s.factory = factory
		}
	}
}

// New creates the research API service.
//
// Description:
//
//	Wires the run registry, checkpoint store, and route table. The provider
//	and tool options are held for per-request runner construction: each
//	accepted request resolves tools against its effective config, so a
//	request-supplied config can redirect searches without server restarts.
//
// Inputs:
//
//	cfg - Server options. Zero values use defaults.
//	provider - The LLM provider for all runs. Must be non-nil.
//	toolOpts - Tool resolution shared by all runs.
//	st - Checkpoint store. Nil selects an in-memory store.
//	opts - Optional overrides.
//
// Outputs:
//
//	Service - Ready to Run().
//	error - Non-nil when the provider is missing or the default research
//	  config is invalid.
func New(cfg Config, provider agent.Provider, toolOpts tools.ResolveOptions, st store.Store, opts ...Option) (Service, error) {
	if provider == nil {
		return nil, agent.ErrNilProvider
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Research == nil {
		cfg.Research = rescfg.Default()
	}
	if err := cfg.Research.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", agent.ErrConfigInvalid, err)
	}
	if st == nil {
		st = store.NewMemoryStore()
	}

	s := &service{
		config:   cfg,
		registry: NewRegistry(),
		store:    st,
		provider: provider,
		toolOpts: toolOpts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.factory == nil {
		s.factory = s.newRunner
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware("research-service"))
	SetupRoutes(s.router, s.registry, s.store, s.factory, s.config, s.logger)

	return s, nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *service) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("Starting research API server", "port", s.config.Port)
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// newRunner is the default RunnerFactory: tools resolved per config, events
// fanned out to the per-run sink plus the service-wide sink, checkpoints to
// the shared store.
func (s *service) newRunner(cfg *rescfg.Config, extension, correlationID string, sink events.Sink) (Researcher, error) {
	resolved, err := tools.ResolveForConfig(cfg, s.toolOpts)
	if err != nil {
		return nil, fmt.Errorf("resolve tools: %w", err)
	}

	runSink := sink
	if s.sink != nil {
		runSink = events.NewFanoutSink(sink, s.sink)
	}

	return agent.NewRunner(cfg, extension, s.provider, resolved,
		agent.WithRunnerLogger(s.logger),
		agent.WithRunnerMetrics(s.metrics),
		agent.WithRunnerEventSink(runSink),
		agent.WithCheckpointSource(s.store),
		agent.WithLoopOptions(
			agent.WithCorrelationID(correlationID),
			agent.WithLogger(s.logger),
			agent.WithMetrics(s.metrics),
			agent.WithCheckpointSink(s.store),
			agent.WithEventSink(runSink),
		),
	)
}

// Compile-time interface compliance.
var _ Service = (*service)(nil)
