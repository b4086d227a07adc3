// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the Aleutian Research service.
//
// Description:
//
//	Provides standard counters, histograms, and gauges for HTTP requests,
//	research runs, provider calls, and tool calls. All metrics use the
//	"research_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Run Metrics ---

	// RunsTotal counts total research runs by terminal status.
	RunsTotal metric.Int64Counter

	// RunDuration records end-to-end research run duration in seconds.
	RunDuration metric.Float64Histogram

	// IterationsTotal counts loop iterations across all runs.
	IterationsTotal metric.Int64Counter

	// ActiveRuns tracks currently executing research runs.
	ActiveRuns metric.Int64UpDownCounter

	// --- Provider Metrics ---

	// ProviderRequestsTotal counts LLM provider calls by phase and status.
	ProviderRequestsTotal metric.Int64Counter

	// ProviderRequestDuration records provider call duration in seconds.
	ProviderRequestDuration metric.Float64Histogram

	// ProviderTokensTotal counts tokens consumed by direction (input/output).
	ProviderTokensTotal metric.Int64Counter

	// --- Tool Metrics ---

	// ToolRequestsTotal counts search tool calls by tool name and status.
	ToolRequestsTotal metric.Int64Counter

	// ToolRequestDuration records tool call duration in seconds.
	ToolRequestDuration metric.Float64Histogram

	// SourcesTotal counts unique sources discovered across all runs.
	SourcesTotal metric.Int64Counter

	// --- Lifecycle Metrics ---

	// CheckpointsTotal counts checkpoint saves by phase.
	CheckpointsTotal metric.Int64Counter

	// CompactionsTotal counts finding compaction passes.
	CompactionsTotal metric.Int64Counter

	// ContinuationsTotal counts context-exhaustion continuations.
	ContinuationsTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by kind and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("research")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.RunsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"research_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"research_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"research_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	// --- Run Metrics ---
	m.RunsTotal, err = meter.Int64Counter(
		"research_runs_total",
		metric.WithDescription("Total research runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.RunDuration, err = meter.Float64Histogram(
		"research_run_duration_seconds",
		metric.WithDescription("End-to-end research run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		return nil, fmt.Errorf("create run_duration: %w", err)
	}

	m.IterationsTotal, err = meter.Int64Counter(
		"research_iterations_total",
		metric.WithDescription("Total loop iterations across all runs"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create iterations_total: %w", err)
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter(
		"research_active_runs",
		metric.WithDescription("Currently executing research runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active_runs: %w", err)
	}

	// --- Provider Metrics ---
	m.ProviderRequestsTotal, err = meter.Int64Counter(
		"research_provider_requests_total",
		metric.WithDescription("Total LLM provider calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider_requests_total: %w", err)
	}

	m.ProviderRequestDuration, err = meter.Float64Histogram(
		"research_provider_request_duration_seconds",
		metric.WithDescription("Provider call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider_request_duration: %w", err)
	}

	m.ProviderTokensTotal, err = meter.Int64Counter(
		"research_provider_tokens_total",
		metric.WithDescription("Total tokens consumed by direction"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider_tokens_total: %w", err)
	}

	// --- Tool Metrics ---
	m.ToolRequestsTotal, err = meter.Int64Counter(
		"research_tool_requests_total",
		metric.WithDescription("Total search tool calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool_requests_total: %w", err)
	}

	m.ToolRequestDuration, err = meter.Float64Histogram(
		"research_tool_request_duration_seconds",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15),
	)
	if err != nil {
		return nil, fmt.Errorf("create tool_request_duration: %w", err)
	}

	m.SourcesTotal, err = meter.Int64Counter(
		"research_sources_total",
		metric.WithDescription("Unique sources discovered"),
		metric.WithUnit("{source}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sources_total: %w", err)
	}

	// --- Lifecycle Metrics ---
	m.CheckpointsTotal, err = meter.Int64Counter(
		"research_checkpoints_total",
		metric.WithDescription("Checkpoint saves by phase"),
		metric.WithUnit("{checkpoint}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create checkpoints_total: %w", err)
	}

	m.CompactionsTotal, err = meter.Int64Counter(
		"research_compactions_total",
		metric.WithDescription("Finding compaction passes"),
		metric.WithUnit("{compaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create compactions_total: %w", err)
	}

	m.ContinuationsTotal, err = meter.Int64Counter(
		"research_continuations_total",
		metric.WithDescription("Context-exhaustion continuations"),
		metric.WithUnit("{continuation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create continuations_total: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"research_errors_total",
		metric.WithDescription("Total errors by kind and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}
