// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
	"github.com/google/uuid"
)

// MaxPromptChars caps every string field of a trajectory record.
const MaxPromptChars = 4000

// TrajectoryStep is one recorded step of a run.
type TrajectoryStep struct {
	// StepName is the loop step (plan, search, extract, ...).
	StepName string `json:"step_name"`

	// Timestamp is when the step was recorded (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// InputSummary summarizes what went into the step.
	InputSummary string `json:"input_summary"`

	// OutputSummary summarizes what came out.
	OutputSummary string `json:"output_summary"`

	// DecisionRationale explains the step's decision, when there was one.
	DecisionRationale string `json:"decision_rationale,omitempty"`

	// Metrics carries numeric observations (counts, scores).
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// DurationMs is how long the step took.
	DurationMs int64 `json:"duration_ms"`
}

// Trajectory is the finalized aggregate of a run's steps.
type Trajectory struct {
	// CorrelationID groups the trajectory with its run.
	CorrelationID string `json:"correlation_id"`

	// TotalSteps is the number of recorded steps.
	TotalSteps int `json:"total_steps"`

	// TotalDurationMs is the sum of step durations.
	TotalDurationMs int64 `json:"total_duration_ms"`

	// Events is the ordered step list.
	Events []TrajectoryStep `json:"events"`
}

// TrajectoryRecorder collects an append-only audit log of loop steps.
//
// Description:
//
//	Each phase records what it consumed, what it produced, and why it
//	decided what it decided. Every string field is truncated to
//	MaxPromptChars so a single oversized prompt cannot bloat the log.
//	Save pushes the aggregate through an event sink best-effort: sink
//	failures are logged, never raised.
//
// Thread Safety:
//
//	Safe for concurrent use, though the loop records from a single
//	goroutine in practice.
type TrajectoryRecorder struct {
	mu            sync.Mutex
	correlationID string
	steps         []TrajectoryStep
	sink          events.Sink
	logger        *logging.Logger
	clock         Clock
}

// TrajectoryOption configures a TrajectoryRecorder.
type TrajectoryOption func(*TrajectoryRecorder)

// WithTrajectorySink sets the event sink Save publishes through.
func WithTrajectorySink(sink events.Sink) TrajectoryOption {
	return func(r *TrajectoryRecorder) {
		r.sink = sink
	}
}

// WithTrajectoryLogger sets the logger for sink failures.
func WithTrajectoryLogger(logger *logging.Logger) TrajectoryOption {
	return func(r *TrajectoryRecorder) {
		r.logger = logger
	}
}

// WithTrajectoryClock overrides the clock for tests.
func WithTrajectoryClock(clock Clock) TrajectoryOption {
	return func(r *TrajectoryRecorder) {
		r.clock = clock
	}
}

// NewTrajectoryRecorder creates a recorder for one correlation id.
func NewTrajectoryRecorder(correlationID string, opts ...TrajectoryOption) *TrajectoryRecorder {
	r := &TrajectoryRecorder{
		correlationID: correlationID,
		steps:         make([]TrajectoryStep, 0, 16),
		logger:        logging.Default(),
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one step. String fields are truncated to MaxPromptChars.
func (r *TrajectoryRecorder) Record(stepName, inputSummary, outputSummary, decisionRationale string, metrics map[string]float64, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.steps = append(r.steps, TrajectoryStep{
		StepName:          truncateString(stepName, MaxPromptChars),
		Timestamp:         r.clock().UTC().UnixMilli(),
		InputSummary:      truncateString(inputSummary, MaxPromptChars),
		OutputSummary:     truncateString(outputSummary, MaxPromptChars),
		DecisionRationale: truncateString(decisionRationale, MaxPromptChars),
		Metrics:           metrics,
		DurationMs:        durationMs,
	})
}

// Len returns the number of recorded steps.
func (r *TrajectoryRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// Finalize builds the aggregate from the recorded steps.
func (r *TrajectoryRecorder) Finalize() Trajectory {
	r.mu.Lock()
	defer r.mu.Unlock()

	stepsCopy := make([]TrajectoryStep, len(r.steps))
	copy(stepsCopy, r.steps)

	var total int64
	for _, s := range stepsCopy {
		total += s.DurationMs
	}

	return Trajectory{
		CorrelationID:   r.correlationID,
		TotalSteps:      len(stepsCopy),
		TotalDurationMs: total,
		Events:          stepsCopy,
	}
}

// Save publishes the finalized aggregate through the sink under the given
// case id. Best-effort: failures are logged, never raised. A recorder
// without a sink is a no-op.
func (r *TrajectoryRecorder) Save(ctx context.Context, caseID string) {
	if r.sink == nil {
		return
	}

	trajectory := r.Finalize()
	payload := map[string]any{
		"case_id":           caseID,
		"correlation_id":    trajectory.CorrelationID,
		"total_steps":       trajectory.TotalSteps,
		"total_duration_ms": trajectory.TotalDurationMs,
		"events":            trajectory.Events,
	}

	event := events.Event{
		ID:            uuid.NewString(),
		Type:          events.TypeTrajectory,
		CorrelationID: trajectory.CorrelationID,
		Timestamp:     r.clock().UTC(),
		Payload:       payload,
	}
	if err := r.sink.Publish(ctx, event); err != nil {
		r.logger.Warn("trajectory save failed",
			"case_id", caseID,
			"correlation_id", trajectory.CorrelationID,
			"error", err,
		)
	}
}
