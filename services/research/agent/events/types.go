// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides event types, sinks, and an emitter for the
// research loop.
//
// Events let external systems observe loop behavior (stream progress,
// persist checkpoints and trajectories, collect metrics) without coupling
// to the loop implementation. Payloads are opaque nested maps; the loop
// mandates only which event types are emitted and when.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"context"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeCheckpoint carries a serialized checkpoint at a phase boundary.
	TypeCheckpoint Type = "AGENT_CHECKPOINT"

	// TypeTrajectory carries the finalized trajectory aggregate.
	TypeTrajectory Type = "AGENT_TRAJECTORY"

	// TypeAgentFailed carries the error kind and a capped error string when
	// a run fails.
	TypeAgentFailed Type = "AgentFailed"

	// TypeRunStarted is emitted when a research run begins.
	TypeRunStarted Type = "run_started"

	// TypeRunCompleted is emitted when a research run ends.
	TypeRunCompleted Type = "run_completed"

	// TypePhaseCompleted is emitted after each loop phase.
	TypePhaseCompleted Type = "phase_completed"

	// TypeProgress carries a step/message progress notification.
	TypeProgress Type = "progress"
)

// Event is one observation of loop behavior.
//
// Description:
//
//	Events are the primary mechanism for observing the loop. The payload
//	shape is owned by the emitting site; consumers that need structure
//	decode the keys they know and ignore the rest.
//
// Thread Safety:
//
//	Events are treated as immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// CorrelationID groups all events of one research request, continuations
	// and resumes included.
	CorrelationID string `json:"correlation_id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries event-specific data as a plain nested map.
	Payload map[string]any `json:"payload,omitempty"`

	// Metadata carries typed additional context.
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata contains typed additional context for events.
type Metadata struct {
	// TraceID links the event to a distributed trace.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID links the event to a specific span.
	SpanID string `json:"span_id,omitempty"`

	// Source identifies where the event originated.
	Source string `json:"source,omitempty"`

	// Tags are key-value pairs for categorization.
	Tags map[string]string `json:"tags,omitempty"`
}

// Sink persists or forwards events.
//
// # Description
//
// Sinks are best-effort from the loop's point of view: a failing sink is
// logged and never aborts a run. Implementations own their durability and
// batching policy.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Publish delivers one event.
	Publish(ctx context.Context, event Event) error
}
