// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
)

// LogSink writes events to the structured logger. Useful as the default
// sink in development and as a fallback when no durable sink is configured.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink writing to the given logger. A nil logger uses
// the default logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

// Publish logs the event at info level.
func (s *LogSink) Publish(_ context.Context, event Event) error {
	s.logger.Info("agent event",
		"event_type", string(event.Type),
		"event_id", event.ID,
		"correlation_id", event.CorrelationID,
		"payload_keys", len(event.Payload),
	)
	return nil
}

// MemorySink buffers events in memory. Intended for tests and for the API
// layer's per-run event views.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]Event, 0)}
}

// Publish appends the event.
func (s *MemorySink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recorded := make([]Event, len(s.events))
	copy(recorded, s.events)
	return recorded
}

// EventsByType returns recorded events of a specific type.
func (s *MemorySink) EventsByType(eventType Type) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Event
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// Count returns the number of recorded events.
func (s *MemorySink) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Clear removes all recorded events.
func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

// FanoutSink publishes every event to all child sinks. Errors are joined so
// one failing child does not hide the others.
type FanoutSink struct {
	sinks []Sink
}

// NewFanoutSink creates a fanout over the given sinks. Nil sinks are skipped.
func NewFanoutSink(sinks ...Sink) *FanoutSink {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &FanoutSink{sinks: kept}
}

// Publish delivers the event to every child sink.
func (s *FanoutSink) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitterSink republishes events through an Emitter, bridging the persisted
// event path onto live subscribers such as websocket streams.
type EmitterSink struct {
	emitter *Emitter
}

// NewEmitterSink creates a sink forwarding into the given emitter.
func NewEmitterSink(emitter *Emitter) *EmitterSink {
	return &EmitterSink{emitter: emitter}
}

// Publish forwards the event's type and payload to the emitter.
func (s *EmitterSink) Publish(_ context.Context, event Event) error {
	s.emitter.EmitWithMetadata(event.Type, event.Payload, event.Metadata)
	return nil
}
