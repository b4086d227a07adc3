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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
)

// errorSink fails every publish.
type errorSink struct{}

func (errorSink) Publish(context.Context, Event) error {
	return errors.New("publish refused")
}

func testEvent(id string, eventType Type) Event {
	return Event{
		ID:            id,
		Type:          eventType,
		CorrelationID: "corr-sink",
		Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload:       map[string]any{"step": "search"},
	}
}

func TestLogSinkPublish(t *testing.T) {
	quiet := logging.New(logging.Config{Level: logging.LevelError, Service: "test"})
	defer quiet.Close()

	if err := NewLogSink(quiet).Publish(context.Background(), testEvent("e1", TypeProgress)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// A nil logger falls back to the default logger.
	if NewLogSink(nil) == nil {
		t.Fatal("NewLogSink(nil) returned nil")
	}
}

func TestMemorySinkRecordsAndFilters(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	_ = sink.Publish(ctx, testEvent("e1", TypeProgress))
	_ = sink.Publish(ctx, testEvent("e2", TypeCheckpoint))
	_ = sink.Publish(ctx, testEvent("e3", TypeProgress))

	if sink.Count() != 3 {
		t.Fatalf("Count = %d, want 3", sink.Count())
	}

	recorded := sink.Events()
	if len(recorded) != 3 || recorded[0].ID != "e1" || recorded[2].ID != "e3" {
		t.Fatalf("Events = %v", recorded)
	}

	// The returned slice is a copy.
	recorded[0].ID = "mutated"
	if sink.Events()[0].ID != "e1" {
		t.Fatal("Events returned internal storage")
	}

	progress := sink.EventsByType(TypeProgress)
	if len(progress) != 2 || progress[1].ID != "e3" {
		t.Fatalf("EventsByType = %v", progress)
	}

	sink.Clear()
	if sink.Count() != 0 {
		t.Fatalf("Count after Clear = %d", sink.Count())
	}
}

func TestFanoutSinkPublishesToAll(t *testing.T) {
	first := NewMemorySink()
	second := NewMemorySink()
	fanout := NewFanoutSink(first, nil, second)

	if err := fanout.Publish(context.Background(), testEvent("e1", TypeProgress)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if first.Count() != 1 || second.Count() != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", first.Count(), second.Count())
	}
}

func TestFanoutSinkFailingChildDoesNotHideOthers(t *testing.T) {
	survivor := NewMemorySink()
	fanout := NewFanoutSink(errorSink{}, survivor)

	err := fanout.Publish(context.Background(), testEvent("e1", TypeProgress))
	if err == nil {
		t.Fatal("joined error missing")
	}
	if survivor.Count() != 1 {
		t.Fatalf("survivor count = %d, want 1", survivor.Count())
	}
}

func TestEmitterSinkBridgesToSubscribers(t *testing.T) {
	emitter := NewEmitter(WithCorrelationID("corr-live"))

	var got *Event
	emitter.Subscribe(func(event *Event) { got = event })

	source := testEvent("e-durable", TypeCheckpoint)
	source.Metadata = &Metadata{Source: "loop"}

	if err := NewEmitterSink(emitter).Publish(context.Background(), source); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got == nil {
		t.Fatal("subscriber never invoked")
	}
	if got.Type != TypeCheckpoint {
		t.Fatalf("Type = %q", got.Type)
	}
	if got.Payload["step"] != "search" {
		t.Fatalf("Payload = %v", got.Payload)
	}
	if got.Metadata == nil || got.Metadata.Source != "loop" {
		t.Fatalf("Metadata = %+v", got.Metadata)
	}
	// The emitter restamps identity: new ID, its own correlation id.
	if got.ID == "e-durable" {
		t.Fatal("event ID not restamped")
	}
	if got.CorrelationID != "corr-live" {
		t.Fatalf("CorrelationID = %q", got.CorrelationID)
	}
}
