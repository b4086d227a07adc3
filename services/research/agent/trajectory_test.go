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
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
)

// failingSink errors on every publish.
type failingSink struct{}

func (failingSink) Publish(context.Context, events.Event) error {
	return errors.New("sink unavailable")
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestTrajectoryRecorderRecordAndFinalize(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewTrajectoryRecorder("corr-1", WithTrajectoryClock(fixedClock(now)))

	r.Record("plan", "question", "3 sub-queries", "breadth first", map[string]float64{"sub_queries": 3}, 120)
	r.Record("search", "3 sub-queries", "9 results", "", nil, 300)

	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}

	tr := r.Finalize()
	if tr.CorrelationID != "corr-1" {
		t.Fatalf("CorrelationID = %q", tr.CorrelationID)
	}
	if tr.TotalSteps != 2 {
		t.Fatalf("TotalSteps = %d, want 2", tr.TotalSteps)
	}
	if tr.TotalDurationMs != 420 {
		t.Fatalf("TotalDurationMs = %d, want 420", tr.TotalDurationMs)
	}

	step := tr.Events[0]
	if step.StepName != "plan" || step.OutputSummary != "3 sub-queries" {
		t.Fatalf("step 0 = %+v", step)
	}
	if step.Timestamp != now.UnixMilli() {
		t.Fatalf("Timestamp = %d, want %d", step.Timestamp, now.UnixMilli())
	}
	if step.Metrics["sub_queries"] != 3 {
		t.Fatalf("Metrics = %v", step.Metrics)
	}
	if tr.Events[1].DecisionRationale != "" {
		t.Fatalf("empty rationale preserved: %q", tr.Events[1].DecisionRationale)
	}
}

func TestTrajectoryRecorderTruncatesFields(t *testing.T) {
	r := NewTrajectoryRecorder("corr-2")
	oversized := strings.Repeat("x", MaxPromptChars+500)

	r.Record(oversized, oversized, oversized, oversized, nil, 1)

	step := r.Finalize().Events[0]
	for name, got := range map[string]string{
		"StepName":          step.StepName,
		"InputSummary":      step.InputSummary,
		"OutputSummary":     step.OutputSummary,
		"DecisionRationale": step.DecisionRationale,
	} {
		if len(got) != MaxPromptChars {
			t.Fatalf("%s length = %d, want %d", name, len(got), MaxPromptChars)
		}
	}
}

func TestTruncateStringKeepsRunesIntact(t *testing.T) {
	if got := truncateString("ascii", 10); got != "ascii" {
		t.Fatalf("short input changed: %q", got)
	}

	// Two-byte runes: a cut at an odd byte offset must back off rather
	// than split a rune.
	s := strings.Repeat("é", 20)
	got := truncateString(s, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}

	if got := truncateString(s, 6); len(got) != 6 {
		t.Fatalf("boundary cut len = %d, want 6", len(got))
	}
}

func TestTrajectoryFinalizeSnapshotsSteps(t *testing.T) {
	r := NewTrajectoryRecorder("corr-3")
	r.Record("plan", "", "", "", nil, 10)

	before := r.Finalize()
	r.Record("search", "", "", "", nil, 10)

	if before.TotalSteps != 1 || len(before.Events) != 1 {
		t.Fatalf("earlier snapshot mutated: %+v", before)
	}
	if after := r.Finalize(); after.TotalSteps != 2 {
		t.Fatalf("TotalSteps = %d, want 2", after.TotalSteps)
	}
}

func TestTrajectoryRecorderSavePublishes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sink := events.NewMemorySink()
	r := NewTrajectoryRecorder("corr-4",
		WithTrajectorySink(sink),
		WithTrajectoryClock(fixedClock(now)),
	)
	r.Record("plan", "in", "out", "", nil, 50)

	r.Save(context.Background(), "case-7")

	if sink.Count() != 1 {
		t.Fatalf("published %d events, want 1", sink.Count())
	}
	event := sink.Events()[0]
	if event.Type != events.TypeTrajectory {
		t.Fatalf("Type = %q, want %q", event.Type, events.TypeTrajectory)
	}
	if event.CorrelationID != "corr-4" {
		t.Fatalf("CorrelationID = %q", event.CorrelationID)
	}
	if event.ID == "" {
		t.Fatal("event ID missing")
	}
	if event.Payload["case_id"] != "case-7" {
		t.Fatalf("case_id = %v", event.Payload["case_id"])
	}
	if event.Payload["total_steps"] != 1 {
		t.Fatalf("total_steps = %v", event.Payload["total_steps"])
	}
}

func TestTrajectoryRecorderSaveWithoutSink(t *testing.T) {
	r := NewTrajectoryRecorder("corr-5")
	r.Record("plan", "", "", "", nil, 5)
	r.Save(context.Background(), "case-8") // no sink, no-op
}

func TestTrajectoryRecorderSaveSinkFailureIsSwallowed(t *testing.T) {
	quiet := logging.New(logging.Config{Level: logging.LevelError, Service: "test"})
	defer quiet.Close()

	r := NewTrajectoryRecorder("corr-6",
		WithTrajectorySink(failingSink{}),
		WithTrajectoryLogger(quiet),
	)
	r.Record("plan", "", "", "", nil, 5)
	r.Save(context.Background(), "case-9")
}
