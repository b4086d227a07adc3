// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

// testCheckpoint builds a Checkpoint with enough state to exercise
// round-trip fidelity: plan with follow-ups, scored findings, config dict,
// and an unknown wire key in Extra.
func testCheckpoint(correlationID string) *agent.Checkpoint {
	return &agent.Checkpoint{
		CorrelationID:     correlationID,
		Question:          "What drives lithium battery degradation?",
		Iteration:         2,
		Phase:             agent.PhaseEvaluate,
		TotalSourcesFound: 7,
		SearchRounds:      3,
		Plan: agent.Plan{
			SubQueries: []agent.SubQuery{
				{Query: "lithium battery capacity fade mechanisms", SourceTarget: "web"},
				{Query: "SEI layer growth temperature", SourceTarget: "web"},
			},
			StrategyNotes: "start broad, then chase mechanisms",
			Followups: []agent.SubQuery{
				{Query: "calendar aging vs cycle aging", SourceTarget: "web", Rationale: "gap"},
			},
		},
		Findings: []agent.ScoredFinding{
			{
				Finding: agent.Finding{
					Source: agent.SearchResult{
						URL:    "https://example.com/paper",
						Title:  "Degradation survey",
						Domain: "example.com",
					},
					ExtractedFields: map[string]agent.ExtractedValue{
						"claim": agent.TextValue("SEI growth dominates calendar aging"),
					},
					Quote: "SEI growth is the dominant mechanism",
				},
				RelevanceScore:  0.9,
				QualityScore:    0.8,
				EvaluationNotes: "primary source",
			},
		},
		Config:          map[string]any{"search": map[string]any{"max_iterations": float64(4)}},
		PromptExtension: "prefer peer-reviewed sources",
		Context: agent.ResearchContext{
			Title:   "Battery research",
			Signals: []string{"prior report flagged SEI"},
		},
		Extra: map[string]any{"downstream_tag": "keep-me"},
	}
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return s
}

// --- Round Trip ---

func TestFileStore_RoundTrip(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	cp := testCheckpoint("run-abc-123")

	if err := s.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	loaded, err := s.LoadCheckpoint(ctx, "run-abc-123")
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}

	if loaded.CorrelationID != cp.CorrelationID {
		t.Errorf("CorrelationID = %q", loaded.CorrelationID)
	}
	if loaded.Question != cp.Question {
		t.Errorf("Question = %q", loaded.Question)
	}
	if loaded.Phase != agent.PhaseEvaluate {
		t.Errorf("Phase = %q", loaded.Phase)
	}
	if loaded.Iteration != 2 || loaded.TotalSourcesFound != 7 || loaded.SearchRounds != 3 {
		t.Errorf("counters = %d/%d/%d", loaded.Iteration, loaded.TotalSourcesFound, loaded.SearchRounds)
	}
	if len(loaded.Plan.SubQueries) != 2 || len(loaded.Plan.Followups) != 1 {
		t.Errorf("plan shape = %d sub-queries, %d followups",
			len(loaded.Plan.SubQueries), len(loaded.Plan.Followups))
	}
	if len(loaded.Findings) != 1 {
		t.Fatalf("got %d findings", len(loaded.Findings))
	}
	if loaded.Findings[0].RelevanceScore != 0.9 {
		t.Errorf("RelevanceScore = %v", loaded.Findings[0].RelevanceScore)
	}
	if got := loaded.Findings[0].ExtractedFields["claim"].String(); got != "SEI growth dominates calendar aging" {
		t.Errorf("claim = %q", got)
	}
	if loaded.Extra["downstream_tag"] != "keep-me" {
		t.Errorf("Extra lost: %+v", loaded.Extra)
	}
	if loaded.Context.Title != "Battery research" {
		t.Errorf("Context.Title = %q", loaded.Context.Title)
	}
}

func TestFileStore_LatestWins(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	first := testCheckpoint("run-1")
	first.Iteration = 0
	first.Phase = agent.PhasePlan
	if err := s.SaveCheckpoint(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second := testCheckpoint("run-1")
	second.Iteration = 3
	if err := s.SaveCheckpoint(ctx, second); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := s.LoadCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}
	if loaded.Iteration != 3 || loaded.Phase != agent.PhaseEvaluate {
		t.Errorf("loaded iteration %d phase %q, want latest", loaded.Iteration, loaded.Phase)
	}
}

// --- Error Paths ---

func TestFileStore_NotFound(t *testing.T) {
	s := newFileStore(t)

	_, err := s.LoadCheckpoint(context.Background(), "never-saved")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFileStore_InvalidCorrelationID(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "has space", "slash/id"} {
		if _, err := s.LoadCheckpoint(ctx, id); !errors.Is(err, ErrInvalidCorrelationID) {
			t.Errorf("LoadCheckpoint(%q) err = %v, want ErrInvalidCorrelationID", id, err)
		}
	}

	cp := testCheckpoint("ok")
	cp.CorrelationID = "../escape"
	if err := s.SaveCheckpoint(ctx, cp); !errors.Is(err, ErrInvalidCorrelationID) {
		t.Errorf("SaveCheckpoint err = %v, want ErrInvalidCorrelationID", err)
	}
}

func TestFileStore_RejectsInvalidCheckpoint(t *testing.T) {
	s := newFileStore(t)

	cp := testCheckpoint("run-x")
	cp.Question = ""
	if err := s.SaveCheckpoint(context.Background(), cp); err == nil {
		t.Error("invalid checkpoint accepted")
	}
}

func TestFileStore_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	if err := s.SaveCheckpoint(ctx, testCheckpoint("run-t")); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	path := filepath.Join(dir, "run-t.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read checkpoint file: %v", err)
	}

	tampered := strings.Replace(string(data), "lithium battery", "tampered topic", 1)
	if tampered == string(data) {
		t.Fatal("tampering replacement found nothing")
	}
	if err := os.WriteFile(path, []byte(tampered), 0640); err != nil {
		t.Fatalf("write tampered file: %v", err)
	}

	_, err = s.LoadCheckpoint(ctx, "run-t")
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestFileStore_RejectsVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	if err := s.SaveCheckpoint(ctx, testCheckpoint("run-v")); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	path := filepath.Join(dir, "run-v.json")
	data, _ := os.ReadFile(path)
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	env["version"] = "9.0.0"
	rewritten, _ := json.Marshal(env)
	if err := os.WriteFile(path, rewritten, 0640); err != nil {
		t.Fatalf("rewrite envelope: %v", err)
	}

	_, err = s.LoadCheckpoint(ctx, "run-v")
	if !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestFileStore_HonorsCancelledContext(t *testing.T) {
	s := newFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SaveCheckpoint(ctx, testCheckpoint("run-c")); err == nil {
		t.Error("save with cancelled context succeeded")
	}
	if _, err := s.LoadCheckpoint(ctx, "run-c"); err == nil {
		t.Error("load with cancelled context succeeded")
	}
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if err := s.SaveCheckpoint(context.Background(), testCheckpoint("run-tmp")); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries, want 1", len(entries))
	}
}
