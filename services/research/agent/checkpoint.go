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
	"encoding/json"
	"fmt"
)

// Checkpoint is a pure-data snapshot of loop state at a phase boundary.
//
// Description:
//
//	The phase labels the phase just completed; on resume, execution
//	continues with the following phase. Serialization is a plain nested
//	map: unknown keys round-trip through Extra, missing keys default to
//	zero values, so checkpoints written by newer code load under older
//	code and vice versa.
type Checkpoint struct {
	// CorrelationID identifies the session across restarts.
	CorrelationID string `json:"correlation_id"`

	// Question is the research question.
	Question string `json:"question"`

	// Iteration is the 0-based iteration at emission.
	Iteration int `json:"iteration"`

	// Phase is the phase just completed.
	Phase Phase `json:"phase"`

	// TotalSourcesFound is the cumulative distinct-URL count.
	TotalSourcesFound int `json:"total_sources_found"`

	// SearchRounds is the number of search fan-outs run.
	SearchRounds int `json:"search_rounds"`

	// Plan is the serialized plan, follow-up queue included.
	Plan Plan `json:"plan_dict"`

	// Findings is the cumulative scored findings list.
	Findings []ScoredFinding `json:"findings_dicts"`

	// Config is the serialized config (config.ToDict form).
	Config map[string]any `json:"config_dict"`

	// PromptExtension is the system-prompt extension in force.
	PromptExtension string `json:"prompt_extension"`

	// Context is the run-level research context.
	Context ResearchContext `json:"context_dict"`

	// Extra preserves unknown keys across load/save cycles.
	Extra map[string]any `json:"-"`
}

// checkpointKnownKeys lists the wire keys owned by this version. Everything
// else lands in Extra.
var checkpointKnownKeys = map[string]bool{
	"correlation_id":      true,
	"question":            true,
	"iteration":           true,
	"phase":               true,
	"total_sources_found": true,
	"search_rounds":       true,
	"plan_dict":           true,
	"findings_dicts":      true,
	"config_dict":         true,
	"prompt_extension":    true,
	"context_dict":        true,
}

// ToDict serializes the checkpoint to a plain nested map. Extra keys are
// carried through; known keys always reflect the struct fields.
func (c *Checkpoint) ToDict() map[string]any {
	out := make(map[string]any, len(checkpointKnownKeys)+len(c.Extra))
	for k, v := range c.Extra {
		out[k] = v
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return out
	}
	var known map[string]any
	if err := json.Unmarshal(raw, &known); err != nil {
		return out
	}
	for k, v := range known {
		out[k] = v
	}
	return out
}

// CheckpointFromDict deserializes a checkpoint from a plain nested map.
//
// Description:
//
//	Missing keys take zero values; keys outside the known set are preserved
//	in Extra so CheckpointFromDict(c.ToDict()) reproduces c field-wise.
//
// Outputs:
//
//	*Checkpoint - The decoded checkpoint.
//	error - Non-nil when a known key holds a structurally incompatible value.
func CheckpointFromDict(d map[string]any) (*Checkpoint, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint dict: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint dict: %w", err)
	}

	for k, v := range d {
		if !checkpointKnownKeys[k] {
			if cp.Extra == nil {
				cp.Extra = make(map[string]any)
			}
			cp.Extra[k] = v
		}
	}
	return &cp, nil
}

// Validate checks the fields resume depends on.
func (c *Checkpoint) Validate() error {
	if c == nil {
		return ErrNilCheckpoint
	}
	if c.CorrelationID == "" {
		return fmt.Errorf("%w: missing correlation_id", ErrCheckpointInvalid)
	}
	if c.Question == "" {
		return fmt.Errorf("%w: missing question", ErrCheckpointInvalid)
	}
	if !c.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrCheckpointInvalid, c.Phase)
	}
	if c.Iteration < 0 {
		return fmt.Errorf("%w: negative iteration %d", ErrCheckpointInvalid, c.Iteration)
	}
	return nil
}
