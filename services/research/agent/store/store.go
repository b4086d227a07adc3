// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides checkpoint persistence backends for the research
// loop: JSON files with integrity checksums, an embedded BadgerDB KV store,
// and an in-memory map for tests and the API server default.
//
// All backends implement both agent.CheckpointSink and agent.CheckpointSource
// and treat saves as latest-wins per correlation id. A load for an unknown
// correlation id returns ErrNotFound; callers distinguish "never checkpointed"
// from genuine failures by checking that sentinel.
package store

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianResearch/pkg/validation"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNotFound is returned when no checkpoint exists for a correlation id.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCorrupt is returned when a stored checkpoint fails its integrity
	// check.
	ErrCorrupt = errors.New("checkpoint corrupt")

	// ErrVersionMismatch is returned when a stored checkpoint was written
	// by an incompatible format version.
	ErrVersionMismatch = errors.New("checkpoint version mismatch")

	// ErrInvalidCorrelationID is returned for ids that would be unsafe as
	// file names or keys.
	ErrInvalidCorrelationID = errors.New("invalid correlation id")
)

// =============================================================================
// Store
// =============================================================================

// Store is a checkpoint backend usable on both sides of a run: the loop
// writes through the sink half, resume reads through the source half.
type Store interface {
	agent.CheckpointSink
	agent.CheckpointSource
}

// EnvelopeVersion is the on-disk checkpoint envelope version (semver).
// Bump the major on breaking envelope changes; stores reject mismatches.
const EnvelopeVersion = "1.0.0"

// checkCorrelationID rejects ids unsafe for use as file names or keys.
func checkCorrelationID(id string) error {
	if err := validation.ValidateCorrelationID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCorrelationID, err)
	}
	return nil
}
