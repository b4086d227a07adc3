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
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

// MemoryStore keeps checkpoints in process memory.
//
// Description:
//
//	The API server's default backend and the store used by most tests.
//	Checkpoints are stored in wire form (ToDict), so a loaded checkpoint
//	is structurally identical to one that round-tripped through disk and
//	shares no mutable state with the saved one.
//
// Thread Safety:
//
//	Safe for concurrent use; a RWMutex guards the map.
type MemoryStore struct {
	mu    sync.RWMutex
	dicts map[string]map[string]any
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dicts: make(map[string]map[string]any),
	}
}

// SaveCheckpoint stores the checkpoint, replacing any previous one for the
// same correlation id.
func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *agent.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	if err := checkCorrelationID(cp.CorrelationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dicts[cp.CorrelationID] = cp.ToDict()
	return nil
}

// LoadCheckpoint reads the checkpoint for a correlation id.
func (s *MemoryStore) LoadCheckpoint(ctx context.Context, correlationID string) (*agent.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkCorrelationID(correlationID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	dict, ok := s.dicts[correlationID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
	}
	return agent.CheckpointFromDict(dict)
}

// Len reports how many checkpoints the store holds.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dicts)
}

// Compile-time interface compliance.
var _ Store = (*MemoryStore)(nil)
