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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

// =============================================================================
// Envelope
// =============================================================================

// envelope is the on-disk checkpoint format. The checksum covers everything
// except itself, so tampering with state, timestamp or version is detected
// on load.
type envelope struct {
	State         map[string]any `json:"state"`
	Timestamp     time.Time      `json:"timestamp"`
	Version       string         `json:"version"`
	Checksum      string         `json:"checksum"`
	CorrelationID string         `json:"correlation_id"`
}

// computeChecksum calculates SHA256 over the envelope minus its checksum.
func computeChecksum(state map[string]any, correlationID string, timestamp time.Time) (string, error) {
	data := struct {
		State         map[string]any `json:"state"`
		Timestamp     time.Time      `json:"timestamp"`
		Version       string         `json:"version"`
		CorrelationID string         `json:"correlation_id"`
	}{
		State:         state,
		Timestamp:     timestamp,
		Version:       EnvelopeVersion,
		CorrelationID: correlationID,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}

	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// =============================================================================
// FileStore
// =============================================================================

// FileStore persists one JSON checkpoint file per correlation id.
//
// Description:
//
//	Files are named <correlation_id>.json under the base directory and
//	written atomically (temp file + rename), so a crash mid-write leaves
//	the previous checkpoint intact. Each file carries a sha256 checksum
//	that LoadCheckpoint verifies.
//
// Thread Safety:
//
//	Safe for concurrent use across correlation ids. Concurrent saves for
//	the same id serialize on the final rename; the last rename wins.
type FileStore struct {
	dir    string
	logger *logging.Logger
}

// FileStoreOption customizes a FileStore.
type FileStoreOption func(*FileStore)

// WithFileStoreLogger sets the structured logger. Defaults to
// logging.Default().
func WithFileStoreLogger(logger *logging.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore creates a file-backed checkpoint store rooted at dir.
//
// Inputs:
//
//	dir - Base directory for checkpoint files. Created (0750) if missing.
//	opts - Optional overrides.
//
// Outputs:
//
//	*FileStore - The store. Never nil on success.
//	error - Non-nil if dir is empty or cannot be created.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	s := &FileStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	return s, nil
}

// path maps a correlation id to its checkpoint file.
func (s *FileStore) path(correlationID string) string {
	return filepath.Join(s.dir, correlationID+".json")
}

// SaveCheckpoint writes the checkpoint atomically, replacing any previous
// checkpoint for the same correlation id.
//
// Inputs:
//
//	ctx - Checked for cancellation before the write starts.
//	cp - The checkpoint. Must pass cp.Validate().
//
// Outputs:
//
//	error - Non-nil on validation failure or any filesystem error.
func (s *FileStore) SaveCheckpoint(ctx context.Context, cp *agent.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	if err := checkCorrelationID(cp.CorrelationID); err != nil {
		return err
	}

	state := cp.ToDict()
	timestamp := time.Now().UTC()

	checksum, err := computeChecksum(state, cp.CorrelationID, timestamp)
	if err != nil {
		return fmt.Errorf("compute checksum: %w", err)
	}

	data, err := json.MarshalIndent(&envelope{
		State:         state,
		Timestamp:     timestamp,
		Version:       EnvelopeVersion,
		Checksum:      checksum,
		CorrelationID: cp.CorrelationID,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically: temp file + rename.
	tempFile, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}

	if err := os.Rename(tempPath, s.path(cp.CorrelationID)); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	success = true

	s.logger.Debug("checkpoint saved",
		"correlation_id", cp.CorrelationID,
		"phase", string(cp.Phase),
		"iteration", cp.Iteration,
		"bytes", len(data),
	)
	return nil
}

// LoadCheckpoint reads and verifies the checkpoint for a correlation id.
//
// Outputs:
//
//	*agent.Checkpoint - The decoded checkpoint. Never nil on success.
//	error - ErrNotFound when no file exists; ErrVersionMismatch or
//	        ErrCorrupt when the envelope fails verification.
func (s *FileStore) LoadCheckpoint(ctx context.Context, correlationID string) (*agent.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkCorrelationID(correlationID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(correlationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrVersionMismatch, env.Version, EnvelopeVersion)
	}

	expected, err := computeChecksum(env.State, env.CorrelationID, env.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("compute checksum for verification: %w", err)
	}
	if env.Checksum != expected {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", ErrCorrupt, correlationID)
	}

	cp, err := agent.CheckpointFromDict(env.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return cp, nil
}

// Compile-time interface compliance.
var _ Store = (*FileStore)(nil)
