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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	badger "github.com/dgraph-io/badger/v4"
)

// checkpointKeyPrefix namespaces checkpoint entries within the KV store.
const checkpointKeyPrefix = "checkpoint/"

// =============================================================================
// Configuration
// =============================================================================

// BadgerConfig configures the embedded checkpoint KV store.
type BadgerConfig struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory runs the database purely in memory. Data is lost on close;
	// intended for tests.
	InMemory bool

	// SyncWrites syncs every write to disk before acknowledging. Slower
	// but durable; recommended for checkpoint data.
	SyncWrites bool

	// TTL, when non-zero, expires checkpoints after the given duration.
	// Zero keeps checkpoints until overwritten. Badger tracks expiry in
	// whole Unix seconds, so values under a second can expire immediately;
	// use at least a few seconds.
	TTL time.Duration

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// Logger receives BadgerDB's internal logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable on-disk configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryBadgerConfig returns a configuration for tests: in-memory, no
// sync, GC disabled.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore persists checkpoints in an embedded BadgerDB instance.
//
// Description:
//
//	Checkpoints are stored latest-wins under "checkpoint/<correlation_id>"
//	in the checkpoint wire form (plain nested JSON). An optional TTL lets
//	deployments bound how long resumable state lingers.
//
// Thread Safety:
//
//	Safe for concurrent use; BadgerDB transactions provide isolation.
//
// Resource Management:
//
//	Call Close() when done. Close stops the GC goroutine and releases the
//	database lock.
type BadgerStore struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger

	gcStop chan struct{}
	gcDone sync.WaitGroup
}

// NewBadgerStore opens (or creates) the checkpoint database.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory.
//
// Outputs:
//
//	*BadgerStore - The open store. Never nil on success.
//	error - Non-nil if the configuration is invalid or the database
//	        cannot be opened.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger store: path is required unless InMemory is set")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		ttl:    cfg.TTL,
		logger: logger,
		gcStop: make(chan struct{}),
	}

	if !cfg.InMemory && cfg.GCInterval > 0 {
		s.gcDone.Add(1)
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// runGC periodically reclaims value log space until Close.
func (s *BadgerStore) runGC(interval time.Duration) {
	defer s.gcDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing to collect; that is normal.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC failed", "error", err)
			}
		}
	}
}

// key maps a correlation id to its store key.
func key(correlationID string) []byte {
	return []byte(checkpointKeyPrefix + correlationID)
}

// SaveCheckpoint stores the checkpoint, replacing any previous one for the
// same correlation id.
func (s *BadgerStore) SaveCheckpoint(ctx context.Context, cp *agent.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	if err := checkCorrelationID(cp.CorrelationID); err != nil {
		return err
	}

	data, err := json.Marshal(cp.ToDict())
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(cp.CorrelationID), data)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		"correlation_id", cp.CorrelationID,
		"phase", string(cp.Phase),
		"iteration", cp.Iteration,
		"bytes", len(data),
	)
	return nil
}

// LoadCheckpoint reads the checkpoint for a correlation id.
//
// Outputs:
//
//	*agent.Checkpoint - The decoded checkpoint. Never nil on success.
//	error - ErrNotFound when no entry exists (or its TTL expired);
//	        ErrCorrupt when the stored value fails to decode.
func (s *BadgerStore) LoadCheckpoint(ctx context.Context, correlationID string) (*agent.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkCorrelationID(correlationID); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(correlationID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	cp, err := agent.CheckpointFromDict(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return cp, nil
}

// Close stops background GC and releases the database.
func (s *BadgerStore) Close() error {
	close(s.gcStop)
	s.gcDone.Wait()
	return s.db.Close()
}

// Compile-time interface compliance.
var _ Store = (*BadgerStore)(nil)
