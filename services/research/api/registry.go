// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
)

// RunStatus is the lifecycle state of a research run.
type RunStatus string

const (
	// StatusPending means the run is accepted but not yet executing.
	StatusPending RunStatus = "pending"

	// StatusRunning means the run is executing.
	StatusRunning RunStatus = "running"

	// StatusCompleted means the run finished with a result.
	StatusCompleted RunStatus = "completed"

	// StatusFailed means the run finished with an error.
	StatusFailed RunStatus = "failed"
)

// ErrRunActive is returned when a correlation id already has a live run.
var ErrRunActive = errors.New("run already active for correlation id")

// Run is the registry's record of one research request.
//
// Thread Safety: mutate only through Registry methods; reads of the
// snapshot View are safe anywhere.
type Run struct {
	mu sync.RWMutex

	correlationID string
	question      string
	status        RunStatus
	result        *agent.Result
	errorKind     string
	errorText     string
	startedAt     time.Time
	finishedAt    time.Time

	emitter *events.Emitter
	done    chan struct{}
}

// View is the JSON projection of a Run for the status endpoint.
type View struct {
	CorrelationID string        `json:"correlation_id"`
	Question      string        `json:"question"`
	Status        RunStatus     `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	Result        *agent.Result `json:"result,omitempty"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Emitter returns the run's event emitter for stream subscriptions.
func (r *Run) Emitter() *events.Emitter { return r.emitter }

// Done returns a channel closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// View snapshots the run for serialization.
func (r *Run) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := View{
		CorrelationID: r.correlationID,
		Question:      r.question,
		Status:        r.status,
		StartedAt:     r.startedAt,
		Result:        r.result,
		ErrorKind:     r.errorKind,
		Error:         r.errorText,
	}
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		v.FinishedAt = &finished
	}
	return v
}

// Status returns the run's current lifecycle state.
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Registry tracks research runs for the API's lifetime. State is in-memory
// only; a restart forgets run history while checkpoints keep the underlying
// research resumable.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Create registers a new run in the pending state.
//
// Outputs:
//
//	*Run - The registered run, with a fresh emitter and done channel.
//	error - ErrRunActive when the id already has a pending or running run.
func (g *Registry) Create(correlationID, question string) (*Run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.runs[correlationID]; ok {
		s := existing.Status()
		if s == StatusPending || s == StatusRunning {
			return nil, ErrRunActive
		}
	}

	run := &Run{
		correlationID: correlationID,
		question:      question,
		status:        StatusPending,
		startedAt:     time.Now().UTC(),
		emitter:       events.NewEmitter(events.WithCorrelationID(correlationID)),
		done:          make(chan struct{}),
	}
	g.runs[correlationID] = run
	return run, nil
}

// Get returns the run for a correlation id.
func (g *Registry) Get(correlationID string) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	run, ok := g.runs[correlationID]
	return run, ok
}

// Len returns the number of tracked runs.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.runs)
}

// MarkRunning transitions a pending run to running.
func (g *Registry) MarkRunning(correlationID string) {
	if run, ok := g.Get(correlationID); ok {
		run.mu.Lock()
		if run.status == StatusPending {
			run.status = StatusRunning
		}
		run.mu.Unlock()
	}
}

// Complete records a successful result and closes the done channel.
func (g *Registry) Complete(correlationID string, result *agent.Result) {
	run, ok := g.Get(correlationID)
	if !ok {
		return
	}
	run.mu.Lock()
	terminal := run.status == StatusCompleted || run.status == StatusFailed
	if !terminal {
		run.status = StatusCompleted
		run.result = result
		run.finishedAt = time.Now().UTC()
	}
	run.mu.Unlock()
	if !terminal {
		close(run.done)
	}
}

// Fail records a terminal error and closes the done channel.
func (g *Registry) Fail(correlationID string, err error) {
	run, ok := g.Get(correlationID)
	if !ok {
		return
	}
	run.mu.Lock()
	terminal := run.status == StatusCompleted || run.status == StatusFailed
	if !terminal {
		run.status = StatusFailed
		run.errorKind = string(agent.KindOf(err))
		run.errorText = agent.FailureString(err)
		run.finishedAt = time.Now().UTC()
	}
	run.mu.Unlock()
	if !terminal {
		close(run.done)
	}
}
