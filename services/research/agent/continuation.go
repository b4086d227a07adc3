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
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/pkg/telemetry"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
	"github.com/AleutianAI/AleutianResearch/services/research/config"
	"github.com/google/uuid"
)

const (
	// MaxContinuations bounds how many continuation sessions one research
	// request may spawn after the initial run.
	MaxContinuations = 3

	// maxTransientRetries bounds run-level retries on transient provider
	// failures. Retries resume from the latest checkpoint when one exists.
	maxTransientRetries = 2

	// retryBaseDelay is the delay before the first retry. Each subsequent
	// retry multiplies it by four, capped at retryMaxDelay.
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 60 * time.Second
)

// Runner executes research requests end to end: it owns the retry policy
// for transient provider failures and the continuation sessions that pick
// up when a run exhausts its context window.
//
// Description:
//
//	The Loop stays focused on a single session; the Runner is the outer
//	task boundary. Its only cross-session state is the continuation count
//	and the merged result. When a run fails transiently, the Runner backs
//	off and either resumes from the latest checkpoint (checkpoint source
//	configured) or reruns from scratch. When a run returns
//	needs_continuation, the Runner builds a handoff summary via the
//	provider and starts a fresh Loop with an extended prompt, up to
//	MaxContinuations times.
//
// Thread Safety: A Runner is safe for concurrent use; each call builds its
// own Loops and mutates only call-local state.
type Runner struct {
	config    *config.Config
	extension string
	provider  Provider
	tools     []Tool
	loopOpts  []LoopOption

	logger           *logging.Logger
	metrics          *telemetry.Metrics
	eventSink        events.Sink
	source           CheckpointSource
	maxContinuations int
	maxRetries       int
	clock            Clock

	// sleep is the backoff wait. Tests replace it to avoid real delays.
	sleep func(context.Context, time.Duration) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLoopOptions forwards options to every Loop the Runner constructs.
func WithLoopOptions(opts ...LoopOption) RunnerOption {
	return func(r *Runner) {
		r.loopOpts = append(r.loopOpts, opts...)
	}
}

// WithRunnerLogger sets the structured logger. Defaults to logging.Default().
func WithRunnerLogger(logger *logging.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunnerMetrics sets the OTel metrics instance for runner-level counters.
func WithRunnerMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRunnerEventSink sets the sink for terminal failure events.
func WithRunnerEventSink(sink events.Sink) RunnerOption {
	return func(r *Runner) {
		r.eventSink = sink
	}
}

// WithCheckpointSource enables resume-from-checkpoint on retries and powers
// Resume.
func WithCheckpointSource(source CheckpointSource) RunnerOption {
	return func(r *Runner) {
		r.source = source
	}
}

// WithMaxContinuations overrides the continuation session bound.
func WithMaxContinuations(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.maxContinuations = n
		}
	}
}

// WithMaxRetries overrides the transient-failure retry bound.
func WithMaxRetries(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// NewRunner creates a Runner for the given configuration and dependencies.
//
// Inputs:
//
//	cfg - Research configuration. Nil selects config.Default().
//	extension - System-prompt extension for all sessions.
//	provider - The LLM provider. Must be non-nil.
//	tools - Search tools in dispatch order.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Runner - The configured runner.
//	error - ErrConfigInvalid or ErrNilProvider.
func NewRunner(cfg *config.Config, extension string, provider Provider, tools []Tool, opts ...RunnerOption) (*Runner, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if provider == nil {
		return nil, ErrNilProvider
	}

	r := &Runner{
		config:           cfg,
		extension:        extension,
		provider:         provider,
		tools:            tools,
		maxContinuations: MaxContinuations,
		maxRetries:       maxTransientRetries,
		clock:            time.Now,
		sleep:            sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Default()
	}
	return r, nil
}

// Run executes a research request: the initial session, transient-failure
// retries, and continuation sessions, returning the merged Result.
//
// Outputs:
//
//	*Result - The merged result across all sessions.
//	error - ErrCancelled, ErrConfigInvalid, or the final unrecovered
//	  transient error after retries are exhausted.
func (r *Runner) Run(ctx context.Context, question string, rctx ResearchContext) (*Result, error) {
	result, correlationID, err := r.runWithRetries(ctx, question, rctx, r.extension, "")
	if err != nil {
		r.recordFailure(ctx, correlationID, err)
		return nil, err
	}
	return r.continueUntilDone(ctx, question, rctx, correlationID, result)
}

// Resume restores a research request from its latest checkpoint and carries
// it through continuations. Requires a checkpoint source.
func (r *Runner) Resume(ctx context.Context, correlationID string) (*Result, error) {
	if r.source == nil {
		return nil, fmt.Errorf("%w: no checkpoint source configured", ErrCheckpointInvalid)
	}
	cp, err := r.source.LoadCheckpoint(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", correlationID, err)
	}

	result, err := ResumeFromCheckpoint(ctx, cp, r.config, r.extension, r.provider, r.tools, r.loopOpts...)
	if err != nil {
		r.recordFailure(ctx, correlationID, err)
		return nil, err
	}
	return r.continueUntilDone(ctx, cp.Question, cp.Context, correlationID, result)
}

// runWithRetries runs one session, retrying transient failures with
// exponential backoff. After a failed attempt it prefers resuming from the
// latest checkpoint over rerunning from scratch, so partial work survives.
func (r *Runner) runWithRetries(ctx context.Context, question string, rctx ResearchContext, extension, correlationID string) (*Result, string, error) {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			r.logger.Info("Retrying research run",
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr.Error(),
			)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, correlationID, fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			delay *= 4
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}

			if r.source != nil && correlationID != "" {
				if cp, lerr := r.source.LoadCheckpoint(ctx, correlationID); lerr == nil && cp != nil {
					result, rerr := ResumeFromCheckpoint(ctx, cp, r.config, extension, r.provider, r.tools, r.loopOpts...)
					if rerr == nil {
						return result, correlationID, nil
					}
					lastErr = rerr
					if !retryable(rerr) {
						return nil, correlationID, rerr
					}
					continue
				}
			}
		}

		loop, err := NewLoop(r.config, extension, r.provider, r.tools, r.sessionOpts(correlationID)...)
		if err != nil {
			return nil, correlationID, err
		}
		correlationID = loop.CorrelationID()

		result, err := loop.Run(ctx, question, rctx)
		if err == nil {
			return result, correlationID, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, correlationID, err
		}
	}

	return nil, correlationID, lastErr
}

// continueUntilDone runs continuation sessions while the result asks for
// them, merging each into the running result. A failed continuation logs
// and returns the partial result rather than discarding completed work.
func (r *Runner) continueUntilDone(ctx context.Context, question string, rctx ResearchContext, correlationID string, result *Result) (*Result, error) {
	for cont := 0; result.Metadata.NeedsContinuation && cont < r.maxContinuations; cont++ {
		r.logger.Info("Starting continuation session",
			"correlation_id", correlationID,
			"continuation", cont+1,
			"findings_so_far", len(result.Findings),
		)

		contResult, err := r.runContinuation(ctx, question, rctx, correlationID, result)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				r.recordFailure(ctx, correlationID, err)
				return nil, err
			}
			r.logger.Warn("Continuation failed, returning partial result",
				"continuation", cont+1,
				"error", err.Error(),
			)
			break
		}

		mergeResults(result, contResult)
		if r.metrics != nil {
			r.metrics.ContinuationsTotal.Add(ctx, 1)
		}
	}
	return result, nil
}

// runContinuation builds the handoff summary and runs one fresh session with
// the extended prompt.
func (r *Runner) runContinuation(ctx context.Context, question string, rctx ResearchContext, correlationID string, prior *Result) (*Result, error) {
	handoff, err := r.handoffSummary(ctx, question, prior)
	if err != nil {
		return nil, err
	}
	extension := continuationExtension(r.extension, handoff)
	result, _, err := r.runWithRetries(ctx, question, rctx, extension, correlationID)
	return result, err
}

// handoffSummary asks the provider for a compact summary of the prior
// session: the question, what has been established, and what remains.
func (r *Runner) handoffSummary(ctx context.Context, question string, prior *Result) (string, error) {
	messages := []Message{{
		Role:    "user",
		Content: handoffUserPrompt(question, prior.Findings, prior.Plan.StrategyNotes),
	}}
	reply, err := r.provider.Generate(ctx, messages, handoffSystemPrompt(), handoffMaxTokens, defaultTemperature)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: handoff: %v", ErrCancelled, ctx.Err())
		}
		return "", fmt.Errorf("handoff: %w", err)
	}

	handoff := strings.TrimSpace(reply)
	if handoff == "" {
		handoff = fmt.Sprintf("The prior session gathered %d findings before running out of context.",
			len(prior.Findings))
	}
	return handoff, nil
}

// recordFailure publishes the terminal AgentFailed event, best-effort.
func (r *Runner) recordFailure(ctx context.Context, correlationID string, err error) {
	r.logger.Error("Research request failed",
		"correlation_id", correlationID,
		"error_kind", string(KindOf(err)),
		"error", err.Error(),
	)
	if r.eventSink == nil {
		return
	}
	evt := events.Event{
		ID:            uuid.NewString(),
		Type:          events.TypeAgentFailed,
		CorrelationID: correlationID,
		Timestamp:     r.clock().UTC(),
		Payload: map[string]any{
			"error_kind": string(KindOf(err)),
			"error":      FailureString(err),
		},
	}
	if perr := r.eventSink.Publish(context.WithoutCancel(ctx), evt); perr != nil {
		r.logger.Warn("Event publish failed",
			"event_type", string(events.TypeAgentFailed),
			"error", perr.Error(),
		)
	}
}

// sessionOpts pins the correlation id for retry sessions so checkpoints and
// events stay grouped under one research request.
func (r *Runner) sessionOpts(correlationID string) []LoopOption {
	if correlationID == "" {
		return r.loopOpts
	}
	return append([]LoopOption{WithCorrelationID(correlationID)}, r.loopOpts...)
}

// retryable reports whether the outer boundary should retry the error.
func retryable(err error) bool {
	return KindOf(err) == KindProviderTransient
}

// continuationExtension appends the handoff framing to the original prompt
// extension.
func continuationExtension(original, handoff string) string {
	framing := "This is a continuation of an earlier research session. Progress so far:\n" +
		handoff +
		"\nContinue from where the prior session stopped; do not repeat settled ground."
	if original == "" {
		return framing
	}
	return original + "\n\n" + framing
}

// mergeResults folds a continuation's result into the base: findings extend,
// content and blocks are replaced, time and source counts accumulate, and
// the continuation's own verdict decides whether more sessions follow.
func mergeResults(base, cont *Result) {
	base.Findings = append(base.Findings, cont.Findings...)
	base.Content = cont.Content
	base.Blocks = cont.Blocks
	base.Metadata.GenerationTimeMs += cont.Metadata.GenerationTimeMs
	base.Metadata.TotalSources += cont.Metadata.TotalSources
	base.Metadata.FindingsCount = len(base.Findings)
	base.Metadata.Continuations++
	base.Metadata.NeedsContinuation = cont.Metadata.NeedsContinuation
	if cont.Metadata.BudgetUsed != nil {
		base.Metadata.BudgetUsed = cont.Metadata.BudgetUsed
	}
	mergeCost(&base.Metadata, &cont.Metadata)
}

// mergeCost accumulates the continuation's token usage into the base cost.
func mergeCost(base, cont *ResultMetadata) {
	if cont.Cost == nil {
		return
	}
	if base.Cost == nil {
		base.Cost = cont.Cost
		return
	}
	base.Cost.PromptTokens += cont.Cost.PromptTokens
	base.Cost.CompletionTokens += cont.Cost.CompletionTokens
	base.Cost.EstimatedUSD += cont.Cost.EstimatedUSD
	if base.Cost.Phases == nil {
		base.Cost.Phases = make(map[string]PhaseUsage)
	}
	for phase, usage := range cont.Cost.Phases {
		u := base.Cost.Phases[phase]
		u.PromptTokens += usage.PromptTokens
		u.CompletionTokens += usage.CompletionTokens
		base.Cost.Phases[phase] = u
	}
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
