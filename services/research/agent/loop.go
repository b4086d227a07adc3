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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// tracerName identifies loop spans in the trace backend.
const tracerName = "research.agent"

const (
	// defaultTemperature keeps phase outputs stable across retries.
	defaultTemperature = 0.2

	// defaultSearchLimit is the per-query result cap passed to tools.
	defaultSearchLimit = 10

	// planMaxTokens through synthesizeMaxTokens bound each phase's reply.
	planMaxTokens         = 2048
	extractMaxTokens      = 4096
	evaluateMaxTokens     = 2048
	completenessMaxTokens = 1024
	digestMaxTokens       = 1024
	handoffMaxTokens      = 512
)

// =============================================================================
// Loop
// =============================================================================

// Loop drives one research session: Plan, then bounded iterations of
// Search -> Extract -> Evaluate -> Completeness, then Synthesize.
//
// Description:
//
//	A Loop owns all mutable run state (plan, findings, source bookkeeping,
//	budget and cost trackers). Fan-out happens only inside the Search phase;
//	workers return results that the loop folds in on its own goroutine.
//	Provider and Tool calls honor the run context, so cancelling it stops
//	the session at the next suspension point.
//
// Thread Safety: A Loop instance serves exactly one run. Run and
// ResumeFromCheckpoint must not be called concurrently on the same instance.
// Construct a fresh Loop per session; continuation sessions get their own.
type Loop struct {
	config    *config.Config
	provider  Provider
	tools     []Tool
	extension string

	logger         *logging.Logger
	progress       ProgressFunc
	checkpointSink CheckpointSink
	eventSink      events.Sink
	metrics        *telemetry.Metrics
	trajectory     *TrajectoryRecorder
	correlationID  string
	clock          Clock
	temperature    float64
	searchLimit    int

	// Run state. Mutated only on the loop goroutine.
	question            string
	rctx                ResearchContext
	plan                *Plan
	findings            []ScoredFinding
	seenURLs            map[string]bool
	totalSources        int
	searchRounds        int
	iteration           int
	completedIterations int
	budget              *BudgetTracker
	cost                *CostTracker
	needsContinuation   bool
	resumed             bool
	resumedAt           int
	startTime           time.Time
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the structured logger. Defaults to logging.Default().
func WithLogger(logger *logging.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithProgress sets the progress callback. Invocations are asynchronous and
// panic-isolated; a nil callback disables progress reporting.
func WithProgress(fn ProgressFunc) LoopOption {
	return func(l *Loop) {
		l.progress = fn
	}
}

// WithCheckpointSink sets the checkpoint store. Save failures are logged,
// never raised; a nil sink disables checkpointing.
func WithCheckpointSink(sink CheckpointSink) LoopOption {
	return func(l *Loop) {
		l.checkpointSink = sink
	}
}

// WithEventSink sets the sink for persisted run events (checkpoints,
// trajectories, failures). Publish failures are logged, never raised.
func WithEventSink(sink events.Sink) LoopOption {
	return func(l *Loop) {
		l.eventSink = sink
	}
}

// WithMetrics sets the OTel metrics instance. Nil disables instrumentation.
func WithMetrics(m *telemetry.Metrics) LoopOption {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithCorrelationID pins the session correlation id. Defaults to a new UUID.
func WithCorrelationID(id string) LoopOption {
	return func(l *Loop) {
		l.correlationID = id
	}
}

// WithClock overrides the time source. Tests use this to freeze durations.
func WithClock(clock Clock) LoopOption {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithTemperature overrides the provider sampling temperature.
func WithTemperature(t float64) LoopOption {
	return func(l *Loop) {
		l.temperature = t
	}
}

// WithSearchLimit overrides the per-query result cap passed to tools.
func WithSearchLimit(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.searchLimit = n
		}
	}
}

// NewLoop creates a research loop for a single session.
//
// Description:
//
//	Validates the config, wires the provider and tools, and probes the
//	provider for optional capabilities: ContextWindowAware enables the
//	budget tracker (and with it compaction and continuation signals),
//	ModelAware enables per-phase cost accounting.
//
// Inputs:
//
//	cfg - Research configuration. Nil selects config.Default().
//	extension - System-prompt extension appended to every phase prompt.
//	  Empty disables extension.
//	provider - The LLM provider. Must be non-nil.
//	tools - Search tools in dispatch order. May be empty only if the
//	  config's source targets are never searched (tests do this).
//	opts - Optional configuration.
//
// Outputs:
//
//	*Loop - The configured loop.
//	error - ErrConfigInvalid if validation fails, ErrNilProvider if
//	  provider is nil.
func NewLoop(cfg *config.Config, extension string, provider Provider, tools []Tool, opts ...LoopOption) (*Loop, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if provider == nil {
		return nil, ErrNilProvider
	}

	l := &Loop{
		config:      cfg,
		provider:    provider,
		tools:       tools,
		extension:   extension,
		clock:       time.Now,
		temperature: defaultTemperature,
		searchLimit: defaultSearchLimit,
		seenURLs:    make(map[string]bool),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.logger == nil {
		l.logger = logging.Default()
	}
	if l.correlationID == "" {
		l.correlationID = uuid.NewString()
	}
	l.logger = l.logger.With("correlation_id", l.correlationID)

	trajOpts := []TrajectoryOption{
		WithTrajectoryLogger(l.logger),
		WithTrajectoryClock(l.clock),
	}
	if l.eventSink != nil {
		trajOpts = append(trajOpts, WithTrajectorySink(l.eventSink))
	}
	l.trajectory = NewTrajectoryRecorder(l.correlationID, trajOpts...)

	if aware, ok := provider.(ContextWindowAware); ok {
		l.budget = NewBudgetTracker(aware.ContextWindowTokens())
	}
	if aware, ok := provider.(ModelAware); ok {
		if model := aware.Model(); model != "" {
			l.cost = NewCostTracker(model)
		}
	}

	return l, nil
}

// CorrelationID returns the session correlation id.
func (l *Loop) CorrelationID() string {
	return l.correlationID
}

// Trajectory returns the session trajectory recorder.
func (l *Loop) Trajectory() *TrajectoryRecorder {
	return l.trajectory
}

// =============================================================================
// Run
// =============================================================================

// Run executes a fresh research session.
//
// Description:
//
//	Plans sub-queries, iterates Search -> Extract -> Evaluate ->
//	Completeness up to config.search.max_iterations, then synthesizes the
//	surviving findings into a markdown document with a block
//	representation. Anticipated runtime failures (parse failures, single
//	tool errors) are recovered inside the loop; transient provider
//	failures propagate so the outer task boundary can retry or resume.
//
// Inputs:
//
//	ctx - Context for cancellation and deadlines. Honored at every
//	  provider call, tool call, and callback.
//	question - The research question. Must be non-empty.
//	rctx - Caller-supplied framing (matter, position, signals). Zero
//	  value is fine.
//
// Outputs:
//
//	*Result - The synthesized result with findings, plan, and metadata.
//	error - ErrCancelled on context cancellation, ErrProviderTransient
//	  (wrapped) on unrecovered provider failure, ErrConfigInvalid on an
//	  empty question.
//
// Thread Safety: Not safe for concurrent use on one Loop instance.
func (l *Loop) Run(ctx context.Context, question string, rctx ResearchContext) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", ErrConfigInvalid)
	}

	l.question = question
	l.rctx = rctx
	l.startTime = l.clock()

	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.run")
	defer span.End()
	telemetry.SetSpanAttributes(span,
		attribute.String("research.correlation_id", l.correlationID),
		attribute.Int("research.max_iterations", l.config.Search.MaxIterations),
	)

	if l.metrics != nil {
		l.metrics.ActiveRuns.Add(ctx, 1)
		defer l.metrics.ActiveRuns.Add(ctx, -1)
	}

	l.logger.Info("Research run starting",
		"question_len", len(question),
		"decomposition", l.config.Search.Decomposition,
		"max_iterations", l.config.Search.MaxIterations,
	)
	l.publishEvent(ctx, events.TypeRunStarted, map[string]any{
		"question":       question,
		"max_iterations": l.config.Search.MaxIterations,
	})

	result, err := l.runMain(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetSpanOK(span)
	}
	l.finishRun(ctx, result, err)
	return result, err
}

// runMain drives the phase sequence for a fresh session.
func (l *Loop) runMain(ctx context.Context) (*Result, error) {
	if err := l.runPlan(ctx); err != nil {
		return nil, err
	}
	l.emitCheckpoint(ctx, PhasePlan)

	pending := l.plan.SubQueries
	if err := l.iterate(ctx, pending); err != nil {
		return nil, err
	}

	return l.synthesizeAndFinalize(ctx)
}

// iterate runs Search -> Extract -> Evaluate -> Completeness passes until a
// stop condition fires. pending seeds the first pass's query batch.
func (l *Loop) iterate(ctx context.Context, pending []SubQuery) error {
	for l.iteration < l.config.Search.MaxIterations {
		if err := l.checkCancelled(ctx, l.currentPhase()); err != nil {
			return err
		}
		if l.searchRounds >= l.config.Search.Budget.MaxSearchRounds {
			l.logger.Info("Search round budget reached", "search_rounds", l.searchRounds)
			break
		}

		newResults, err := l.runSearch(ctx, pending)
		if err != nil {
			return err
		}

		// Nothing new and nothing queued: the well is dry.
		if len(newResults) == 0 && len(l.plan.Followups) == 0 {
			l.completedIterations++
			break
		}

		if len(newResults) > 0 {
			batch, err := l.runExtract(ctx, newResults)
			if err != nil {
				return err
			}
			scored, err := l.runEvaluate(ctx, batch)
			if err != nil {
				return err
			}
			l.findings = append(l.findings, scored...)
			l.emitCheckpoint(ctx, PhaseEvaluate)

			if err := l.maybeCompact(ctx); err != nil {
				return err
			}
		}

		if l.budget != nil && l.budget.Exhausted() {
			l.logger.Warn("Context budget exhausted, stopping for continuation",
				"used_tokens", l.budget.Used(),
				"remaining_tokens", l.budget.Remaining(),
			)
			l.needsContinuation = true
			l.completedIterations++
			break
		}

		complete, err := l.runCompleteness(ctx)
		if err != nil {
			return err
		}
		l.completedIterations++
		if l.metrics != nil {
			l.metrics.IterationsTotal.Add(ctx, 1)
		}
		if complete {
			break
		}

		l.iteration++
		pending = l.plan.DrainFollowups()
		if len(pending) == 0 {
			break
		}
	}
	return nil
}

// synthesizeAndFinalize produces the document and assembles the Result.
func (l *Loop) synthesizeAndFinalize(ctx context.Context) (*Result, error) {
	content, err := l.runSynthesize(ctx)
	if err != nil {
		return nil, err
	}
	return l.buildResult(ctx, content), nil
}

// =============================================================================
// Resume
// =============================================================================

// ResumeFromCheckpoint reconstructs a session from a checkpoint and re-enters
// the loop at the phase after the one the checkpoint recorded.
//
// Description:
//
//	Restores the plan, findings, and source bookkeeping, then:
//	  - phase "plan": enters the iteration loop at the checkpoint's
//	    iteration with the plan's sub-queries pending.
//	  - any later phase with queued followups: advances to the next
//	    iteration and enters at Search with the followups pending.
//	  - any later phase with an empty followup queue: synthesizes
//	    directly from the restored findings, without touching Tools.
//	Result metadata carries resumed_from_checkpoint=true and
//	resumed_at_iteration set to the checkpoint's iteration.
//
// Inputs:
//
//	ctx - Context for cancellation and deadlines.
//	cp - The checkpoint to restore. Must pass Validate().
//	cfg - Research configuration. Nil reconstructs the config from the
//	  checkpoint's config_dict.
//	extension - System-prompt extension. Empty falls back to the
//	  checkpoint's recorded extension.
//	provider - The LLM provider. Must be non-nil.
//	tools - Search tools in dispatch order.
//	opts - Optional configuration. The checkpoint's correlation id is
//	  reused unless WithCorrelationID overrides it.
//
// Outputs:
//
//	*Result - The synthesized result.
//	error - ErrNilCheckpoint / ErrCheckpointInvalid on a bad checkpoint,
//	  ErrConfigInvalid on a bad config, plus Run's error modes.
func ResumeFromCheckpoint(ctx context.Context, cp *Checkpoint, cfg *config.Config, extension string, provider Provider, tools []Tool, opts ...LoopOption) (*Result, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		restored, err := config.FromDict(cp.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: checkpoint config: %v", ErrConfigInvalid, err)
		}
		cfg = restored
	}
	if extension == "" {
		extension = cp.PromptExtension
	}

	resumeOpts := append([]LoopOption{WithCorrelationID(cp.CorrelationID)}, opts...)
	l, err := NewLoop(cfg, extension, provider, tools, resumeOpts...)
	if err != nil {
		return nil, err
	}
	return l.runResume(ctx, cp)
}

// runResume restores loop state from cp and re-enters the phase sequence.
func (l *Loop) runResume(ctx context.Context, cp *Checkpoint) (*Result, error) {
	l.question = cp.Question
	l.rctx = cp.Context
	l.startTime = l.clock()
	l.resumed = true
	l.resumedAt = cp.Iteration

	plan := cp.Plan
	l.plan = &plan
	l.findings = append(l.findings, cp.Findings...)
	l.totalSources = cp.TotalSourcesFound
	l.searchRounds = cp.SearchRounds
	for _, f := range cp.Findings {
		if f.Source.URL != "" {
			l.seenURLs[f.Source.URL] = true
		}
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.resume")
	defer span.End()
	telemetry.SetSpanAttributes(span,
		attribute.String("research.correlation_id", l.correlationID),
		attribute.String("research.checkpoint_phase", cp.Phase.String()),
		attribute.Int("research.checkpoint_iteration", cp.Iteration),
	)

	if l.metrics != nil {
		l.metrics.ActiveRuns.Add(ctx, 1)
		defer l.metrics.ActiveRuns.Add(ctx, -1)
	}

	l.logger.Info("Resuming research run from checkpoint",
		"checkpoint_phase", cp.Phase.String(),
		"checkpoint_iteration", cp.Iteration,
		"restored_findings", len(l.findings),
	)

	var result *Result
	var err error
	switch {
	case cp.Phase == PhasePlan:
		// The plan exists but no iteration ran. Consume its sub-queries.
		l.iteration = cp.Iteration
		if err = l.iterate(ctx, l.plan.SubQueries); err == nil {
			result, err = l.synthesizeAndFinalize(ctx)
		}
	case len(l.plan.Followups) > 0:
		// Mid-run checkpoint with queued work: next iteration's Search.
		l.iteration = cp.Iteration + 1
		l.completedIterations = cp.Iteration + 1
		if l.iteration < l.config.Search.MaxIterations {
			pending := l.plan.DrainFollowups()
			if err = l.iterate(ctx, pending); err == nil {
				result, err = l.synthesizeAndFinalize(ctx)
			}
		} else {
			result, err = l.synthesizeAndFinalize(ctx)
		}
	default:
		// Nothing queued: the findings are all we will get.
		l.iteration = cp.Iteration
		l.completedIterations = cp.Iteration + 1
		result, err = l.synthesizeAndFinalize(ctx)
	}

	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetSpanOK(span)
	}
	l.finishRun(ctx, result, err)
	return result, err
}

// =============================================================================
// Finalization
// =============================================================================

// buildResult assembles the Result from the loop's terminal state. Empty
// synthesis with zero findings yields a degraded single-paragraph document
// and an AgentFailed event; metadata always reflects what actually ran.
func (l *Loop) buildResult(ctx context.Context, content string) *Result {
	content = strings.TrimSpace(content)
	if content == "" {
		if len(l.findings) == 0 {
			content = "Research could not be completed: no findings were gathered and synthesis produced no output."
			l.publishEvent(ctx, events.TypeAgentFailed, map[string]any{
				"error_kind": string(KindProviderParseEmpty),
				"error":      FailureString(ErrProviderParseEmpty),
			})
		} else {
			content = fmt.Sprintf("Synthesis produced no output; %d findings were gathered and are attached.", len(l.findings))
		}
		l.logger.Error("Synthesis produced no content", "findings_count", len(l.findings))
	}

	iterations := l.completedIterations
	if iterations < 1 {
		iterations = 1
	}

	metadata := ResultMetadata{
		Iterations:            iterations,
		TotalSources:          l.totalSources,
		GenerationTimeMs:      l.clock().Sub(l.startTime).Milliseconds(),
		FindingsCount:         len(l.findings),
		NeedsContinuation:     l.needsContinuation,
		ResumedFromCheckpoint: l.resumed,
	}
	if l.resumed {
		metadata.ResumedAtIteration = l.resumedAt
	}
	if l.cost != nil {
		metadata.Cost = l.cost.Summary()
	}
	if l.budget != nil {
		metadata.BudgetUsed = l.budget.Usage()
	}

	var plan Plan
	if l.plan != nil {
		plan = *l.plan
	}

	return &Result{
		Content:  content,
		Blocks:   BlocksFromMarkdown(content),
		Findings: l.findings,
		Plan:     plan,
		Metadata: metadata,
	}
}

// finishRun records terminal telemetry and flushes the trajectory.
func (l *Loop) finishRun(ctx context.Context, result *Result, err error) {
	status := "completed"
	if err != nil {
		// The outer task boundary owns the AgentFailed event; retries may
		// still recover this run.
		status = string(KindOf(err))
		l.logger.Error("Research run failed", "error", err.Error(), "error_kind", status)
	} else if result != nil {
		l.logger.Info("Research run finished",
			"iterations", result.Metadata.Iterations,
			"total_sources", result.Metadata.TotalSources,
			"findings_count", result.Metadata.FindingsCount,
			"needs_continuation", result.Metadata.NeedsContinuation,
			"generation_time_ms", result.Metadata.GenerationTimeMs,
		)
		l.publishEvent(ctx, events.TypeRunCompleted, map[string]any{
			"iterations":         result.Metadata.Iterations,
			"total_sources":      result.Metadata.TotalSources,
			"findings_count":     result.Metadata.FindingsCount,
			"needs_continuation": result.Metadata.NeedsContinuation,
		})
	}

	if l.metrics != nil {
		l.metrics.RunsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
		l.metrics.RunDuration.Record(ctx, l.clock().Sub(l.startTime).Seconds())
	}

	l.trajectory.Save(context.WithoutCancel(ctx), l.correlationID)
}

// =============================================================================
// Provider and callback plumbing
// =============================================================================

// generate funnels every provider call: cancellation check, timing, token
// accounting, metrics. Transient errors pass through untouched so the outer
// task boundary can classify them.
func (l *Loop) generate(ctx context.Context, phase Phase, systemPrompt, userPrompt string, maxTokens int) (string, time.Duration, error) {
	if err := l.checkCancelled(ctx, phase); err != nil {
		return "", 0, err
	}

	messages := []Message{{Role: "user", Content: userPrompt}}
	start := l.clock()
	reply, err := l.provider.Generate(ctx, messages, systemPrompt, maxTokens, l.temperature)
	elapsed := l.clock().Sub(start)

	if l.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("phase", phase.String()),
			attribute.String("status", status),
		)
		l.metrics.ProviderRequestsTotal.Add(ctx, 1, attrs)
		l.metrics.ProviderRequestDuration.Record(ctx, elapsed.Seconds(), attrs)
	}

	if err != nil {
		if ctx.Err() != nil {
			return "", elapsed, fmt.Errorf("%w: %s: %v", ErrCancelled, phase, ctx.Err())
		}
		if errors.Is(err, ErrProviderParseEmpty) {
			// Empty structured output is a per-phase condition, not a run
			// failure. Each phase applies its own empty-result policy.
			l.logger.Warn("Provider returned empty output",
				"phase", phase.String(),
				"error", err.Error(),
			)
			return "", elapsed, nil
		}
		return "", elapsed, fmt.Errorf("%s: %w", phase, err)
	}

	promptTokens := EstimateTokens(systemPrompt) + EstimateTokens(userPrompt)
	completionTokens := EstimateTokens(reply)
	if l.budget != nil {
		l.budget.Add(promptTokens, completionTokens)
	}
	if l.cost != nil {
		l.cost.Add(phase, promptTokens, completionTokens)
	}
	if l.metrics != nil {
		l.metrics.ProviderTokensTotal.Add(ctx, int64(promptTokens),
			metric.WithAttributes(attribute.String("direction", "input")))
		l.metrics.ProviderTokensTotal.Add(ctx, int64(completionTokens),
			metric.WithAttributes(attribute.String("direction", "output")))
	}

	return reply, elapsed, nil
}

// checkCancelled maps context cancellation to ErrCancelled and emits a final
// best-effort checkpoint before the loop unwinds.
func (l *Loop) checkCancelled(ctx context.Context, phase Phase) error {
	if err := ctx.Err(); err == nil {
		return nil
	}
	l.logger.Warn("Run cancelled", "phase", phase.String())
	if l.plan != nil {
		l.emitCheckpoint(context.WithoutCancel(ctx), phase)
	}
	return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
}

// currentPhase names the phase a cancellation interrupted, for logging.
func (l *Loop) currentPhase() Phase {
	if l.plan == nil {
		return PhasePlan
	}
	return PhaseSearch
}

// notifyProgress invokes the progress callback on its own goroutine. Panics
// are swallowed with a log entry; the loop never blocks on the callback.
func (l *Loop) notifyProgress(phase Phase, message string) {
	if l.progress == nil {
		return
	}
	fn := l.progress
	logger := l.logger
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("Progress callback panicked",
					"step", phase.String(),
					"panic", fmt.Sprint(r),
				)
			}
		}()
		fn(phase.String(), message)
	}()
}

// emitCheckpoint snapshots the run and pushes it to the checkpoint sink and
// the event sink. Failures and panics are logged, never raised.
func (l *Loop) emitCheckpoint(ctx context.Context, phase Phase) {
	if l.checkpointSink == nil && l.eventSink == nil {
		return
	}

	cp := l.snapshotCheckpoint(phase)

	if l.checkpointSink != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Warn("Checkpoint sink panicked",
						"phase", phase.String(),
						"panic", fmt.Sprint(r),
					)
				}
			}()
			if err := l.checkpointSink.SaveCheckpoint(ctx, cp); err != nil {
				l.logger.Warn("Checkpoint save failed",
					"phase", phase.String(),
					"error", err.Error(),
				)
			}
		}()
	}

	l.publishEvent(ctx, events.TypeCheckpoint, cp.ToDict())

	if l.metrics != nil {
		l.metrics.CheckpointsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("phase", phase.String())))
	}
}

// snapshotCheckpoint captures the run state after the given phase completed.
func (l *Loop) snapshotCheckpoint(phase Phase) *Checkpoint {
	var plan Plan
	if l.plan != nil {
		plan = *l.plan
	}
	findings := make([]ScoredFinding, len(l.findings))
	copy(findings, l.findings)

	return &Checkpoint{
		CorrelationID:     l.correlationID,
		Question:          l.question,
		Iteration:         l.iteration,
		Phase:             phase,
		TotalSourcesFound: l.totalSources,
		SearchRounds:      l.searchRounds,
		Plan:              plan,
		Findings:          findings,
		Config:            l.config.ToDict(),
		PromptExtension:   l.extension,
		Context:           l.rctx,
	}
}

// publishEvent pushes a run event to the event sink, best-effort.
func (l *Loop) publishEvent(ctx context.Context, eventType events.Type, payload map[string]any) {
	if l.eventSink == nil {
		return
	}
	evt := events.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		CorrelationID: l.correlationID,
		Timestamp:     l.clock().UTC(),
		Payload:       payload,
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Warn("Event sink panicked",
					"event_type", string(eventType),
					"panic", fmt.Sprint(r),
				)
			}
		}()
		if err := l.eventSink.Publish(ctx, evt); err != nil {
			l.logger.Warn("Event publish failed",
				"event_type", string(eventType),
				"error", err.Error(),
			)
		}
	}()
}
