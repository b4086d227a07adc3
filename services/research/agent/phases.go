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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianResearch/pkg/telemetry"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Plan
// =============================================================================

// runPlan decomposes the question into sub-queries. A reply the parser cannot
// shape into at least one sub-query falls back to a single query carrying the
// literal question.
func (l *Loop) runPlan(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.plan")
	defer span.End()

	reply, elapsed, err := l.generate(ctx, PhasePlan,
		planSystemPrompt(l.config, l.extension),
		planUserPrompt(l.question, l.rctx),
		planMaxTokens,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	parsed := ExtractJSONObject(reply)
	subQueries := parseSubQueries(jsonSlice(parsed, "sub_queries"), l.defaultSourceTarget())
	strategyNotes := jsonString(parsed, "strategy_notes")

	rationale := strategyNotes
	if len(subQueries) == 0 {
		l.logger.Warn("Plan reply unparseable, falling back to single query")
		subQueries = []SubQuery{{
			Query:        l.question,
			SourceTarget: l.defaultSourceTarget(),
			Rationale:    "fallback: plan output was not parseable",
		}}
		rationale = "single-query fallback after unparseable plan output"
	}

	l.plan = &Plan{
		SubQueries:    subQueries,
		StrategyNotes: strategyNotes,
	}

	l.logger.Info("Plan created",
		"sub_queries", len(subQueries),
		"decomposition", l.config.Search.Decomposition,
	)
	l.trajectory.Record(PhasePlan.String(),
		fmt.Sprintf("question: %s", l.question),
		summarizeQueries(subQueries),
		rationale,
		map[string]float64{"sub_queries": float64(len(subQueries))},
		elapsed.Milliseconds(),
	)
	l.notifyProgress(PhasePlan, fmt.Sprintf("Planned %d sub-queries", len(subQueries)))
	l.publishEvent(ctx, events.TypePhaseCompleted, map[string]any{
		"phase":       PhasePlan.String(),
		"sub_queries": len(subQueries),
	})
	return nil
}

// =============================================================================
// Search
// =============================================================================

// runSearch fans the pending queries out across the tools, bounded by
// config.search.parallel_branches, and folds results back in on the loop
// goroutine. A single tool failure drops that query's results and nothing
// else. Returns only results whose URL has not been seen this run.
func (l *Loop) runSearch(ctx context.Context, pending []SubQuery) ([]SearchResult, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.search")
	defer span.End()
	telemetry.SetSpanAttributes(span,
		attribute.Int("research.queries", len(pending)),
		attribute.Int("research.iteration", l.iteration),
	)

	start := l.clock()
	resultSets := make([][]SearchResult, len(pending))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.config.Search.ParallelBranches)

	for i, sq := range pending {
		i, sq := i, sq

		g.Go(func() error {
			tool := l.toolFor(sq.SourceTarget)
			if tool == nil {
				l.logger.Warn("No tool available for query",
					"source_target", sq.SourceTarget,
					"query_len", len(sq.Query),
				)
				return nil
			}

			toolStart := time.Now()
			results, err := tool.Execute(gCtx, sq.Query, sq.SourceTarget, l.searchLimit)
			toolElapsed := time.Since(toolStart)

			if l.metrics != nil {
				status := "ok"
				if err != nil {
					status = "error"
				}
				attrs := metric.WithAttributes(
					attribute.String("tool", tool.Name()),
					attribute.String("status", status),
				)
				l.metrics.ToolRequestsTotal.Add(gCtx, 1, attrs)
				l.metrics.ToolRequestDuration.Record(gCtx, toolElapsed.Seconds(), attrs)
			}

			if err != nil {
				// Per-query boundary: drop this query's results, keep the batch.
				l.logger.Warn("Tool call failed",
					"tool", tool.Name(),
					"source_target", sq.SourceTarget,
					"error", err.Error(),
				)
				return nil
			}

			resultSets[i] = results
			return nil
		})
	}
	_ = g.Wait()

	if err := l.checkCancelled(ctx, PhaseSearch); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var newResults []SearchResult
	excluded := 0
	for _, set := range resultSets {
		for _, r := range set {
			if r.URL == "" {
				continue
			}
			if l.config.IsExcludedDomain(r.Domain) {
				excluded++
				continue
			}
			if l.seenURLs[r.URL] {
				continue
			}
			l.seenURLs[r.URL] = true
			l.totalSources++
			newResults = append(newResults, r)
		}
	}
	l.searchRounds++

	if l.metrics != nil && len(newResults) > 0 {
		l.metrics.SourcesTotal.Add(ctx, int64(len(newResults)))
	}

	elapsed := l.clock().Sub(start)
	l.logger.Info("Search round complete",
		"iteration", l.iteration,
		"queries", len(pending),
		"new_results", len(newResults),
		"excluded", excluded,
		"total_sources", l.totalSources,
	)
	l.trajectory.Record(PhaseSearch.String(),
		summarizeQueries(pending),
		fmt.Sprintf("%d new results, %d total sources", len(newResults), l.totalSources),
		"",
		map[string]float64{
			"queries":       float64(len(pending)),
			"new_results":   float64(len(newResults)),
			"total_sources": float64(l.totalSources),
		},
		elapsed.Milliseconds(),
	)
	l.notifyProgress(PhaseSearch, fmt.Sprintf("Found %d new sources", len(newResults)))
	l.publishEvent(ctx, events.TypePhaseCompleted, map[string]any{
		"phase":         PhaseSearch.String(),
		"iteration":     l.iteration,
		"new_results":   len(newResults),
		"total_sources": l.totalSources,
	})
	return newResults, nil
}

// toolFor resolves a source target to a tool: exact name match first, else
// the first tool in construction order, else nil when no tools exist.
func (l *Loop) toolFor(sourceTarget string) Tool {
	for _, t := range l.tools {
		if t.Name() == sourceTarget {
			return t
		}
	}
	if len(l.tools) > 0 {
		return l.tools[0]
	}
	return nil
}

// =============================================================================
// Extract
// =============================================================================

// runExtract turns the batch of new search results into findings in a single
// provider call. Tool-capable providers get a function-call schema generated
// from the extraction config; everyone else gets the JSON prompt. Entries
// whose source_index falls outside the batch are dropped. An unparseable
// reply yields zero findings, not an error.
func (l *Loop) runExtract(ctx context.Context, results []SearchResult) ([]Finding, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.extract")
	defer span.End()

	var parsed map[string]any
	var elapsed time.Duration
	if tc, ok := l.provider.(ToolCapable); ok {
		parsed, elapsed = l.extractWithTools(ctx, tc, results)
	}
	if parsed == nil {
		reply, textElapsed, err := l.generate(ctx, PhaseExtract,
			extractSystemPrompt(l.config, l.extension),
			extractUserPrompt(l.question, results),
			extractMaxTokens,
		)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		parsed = ExtractJSONObject(reply)
		elapsed += textElapsed
	}
	entries := jsonObjects(parsed, "findings")

	var findings []Finding
	dropped := 0
	for _, entry := range entries {
		idx, ok := jsonInt(entry, "source_index")
		if !ok || idx < 0 || idx >= len(results) {
			dropped++
			continue
		}

		rawFields, _ := entry["extracted_fields"].(map[string]any)
		findings = append(findings, Finding{
			Source:          results[idx],
			ExtractedFields: l.coerceFields(rawFields),
			Quote:           jsonString(entry, "quote"),
			Relationships:   l.parseRelationships(entry),
		})
	}

	if len(entries) == 0 {
		l.logger.Warn("Extract reply yielded no findings", "results", len(results))
	}
	l.logger.Info("Extraction complete",
		"iteration", l.iteration,
		"results", len(results),
		"findings", len(findings),
		"dropped", dropped,
	)
	l.trajectory.Record(PhaseExtract.String(),
		fmt.Sprintf("%d search results", len(results)),
		fmt.Sprintf("%d findings, %d dropped", len(findings), dropped),
		"",
		map[string]float64{
			"findings": float64(len(findings)),
			"dropped":  float64(dropped),
		},
		elapsed.Milliseconds(),
	)
	l.notifyProgress(PhaseExtract, fmt.Sprintf("Extracted %d findings", len(findings)))
	l.publishEvent(ctx, events.TypePhaseCompleted, map[string]any{
		"phase":     PhaseExtract.String(),
		"iteration": l.iteration,
		"findings":  len(findings),
	})
	return findings, nil
}

// extractWithTools asks a tool-capable provider for structured findings via
// the schema generated from the extraction config. Any failure returns a nil
// map so the caller falls back to the text path; the loop never loses an
// extract round to a structured-output quirk.
func (l *Loop) extractWithTools(ctx context.Context, tc ToolCapable, results []SearchResult) (map[string]any, time.Duration) {
	systemPrompt := extractSystemPrompt(l.config, l.extension)
	userPrompt := extractUserPrompt(l.question, results)
	messages := []Message{{Role: "user", Content: userPrompt}}

	start := l.clock()
	out, err := tc.GenerateWithTools(ctx, messages, []ToolSchema{extractToolSchema(l.config)}, systemPrompt)
	elapsed := l.clock().Sub(start)

	if l.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("phase", PhaseExtract.String()),
			attribute.String("status", status),
		)
		l.metrics.ProviderRequestsTotal.Add(ctx, 1, attrs)
		l.metrics.ProviderRequestDuration.Record(ctx, elapsed.Seconds(), attrs)
	}

	if err != nil || len(out) == 0 {
		if err != nil {
			l.logger.Warn("Structured extract call failed, falling back to text generation",
				"error", err.Error(),
			)
		}
		return nil, elapsed
	}

	promptTokens := EstimateTokens(systemPrompt) + EstimateTokens(userPrompt)
	completionTokens := estimateStructuredTokens(out)
	if l.budget != nil {
		l.budget.Add(promptTokens, completionTokens)
	}
	if l.cost != nil {
		l.cost.Add(PhaseExtract, promptTokens, completionTokens)
	}
	return out, elapsed
}

// coerceFields validates inbound field values against the configured
// extraction schema. With no schema configured, every scalar value is kept
// as text. Values that fail coercion are dropped.
func (l *Loop) coerceFields(raw map[string]any) map[string]ExtractedValue {
	fields := make(map[string]ExtractedValue)
	if len(l.config.Extract.Fields) == 0 {
		for name, value := range raw {
			if v, ok := CoerceValue("text", value); ok {
				fields[name] = v
			}
		}
		return fields
	}
	for _, f := range l.config.Extract.Fields {
		value, present := raw[f.Name]
		if !present {
			continue
		}
		if v, ok := CoerceValue(f.Type, value); ok {
			fields[f.Name] = v
		}
	}
	return fields
}

// parseRelationships reads a finding entry's relationships, keeping only
// edge labels the config allows (all labels when none are configured).
func (l *Loop) parseRelationships(entry map[string]any) []Relationship {
	allowed := make(map[string]bool, len(l.config.Extract.Relationships))
	for _, r := range l.config.Extract.Relationships {
		allowed[r] = true
	}

	var rels []Relationship
	for _, obj := range jsonObjects(entry, "relationships") {
		rel := Relationship{
			Type:   jsonString(obj, "type"),
			Target: jsonString(obj, "target"),
		}
		if rel.Type == "" || rel.Target == "" {
			continue
		}
		if len(allowed) > 0 && !allowed[rel.Type] {
			continue
		}
		rels = append(rels, rel)
	}
	return rels
}

// =============================================================================
// Evaluate
// =============================================================================

// runEvaluate scores the batch against the effective rubric. Every batch
// finding comes back as a ScoredFinding; an unparseable reply leaves the
// whole batch at zero scores rather than losing it. Scores are clamped to
// [0,1] and nudged upward for configured trusted publishers.
func (l *Loop) runEvaluate(ctx context.Context, batch []Finding) ([]ScoredFinding, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.evaluate")
	defer span.End()

	reply, elapsed, err := l.generate(ctx, PhaseEvaluate,
		evaluateSystemPrompt(l.config, l.extension),
		evaluateUserPrompt(l.question, batch),
		evaluateMaxTokens,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	scored := make([]ScoredFinding, len(batch))
	for i := range batch {
		scored[i] = ScoredFinding{Finding: batch[i]}
	}

	parsed := ExtractJSONObject(reply)
	entries := jsonObjects(parsed, "evaluations")
	if len(entries) == 0 {
		l.logger.Warn("Evaluate reply unparseable, keeping batch at zero scores",
			"batch", len(batch),
		)
	}
	for _, entry := range entries {
		idx, ok := jsonInt(entry, "finding_index")
		if !ok || idx < 0 || idx >= len(scored) {
			continue
		}
		rel, _ := jsonFloat(entry, "relevance_score")
		qual, _ := jsonFloat(entry, "quality_score")
		scored[idx].RelevanceScore = clampScore(rel)
		scored[idx].QualityScore = clampScore(qual)
		scored[idx].EvaluationNotes = jsonString(entry, "notes")
	}

	for i := range scored {
		scored[i].QualityScore = l.applyTrustBias(scored[i].Finding.Source.Domain, scored[i].QualityScore)
	}

	l.logger.Info("Evaluation complete", "iteration", l.iteration, "scored", len(scored))
	l.trajectory.Record(PhaseEvaluate.String(),
		fmt.Sprintf("%d findings", len(batch)),
		fmt.Sprintf("%d scored", len(scored)),
		"",
		map[string]float64{"scored": float64(len(scored))},
		elapsed.Milliseconds(),
	)
	l.notifyProgress(PhaseEvaluate, fmt.Sprintf("Scored %d findings", len(scored)))
	l.publishEvent(ctx, events.TypePhaseCompleted, map[string]any{
		"phase":     PhaseEvaluate.String(),
		"iteration": l.iteration,
		"scored":    len(scored),
	})
	return scored, nil
}

// applyTrustBias nudges quality for sources from configured trusted
// publishers. Primary-tier domains get a larger nudge than secondary.
func (l *Loop) applyTrustBias(domain string, quality float64) float64 {
	switch l.config.PublisherTrust(domain) {
	case "primary":
		return clampScore(quality + 0.10)
	case "secondary":
		return clampScore(quality + 0.05)
	default:
		return quality
	}
}

// =============================================================================
// Completeness
// =============================================================================

// runCompleteness decides whether to stop iterating. Hard ceilings
// short-circuit the provider call; otherwise the provider's verdict is
// floored by completeness.min_sources. Follow-up queries from a not-complete
// verdict are appended to the plan for the next iteration.
func (l *Loop) runCompleteness(ctx context.Context) (bool, error) {
	if reason, hit := l.completenessCeiling(); hit {
		l.logger.Info("Completeness ceiling reached", "reason", reason)
		l.trajectory.Record(PhaseCompleteness.String(),
			fmt.Sprintf("%d findings, iteration %d", len(l.findings), l.iteration),
			"complete=true",
			reason,
			map[string]float64{"findings": float64(len(l.findings))},
			0,
		)
		l.notifyProgress(PhaseCompleteness, "Research complete: "+reason)
		return true, nil
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.completeness")
	defer span.End()

	reply, elapsed, err := l.generate(ctx, PhaseCompleteness,
		completenessSystemPrompt(l.config, l.extension),
		completenessUserPrompt(l.question, l.findings, l.iteration),
		completenessMaxTokens,
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}

	parsed := ExtractJSONObject(reply)
	complete := jsonBool(parsed, "complete")
	reasoning := jsonString(parsed, "reasoning")
	followups := parseSubQueries(jsonSlice(parsed, "followup_queries"), l.defaultSourceTarget())

	if complete && len(l.findings) < l.config.Completeness.MinSources {
		complete = false
		reasoning = fmt.Sprintf("overridden: %d findings below min_sources=%d. %s",
			len(l.findings), l.config.Completeness.MinSources, reasoning)
	}
	if !complete && len(followups) > 0 {
		l.plan.Followups = append(l.plan.Followups, followups...)
	}

	l.logger.Info("Completeness checked",
		"iteration", l.iteration,
		"complete", complete,
		"followups", len(followups),
	)
	l.trajectory.Record(PhaseCompleteness.String(),
		fmt.Sprintf("%d findings, iteration %d", len(l.findings), l.iteration),
		fmt.Sprintf("complete=%t, %d followups", complete, len(followups)),
		reasoning,
		map[string]float64{
			"findings":  float64(len(l.findings)),
			"followups": float64(len(followups)),
		},
		elapsed.Milliseconds(),
	)
	l.notifyProgress(PhaseCompleteness, fmt.Sprintf("Completeness: %t", complete))
	l.publishEvent(ctx, events.TypePhaseCompleted, map[string]any{
		"phase":     PhaseCompleteness.String(),
		"iteration": l.iteration,
		"complete":  complete,
		"followups": len(followups),
	})
	return complete, nil
}

// completenessCeiling checks the stop conditions that bypass the provider:
// the run-wide source budget, the completeness source ceiling, and the
// iteration cap.
func (l *Loop) completenessCeiling() (string, bool) {
	if len(l.findings) >= l.config.Search.Budget.MaxSources {
		return fmt.Sprintf("source budget reached (%d findings >= budget.max_sources=%d)",
			len(l.findings), l.config.Search.Budget.MaxSources), true
	}
	if l.config.Completeness.MaxSources > 0 && len(l.findings) >= l.config.Completeness.MaxSources {
		return fmt.Sprintf("source ceiling reached (%d findings >= completeness.max_sources=%d)",
			len(l.findings), l.config.Completeness.MaxSources), true
	}
	if l.iteration+1 >= l.config.Search.MaxIterations {
		return fmt.Sprintf("iteration cap reached (iteration %d of %d)",
			l.iteration+1, l.config.Search.MaxIterations), true
	}
	return "", false
}

// =============================================================================
// Synthesize
// =============================================================================

// runSynthesize produces the final markdown document from all surviving
// findings, shaped by the output config. The reply is used as-is; block
// conversion happens during finalization.
func (l *Loop) runSynthesize(ctx context.Context) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.synthesize")
	defer span.End()

	reply, elapsed, err := l.generate(ctx, PhaseSynthesize,
		synthesizeSystemPrompt(l.config, l.extension),
		synthesizeUserPrompt(l.question, l.rctx, l.findings),
		l.config.TargetLengthTokens(),
	)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}

	l.logger.Info("Synthesis complete",
		"findings", len(l.findings),
		"format", l.config.Output.Format,
		"content_len", len(reply),
	)
	l.trajectory.Record(PhaseSynthesize.String(),
		fmt.Sprintf("%d findings, format=%s", len(l.findings), l.config.Output.Format),
		truncateString(reply, 200),
		"",
		map[string]float64{"content_chars": float64(len(reply))},
		elapsed.Milliseconds(),
	)
	l.notifyProgress(PhaseSynthesize, "Document synthesized")
	l.publishEvent(ctx, events.TypePhaseCompleted, map[string]any{
		"phase":       PhaseSynthesize.String(),
		"content_len": len(reply),
		"findings":    len(l.findings),
	})
	return reply, nil
}

// defaultSourceTarget is the target assigned to sub-queries that omit one.
func (l *Loop) defaultSourceTarget() string {
	if targets := l.config.SourceTargets(); len(targets) > 0 {
		return targets[0]
	}
	return "web"
}
