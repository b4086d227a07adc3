// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the research loop: an iterative, config-driven
// engine that turns an open-ended research question into a synthesized,
// source-grounded report.
//
// The loop coordinates five cooperating phases (Plan, Search, Extract,
// Evaluate, Completeness) followed by Synthesize, under strict source and
// token budgets. Search fans sub-queries out across Tools with a bounded
// worker count; every other phase is a single Provider call. Checkpoints are
// emitted at phase boundaries so an interrupted run can resume, and a
// bounded continuation controller spawns fresh sessions when a run exhausts
// its context window.
//
// Thread Safety:
//
//	A Loop instance serves exactly one run; all loop state is mutated on the
//	single run goroutine. Fan-out workers return results that the loop folds
//	in. Types in this file are treated as immutable once created unless
//	documented otherwise.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

// Phase labels a stage of the research loop. Checkpoints carry the phase
// just completed; on resume, execution continues with the following phase.
type Phase string

const (
	// PhasePlan decomposes the question into sub-queries.
	PhasePlan Phase = "plan"

	// PhaseSearch fans sub-queries out across tools.
	PhaseSearch Phase = "search"

	// PhaseExtract turns search results into findings.
	PhaseExtract Phase = "extract"

	// PhaseEvaluate scores findings against the rubric.
	PhaseEvaluate Phase = "evaluate"

	// PhaseCompleteness decides whether to stop or queue follow-ups.
	PhaseCompleteness Phase = "completeness"

	// PhaseSynthesize writes the final report.
	PhaseSynthesize Phase = "synthesize"

	// PhaseCompact prunes low-scored findings into a digest.
	PhaseCompact Phase = "compact"
)

// String returns the phase as a string.
func (p Phase) String() string {
	return string(p)
}

// Valid reports whether the phase is one of the recognized labels.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlan, PhaseSearch, PhaseExtract, PhaseEvaluate,
		PhaseCompleteness, PhaseSynthesize, PhaseCompact:
		return true
	default:
		return false
	}
}

// AllPhases returns all recognized phase labels in loop order.
func AllPhases() []Phase {
	return []Phase{
		PhasePlan,
		PhaseSearch,
		PhaseExtract,
		PhaseEvaluate,
		PhaseCompleteness,
		PhaseSynthesize,
		PhaseCompact,
	}
}

// -----------------------------------------------------------------------------
// Core data model
// -----------------------------------------------------------------------------

// SubQuery is one decomposed query produced by Plan, or appended as a
// follow-up by Completeness. SubQueries are never mutated after creation.
type SubQuery struct {
	// Query is the literal query text handed to a tool.
	Query string `json:"query"`

	// SourceTarget names the tool family to dispatch to (web, internal,
	// citation). An unknown target falls back to the first tool.
	SourceTarget string `json:"source_target"`

	// Rationale explains why the planner emitted this query.
	Rationale string `json:"rationale,omitempty"`
}

// SearchResult is one hit emitted by a Tool. The URL is the identity within
// a run: re-encountered URLs are silently dropped. Never mutated after
// creation.
type SearchResult struct {
	// URL uniquely identifies the result within a run.
	URL string `json:"url"`

	// Title is the document title.
	Title string `json:"title"`

	// Snippet is the result excerpt returned by the tool.
	Snippet string `json:"snippet"`

	// Domain is the source domain (e.g. "example.com").
	Domain string `json:"domain"`

	// PublishedDate is the publication date if the tool reports one.
	PublishedDate string `json:"published_date,omitempty"`
}

// FieldKind tags an ExtractedValue with its declared extraction type.
type FieldKind string

const (
	// FieldText holds free text.
	FieldText FieldKind = "text"

	// FieldNumber holds a numeric value.
	FieldNumber FieldKind = "number"

	// FieldBoolean holds a boolean value.
	FieldBoolean FieldKind = "boolean"

	// FieldDate holds a date rendered as text (ISO 8601 preferred).
	FieldDate FieldKind = "date"

	// FieldEnum holds one value from a closed set, rendered as text.
	FieldEnum FieldKind = "enum"
)

// ExtractedValue is a tagged variant over the extraction field types.
// Exactly one payload field is meaningful, selected by Kind: Text carries
// text, date, and enum values; Number carries numbers; Bool carries booleans.
type ExtractedValue struct {
	Kind   FieldKind `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Number float64   `json:"number,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
}

// TextValue builds a text-kinded value.
func TextValue(s string) ExtractedValue {
	return ExtractedValue{Kind: FieldText, Text: s}
}

// NumberValue builds a number-kinded value.
func NumberValue(f float64) ExtractedValue {
	return ExtractedValue{Kind: FieldNumber, Number: f}
}

// BoolValue builds a boolean-kinded value.
func BoolValue(b bool) ExtractedValue {
	return ExtractedValue{Kind: FieldBoolean, Bool: b}
}

// DateValue builds a date-kinded value.
func DateValue(s string) ExtractedValue {
	return ExtractedValue{Kind: FieldDate, Text: s}
}

// EnumValue builds an enum-kinded value.
func EnumValue(s string) ExtractedValue {
	return ExtractedValue{Kind: FieldEnum, Text: s}
}

// CoerceValue validates and coerces a raw JSON value into a typed envelope
// for the declared field type.
//
// Description:
//
//	Provider output arrives as untyped JSON. CoerceValue maps it onto the
//	config-declared field type: numbers accept JSON numbers or numeric
//	strings, booleans accept JSON booleans or "true"/"false", and the text
//	kinds accept strings or stringify scalars. Values that cannot be coerced
//	are rejected rather than stored loosely.
//
// Inputs:
//
//	fieldType - The declared extraction type (text, number, boolean, date, enum).
//	raw - The raw decoded JSON value.
//
// Outputs:
//
//	ExtractedValue - The typed envelope.
//	bool - False if the value could not be coerced.
func CoerceValue(fieldType string, raw any) (ExtractedValue, bool) {
	switch FieldKind(fieldType) {
	case FieldNumber:
		switch v := raw.(type) {
		case float64:
			return NumberValue(v), true
		case int:
			return NumberValue(float64(v)), true
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return ExtractedValue{}, false
			}
			return NumberValue(f), true
		}
		return ExtractedValue{}, false
	case FieldBoolean:
		switch v := raw.(type) {
		case bool:
			return BoolValue(v), true
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return ExtractedValue{}, false
			}
			return BoolValue(b), true
		}
		return ExtractedValue{}, false
	case FieldDate:
		s, ok := stringifyScalar(raw)
		if !ok {
			return ExtractedValue{}, false
		}
		return DateValue(s), true
	case FieldEnum:
		s, ok := stringifyScalar(raw)
		if !ok {
			return ExtractedValue{}, false
		}
		return EnumValue(s), true
	default:
		s, ok := stringifyScalar(raw)
		if !ok {
			return ExtractedValue{}, false
		}
		return TextValue(s), true
	}
}

// stringifyScalar renders a scalar JSON value as a string. Maps and slices
// are rejected.
func stringifyScalar(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	case nil:
		return "", false
	default:
		return "", false
	}
}

// String renders the value payload for prompt and report text.
func (v ExtractedValue) String() string {
	switch v.Kind {
	case FieldNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case FieldBoolean:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Text
	}
}

// Relationship is one typed edge asserted by Extract between this finding
// and another claim. The edge type is drawn from the config's allowed set.
type Relationship struct {
	// Type is the edge type (e.g. "supports", "contradicts").
	Type string `json:"type"`

	// Target describes the claim this finding relates to.
	Target string `json:"target"`
}

// Finding is one claim extracted from a single SearchResult.
type Finding struct {
	// Source is the search result the claim was extracted from. Every
	// finding references exactly one result returned earlier in the run.
	Source SearchResult `json:"source"`

	// ExtractedFields maps config-declared field names to typed values.
	ExtractedFields map[string]ExtractedValue `json:"extracted_fields"`

	// Quote is the raw supporting quote, when the provider surfaced one.
	Quote string `json:"quote,omitempty"`

	// Relationships are typed edges to other claims.
	Relationships []Relationship `json:"relationships,omitempty"`
}

// ScoredFinding is a Finding augmented by Evaluate with rubric scores and
// evaluator notes. Scores are clamped to [0,1].
type ScoredFinding struct {
	Finding

	// RelevanceScore measures how directly the finding bears on the question.
	RelevanceScore float64 `json:"relevance_score"`

	// QualityScore measures source and claim quality under the rubric.
	QualityScore float64 `json:"quality_score"`

	// EvaluationNotes carries the evaluator's free-text notes.
	EvaluationNotes string `json:"evaluation_notes,omitempty"`
}

// CompositeScore is the compaction ranking score: 0.6·relevance + 0.4·quality.
func (f ScoredFinding) CompositeScore() float64 {
	return 0.6*f.RelevanceScore + 0.4*f.QualityScore
}

// Plan is the output of the Plan phase. The initial sub-queries are never
// shrunk; Completeness may only append follow-ups.
type Plan struct {
	// SubQueries is the ordered initial decomposition of the question.
	SubQueries []SubQuery `json:"sub_queries"`

	// StrategyNotes is the planner's free-text strategy.
	StrategyNotes string `json:"strategy_notes,omitempty"`

	// Followups is the ordered queue appended by Completeness. Follow-ups
	// appended in iteration i are consumed by iteration i+1.
	Followups []SubQuery `json:"followups,omitempty"`
}

// DrainFollowups returns the queued follow-ups and empties the queue.
func (p *Plan) DrainFollowups() []SubQuery {
	drained := p.Followups
	p.Followups = nil
	return drained
}

// ResearchContext carries the run-level inputs beyond the question.
// Immutable per run.
type ResearchContext struct {
	// Title names the matter under research.
	Title string `json:"title,omitempty"`

	// Position is the position statement the research supports or tests.
	Position string `json:"position,omitempty"`

	// Signals are pre-existing signals seeded by the caller.
	Signals []string `json:"signals,omitempty"`

	// Evidence is pre-existing evidence seeded by the caller.
	Evidence []string `json:"evidence,omitempty"`

	// KGContext is an optional serialized knowledge-graph context string.
	KGContext string `json:"kg_context,omitempty"`
}

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// BlockType identifies the kind of a content block.
type BlockType string

const (
	// BlockHeading is a markdown heading.
	BlockHeading BlockType = "heading"

	// BlockParagraph is a run of prose.
	BlockParagraph BlockType = "paragraph"

	// BlockListItem is a single bulleted or numbered item.
	BlockListItem BlockType = "list_item"

	// BlockQuote is a block quotation.
	BlockQuote BlockType = "quote"

	// BlockCode is a fenced code block.
	BlockCode BlockType = "code"
)

// Block is one typed node of the synthesized content, for downstream
// editing. IDs are deterministic within a Result.
type Block struct {
	// ID is a stable identifier derived from the block text and ordinal.
	ID string `json:"id"`

	// Type is the block kind.
	Type BlockType `json:"type"`

	// Text is the block payload without markdown markers.
	Text string `json:"text"`

	// Metadata carries per-type extras: headings set "level" (1..6),
	// code blocks set "language" when the fence declares one.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// HeadingLevel returns the heading level for heading blocks, or 0.
func (b Block) HeadingLevel() int {
	if b.Type != BlockHeading || b.Metadata == nil {
		return 0
	}
	switch v := b.Metadata["level"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// CostSummary is the cost tracker's aggregate, keyed by phase.
type CostSummary struct {
	// Model is the provider model the prices were looked up for.
	Model string `json:"model,omitempty"`

	// PromptTokens is the cumulative prompt token count.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the cumulative completion token count.
	CompletionTokens int `json:"completion_tokens"`

	// EstimatedUSD is the running cost estimate from the price table.
	EstimatedUSD float64 `json:"estimated_usd"`

	// Phases breaks token usage down per phase.
	Phases map[string]PhaseUsage `json:"phases,omitempty"`
}

// PhaseUsage is one phase's token usage.
type PhaseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// BudgetUsage is the budget tracker's end-of-run snapshot.
type BudgetUsage struct {
	// ContextWindowTokens is the provider's declared context window.
	ContextWindowTokens int `json:"context_window_tokens"`

	// UsedTokens is the cumulative prompt plus completion count.
	UsedTokens int `json:"used_tokens"`

	// RemainingTokens is the window minus usage, floored at zero.
	RemainingTokens int `json:"remaining_tokens"`
}

// ResultMetadata describes how the run went.
type ResultMetadata struct {
	// Iterations is the 1-based count of completed search iterations.
	Iterations int `json:"iterations"`

	// TotalSources is the count of distinct result URLs across the run.
	TotalSources int `json:"total_sources"`

	// GenerationTimeMs is the wall time of the run in milliseconds.
	GenerationTimeMs int64 `json:"generation_time_ms"`

	// FindingsCount is the number of scored findings in the result.
	FindingsCount int `json:"findings_count"`

	// NeedsContinuation is set when the budget tracker signaled exhaustion
	// beyond what compaction could recover.
	NeedsContinuation bool `json:"needs_continuation"`

	// ResumedFromCheckpoint is set when the run was restored from a checkpoint.
	ResumedFromCheckpoint bool `json:"resumed_from_checkpoint"`

	// ResumedAtIteration is the checkpoint iteration the run resumed at.
	ResumedAtIteration int `json:"resumed_at_iteration,omitempty"`

	// Continuations is the number of continuation sessions merged in.
	Continuations int `json:"continuations,omitempty"`

	// Cost is present only when the provider exposes a model name.
	Cost *CostSummary `json:"cost,omitempty"`

	// BudgetUsed is present only when the provider exposes a context window.
	BudgetUsed *BudgetUsage `json:"budget_used,omitempty"`
}

// Result is the final product of a run.
type Result struct {
	// Content is the synthesized markdown report.
	Content string `json:"content"`

	// Blocks is the typed block representation of Content.
	Blocks []Block `json:"blocks"`

	// Findings is the full ordered list of scored findings. Order is
	// (iteration, extract order) and is stable for downstream consumers.
	Findings []ScoredFinding `json:"findings"`

	// Plan is the final plan, follow-up queue included.
	Plan Plan `json:"plan"`

	// Metadata describes the run.
	Metadata ResultMetadata `json:"metadata"`
}

// =============================================================================
// Collaborator interfaces
// =============================================================================

// Message is one turn of a provider conversation.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Provider is the LLM capability interface.
//
// # Description
//
// Generate is the structured-output workhorse: every phase prompt expects
// JSON (or markdown, for synthesis) inside the returned text. Optional
// capabilities are probed via type assertion: ToolCapable for
// function-call-style output, ModelAware and ContextWindowAware for the
// attributes that switch on cost and budget tracking.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Generate produces text for the given messages and system prompt.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout.
	//   - messages: Ordered conversation turns.
	//   - systemPrompt: The system prompt, extension included.
	//   - maxTokens: Completion token ceiling (0 = provider default).
	//   - temperature: Sampling temperature.
	//
	// Outputs:
	//   - string: The raw response text.
	//   - error: ErrProviderTransient-wrapped on connect/timeout/5xx.
	Generate(ctx context.Context, messages []Message, systemPrompt string, maxTokens int, temperature float64) (string, error)
}

// ToolSchema describes one tool for function-call-style generation.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCapable is an optional provider capability for structured tool-use
// output. When available, phases may prefer it over free-form JSON.
type ToolCapable interface {
	GenerateWithTools(ctx context.Context, messages []Message, tools []ToolSchema, systemPrompt string) (map[string]any, error)
}

// ModelAware is an optional provider capability exposing the model name.
// Its presence switches on cost tracking.
type ModelAware interface {
	Model() string
}

// ContextWindowAware is an optional provider capability exposing the context
// window size. Its presence switches on budget tracking.
type ContextWindowAware interface {
	ContextWindowTokens() int
}

// Tool is the search capability interface. The loop receives tools
// pre-resolved and treats them as opaque; it may call the same tool
// concurrently up to the configured parallel branch count.
type Tool interface {
	// Name identifies the tool for source-target dispatch.
	Name() string

	// Execute runs one query against the backing source.
	//
	// Inputs:
	//   - ctx: Context for cancellation/timeout.
	//   - query: The query text.
	//   - sourceTarget: The sub-query's source-target tag.
	//   - limit: Maximum results to return.
	//
	// Outputs:
	//   - []SearchResult: Zero or more results. Empty is a successful
	//     zero-result query, not an error.
	//   - error: ErrToolTransient-wrapped on network/rate-limit failures.
	Execute(ctx context.Context, query, sourceTarget string, limit int) ([]SearchResult, error)
}

// ProgressFunc receives step/message progress notifications. Callbacks run
// on the loop goroutine; panics are swallowed with a log entry.
type ProgressFunc func(step, message string)

// CheckpointSink receives checkpoints at phase boundaries, at minimum after
// plan and after evaluate. Implementations may deduplicate but must not
// block the loop; errors are logged, never raised.
type CheckpointSink interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
}

// CheckpointSource loads a checkpoint before loop construction. A missing
// checkpoint is reported via an error the store package distinguishes.
type CheckpointSource interface {
	LoadCheckpoint(ctx context.Context, correlationID string) (*Checkpoint, error)
}

// Clock abstracts time for tests.
type Clock func() time.Time

// clampScore clamps an evaluator score to [0,1].
func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncateString caps a string at max bytes, backing the cut off to a rune
// boundary so a multibyte character is never split.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// summarizeQueries renders sub-queries as a short one-line summary.
func summarizeQueries(queries []SubQuery) string {
	if len(queries) == 0 {
		return "0 queries"
	}
	s := fmt.Sprintf("%d queries:", len(queries))
	for i, q := range queries {
		if i >= 3 {
			s += " …"
			break
		}
		s += fmt.Sprintf(" [%s] %s;", q.SourceTarget, q.Query)
	}
	return s
}
