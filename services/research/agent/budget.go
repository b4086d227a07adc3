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
	"strings"
)

const (
	// compactionFindingsFloor is the minimum findings count before
	// compaction is considered.
	compactionFindingsFloor = 20

	// compactionTokenCeiling triggers compaction without a budget tracker
	// when the estimated prompt tokens of the findings exceed it.
	compactionTokenCeiling = 60000

	// compactionKeepRatio is the share of findings retained, ranked by
	// composite score.
	compactionKeepRatio = 0.60

	// compactHeadroomRatio is the remaining-window share below which the
	// budget tracker asks for compaction.
	compactHeadroomRatio = 0.20

	// exhaustionRatio is the remaining-window share below which the run is
	// considered exhausted beyond compaction's reach.
	exhaustionRatio = 0.05

	// charsPerToken is the rough chars-to-tokens estimate used when the
	// provider reports no usage.
	charsPerToken = 4
)

// EstimateTokens approximates the token count of text at ~4 chars/token.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// estimateStructuredTokens approximates the token count of a structured
// tool-use reply from its JSON rendering.
func estimateStructuredTokens(out map[string]any) int {
	data, err := json.Marshal(out)
	if err != nil {
		return 0
	}
	return len(data) / charsPerToken
}

// estimateFindingsTokens approximates the prompt footprint of the findings.
func estimateFindingsTokens(findings []ScoredFinding) int {
	var b strings.Builder
	for _, f := range findings {
		b.WriteString(f.Source.Title)
		b.WriteString(f.Source.Snippet)
		b.WriteString(f.Quote)
		b.WriteString(f.EvaluationNotes)
		for _, v := range f.ExtractedFields {
			b.WriteString(v.String())
		}
	}
	return EstimateTokens(b.String())
}

// BudgetTracker accounts cumulative prompt and completion tokens against the
// provider's context window. Constructed only when the provider exposes
// ContextWindowTokens. All methods are called on the loop goroutine.
type BudgetTracker struct {
	contextWindow    int
	promptTokens     int
	completionTokens int
}

// NewBudgetTracker creates a tracker for the given context window. Windows
// of zero or less disable tracking (nil tracker).
func NewBudgetTracker(contextWindowTokens int) *BudgetTracker {
	if contextWindowTokens <= 0 {
		return nil
	}
	return &BudgetTracker{contextWindow: contextWindowTokens}
}

// Add records one call's prompt and completion tokens.
func (b *BudgetTracker) Add(promptTokens, completionTokens int) {
	b.promptTokens += promptTokens
	b.completionTokens += completionTokens
}

// Used returns the cumulative token count.
func (b *BudgetTracker) Used() int {
	return b.promptTokens + b.completionTokens
}

// Remaining returns the unused share of the window, floored at zero.
func (b *BudgetTracker) Remaining() int {
	r := b.contextWindow - b.Used()
	if r < 0 {
		return 0
	}
	return r
}

// ShouldCompact reports whether remaining headroom has dropped below the
// compaction threshold.
func (b *BudgetTracker) ShouldCompact() bool {
	return float64(b.Remaining()) < compactHeadroomRatio*float64(b.contextWindow)
}

// Exhausted reports whether the window is spent beyond what compaction can
// recover. The loop stops cleanly and flags the result for continuation.
func (b *BudgetTracker) Exhausted() bool {
	return float64(b.Remaining()) < exhaustionRatio*float64(b.contextWindow)
}

// Usage returns the end-of-run snapshot for result metadata.
func (b *BudgetTracker) Usage() *BudgetUsage {
	return &BudgetUsage{
		ContextWindowTokens: b.contextWindow,
		UsedTokens:          b.Used(),
		RemainingTokens:     b.Remaining(),
	}
}

// -----------------------------------------------------------------------------
// Cost tracking
// -----------------------------------------------------------------------------

// modelPrice is USD per million tokens.
type modelPrice struct {
	promptPerMTok     float64
	completionPerMTok float64
}

// modelPrices maps model-name prefixes to prices. Longest matching prefix
// wins; unknown models fall back to defaultModelPrice.
var modelPrices = map[string]modelPrice{
	"gpt-4o-mini":    {0.15, 0.60},
	"gpt-4o":         {2.50, 10.00},
	"gpt-4.1":        {2.00, 8.00},
	"o1":             {15.00, 60.00},
	"claude-3-5":     {3.00, 15.00},
	"claude-3-haiku": {0.25, 1.25},
	"llama":          {0.20, 0.20},
	"mistral":        {0.25, 0.25},
	"deepseek":       {0.27, 1.10},
}

var defaultModelPrice = modelPrice{0.50, 1.50}

// priceForModel resolves the price entry for a model name.
func priceForModel(model string) modelPrice {
	best := ""
	for prefix := range modelPrices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultModelPrice
	}
	return modelPrices[best]
}

// CostTracker accumulates per-phase token usage and a running cost estimate.
// Purely informational; never influences control flow. Constructed only when
// the provider exposes a model name.
type CostTracker struct {
	model  string
	phases map[string]PhaseUsage
}

// NewCostTracker creates a tracker priced for the given model.
func NewCostTracker(model string) *CostTracker {
	return &CostTracker{
		model:  model,
		phases: make(map[string]PhaseUsage),
	}
}

// Add records one call's tokens under a phase label.
func (c *CostTracker) Add(phase Phase, promptTokens, completionTokens int) {
	u := c.phases[phase.String()]
	u.PromptTokens += promptTokens
	u.CompletionTokens += completionTokens
	c.phases[phase.String()] = u
}

// Summary computes the aggregate for result metadata.
func (c *CostTracker) Summary() *CostSummary {
	price := priceForModel(c.model)
	s := &CostSummary{
		Model:  c.model,
		Phases: make(map[string]PhaseUsage, len(c.phases)),
	}
	for phase, u := range c.phases {
		s.PromptTokens += u.PromptTokens
		s.CompletionTokens += u.CompletionTokens
		s.Phases[phase] = u
	}
	s.EstimatedUSD = float64(s.PromptTokens)/1e6*price.promptPerMTok +
		float64(s.CompletionTokens)/1e6*price.completionPerMTok
	return s
}
