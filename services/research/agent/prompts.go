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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianResearch/services/research/config"
)

// jsonOnly is appended to every structured-output system prompt.
const jsonOnly = "Respond with a single JSON object and nothing else. No prose before or after it."

// decompositionGuidance maps each planning strategy to its instruction.
var decompositionGuidance = map[string]string{
	config.DecompositionSimple:            "Break the question into a small set of direct search queries covering its main aspects.",
	config.DecompositionIssueSpotting:     "Identify the distinct legal or factual issues raised by the question and emit one query per issue.",
	config.DecompositionHypothesisDriven:  "State the competing hypotheses the question admits and emit queries designed to confirm or refute each one.",
	config.DecompositionChronological:     "Decompose the question along its timeline and emit queries for each period or milestone.",
	config.DecompositionComparative:       "Identify the entities or positions being compared and emit parallel queries for each side.",
	config.DecompositionMultiJurisdiction: "Identify the jurisdictions in play and emit parallel queries per jurisdiction.",
}

// composeSystemPrompt joins a base system prompt with the run's prompt
// extension. The extension is the integration point for skill injection.
func composeSystemPrompt(base, extension string) string {
	if extension == "" {
		return base
	}
	return base + "\n\n" + extension
}

// renderContext renders the research context for inclusion in user prompts.
func renderContext(rctx ResearchContext) string {
	var b strings.Builder
	if rctx.Title != "" {
		fmt.Fprintf(&b, "Matter: %s\n", rctx.Title)
	}
	if rctx.Position != "" {
		fmt.Fprintf(&b, "Position under research: %s\n", rctx.Position)
	}
	if len(rctx.Signals) > 0 {
		b.WriteString("Known signals:\n")
		for _, s := range rctx.Signals {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(rctx.Evidence) > 0 {
		b.WriteString("Existing evidence:\n")
		for _, e := range rctx.Evidence {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	if rctx.KGContext != "" {
		fmt.Fprintf(&b, "Knowledge graph context:\n%s\n", rctx.KGContext)
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Plan
// -----------------------------------------------------------------------------

func planSystemPrompt(cfg *config.Config, extension string) string {
	guidance, ok := decompositionGuidance[cfg.Search.Decomposition]
	if !ok {
		guidance = decompositionGuidance[config.DecompositionSimple]
	}

	targets := strings.Join(cfg.SourceTargets(), ", ")
	if targets == "" {
		targets = "web"
	}

	base := fmt.Sprintf(`You are a research planner. %s

Available source targets: %s.

Return JSON of the form:
{"sub_queries": [{"query": "...", "source_target": "...", "rationale": "..."}], "strategy_notes": "..."}

Emit between 1 and %d sub-queries. %s`,
		guidance, targets, cfg.Search.ParallelBranches*2, jsonOnly)

	return composeSystemPrompt(base, extension)
}

func planUserPrompt(question string, rctx ResearchContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", question)
	if ctx := renderContext(rctx); ctx != "" {
		b.WriteString("\n")
		b.WriteString(ctx)
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Extract
// -----------------------------------------------------------------------------

func extractSystemPrompt(cfg *config.Config, extension string) string {
	var b strings.Builder
	b.WriteString("You extract factual claims from search results. For each result that states a claim relevant to the question, emit one finding.\n\n")
	b.WriteString("Extract these fields per finding:\n")
	for _, f := range cfg.Extract.Fields {
		required := "optional"
		if f.Required {
			required = "required"
		}
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", f.Name, f.Type, required, f.Description)
	}
	if len(cfg.Extract.Relationships) > 0 {
		fmt.Fprintf(&b, "\nWhere one finding bears on another, assert a relationship with a type from this set only: %s.\n",
			strings.Join(cfg.Extract.Relationships, ", "))
	}
	b.WriteString(`
Return JSON of the form:
{"findings": [{"source_index": 0, "extracted_fields": {"<field>": <value>}, "quote": "...", "relationships": [{"type": "...", "target": "..."}]}]}

source_index refers to the numbered result list. `)
	b.WriteString(jsonOnly)
	return composeSystemPrompt(b.String(), extension)
}

func extractUserPrompt(question string, results []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nSearch results:\n", question)
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (%s)\n", i, r.Title, r.Domain)
		fmt.Fprintf(&b, "    URL: %s\n", r.URL)
		if r.PublishedDate != "" {
			fmt.Fprintf(&b, "    Published: %s\n", r.PublishedDate)
		}
		fmt.Fprintf(&b, "    %s\n", r.Snippet)
	}
	return b.String()
}

// extractToolSchema generates the function-call schema for tool-capable
// providers from the configured extraction fields and relationship labels.
func extractToolSchema(cfg *config.Config) ToolSchema {
	fieldProps := make(map[string]any, len(cfg.Extract.Fields))
	var requiredFields []string
	for _, f := range cfg.Extract.Fields {
		jsonType := "string"
		switch f.Type {
		case "number":
			jsonType = "number"
		case "boolean":
			jsonType = "boolean"
		}
		fieldProps[f.Name] = map[string]any{
			"type":        jsonType,
			"description": f.Description,
		}
		if f.Required {
			requiredFields = append(requiredFields, f.Name)
		}
	}
	fieldsSchema := map[string]any{
		"type":       "object",
		"properties": fieldProps,
	}
	if len(requiredFields) > 0 {
		fieldsSchema["required"] = requiredFields
	}

	relType := map[string]any{"type": "string"}
	if len(cfg.Extract.Relationships) > 0 {
		relType["enum"] = cfg.Extract.Relationships
	}

	return ToolSchema{
		Name:        "record_findings",
		Description: "Record the claims extracted from the numbered search results.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"findings": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"source_index": map[string]any{
								"type":        "integer",
								"description": "Index into the numbered result list",
							},
							"extracted_fields": fieldsSchema,
							"quote": map[string]any{"type": "string"},
							"relationships": map[string]any{
								"type": "array",
								"items": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"type":   relType,
										"target": map[string]any{"type": "string"},
									},
									"required": []string{"type", "target"},
								},
							},
						},
						"required": []string{"source_index", "extracted_fields"},
					},
				},
			},
			"required": []string{"findings"},
		},
	}
}

// -----------------------------------------------------------------------------
// Evaluate
// -----------------------------------------------------------------------------

// evaluateModeGuidance maps each evaluation mode to its instruction.
var evaluateModeGuidance = map[string]string{
	config.EvaluateModeCorroborative: "Weigh findings higher when independent sources corroborate them.",
	config.EvaluateModeHierarchical:  "Weigh findings by source authority: primary sources above secondary, trusted publishers above unknown ones.",
	config.EvaluateModeComparative:   "Score findings relative to one another so the strongest claims on each side stand out.",
}

func evaluateSystemPrompt(cfg *config.Config, extension string) string {
	guidance, ok := evaluateModeGuidance[cfg.Evaluate.Mode]
	if !ok {
		guidance = evaluateModeGuidance[config.EvaluateModeCorroborative]
	}

	base := fmt.Sprintf(`You evaluate extracted findings against a rubric. %s

Rubric:
%s

Return JSON of the form:
{"evaluations": [{"finding_index": 0, "relevance_score": 0.0, "quality_score": 0.0, "notes": "..."}]}

Scores are in [0,1]. finding_index refers to the numbered finding list. %s`,
		guidance, cfg.EffectiveRubric(), jsonOnly)

	return composeSystemPrompt(base, extension)
}

func evaluateUserPrompt(question string, batch []Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nFindings:\n", question)
	for i, f := range batch {
		fmt.Fprintf(&b, "[%d] source: %s (%s)\n", i, f.Source.Title, f.Source.Domain)
		for name, value := range f.ExtractedFields {
			fmt.Fprintf(&b, "    %s: %s\n", name, value.String())
		}
		if f.Quote != "" {
			fmt.Fprintf(&b, "    quote: %q\n", f.Quote)
		}
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Completeness
// -----------------------------------------------------------------------------

func completenessSystemPrompt(cfg *config.Config, extension string) string {
	var b strings.Builder
	b.WriteString("You decide whether the research so far answers the question or needs follow-up queries.\n\n")

	cc := cfg.Completeness
	if cc.DoneWhen != "" {
		fmt.Fprintf(&b, "The research is done when: %s\n", cc.DoneWhen)
	}
	if cc.MinSources > 0 {
		fmt.Fprintf(&b, "At least %d distinct sources are required before declaring completeness.\n", cc.MinSources)
	}
	if cc.RequireContraryCheck {
		b.WriteString("Before declaring completeness, verify that contrary evidence and opposing positions were searched for.\n")
	}
	if cc.RequireSourceDiversity {
		b.WriteString("Before declaring completeness, verify the findings draw on a diversity of source domains, not one outlet.\n")
	}

	b.WriteString(`
Return JSON of the form:
{"complete": false, "reasoning": "...", "followup_queries": [{"query": "...", "source_target": "...", "rationale": "..."}]}

Emit followup_queries only when complete is false. `)
	b.WriteString(jsonOnly)
	return composeSystemPrompt(b.String(), extension)
}

func completenessUserPrompt(question string, findings []ScoredFinding, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\nIteration: %d\nFindings so far: %d\n\n", question, iteration+1, len(findings))
	for i, f := range findings {
		fmt.Fprintf(&b, "[%d] (rel %.2f, qual %.2f) %s — %s\n",
			i, f.RelevanceScore, f.QualityScore, f.Source.Title, findingSummary(f.Finding))
	}
	return b.String()
}

// findingSummary renders a finding's extracted fields as one line.
func findingSummary(f Finding) string {
	parts := make([]string, 0, len(f.ExtractedFields))
	for name, value := range f.ExtractedFields {
		parts = append(parts, name+": "+value.String())
	}
	return truncateString(strings.Join(parts, "; "), 300)
}

// -----------------------------------------------------------------------------
// Synthesize
// -----------------------------------------------------------------------------

// citationStyleGuidance maps each citation style to its instruction.
var citationStyleGuidance = map[string]string{
	"bluebook": "Cite sources in Bluebook style.",
	"apa":      "Cite sources in APA style.",
	"mla":      "Cite sources in MLA style.",
	"chicago":  "Cite sources in Chicago style.",
	"inline":   "Cite sources inline as [title](url).",
}

func synthesizeSystemPrompt(cfg *config.Config, extension string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You write the final research %s in markdown, grounded strictly in the supplied findings.\n\n", cfg.Output.Format)

	b.WriteString("Structure the document with these sections:\n")
	for _, s := range cfg.EffectiveSections() {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	if guidance, ok := citationStyleGuidance[cfg.Output.CitationStyle]; ok {
		b.WriteString("\n" + guidance + "\n")
	}

	fmt.Fprintf(&b, "\nRubric the findings were scored under:\n%s\n", cfg.EffectiveRubric())
	fmt.Fprintf(&b, "\nTarget length: about %d tokens. Respond with the markdown document only.", cfg.TargetLengthTokens())

	return composeSystemPrompt(b.String(), extension)
}

func synthesizeUserPrompt(question string, rctx ResearchContext, findings []ScoredFinding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", question)
	if ctx := renderContext(rctx); ctx != "" {
		b.WriteString("\n")
		b.WriteString(ctx)
	}
	b.WriteString("\nScored findings:\n")
	for i, f := range findings {
		fmt.Fprintf(&b, "[%d] (rel %.2f, qual %.2f) %s\n", i, f.RelevanceScore, f.QualityScore, f.Source.Title)
		fmt.Fprintf(&b, "    URL: %s\n", f.Source.URL)
		for name, value := range f.ExtractedFields {
			fmt.Fprintf(&b, "    %s: %s\n", name, value.String())
		}
		if f.Quote != "" {
			fmt.Fprintf(&b, "    quote: %q\n", f.Quote)
		}
		if f.EvaluationNotes != "" {
			fmt.Fprintf(&b, "    notes: %s\n", f.EvaluationNotes)
		}
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Compaction digest
// -----------------------------------------------------------------------------

func compactionSystemPrompt(extension string) string {
	base := `You summarize research findings that are being pruned for space. Produce a dense digest that preserves every distinct claim, so nothing is lost outright.

Return JSON of the form:
{"digest": "..."}

` + jsonOnly
	return composeSystemPrompt(base, extension)
}

func compactionUserPrompt(dropped []ScoredFinding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Findings being pruned (%d):\n", len(dropped))
	for i, f := range dropped {
		fmt.Fprintf(&b, "[%d] %s — %s\n", i, f.Source.Title, findingSummary(f.Finding))
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Continuation handoff
// -----------------------------------------------------------------------------

func handoffSystemPrompt() string {
	return `You write a compact research handoff for a fresh session that cannot see this one. In at most a few hundred tokens, state: (1) the question, (2) what has been established so far, (3) what remains to be researched. Respond with the handoff text only.`
}

func handoffUserPrompt(question string, findings []ScoredFinding, strategyNotes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", question)
	if strategyNotes != "" {
		fmt.Fprintf(&b, "Strategy so far: %s\n", strategyNotes)
	}
	fmt.Fprintf(&b, "\nFindings so far (%d):\n", len(findings))
	for i, f := range findings {
		fmt.Fprintf(&b, "[%d] %s — %s\n", i, f.Source.Title, findingSummary(f.Finding))
	}
	return b.String()
}
