// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_config_docs generates a markdown reference for the research
// configuration schema.
//
// Usage:
//
//	go run scripts/generate_config_docs.go > docs/research/01_config_reference.md
//	go run scripts/generate_config_docs.go my_config.yaml > docs/effective_config.md
//
// Without an argument the documented values are the library defaults; with a
// config YAML path the document describes that file's effective settings
// (defaults merged with the file, validated).
//
// The generated documentation includes:
//   - Every section and setting with its effective value
//   - Validation constraints per setting
//   - Summary statistics
//   - The full effective config as YAML
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	rescfg "github.com/AleutianAI/AleutianResearch/services/research/config"
)

// settingRow is one setting in a section table.
type settingRow struct {
	Setting     string
	Value       string
	Constraints string
}

// sectionDoc documents one top-level config section.
type sectionDoc struct {
	Name        string
	Description string
	Rows        []settingRow
}

func main() {
	var cfg *rescfg.Config
	var source string

	if len(os.Args) > 1 {
		loaded, err := rescfg.LoadFile(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
		cfg = loaded
		source = fmt.Sprintf("`%s` (merged over defaults)", os.Args[1])
	} else {
		cfg = rescfg.Default()
		source = "library defaults (`config.Default()`)"
	}

	sections := buildSections(cfg)
	generateMarkdown(cfg, sections, source)
}

// buildSections maps the config structure onto documented sections, in the
// order a run consumes them.
func buildSections(cfg *rescfg.Config) []sectionDoc {
	return []sectionDoc{
		{
			Name: "Sources",
			Description: "Controls which search tools are resolved and how raw results are filtered. " +
				"Primary targets are searched every iteration; supplementary targets only when primary sources come up short.",
			Rows: []settingRow{
				{"sources.primary", valueList(cfg.Sources.Primary), "tool names, e.g. web, internal"},
				{"sources.supplementary", valueList(cfg.Sources.Supplementary), "tool names"},
				{"sources.trusted_publishers", valuePublishers(cfg.Sources.TrustedPublishers), "trust: primary or secondary"},
				{"sources.excluded_domains", valueList(cfg.Sources.ExcludedDomains), "results from these domains are dropped"},
			},
		},
		{
			Name: "Search",
			Description: "Shapes query decomposition, fan-out, and the run's raw-material budget. " +
				"The budget is a hard ceiling: once max_sources distinct sources have been gathered, " +
				"the completeness gate closes without another provider call.",
			Rows: []settingRow{
				{"search.decomposition", cfg.Search.Decomposition, "simple, issue_spotting, hypothesis_driven, chronological, comparative, multi_jurisdictional"},
				{"search.parallel_branches", fmt.Sprintf("%d", cfg.Search.ParallelBranches), "1-10 concurrent sub-query searches"},
				{"search.max_iterations", fmt.Sprintf("%d", cfg.Search.MaxIterations), "1-20 plan/search/evaluate cycles"},
				{"search.budget.max_sources", fmt.Sprintf("%d", cfg.Search.Budget.MaxSources), "min 1, distinct sources per run"},
				{"search.budget.max_search_rounds", fmt.Sprintf("%d", cfg.Search.Budget.MaxSearchRounds), "min 1, search rounds per run"},
				{"search.follow_citations", fmt.Sprintf("%t", cfg.Search.FollowCitations), "follow citations out of gathered sources"},
				{"search.citation_depth", fmt.Sprintf("%d", cfg.Search.CitationDepth), "0-5 hops when following citations"},
			},
		},
		{
			Name: "Extract",
			Description: "Declares the structured fields pulled from every source. Each finding carries these " +
				"fields plus a supporting quote; relationships name typed links the extractor should look for.",
			Rows: extractRows(cfg),
		},
		{
			Name: "Evaluate",
			Description: "Controls scoring. Every finding gets relevance and quality scores in [0, 1]; " +
				"the rubric or criteria steer the grader. Trusted publishers from the sources section " +
				"receive a quality bias on top.",
			Rows: evaluateRows(cfg),
		},
		{
			Name: "Completeness",
			Description: "The stop conditions checked after each iteration. A run finishes early only when " +
				"the verdict is complete and at least min_sources distinct sources back the findings.",
			Rows: []settingRow{
				{"completeness.min_sources", fmt.Sprintf("%d", cfg.Completeness.MinSources), "min 0, completion requires at least this many sources"},
				{"completeness.max_sources", fmt.Sprintf("%d", cfg.Completeness.MaxSources), "min 1, reaching it ends the search"},
				{"completeness.require_contrary_check", fmt.Sprintf("%t", cfg.Completeness.RequireContraryCheck), "demand an explicit search for contrary evidence"},
				{"completeness.require_source_diversity", fmt.Sprintf("%t", cfg.Completeness.RequireSourceDiversity), "demand findings from more than one domain"},
				{"completeness.done_when", valueText(cfg.Completeness.DoneWhen), "free-text completion criterion for the verdict prompt"},
			},
		},
		{
			Name: "Output",
			Description: "Shapes the synthesized document. target_length maps to a synthesis token ceiling " +
				"(brief 1500, standard 4000, detailed 8000).",
			Rows: []settingRow{
				{"output.format", cfg.Output.Format, "report, memo, brief, summary"},
				{"output.sections", valueList(cfg.Output.Sections), "section headings; empty lets the model choose"},
				{"output.citation_style", cfg.Output.CitationStyle, "bluebook, apa, mla, chicago, inline"},
				{"output.target_length", cfg.Output.TargetLength, "brief, standard, detailed"},
			},
		},
	}
}

// extractRows renders the extraction schema, one row per field.
func extractRows(cfg *rescfg.Config) []settingRow {
	rows := make([]settingRow, 0, len(cfg.Extract.Fields)+1)
	for _, f := range cfg.Extract.Fields {
		required := "optional"
		if f.Required {
			required = "required"
		}
		rows = append(rows, settingRow{
			Setting:     fmt.Sprintf("extract.fields[%s]", f.Name),
			Value:       fmt.Sprintf("%s, %s", f.Type, required),
			Constraints: valueText(f.Description),
		})
	}
	rows = append(rows, settingRow{
		Setting:     "extract.relationships",
		Value:       valueList(cfg.Extract.Relationships),
		Constraints: "typed links between findings, e.g. overrules, cites",
	})
	return rows
}

// evaluateRows renders the scoring configuration.
func evaluateRows(cfg *rescfg.Config) []settingRow {
	rubric := "default rubric"
	if cfg.Evaluate.QualityRubric != "" {
		rubric = "custom rubric"
	}
	rows := []settingRow{
		{"evaluate.mode", cfg.Evaluate.Mode, "corroborative, hierarchical, comparative"},
		{"evaluate.quality_rubric", rubric, "free text; empty uses the built-in rubric"},
	}
	for _, c := range cfg.Evaluate.Criteria {
		rows = append(rows, settingRow{
			Setting:     fmt.Sprintf("evaluate.criteria[%s]", c.Name),
			Value:       c.Importance,
			Constraints: valueText(c.Guidance),
		})
	}
	return rows
}

// generateMarkdown outputs the full markdown documentation.
func generateMarkdown(cfg *rescfg.Config, sections []sectionDoc, source string) {
	fmt.Println("# Research Config Reference")
	fmt.Println()
	fmt.Println("## Overview")
	fmt.Println()
	fmt.Println("This document describes every setting of the research loop configuration.")
	fmt.Printf("Documented values come from %s.\n", source)
	fmt.Println("A config file only needs the keys it overrides; everything else keeps its default.")
	fmt.Println()
	fmt.Printf("**Generated:** %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Println()

	// Statistics
	totalSettings := 0
	for _, s := range sections {
		totalSettings += len(s.Rows)
	}

	fmt.Println("## Summary Statistics")
	fmt.Println()
	fmt.Println("| Metric | Count |")
	fmt.Println("|--------|-------|")
	fmt.Printf("| Sections | %d |\n", len(sections))
	fmt.Printf("| Documented Settings | %d |\n", totalSettings)
	fmt.Printf("| Extraction Fields | %d |\n", len(cfg.Extract.Fields))
	fmt.Printf("| Evaluation Criteria | %d |\n", len(cfg.Evaluate.Criteria))
	fmt.Printf("| Trusted Publishers | %d |\n", len(cfg.Sources.TrustedPublishers))
	fmt.Printf("| Excluded Domains | %d |\n", len(cfg.Sources.ExcludedDomains))
	fmt.Println()

	// Table of contents
	fmt.Println("## Table of Contents")
	fmt.Println()
	for i, s := range sections {
		fmt.Printf("%d. [%s](#%s)\n", i+1, s.Name, strings.ToLower(s.Name))
	}
	fmt.Println()

	// Section tables
	for _, s := range sections {
		fmt.Println("---")
		fmt.Println()
		fmt.Printf("## %s\n", s.Name)
		fmt.Println()
		fmt.Println(s.Description)
		fmt.Println()
		fmt.Println("| Setting | Value | Constraints |")
		fmt.Println("|---------|-------|-------------|")
		for _, row := range s.Rows {
			fmt.Printf("| `%s` | %s | %s |\n", row.Setting, escapePipes(row.Value), escapePipes(row.Constraints))
		}
		fmt.Println()
	}

	// Full effective config for copy-paste
	fmt.Println("---")
	fmt.Println()
	fmt.Println("## Effective YAML")
	fmt.Println()
	fmt.Println("```yaml")
	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(encoded))
	fmt.Println("```")
}

// valueList renders a string slice for a table cell.
func valueList(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}

// valueText renders free text for a table cell.
func valueText(text string) string {
	if text == "" {
		return "(unset)"
	}
	return text
}

// valuePublishers renders the trusted publisher list.
func valuePublishers(publishers []rescfg.TrustedPublisher) string {
	if len(publishers) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(publishers))
	for _, p := range publishers {
		parts = append(parts, fmt.Sprintf("%s (%s)", p.Domain, p.Trust))
	}
	return strings.Join(parts, ", ")
}

// escapePipes keeps free text from breaking table cells.
func escapePipes(text string) string {
	return strings.ReplaceAll(text, "|", "\\|")
}
