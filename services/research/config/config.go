// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides the declarative research configuration surface.
//
// A Config makes the research loop behave domain-appropriately without code
// changes: which sources to search, how to decompose the question, what to
// extract from each source, how to score findings, when to stop, and what
// the synthesized output should look like.
//
// Configs are loaded from YAML files or plain nested maps (checkpoints carry
// the latter), merged over Default(), and validated before a loop will accept
// them. Validate enumerates every problem it finds rather than stopping at
// the first.
//
// Thread Safety:
//
//	Config values are plain data. Treat a Config as immutable once it has
//	been handed to a loop; the loop never mutates it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxYAMLFileSize is the maximum allowed config file size (1MB).
	// Prevents memory issues from oversized files.
	MaxYAMLFileSize = 1024 * 1024

	// MaxExtractionFields is the maximum number of extraction fields.
	MaxExtractionFields = 50

	// MaxCriteria is the maximum number of evaluation criteria.
	MaxCriteria = 25
)

// Decomposition strategies for the plan phase.
const (
	DecompositionSimple            = "simple"
	DecompositionIssueSpotting     = "issue_spotting"
	DecompositionHypothesisDriven  = "hypothesis_driven"
	DecompositionChronological     = "chronological"
	DecompositionComparative       = "comparative"
	DecompositionMultiJurisdiction = "multi_jurisdictional"
)

// Evaluation modes.
const (
	EvaluateModeCorroborative = "corroborative"
	EvaluateModeHierarchical  = "hierarchical"
	EvaluateModeComparative   = "comparative"
)

// Output formats.
const (
	FormatReport  = "report"
	FormatMemo    = "memo"
	FormatBrief   = "brief"
	FormatSummary = "summary"
)

// Target lengths and their synthesis token ceilings.
const (
	TargetLengthBrief    = "brief"
	TargetLengthStandard = "standard"
	TargetLengthDetailed = "detailed"

	tokensBrief    = 1500
	tokensStandard = 4000
	tokensDetailed = 8000
)

// DefaultQualityRubric is the rubric used when neither quality_rubric nor
// criteria are configured.
const DefaultQualityRubric = `Score each finding on two axes:
- relevance (0.0-1.0): how directly the finding addresses the research question.
- quality (0.0-1.0): source authority, specificity, and internal consistency.
Prefer primary sources over commentary. Penalize vague or unattributed claims.`

// =============================================================================
// Shared Validator Instance
// =============================================================================

// cfgValidate is the validator instance for config structs.
var cfgValidate *validator.Validate

func init() {
	cfgValidate = validator.New()
}

// =============================================================================
// Config Sections
// =============================================================================

// TrustedPublisher marks a domain as a trusted source of a given tier.
type TrustedPublisher struct {
	// Domain is the publisher's domain, e.g. "courts.gov".
	Domain string `yaml:"domain" json:"domain" validate:"required"`

	// Trust is the tier: "primary" or "secondary".
	Trust string `yaml:"trust" json:"trust" validate:"oneof=primary secondary"`
}

// SourcesConfig shapes which tools are resolved and how results are filtered.
type SourcesConfig struct {
	// Primary lists the source targets searched every iteration
	// (tool names, e.g. "web", "internal").
	Primary []string `yaml:"primary" json:"primary"`

	// Supplementary lists source targets consulted when primary sources
	// come up short.
	Supplementary []string `yaml:"supplementary" json:"supplementary"`

	// TrustedPublishers biases scoring toward the listed domains.
	TrustedPublishers []TrustedPublisher `yaml:"trusted_publishers" json:"trusted_publishers" validate:"dive"`

	// ExcludedDomains drops results from the listed domains outright.
	ExcludedDomains []string `yaml:"excluded_domains" json:"excluded_domains"`
}

// BudgetConfig bounds the raw material a run may consume.
type BudgetConfig struct {
	// MaxSources caps distinct sources across the whole run.
	MaxSources int `yaml:"max_sources" json:"max_sources" validate:"min=1"`

	// MaxSearchRounds caps search fan-out rounds.
	MaxSearchRounds int `yaml:"max_search_rounds" json:"max_search_rounds" validate:"min=1"`
}

// SearchConfig controls question decomposition and the iteration budget.
type SearchConfig struct {
	// Decomposition selects the planning strategy.
	Decomposition string `yaml:"decomposition" json:"decomposition" validate:"oneof=simple issue_spotting hypothesis_driven chronological comparative multi_jurisdictional"`

	// ParallelBranches is the search fan-out width (1-10).
	ParallelBranches int `yaml:"parallel_branches" json:"parallel_branches" validate:"min=1,max=10"`

	// MaxIterations caps search->extract->evaluate->completeness passes (1-20).
	MaxIterations int `yaml:"max_iterations" json:"max_iterations" validate:"min=1,max=20"`

	// Budget bounds sources and rounds.
	Budget BudgetConfig `yaml:"budget" json:"budget"`

	// FollowCitations enables citation-chase queries.
	FollowCitations bool `yaml:"follow_citations" json:"follow_citations"`

	// CitationDepth bounds citation chasing (0-5).
	CitationDepth int `yaml:"citation_depth" json:"citation_depth" validate:"min=0,max=5"`
}

// ExtractionField declares one field the extract phase must pull from
// each source.
type ExtractionField struct {
	// Name is the extracted-field key. Must be non-empty.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Type is the value type: text, number, boolean, date, or enum.
	Type string `yaml:"type" json:"type" validate:"oneof=text number boolean date enum"`

	// Required marks fields the provider must populate for every finding.
	Required bool `yaml:"required" json:"required"`

	// Description tells the provider what the field means.
	Description string `yaml:"description" json:"description"`
}

// ExtractConfig declares the extraction schema.
type ExtractConfig struct {
	// Fields lists the fields to extract per finding.
	Fields []ExtractionField `yaml:"fields" json:"fields" validate:"max=50,dive"`

	// Relationships is the allowed set of relationship edge labels
	// between findings (e.g. "supports", "contradicts").
	Relationships []string `yaml:"relationships" json:"relationships"`
}

// Criterion is one weighted evaluation criterion.
type Criterion struct {
	// Name identifies the criterion.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Importance weights the criterion: critical, high, medium, or low.
	Importance string `yaml:"importance" json:"importance" validate:"oneof=critical high medium low"`

	// Guidance tells the evaluator how to apply the criterion.
	Guidance string `yaml:"guidance" json:"guidance"`
}

// EvaluateConfig controls finding scoring.
type EvaluateConfig struct {
	// Mode selects the evaluation posture: corroborative, hierarchical,
	// or comparative.
	Mode string `yaml:"mode" json:"mode" validate:"oneof=corroborative hierarchical comparative"`

	// QualityRubric, when non-empty, is used verbatim as the rubric.
	QualityRubric string `yaml:"quality_rubric" json:"quality_rubric"`

	// Criteria builds the rubric when QualityRubric is empty.
	Criteria []Criterion `yaml:"criteria" json:"criteria" validate:"max=25,dive"`
}

// CompletenessConfig controls when a run may stop.
type CompletenessConfig struct {
	// MinSources is the floor before the loop may declare completeness.
	MinSources int `yaml:"min_sources" json:"min_sources" validate:"min=0"`

	// MaxSources is the ceiling that forces completeness.
	MaxSources int `yaml:"max_sources" json:"max_sources" validate:"min=1"`

	// RequireContraryCheck asks the completeness check to confirm that
	// contrary evidence was sought.
	RequireContraryCheck bool `yaml:"require_contrary_check" json:"require_contrary_check"`

	// RequireSourceDiversity asks the completeness check to confirm that
	// findings span multiple domains.
	RequireSourceDiversity bool `yaml:"require_source_diversity" json:"require_source_diversity"`

	// DoneWhen is a free-text stop condition passed into the
	// completeness prompt.
	DoneWhen string `yaml:"done_when" json:"done_when"`
}

// OutputConfig controls the synthesized document.
type OutputConfig struct {
	// Format is the document genre: report, memo, brief, or summary.
	Format string `yaml:"format" json:"format" validate:"oneof=report memo brief summary"`

	// Sections lists the section headings, in order. Empty means
	// format-appropriate defaults.
	Sections []string `yaml:"sections" json:"sections"`

	// CitationStyle selects citation rendering.
	CitationStyle string `yaml:"citation_style" json:"citation_style" validate:"oneof=bluebook apa mla chicago inline"`

	// TargetLength selects the synthesis token ceiling: brief, standard,
	// or detailed.
	TargetLength string `yaml:"target_length" json:"target_length" validate:"oneof=brief standard detailed"`
}

// Config is the root research configuration.
//
// Construct with Default(), FromDict(), FromYAML(), or LoadFile(); always
// call Validate() before handing a Config to a loop.
type Config struct {
	Sources      SourcesConfig      `yaml:"sources" json:"sources"`
	Search       SearchConfig       `yaml:"search" json:"search"`
	Extract      ExtractConfig      `yaml:"extract" json:"extract"`
	Evaluate     EvaluateConfig     `yaml:"evaluate" json:"evaluate"`
	Completeness CompletenessConfig `yaml:"completeness" json:"completeness"`
	Output       OutputConfig       `yaml:"output" json:"output"`
}

// =============================================================================
// Construction
// =============================================================================

// Default returns a Config with documented defaults.
//
// The defaults describe a modest general-purpose run: simple decomposition,
// three parallel branches, three iterations, a 25-source budget, a single
// "claim" extraction field, corroborative evaluation, and a standard-length
// report. The default Config always passes Validate().
func Default() *Config {
	return &Config{
		Sources: SourcesConfig{
			Primary:           []string{"web"},
			Supplementary:     []string{},
			TrustedPublishers: []TrustedPublisher{},
			ExcludedDomains:   []string{},
		},
		Search: SearchConfig{
			Decomposition:    DecompositionSimple,
			ParallelBranches: 3,
			MaxIterations:    3,
			Budget: BudgetConfig{
				MaxSources:      25,
				MaxSearchRounds: 5,
			},
			FollowCitations: false,
			CitationDepth:   1,
		},
		Extract: ExtractConfig{
			Fields: []ExtractionField{
				{
					Name:        "claim",
					Type:        "text",
					Required:    true,
					Description: "The core claim or fact stated by the source",
				},
			},
			Relationships: []string{},
		},
		Evaluate: EvaluateConfig{
			Mode:          EvaluateModeCorroborative,
			QualityRubric: "",
			Criteria:      []Criterion{},
		},
		Completeness: CompletenessConfig{
			MinSources:             3,
			MaxSources:             20,
			RequireContraryCheck:   false,
			RequireSourceDiversity: false,
			DoneWhen:               "",
		},
		Output: OutputConfig{
			Format:        FormatReport,
			Sections:      []string{},
			CitationStyle: "inline",
			TargetLength:  TargetLengthStandard,
		},
	}
}

// FromDict builds a Config by merging a plain nested map over Default().
//
// Description:
//
//	Missing keys keep their default values; present keys override them.
//	Nested sections merge field-wise; list values replace wholesale.
//	Unknown keys are ignored. This is the loader used for config maps
//	carried inside checkpoints.
//
// Inputs:
//
//	dict - Nested map in the checkpoint wire shape. May be nil or empty.
//
// Outputs:
//
//	*Config - The merged config. Never nil on success.
//	error - Non-nil if the map cannot be interpreted (wrong value types).
//
// Example:
//
//	cfg, err := config.FromDict(map[string]any{
//	    "search": map[string]any{"max_iterations": 5},
//	})
//	// cfg.Search.MaxIterations == 5, everything else default
func FromDict(dict map[string]any) (*Config, error) {
	cfg := Default()
	if len(dict) == 0 {
		return cfg, nil
	}

	data, err := json.Marshal(dict)
	if err != nil {
		return nil, fmt.Errorf("encode config dict: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config dict: %w", err)
	}
	return cfg, nil
}

// FromYAML builds a Config by merging YAML over Default().
//
// Missing keys keep defaults, same as FromDict.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}

// LoadFile loads a Config from a YAML file.
//
// Enforces MaxYAMLFileSize before parsing.
func LoadFile(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxYAMLFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return FromYAML(data)
}

// ToDict renders the Config as a plain nested map.
//
// The result is JSON-compatible and is the shape stored inside checkpoints.
// FromDict(c.ToDict()) reproduces c field-wise.
func (c *Config) ToDict() map[string]any {
	data, err := json.Marshal(c)
	if err != nil {
		// Config contains only plain data types; marshal cannot fail.
		return map[string]any{}
	}
	var dict map[string]any
	if err := json.Unmarshal(data, &dict); err != nil {
		return map[string]any{}
	}
	return dict
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the Config and enumerates every problem found.
//
// Description:
//
//	Runs struct-tag validation (enum membership, numeric ranges, required
//	fields) plus the cross-section checks that tags cannot express:
//	completeness.min_sources <= completeness.max_sources and
//	search.budget.max_sources >= completeness.min_sources.
//
// Outputs:
//
//	error - Nil when the config is valid. Otherwise a joined error
//	        containing one entry per violation.
//
// Example:
//
//	if err := cfg.Validate(); err != nil {
//	    return fmt.Errorf("%w: %v", agent.ErrConfigInvalid, err)
//	}
func (c *Config) Validate() error {
	var errs []error

	if err := cfgValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q constraint (value %v)",
					fieldPath(fe), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	// Cross-section checks the tags cannot express.
	if c.Completeness.MinSources > c.Completeness.MaxSources {
		errs = append(errs, fmt.Errorf(
			"completeness.min_sources (%d) exceeds completeness.max_sources (%d)",
			c.Completeness.MinSources, c.Completeness.MaxSources))
	}
	if c.Search.Budget.MaxSources < c.Completeness.MinSources {
		errs = append(errs, fmt.Errorf(
			"search.budget.max_sources (%d) is below completeness.min_sources (%d)",
			c.Search.Budget.MaxSources, c.Completeness.MinSources))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// fieldPath renders a validator namespace like "Config.Search.MaxIterations"
// as the config-file path "search.max_iterations".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return toSnakePath(ns)
}

// toSnakePath converts "Search.MaxIterations" to "search.max_iterations",
// preserving slice indices like "[2]".
func toSnakePath(path string) string {
	var b strings.Builder
	for i, r := range path {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && path[i-1] != '.' && path[i-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// =============================================================================
// Derived Values
// =============================================================================

// EffectiveRubric resolves the rubric the evaluate and synthesize phases use.
//
// Resolution order: the literal quality_rubric when non-empty; otherwise a
// rubric built from criteria when any are configured; otherwise
// DefaultQualityRubric.
func (c *Config) EffectiveRubric() string {
	if strings.TrimSpace(c.Evaluate.QualityRubric) != "" {
		return c.Evaluate.QualityRubric
	}
	if len(c.Evaluate.Criteria) > 0 {
		var b strings.Builder
		b.WriteString("Evaluate each finding against these criteria:\n")
		for _, cr := range c.Evaluate.Criteria {
			b.WriteString("- ")
			b.WriteString(cr.Name)
			b.WriteString(" (")
			b.WriteString(cr.Importance)
			b.WriteString(")")
			if cr.Guidance != "" {
				b.WriteString(": ")
				b.WriteString(cr.Guidance)
			}
			b.WriteString("\n")
		}
		b.WriteString("Score relevance and quality in [0.0, 1.0].")
		return b.String()
	}
	return DefaultQualityRubric
}

// TargetLengthTokens maps output.target_length to the synthesis token ceiling.
//
// Unknown values map to the standard ceiling.
func (c *Config) TargetLengthTokens() int {
	switch c.Output.TargetLength {
	case TargetLengthBrief:
		return tokensBrief
	case TargetLengthDetailed:
		return tokensDetailed
	case TargetLengthStandard:
		return tokensStandard
	default:
		return tokensStandard
	}
}

// EffectiveSections resolves the section list for synthesis.
//
// Configured sections win; otherwise each format carries a conventional
// default outline.
func (c *Config) EffectiveSections() []string {
	if len(c.Output.Sections) > 0 {
		return c.Output.Sections
	}
	switch c.Output.Format {
	case FormatMemo:
		return []string{"Question Presented", "Short Answer", "Analysis", "Conclusion"}
	case FormatBrief:
		return []string{"Introduction", "Argument", "Conclusion"}
	case FormatSummary:
		return []string{"Summary", "Key Findings"}
	default:
		return []string{"Executive Summary", "Findings", "Analysis", "Conclusion", "Sources"}
	}
}

// SourceTargets returns the ordered, deduplicated union of primary and
// supplementary source targets. Tool resolution follows this order.
func (c *Config) SourceTargets() []string {
	seen := make(map[string]bool, len(c.Sources.Primary)+len(c.Sources.Supplementary))
	targets := make([]string, 0, len(c.Sources.Primary)+len(c.Sources.Supplementary))
	for _, t := range c.Sources.Primary {
		if t != "" && !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	for _, t := range c.Sources.Supplementary {
		if t != "" && !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	return targets
}

// IsExcludedDomain reports whether a result domain is excluded by config.
//
// Matching is case-insensitive and includes subdomains: excluding
// "example.com" also excludes "docs.example.com".
func (c *Config) IsExcludedDomain(domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	if d == "" {
		return false
	}
	for _, ex := range c.Sources.ExcludedDomains {
		e := strings.ToLower(strings.TrimSpace(ex))
		if e == "" {
			continue
		}
		if d == e || strings.HasSuffix(d, "."+e) {
			return true
		}
	}
	return false
}

// PublisherTrust returns the configured trust tier for a domain
// ("primary", "secondary"), or "" when the domain is not listed.
func (c *Config) PublisherTrust(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	for _, p := range c.Sources.TrustedPublishers {
		e := strings.ToLower(strings.TrimSpace(p.Domain))
		if e == "" {
			continue
		}
		if d == e || strings.HasSuffix(d, "."+e) {
			return p.Trust
		}
	}
	return ""
}
