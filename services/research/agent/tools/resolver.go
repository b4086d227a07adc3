// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/AleutianAI/AleutianResearch/services/research/config"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// internalTarget is the source-target name served by the Weaviate tool.
const internalTarget = "internal"

// =============================================================================
// Resolver
// =============================================================================

// ResolveOptions carries the backends available to ResolveForConfig.
type ResolveOptions struct {
	// SearchEndpoint is the SearXNG-style search URL used for every web
	// target. Required when the config names any target other than
	// "internal".
	SearchEndpoint string

	// HTTPClient is shared by all HTTP search tools. Defaults to
	// http.DefaultClient.
	HTTPClient HTTPClient

	// Weaviate serves the "internal" target. When nil, internal targets
	// are skipped with a warning.
	Weaviate *weaviate.Client

	// WeaviateClass is the document class queried for internal targets.
	// Defaults to "ResearchDocument".
	WeaviateClass string

	// Fields overrides the properties read from the Weaviate class.
	Fields FieldMap

	// Logger is handed to every tool. Defaults to logging.Default().
	Logger *logging.Logger
}

// ResolveForConfig builds the tool set a config's source targets ask for.
//
// Description:
//
//	Each target in cfg.SourceTargets() becomes one tool named after the
//	target: "internal" maps to a WeaviateTool, everything else to an
//	HTTPSearchTool against opts.SearchEndpoint. When the config excludes
//	domains, every tool is wrapped with WithDomainFilter so results from
//	those domains never surface, regardless of caller.
//
// Inputs:
//
//	cfg - Validated research config. Must not be nil.
//	opts - Available backends.
//
// Outputs:
//
//	[]agent.Tool - One tool per resolvable target, in target order.
//	error - Non-nil if cfg is nil, a web target has no SearchEndpoint, or
//	        no target resolves to any tool.
func ResolveForConfig(cfg *config.Config, opts ResolveOptions) ([]agent.Tool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	targets := cfg.SourceTargets()
	resolved := make([]agent.Tool, 0, len(targets))

	for _, target := range targets {
		switch target {
		case internalTarget:
			if opts.Weaviate == nil {
				logger.Warn("skipping internal source target: no weaviate client configured")
				continue
			}
			class := opts.WeaviateClass
			if class == "" {
				class = "ResearchDocument"
			}
			tool, err := NewWeaviateTool(target, opts.Weaviate, class,
				WithFieldMap(opts.Fields),
				WithWeaviateLogger(logger),
			)
			if err != nil {
				return nil, fmt.Errorf("resolve target %q: %w", target, err)
			}
			resolved = append(resolved, tool)

		default:
			if opts.SearchEndpoint == "" {
				return nil, fmt.Errorf("resolve target %q: no search endpoint configured", target)
			}
			searchOpts := []HTTPSearchOption{WithSearchLogger(logger)}
			if opts.HTTPClient != nil {
				searchOpts = append(searchOpts, WithHTTPClient(opts.HTTPClient))
			}
			tool, err := NewHTTPSearchTool(target, opts.SearchEndpoint, searchOpts...)
			if err != nil {
				return nil, fmt.Errorf("resolve target %q: %w", target, err)
			}
			resolved = append(resolved, tool)
		}
	}

	if len(resolved) == 0 {
		return nil, fmt.Errorf("no source target resolved to a tool")
	}

	if len(cfg.Sources.ExcludedDomains) > 0 {
		for i, tool := range resolved {
			resolved[i] = WithDomainFilter(tool, cfg.IsExcludedDomain)
		}
	}
	return resolved, nil
}

// =============================================================================
// Domain Filter
// =============================================================================

// domainFilteredTool drops results whose domain the predicate rejects.
type domainFilteredTool struct {
	inner   agent.Tool
	exclude func(domain string) bool
}

// WithDomainFilter wraps a tool so excluded-domain results never surface.
//
// The search phase filters excluded domains itself; this decorator extends
// the same guarantee to direct tool callers (the API layer, ad-hoc scripts).
//
// Inputs:
//
//	tool - The tool to wrap. Must not be nil.
//	exclude - Predicate returning true for domains to drop. A nil
//	          predicate returns the tool unwrapped.
func WithDomainFilter(tool agent.Tool, exclude func(domain string) bool) agent.Tool {
	if tool == nil || exclude == nil {
		return tool
	}
	return &domainFilteredTool{inner: tool, exclude: exclude}
}

// Name identifies the wrapped tool; filtering does not rename it.
func (t *domainFilteredTool) Name() string {
	return t.inner.Name()
}

// Execute delegates to the wrapped tool and drops excluded-domain results.
func (t *domainFilteredTool) Execute(ctx context.Context, query, sourceTarget string, limit int) ([]agent.SearchResult, error) {
	results, err := t.inner.Execute(ctx, query, sourceTarget, limit)
	if err != nil {
		return nil, err
	}

	kept := results[:0]
	for _, r := range results {
		if t.exclude(r.Domain) {
			continue
		}
		kept = append(kept, r)
	}
	return kept, nil
}

// Compile-time interface compliance.
var _ agent.Tool = (*domainFilteredTool)(nil)
