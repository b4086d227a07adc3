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
	"strings"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// =============================================================================
// WeaviateTool
// =============================================================================

// FieldMap names the Weaviate class properties a WeaviateTool reads.
//
// Zero-value entries fall back to the defaults below. The class schema must
// expose at least the URL and Snippet properties; Title, Domain and
// PublishedDate degrade to empty strings when absent.
type FieldMap struct {
	URL           string // default "url"
	Title         string // default "title"
	Snippet       string // default "snippet"
	Domain        string // default "domain"
	PublishedDate string // default "publishedDate"
}

// defaults fills empty entries with the default property names.
func (f FieldMap) defaults() FieldMap {
	if f.URL == "" {
		f.URL = "url"
	}
	if f.Title == "" {
		f.Title = "title"
	}
	if f.Snippet == "" {
		f.Snippet = "snippet"
	}
	if f.Domain == "" {
		f.Domain = "domain"
	}
	if f.PublishedDate == "" {
		f.PublishedDate = "publishedDate"
	}
	return f
}

// WeaviateTool searches an internal document collection via nearText.
//
// Description:
//
//	The tool runs a GraphQL Get query with a nearText argument against one
//	Weaviate class and maps the configured properties onto
//	agent.SearchResult. Certainty from _additional is logged but not
//	exposed; relevance scoring is the evaluate phase's job.
//
// Thread Safety:
//
//	Safe for concurrent use. The Weaviate client manages its own
//	connection pool.
type WeaviateTool struct {
	name   string
	client *weaviate.Client
	class  string
	fields FieldMap
	logger *logging.Logger
}

// WeaviateOption customizes a WeaviateTool.
type WeaviateOption func(*WeaviateTool)

// WithFieldMap overrides the property names read from the class.
func WithFieldMap(fields FieldMap) WeaviateOption {
	return func(t *WeaviateTool) {
		t.fields = fields
	}
}

// WithWeaviateLogger sets the structured logger. Defaults to logging.Default().
func WithWeaviateLogger(logger *logging.Logger) WeaviateOption {
	return func(t *WeaviateTool) {
		t.logger = logger
	}
}

// NewWeaviateTool creates an internal-documents search tool.
//
// Inputs:
//
//	name - The source target this tool serves (e.g. "internal").
//	client - Connected Weaviate client. Must not be nil.
//	class - The Weaviate class to query. Must be non-empty.
//	opts - Optional overrides.
//
// Outputs:
//
//	*WeaviateTool - The tool. Never nil on success.
//	error - Non-nil on empty name/class or nil client.
func NewWeaviateTool(name string, client *weaviate.Client, class string, opts ...WeaviateOption) (*WeaviateTool, error) {
	if name == "" {
		return nil, fmt.Errorf("weaviate tool name must not be empty")
	}
	if client == nil {
		return nil, fmt.Errorf("weaviate client must not be nil")
	}
	if class == "" {
		return nil, fmt.Errorf("weaviate class must not be empty")
	}

	t := &WeaviateTool{
		name:   name,
		client: client,
		class:  class,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.fields = t.fields.defaults()
	if t.logger == nil {
		t.logger = logging.Default()
	}
	return t, nil
}

// Name identifies the tool for source-target dispatch.
func (t *WeaviateTool) Name() string {
	return t.name
}

// Execute runs one nearText query against the configured class.
//
// Inputs:
//
//	ctx - Context for cancellation/timeout.
//	query - The query text used as the nearText concept.
//	sourceTarget - Ignored; this tool serves exactly one target.
//	limit - Maximum results to return. Values < 1 default to 10.
//
// Outputs:
//
//	[]agent.SearchResult - Zero or more results.
//	error - agent.ErrToolTransient-wrapped on query failure; GraphQL-level
//	        errors are reported verbatim.
func (t *WeaviateTool) Execute(ctx context.Context, query, sourceTarget string, limit int) ([]agent.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	if limit < 1 {
		limit = 10
	}

	nearText := t.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: t.fields.URL},
		{Name: t.fields.Title},
		{Name: t.fields.Snippet},
		{Name: t.fields.Domain},
		{Name: t.fields.PublishedDate},
		{Name: "_additional { certainty distance }"},
	}

	result, err := t.client.GraphQL().Get().
		WithClassName(t.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: weaviate query %s: %v", agent.ErrToolTransient, t.class, err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("weaviate graphql errors: %s", strings.Join(msgs, "; "))
	}

	// result.Data is map[string]models.JSONObject; flatten to plain
	// interface{} values for the walk below.
	data := make(map[string]interface{}, len(result.Data))
	for k, v := range result.Data {
		data[k] = v
	}
	return t.parseResults(data, limit)
}

// parseResults walks the GraphQL response shape Get -> {class} -> [objects].
func (t *WeaviateTool) parseResults(data map[string]interface{}, limit int) ([]agent.SearchResult, error) {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected weaviate response: missing Get")
	}

	objects, ok := get[t.class].([]interface{})
	if !ok || len(objects) == 0 {
		return []agent.SearchResult{}, nil
	}

	results := make([]agent.SearchResult, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}

		resultURL := getString(obj, t.fields.URL)
		if resultURL == "" {
			continue
		}

		domain := getString(obj, t.fields.Domain)
		if domain == "" {
			domain = domainOf(resultURL)
		}

		results = append(results, agent.SearchResult{
			URL:           resultURL,
			Title:         getString(obj, t.fields.Title),
			Snippet:       getString(obj, t.fields.Snippet),
			Domain:        domain,
			PublishedDate: getString(obj, t.fields.PublishedDate),
		})

		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			t.logger.Debug("weaviate hit",
				"class", t.class,
				"url", resultURL,
				"certainty", getFloat64(additional, "certainty"),
			)
		}

		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// getString safely extracts a string value from a result object.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getFloat64 safely extracts a float value from a result object.
func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

// Compile-time interface compliance.
var _ agent.Tool = (*WeaviateTool)(nil)
