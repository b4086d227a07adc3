// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the concrete search tools a research loop fans out
// to: an HTTP metasearch tool for web targets and a Weaviate nearText tool
// for internal document collections.
//
// Every tool implements agent.Tool. A tool's Name() is the source target it
// serves ("web", "internal", ...); the loop dispatches sub-queries to tools
// by exact name match. ResolveForConfig builds the tool set a config asks
// for and wraps it with domain filtering when the config excludes domains.
//
// Error contract: transient failures (network, rate limits, 5xx) come back
// wrapped in agent.ErrToolTransient so the search phase can drop the single
// query and keep the round alive. An empty result list is a successful
// zero-result query, never an error.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// defaultSearchTimeout bounds one HTTP search call when the caller's
	// context carries no earlier deadline.
	defaultSearchTimeout = 15 * time.Second

	// maxResponseBytes caps how much of a search response we read. A
	// metasearch page of results fits comfortably; anything larger is a
	// misbehaving endpoint.
	maxResponseBytes = 4 * 1024 * 1024

	// searchUserAgent identifies the research loop to search backends.
	searchUserAgent = "AleutianResearch/1.0"
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// HTTPSearchTool
// =============================================================================

// HTTPSearchTool queries a SearXNG-style JSON search endpoint.
//
// Description:
//
//	The tool issues GET {endpoint}?q=<query>&format=json and maps the
//	"results" array onto agent.SearchResult. The endpoint must be the full
//	search path (e.g. "http://searxng:8080/search"). Result domains are
//	derived from each result URL.
//
// Thread Safety:
//
//	Safe for concurrent use; the tool holds no per-call state.
type HTTPSearchTool struct {
	name     string
	endpoint string
	client   HTTPClient
	timeout  time.Duration
	logger   *logging.Logger
}

// HTTPSearchOption customizes an HTTPSearchTool.
type HTTPSearchOption func(*HTTPSearchTool)

// WithHTTPClient injects the HTTP client. Defaults to http.DefaultClient.
func WithHTTPClient(client HTTPClient) HTTPSearchOption {
	return func(t *HTTPSearchTool) {
		t.client = client
	}
}

// WithTimeout sets the per-call timeout applied when the caller's context
// has no deadline. Defaults to 15s.
func WithTimeout(d time.Duration) HTTPSearchOption {
	return func(t *HTTPSearchTool) {
		t.timeout = d
	}
}

// WithSearchLogger sets the structured logger. Defaults to logging.Default().
func WithSearchLogger(logger *logging.Logger) HTTPSearchOption {
	return func(t *HTTPSearchTool) {
		t.logger = logger
	}
}

// NewHTTPSearchTool creates a search tool for one source target.
//
// Inputs:
//
//	name - The source target this tool serves (e.g. "web"). Must be non-empty.
//	endpoint - Full search URL including path. Must parse as an absolute URL.
//	opts - Optional overrides.
//
// Outputs:
//
//	*HTTPSearchTool - The tool. Never nil on success.
//	error - Non-nil if name is empty or endpoint is not an absolute URL.
func NewHTTPSearchTool(name, endpoint string, opts ...HTTPSearchOption) (*HTTPSearchTool, error) {
	if name == "" {
		return nil, fmt.Errorf("search tool name must not be empty")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || !parsed.IsAbs() {
		return nil, fmt.Errorf("search endpoint %q is not an absolute URL", endpoint)
	}

	t := &HTTPSearchTool{
		name:     name,
		endpoint: endpoint,
		timeout:  defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = http.DefaultClient
	}
	if t.logger == nil {
		t.logger = logging.Default()
	}
	return t, nil
}

// Name identifies the tool for source-target dispatch.
func (t *HTTPSearchTool) Name() string {
	return t.name
}

// searxResponse is the subset of the SearXNG JSON format we consume.
type searxResponse struct {
	Results []searxResult `json:"results"`
}

type searxResult struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	PublishedDate string `json:"publishedDate"`
}

// Execute runs one query against the search endpoint.
//
// Description:
//
//	Builds the GET request, honors ctx for cancellation, and maps the JSON
//	body to results. Results beyond limit are truncated client-side; the
//	endpoint's own paging is not consulted.
//
// Inputs:
//
//	ctx - Context for cancellation/timeout. A default 15s timeout is
//	      applied when ctx carries no deadline.
//	query - The query text. Must be non-empty.
//	sourceTarget - Ignored; this tool serves exactly one target.
//	limit - Maximum results to return. Values < 1 default to 10.
//
// Outputs:
//
//	[]agent.SearchResult - Zero or more results.
//	error - agent.ErrToolTransient-wrapped on network errors, 429 and 5xx;
//	        plain error on malformed responses or other status codes.
func (t *HTTPSearchTool) Execute(ctx context.Context, query, sourceTarget string, limit int) ([]agent.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	if limit < 1 {
		limit = 10
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	reqURL := fmt.Sprintf("%s?q=%s&format=json", t.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", agent.ErrToolTransient, t.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: search %s returned status %s", agent.ErrToolTransient, t.name, resp.Status)
	default:
		return nil, fmt.Errorf("search %s returned status %s", t.name, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read search response: %v", agent.ErrToolTransient, err)
	}

	var parsed searxResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]agent.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, agent.SearchResult{
			URL:           r.URL,
			Title:         r.Title,
			Snippet:       r.Content,
			Domain:        domainOf(r.URL),
			PublishedDate: r.PublishedDate,
		})
		if len(results) >= limit {
			break
		}
	}

	t.logger.Debug("search complete",
		"tool", t.name,
		"query_chars", len(query),
		"results", len(results),
	)
	return results, nil
}

// domainOf extracts the host from a result URL, dropping any port and a
// leading "www.". Returns "" for unparseable URLs.
func domainOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := parsed.Hostname()
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// Compile-time interface compliance.
var _ agent.Tool = (*HTTPSearchTool)(nil)
