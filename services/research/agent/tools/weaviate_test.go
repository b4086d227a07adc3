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
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

func newTestWeaviateClient(t *testing.T) *weaviate.Client {
	t.Helper()
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   "localhost:8080",
		Scheme: "http",
	})
	if err != nil {
		t.Fatalf("weaviate.NewClient() error = %v", err)
	}
	return client
}

func TestFieldMap_Defaults(t *testing.T) {
	got := FieldMap{}.defaults()
	want := FieldMap{
		URL:           "url",
		Title:         "title",
		Snippet:       "snippet",
		Domain:        "domain",
		PublishedDate: "publishedDate",
	}
	if got != want {
		t.Errorf("defaults() = %+v, want %+v", got, want)
	}

	// Partial overrides keep the rest defaulted.
	got = FieldMap{Snippet: "content"}.defaults()
	if got.Snippet != "content" || got.URL != "url" {
		t.Errorf("partial defaults() = %+v", got)
	}
}

func TestNewWeaviateTool_Validation(t *testing.T) {
	client := newTestWeaviateClient(t)

	if _, err := NewWeaviateTool("", client, "ResearchDocument"); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := NewWeaviateTool("internal", nil, "ResearchDocument"); err == nil {
		t.Error("nil client accepted")
	}
	if _, err := NewWeaviateTool("internal", client, ""); err == nil {
		t.Error("empty class accepted")
	}

	tool, err := NewWeaviateTool("internal", client, "ResearchDocument")
	if err != nil {
		t.Fatalf("NewWeaviateTool() error = %v", err)
	}
	if tool.Name() != "internal" {
		t.Errorf("Name() = %q", tool.Name())
	}
	if tool.fields.Snippet != "snippet" {
		t.Errorf("fields not defaulted: %+v", tool.fields)
	}
}

// TestWeaviateTool_ExecuteParsesGraphQLResponse drives Execute against a
// stubbed GraphQL endpoint so the full response path is covered, typed
// response payload included.
func TestWeaviateTool_ExecuteParsesGraphQLResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"Get":{"ResearchDocument":[`+
			`{"url":"https://intranet.example/doc1","title":"Design note",`+
			`"snippet":"the relevant passage","domain":"intranet.example",`+
			`"publishedDate":"2025-01-15",`+
			`"_additional":{"certainty":0.91,"distance":0.09}}]}}}`)
	}))
	defer srv.Close()

	parsed, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: "http"})
	if err != nil {
		t.Fatalf("weaviate.NewClient() error = %v", err)
	}
	tool, err := NewWeaviateTool("internal", client, "ResearchDocument")
	if err != nil {
		t.Fatalf("NewWeaviateTool() error = %v", err)
	}

	results, err := tool.Execute(context.Background(), "design notes", "internal", 5)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].URL != "https://intranet.example/doc1" || results[0].Domain != "intranet.example" {
		t.Errorf("result = %+v", results[0])
	}
}

func TestWeaviateTool_ExecuteRejectsEmptyQuery(t *testing.T) {
	tool, err := NewWeaviateTool("internal", newTestWeaviateClient(t), "ResearchDocument")
	if err != nil {
		t.Fatalf("NewWeaviateTool() error = %v", err)
	}
	if _, err := tool.Execute(context.Background(), "   ", "internal", 5); err == nil {
		t.Error("blank query accepted")
	}
}

func TestWeaviateTool_ParseResults(t *testing.T) {
	client := newTestWeaviateClient(t)
	tool, err := NewWeaviateTool("internal", client, "ResearchDocument")
	if err != nil {
		t.Fatalf("NewWeaviateTool() error = %v", err)
	}

	data := map[string]interface{}{
		"Get": map[string]interface{}{
			"ResearchDocument": []interface{}{
				map[string]interface{}{
					"url":           "https://intranet.example/doc1",
					"title":         "Design note",
					"snippet":       "the relevant passage",
					"domain":        "intranet.example",
					"publishedDate": "2025-01-15",
					"_additional":   map[string]interface{}{"certainty": 0.91},
				},
				map[string]interface{}{
					// Domain falls back to the URL host.
					"url":     "https://wiki.example/doc2",
					"title":   "Wiki page",
					"snippet": "another passage",
				},
				map[string]interface{}{
					// No URL: dropped.
					"title": "orphan",
				},
			},
		},
	}

	results, err := tool.parseResults(data, 10)
	if err != nil {
		t.Fatalf("parseResults() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Snippet != "the relevant passage" {
		t.Errorf("Snippet = %q", results[0].Snippet)
	}
	if results[0].Domain != "intranet.example" {
		t.Errorf("Domain = %q", results[0].Domain)
	}
	if results[1].Domain != "wiki.example" {
		t.Errorf("fallback Domain = %q, want wiki.example", results[1].Domain)
	}
}

func TestWeaviateTool_ParseResults_EmptyClass(t *testing.T) {
	client := newTestWeaviateClient(t)
	tool, _ := NewWeaviateTool("internal", client, "ResearchDocument")

	results, err := tool.parseResults(map[string]interface{}{
		"Get": map[string]interface{}{},
	}, 10)
	if err != nil {
		t.Fatalf("parseResults() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestWeaviateTool_ParseResults_MissingGet(t *testing.T) {
	client := newTestWeaviateClient(t)
	tool, _ := NewWeaviateTool("internal", client, "ResearchDocument")

	if _, err := tool.parseResults(map[string]interface{}{}, 10); err == nil {
		t.Error("missing Get accepted")
	}
}

func TestWeaviateTool_ParseResults_RespectsLimit(t *testing.T) {
	client := newTestWeaviateClient(t)
	tool, _ := NewWeaviateTool("internal", client, "ResearchDocument")

	objects := make([]interface{}, 5)
	for i := range objects {
		objects[i] = map[string]interface{}{
			"url":     "https://intranet.example/doc",
			"snippet": "s",
		}
	}
	results, err := tool.parseResults(map[string]interface{}{
		"Get": map[string]interface{}{"ResearchDocument": objects},
	}, 3)
	if err != nil {
		t.Fatalf("parseResults() error = %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
}
