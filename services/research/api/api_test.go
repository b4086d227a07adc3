// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/tools"
	rescfg "github.com/AleutianAI/AleutianResearch/services/research/config"
)

// staticProvider satisfies agent.Provider for constructor tests; it is
// never invoked because these tests do not launch runs.
type staticProvider struct{}

func (staticProvider) Generate(ctx context.Context, messages []agent.Message, systemPrompt string, maxTokens int, temperature float64) (string, error) {
	return "", nil
}

func TestNewRequiresProvider(t *testing.T) {
	_, err := New(Config{}, nil, tools.ResolveOptions{}, nil)
	if !errors.Is(err, agent.ErrNilProvider) {
		t.Fatalf("error = %v, want ErrNilProvider", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := rescfg.Default()
	bad.Search.MaxIterations = 99

	_, err := New(Config{Research: bad}, staticProvider{}, tools.ResolveOptions{}, nil)
	if !errors.Is(err, agent.ErrConfigInvalid) {
		t.Fatalf("error = %v, want ErrConfigInvalid", err)
	}
}

func TestNewBuildsRouteTable(t *testing.T) {
	svc, err := New(Config{GinMode: "test"}, staticProvider{}, tools.ResolveOptions{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	router := svc.Router()
	if router == nil {
		t.Fatal("Router() = nil")
	}

	var found bool
	for _, r := range router.Routes() {
		if r.Method == http.MethodPost && r.Path == "/v1/research/run" {
			found = true
		}
	}
	if !found {
		t.Error("POST /v1/research/run not registered")
	}
}
