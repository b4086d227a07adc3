// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers implements the agent.Provider interface over real LLM
// backends: an OpenAI-compatible client (OpenAI itself, vLLM, llama.cpp
// servers) and a langchaingo-backed client for local Ollama models.
//
// Providers classify their failures so the loop and the outer task boundary
// can tell transient conditions (connect failures, timeouts, 429s, 5xx)
// from permanent ones. Transient failures are wrapped in
// agent.ErrProviderTransient; empty completions are wrapped in
// agent.ErrProviderParseEmpty.
//
// Construction happens in the composition root; the loop receives providers
// by value and never builds its own.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

// transientProbe reports whether err smells like a transport-level failure
// worth retrying: connection errors, DNS failures, timeouts. String matching
// covers backends whose client libraries flatten errors to text.
func transientProbe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	networkIndicators := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"dial tcp",
	}
	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// wrapTransient tags err as transient under the given backend name.
func wrapTransient(backend string, err error) error {
	return fmt.Errorf("%w: %s: %v", agent.ErrProviderTransient, backend, err)
}

// wrapEmpty tags an empty completion under the given backend name.
func wrapEmpty(backend string) error {
	return fmt.Errorf("%w: %s returned no choices", agent.ErrProviderParseEmpty, backend)
}
