// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/providers"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/store"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/tools"
	rescfg "github.com/AleutianAI/AleutianResearch/services/research/config"
)

// buildLogger builds the CLI logger. Logs go to stderr so reports stay
// clean on stdout; quiet keeps errors only.
func buildLogger(quiet bool) *logging.Logger {
	level := logging.LevelInfo
	if quiet {
		level = logging.LevelError
	}
	return logging.New(logging.Config{Level: level, Service: "research"})
}

// loadResearchConfig reads the config file or falls back to defaults.
func loadResearchConfig(path string) (*rescfg.Config, error) {
	if path == "" {
		return rescfg.Default(), nil
	}
	cfg, err := rescfg.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// buildProvider selects and wraps the LLM provider.
//
// The explicit name wins; otherwise OPENAI_API_KEY selects OpenAI and
// Ollama is the local fallback. Every provider is wrapped in the retrying
// decorator so transient backend failures do not kill a run mid-phase.
func buildProvider(name, model string, logger *logging.Logger) (agent.Provider, error) {
	if name == "" {
		if os.Getenv("OPENAI_API_KEY") != "" {
			name = "openai"
		} else {
			name = "ollama"
		}
	}

	var inner agent.Provider
	var err error
	switch name {
	case "openai":
		if model == "" {
			model = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
		}
		opts := []providers.OpenAIOption{providers.WithOpenAILogger(logger)}
		if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
			opts = append(opts, providers.WithBaseURL(base))
		}
		if window := getEnvInt("OPENAI_CONTEXT_WINDOW", 0); window > 0 {
			opts = append(opts, providers.WithContextWindow(window))
		}
		inner, err = providers.NewOpenAIProvider("", model, opts...)
	case "ollama":
		if model == "" {
			model = getEnvString("OLLAMA_MODEL", "qwen3:32b")
		}
		serverURL := getEnvString("OLLAMA_BASE_URL", "http://localhost:11434")
		inner, err = providers.NewOllamaProvider(serverURL, model,
			providers.WithLangChainLogger(logger))
	default:
		return nil, fmt.Errorf("unknown provider %q (want openai or ollama)", name)
	}
	if err != nil {
		return nil, err
	}

	retrying, err := providers.NewRetryingProvider(inner, providers.WithRetryLogger(logger))
	if err != nil {
		return nil, err
	}
	return providers.PreservingToolCalls(retrying), nil
}

// buildStore selects the checkpoint store: BadgerDB when a path is given,
// one JSON file per run otherwise.
func buildStore(checkpointDir, badgerPath string, logger *logging.Logger) (store.Store, error) {
	if badgerPath != "" {
		return store.NewBadgerStore(store.DefaultBadgerConfig(badgerPath))
	}
	if checkpointDir == "" {
		checkpointDir = defaultCheckpointDir()
	}
	return store.NewFileStore(checkpointDir, store.WithFileStoreLogger(logger))
}

// defaultCheckpointDir is ~/.aleutian/research/checkpoints, falling back to
// ./checkpoints when the home directory cannot be resolved.
func defaultCheckpointDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "checkpoints"
	}
	return filepath.Join(home, ".aleutian", "research", "checkpoints")
}

// buildToolOptions assembles tool resolution options from flags and env.
func buildToolOptions(searchEndpoint string, logger *logging.Logger) tools.ResolveOptions {
	if searchEndpoint == "" {
		searchEndpoint = os.Getenv("SEARCH_ENDPOINT")
	}
	return tools.ResolveOptions{
		SearchEndpoint: searchEndpoint,
		Weaviate:       weaviateFromEnv(logger),
		Logger:         logger,
	}
}

// weaviateFromEnv builds a Weaviate client when WEAVIATE_SERVICE_URL is
// set. Without one, "internal" source targets are skipped with a warning
// at tool resolution.
func weaviateFromEnv(logger *logging.Logger) *weaviate.Client {
	raw := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if raw == "" || !strings.Contains(raw, "http") {
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		logger.Warn("Invalid Weaviate URL, internal targets disabled", "url", raw)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		logger.Warn("Weaviate client init failed, internal targets disabled",
			"error", err.Error())
		return nil
	}
	return client
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
