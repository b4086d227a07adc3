// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command research runs iterative research sessions from the terminal and
// serves them over HTTP.
//
// # Environment Variables
//
//   - OPENAI_API_KEY: selects the OpenAI provider when set
//   - OPENAI_MODEL: OpenAI chat model (default: gpt-4o-mini)
//   - OPENAI_BASE_URL: OpenAI-compatible server (vLLM, llama.cpp) instead of api.openai.com
//   - OPENAI_CONTEXT_WINDOW: context window in tokens for budget tracking
//   - OLLAMA_BASE_URL: Ollama server URL (default: http://localhost:11434)
//   - OLLAMA_MODEL: Ollama model (default: qwen3:32b)
//   - SEARCH_ENDPOINT: SearXNG-style search URL for web targets
//   - WEAVIATE_SERVICE_URL: Weaviate URL enabling "internal" source targets
//   - RESEARCH_PORT: HTTP server port for serve (default: 8080)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector for serve
//   - INFLUXDB_URL, INFLUXDB_TOKEN: enable event export from serve
//
// # Usage
//
//	# Build
//	go build -o research ./cmd/research
//
//	# Run a question to a finished report
//	./research run "What changed in EU AI regulation during 2024?"
//
//	# Resume an interrupted run
//	./research resume 0d9a1b2c-...
//
//	# Serve the HTTP API
//	./research serve --port 8080
package main

import (
	"log"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
