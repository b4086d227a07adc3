// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	openaiSecretPath   = "/run/secrets/openai_api_key"
)

// OpenAIProvider talks to the OpenAI chat completions API, or to any
// OpenAI-compatible server (vLLM, llama.cpp) via a custom base URL.
type OpenAIProvider struct {
	client        *openai.Client
	model         string
	contextWindow int
	logger        *logging.Logger
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openaiSettings)

type openaiSettings struct {
	baseURL       string
	contextWindow int
	logger        *logging.Logger
	httpClient    openai.HTTPDoer
}

// WithBaseURL points the client at an OpenAI-compatible server instead of
// api.openai.com.
func WithBaseURL(url string) OpenAIOption {
	return func(s *openaiSettings) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithContextWindow declares the model's context window in tokens so the
// loop can track its budget. Zero disables budget tracking.
func WithContextWindow(tokens int) OpenAIOption {
	return func(s *openaiSettings) {
		if tokens > 0 {
			s.contextWindow = tokens
		}
	}
}

// WithOpenAILogger sets the provider's logger.
func WithOpenAILogger(logger *logging.Logger) OpenAIOption {
	return func(s *openaiSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHTTPDoer replaces the underlying HTTP client. Tests use this to stub
// the API without a network.
func WithHTTPDoer(doer openai.HTTPDoer) OpenAIOption {
	return func(s *openaiSettings) {
		if doer != nil {
			s.httpClient = doer
		}
	}
}

// NewOpenAIProvider builds a provider for the given model.
//
// Description:
//
//	Resolves the API key from OPENAI_API_KEY, falling back to the Podman
//	secret at /run/secrets/openai_api_key. An empty model defaults to
//	gpt-4o-mini with a warning, matching the rest of the platform.
//
// Inputs:
//   - apiKey: explicit key; empty triggers the env/secret lookup.
//   - model: chat model name.
//   - opts: optional base URL, context window, logger.
//
// Outputs:
//   - *OpenAIProvider: ready to use.
//   - error: when no API key can be resolved.
func NewOpenAIProvider(apiKey, model string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	settings := &openaiSettings{logger: logging.Default()}
	for _, opt := range opts {
		opt(settings)
	}
	log := settings.logger

	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		keyBytes, err := os.ReadFile(openaiSecretPath)
		if err != nil {
			log.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", openaiSecretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(keyBytes))
		log.Info("Read the OpenAI API Key from Podman Secrets")
	}
	if model == "" {
		model = defaultOpenAIModel
		log.Warn("OpenAI model not set, defaulting to "+defaultOpenAIModel, "model", model)
	}

	cfg := openai.DefaultConfig(apiKey)
	if settings.baseURL != "" {
		cfg.BaseURL = settings.baseURL
	}
	if settings.httpClient != nil {
		cfg.HTTPClient = settings.httpClient
	}

	log.Info("Initializing OpenAI provider", "model", model, "base_url", cfg.BaseURL)
	return &OpenAIProvider{
		client:        openai.NewClientWithConfig(cfg),
		model:         model,
		contextWindow: settings.contextWindow,
		logger:        log,
	}, nil
}

// Generate implements agent.Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []agent.Message, systemPrompt string, maxTokens int, temperature float64) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)+1),
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openaiRole(m.Role),
			Content: m.Content,
		})
	}
	if maxTokens > 0 {
		req.MaxCompletionTokens = maxTokens
	}
	if temperature > 0 {
		req.Temperature = float32(temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", p.classify(err)
	}
	if len(resp.Choices) == 0 {
		p.logger.Warn("OpenAI returned no choices or empty content", "model", p.model)
		return "", wrapEmpty("openai")
	}
	p.logger.Debug("Received response from OpenAI",
		"model", p.model,
		"finish_reason", string(resp.Choices[0].FinishReason),
	)
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools implements agent.ToolCapable via OpenAI function
// calling.
//
// Description:
//
//	Each ToolSchema becomes a function definition. When exactly one tool
//	is offered the model is forced to call it, so structured extraction
//	cannot silently degrade to prose. The first tool call's arguments are
//	decoded into a plain map.
//
// Outputs:
//   - map[string]any: The decoded tool-call arguments.
//   - error: Classified like Generate; ErrProviderParseEmpty-wrapped when
//     the model answers without calling a tool.
func (p *OpenAIProvider) GenerateWithTools(ctx context.Context, messages []agent.Message, tools []agent.ToolSchema, systemPrompt string) (map[string]any, error) {
	if len(tools) == 0 {
		return nil, fmt.Errorf("openai: no tools supplied")
	}

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)+1),
		Tools:    make([]openai.Tool, 0, len(tools)),
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openaiRole(m.Role),
			Content: m.Content,
		})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	if len(tools) == 1 {
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: tools[0].Name},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		p.logger.Warn("OpenAI answered without a tool call", "model", p.model)
		return nil, wrapEmpty("openai")
	}

	call := resp.Choices[0].Message.ToolCalls[0]
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return nil, fmt.Errorf("openai: decode tool arguments for %s: %w", call.Function.Name, err)
	}
	p.logger.Debug("Received tool call from OpenAI",
		"model", p.model,
		"tool", call.Function.Name,
	)
	return args, nil
}

// Model implements agent.ModelAware.
func (p *OpenAIProvider) Model() string { return p.model }

// ContextWindowTokens implements agent.ContextWindowAware. Zero means the
// window was not declared.
func (p *OpenAIProvider) ContextWindowTokens() int { return p.contextWindow }

// classify maps API failures to the agent's error kinds. Rate limits and
// server-side errors are transient; everything else is permanent.
func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			p.logger.Warn("OpenAI API call failed transiently",
				"status", apiErr.HTTPStatusCode,
				"error", apiErr.Message,
			)
			return wrapTransient("openai", err)
		}
		p.logger.Error("OpenAI API call failed", "status", apiErr.HTTPStatusCode, "error", apiErr.Message)
		return fmt.Errorf("openai: %w", err)
	}
	if transientProbe(err) {
		p.logger.Warn("OpenAI API call failed transiently", "error", err)
		return wrapTransient("openai", err)
	}
	p.logger.Error("OpenAI API call failed", "error", err)
	return fmt.Errorf("openai: %w", err)
}

func openaiRole(role string) string {
	switch role {
	case "system":
		return openai.ChatMessageRoleSystem
	case "assistant":
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// Compile-time interface compliance.
var (
	_ agent.Provider           = (*OpenAIProvider)(nil)
	_ agent.ToolCapable        = (*OpenAIProvider)(nil)
	_ agent.ModelAware         = (*OpenAIProvider)(nil)
	_ agent.ContextWindowAware = (*OpenAIProvider)(nil)
)
