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
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

// LangChainProvider adapts any langchaingo llms.Model to the agent.Provider
// interface. It is how local Ollama models plug into the research loop.
type LangChainProvider struct {
	model         llms.Model
	modelName     string
	contextWindow int
	logger        *logging.Logger
}

// LangChainOption configures a LangChainProvider.
type LangChainOption func(*LangChainProvider)

// WithLangChainContextWindow declares the model's context window in tokens.
func WithLangChainContextWindow(tokens int) LangChainOption {
	return func(p *LangChainProvider) {
		if tokens > 0 {
			p.contextWindow = tokens
		}
	}
}

// WithLangChainLogger sets the provider's logger.
func WithLangChainLogger(logger *logging.Logger) LangChainOption {
	return func(p *LangChainProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewLangChainProvider wraps an already-constructed llms.Model.
//
// Inputs:
//   - model: any langchaingo backend (ollama, openai, anthropic, ...).
//   - modelName: reported through agent.ModelAware for cost tracking;
//     empty disables cost tracking.
//   - opts: optional context window and logger.
func NewLangChainProvider(model llms.Model, modelName string, opts ...LangChainOption) (*LangChainProvider, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: langchain model is nil", agent.ErrNilProvider)
	}
	p := &LangChainProvider{
		model:     model,
		modelName: modelName,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewOllamaProvider builds a LangChainProvider over a local Ollama server.
//
// Description:
//
//	The default server URL is http://localhost:11434; pass serverURL to
//	point at a remote instance. Ollama models run entirely on-device, so
//	this is the zero-leak path for sensitive research questions.
func NewOllamaProvider(serverURL, model string, opts ...LangChainOption) (*LangChainProvider, error) {
	ollamaOpts := []ollama.Option{}
	if serverURL != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithServerURL(serverURL))
	}
	if model != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithModel(model))
	}
	llm, err := ollama.New(ollamaOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize ollama client: %w", err)
	}
	return NewLangChainProvider(llm, model, opts...)
}

// Generate implements agent.Provider.
func (p *LangChainProvider) Generate(ctx context.Context, messages []agent.Message, systemPrompt string, maxTokens int, temperature float64) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages)+1)
	if systemPrompt != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	for _, m := range messages {
		content = append(content, llms.TextParts(langchainRole(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	if temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(temperature))
	}

	resp, err := p.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		if transientProbe(err) {
			p.logger.Warn("LLM call failed transiently", "model", p.modelName, "error", err)
			return "", wrapTransient("langchain", err)
		}
		p.logger.Error("LLM call failed", "model", p.modelName, "error", err)
		return "", fmt.Errorf("langchain: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		p.logger.Warn("LLM returned no choices", "model", p.modelName)
		return "", wrapEmpty("langchain")
	}
	return resp.Choices[0].Content, nil
}

// Model implements agent.ModelAware.
func (p *LangChainProvider) Model() string { return p.modelName }

// ContextWindowTokens implements agent.ContextWindowAware. Zero means the
// window was not declared.
func (p *LangChainProvider) ContextWindowTokens() int { return p.contextWindow }

func langchainRole(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
