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
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianResearch/pkg/logging"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
)

const (
	// retryDefaultMax is how many times a failed call is retried.
	retryDefaultMax = 2

	// retryDefaultBase is the delay before the first retry. Each further
	// retry multiplies it by retryBackoffFactor, capped at retryDefaultCap.
	retryDefaultBase   = 2 * time.Second
	retryBackoffFactor = 4
	retryDefaultCap    = 60 * time.Second
)

// RetryingProvider decorates a Provider with transient-failure retries and
// optional client-side rate limiting.
//
// Description:
//
//	Only transient failures are retried: agent.ErrProviderTransient
//	wrappers and raw network timeouts. Parse-empty results, context
//	cancellation, and permanent API errors (4xx) surface immediately.
//	Backoff is exponential with jitter so parallel sessions do not
//	stampede a recovering backend.
//
//	Model and context-window capabilities forward to the wrapped provider,
//	so wrapping does not switch off cost or budget tracking.
//
// Thread Safety:
//
//	Safe for concurrent use; per-call state lives on the stack.
type RetryingProvider struct {
	inner      agent.Provider
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
	logger     *logging.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// RetryOption configures a RetryingProvider.
type RetryOption func(*RetryingProvider)

// WithMaxRetries sets how many retries follow the initial attempt.
// Defaults to 2. Negative values are treated as zero.
func WithMaxRetries(n int) RetryOption {
	return func(p *RetryingProvider) {
		if n < 0 {
			n = 0
		}
		p.maxRetries = n
	}
}

// WithBackoff overrides the retry delay schedule. base is the first delay,
// multiplied by four per retry and capped at maxDelay.
func WithBackoff(base, maxDelay time.Duration) RetryOption {
	return func(p *RetryingProvider) {
		if base > 0 {
			p.baseDelay = base
		}
		if maxDelay > 0 {
			p.maxDelay = maxDelay
		}
	}
}

// WithRateLimiter applies a client-side limiter before every attempt,
// retries included. Nil disables limiting.
func WithRateLimiter(limiter *rate.Limiter) RetryOption {
	return func(p *RetryingProvider) {
		p.limiter = limiter
	}
}

// WithRetryLogger sets the structured logger. Defaults to logging.Default().
func WithRetryLogger(logger *logging.Logger) RetryOption {
	return func(p *RetryingProvider) {
		p.logger = logger
	}
}

// NewRetryingProvider wraps a provider with retry behavior.
//
// Inputs:
//
//	inner - The provider to wrap. Must not be nil.
//	opts - Optional overrides.
//
// Outputs:
//
//	*RetryingProvider - The wrapped provider. Never nil on success.
//	error - Non-nil if inner is nil.
func NewRetryingProvider(inner agent.Provider, opts ...RetryOption) (*RetryingProvider, error) {
	if inner == nil {
		return nil, fmt.Errorf("retrying provider requires a wrapped provider")
	}

	p := &RetryingProvider{
		inner:      inner,
		maxRetries: retryDefaultMax,
		baseDelay:  retryDefaultBase,
		maxDelay:   retryDefaultCap,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Default()
	}
	return p, nil
}

// Generate delegates to the wrapped provider, retrying transient failures.
func (p *RetryingProvider) Generate(ctx context.Context, messages []agent.Message, systemPrompt string, maxTokens int, temperature float64) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.delayFor(attempt)); err != nil {
				return "", fmt.Errorf("%w: %v", agent.ErrCancelled, err)
			}
			p.logger.Warn("retrying provider call",
				"attempt", attempt,
				"max_retries", p.maxRetries,
				"error", lastErr.Error(),
			)
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return "", fmt.Errorf("%w: %v", agent.ErrCancelled, err)
				}
				return "", fmt.Errorf("rate limiter: %w", err)
			}
		}

		text, err := p.inner.Generate(ctx, messages, systemPrompt, maxTokens, temperature)
		if err == nil {
			return text, nil
		}
		if !retryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// Model forwards the wrapped provider's model name, or "" when the wrapped
// provider does not report one.
func (p *RetryingProvider) Model() string {
	if aware, ok := p.inner.(agent.ModelAware); ok {
		return aware.Model()
	}
	return ""
}

// ContextWindowTokens forwards the wrapped provider's window, or 0 when the
// wrapped provider does not report one.
func (p *RetryingProvider) ContextWindowTokens() int {
	if aware, ok := p.inner.(agent.ContextWindowAware); ok {
		return aware.ContextWindowTokens()
	}
	return 0
}

// Unwrap exposes the wrapped provider for capability probing in tests.
func (p *RetryingProvider) Unwrap() agent.Provider {
	return p.inner
}

// ToolRetryingProvider extends RetryingProvider with tool-call forwarding.
// It exists as a separate type so wrapping a provider without tool support
// does not falsely advertise the capability.
type ToolRetryingProvider struct {
	*RetryingProvider
	tools agent.ToolCapable
}

// PreservingToolCalls upgrades p to a ToolRetryingProvider when the wrapped
// provider supports tool-call generation, and returns p unchanged otherwise.
// Use this after NewRetryingProvider so capability probing still sees the
// wrapped provider's tool support.
func PreservingToolCalls(p *RetryingProvider) agent.Provider {
	if tc, ok := p.inner.(agent.ToolCapable); ok {
		return &ToolRetryingProvider{RetryingProvider: p, tools: tc}
	}
	return p
}

// GenerateWithTools delegates to the wrapped provider, retrying transient
// failures on the same schedule as Generate.
func (p *ToolRetryingProvider) GenerateWithTools(ctx context.Context, messages []agent.Message, tools []agent.ToolSchema, systemPrompt string) (map[string]any, error) {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, p.delayFor(attempt)); err != nil {
				return nil, fmt.Errorf("%w: %v", agent.ErrCancelled, err)
			}
			p.logger.Warn("retrying provider tool call",
				"attempt", attempt,
				"max_retries", p.maxRetries,
				"error", lastErr.Error(),
			)
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, fmt.Errorf("%w: %v", agent.ErrCancelled, err)
				}
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		args, err := p.tools.GenerateWithTools(ctx, messages, tools, systemPrompt)
		if err == nil {
			return args, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// delayFor computes the backoff before the attempt-th retry (1-based),
// with up to 10% jitter.
func (p *RetryingProvider) delayFor(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= retryBackoffFactor
		if delay >= p.maxDelay {
			delay = p.maxDelay
			break
		}
	}
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay/10) + 1))
	return delay + jitter
}

// retryable reports whether an error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, agent.ErrCancelled) {
		return false
	}
	if errors.Is(err, agent.ErrProviderTransient) {
		return true
	}
	return transientProbe(err)
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Compile-time interface compliance.
var (
	_ agent.Provider           = (*RetryingProvider)(nil)
	_ agent.ModelAware         = (*RetryingProvider)(nil)
	_ agent.ContextWindowAware = (*RetryingProvider)(nil)
	_ agent.ToolCapable        = (*ToolRetryingProvider)(nil)
)
