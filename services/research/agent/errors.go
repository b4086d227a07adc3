// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import "errors"

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrConfigInvalid is returned when the research config fails validation.
	// The loop refuses to run with an invalid config.
	ErrConfigInvalid = errors.New("research config is invalid")

	// ErrProviderTransient is returned for connect/timeout/5xx provider
	// failures. Callers may retry with backoff; the loop itself does not.
	ErrProviderTransient = errors.New("provider transient failure")

	// ErrProviderParseEmpty is returned when the provider's structured output
	// is missing or unparseable. Phases recover from it locally.
	ErrProviderParseEmpty = errors.New("provider returned empty or unparseable output")

	// ErrToolTransient is returned for a single failed tool call. Search
	// drops the query and continues with its siblings.
	ErrToolTransient = errors.New("tool transient failure")

	// ErrCancelled is returned when the caller's context is cancelled.
	// A best-effort final checkpoint may still be emitted.
	ErrCancelled = errors.New("research run cancelled")

	// ErrContextExhausted is returned when the budget tracker reports
	// exhaustion beyond what compaction could recover.
	ErrContextExhausted = errors.New("provider context window exhausted")

	// ErrNilProvider is returned when a loop is constructed without a provider.
	ErrNilProvider = errors.New("provider must not be nil")

	// ErrNilCheckpoint is returned when resuming from a nil checkpoint.
	ErrNilCheckpoint = errors.New("checkpoint must not be nil")

	// ErrCheckpointInvalid is returned when a checkpoint is missing fields
	// resume depends on.
	ErrCheckpointInvalid = errors.New("checkpoint is invalid")
)

// ErrorKind classifies a failure for persisted failure events.
type ErrorKind string

const (
	// KindConfigInvalid marks config validation failures.
	KindConfigInvalid ErrorKind = "config_invalid"

	// KindProviderTransient marks retryable provider failures.
	KindProviderTransient ErrorKind = "provider_transient"

	// KindProviderParseEmpty marks unparseable provider output.
	KindProviderParseEmpty ErrorKind = "provider_parse_empty"

	// KindToolTransient marks single-call tool failures.
	KindToolTransient ErrorKind = "tool_transient"

	// KindCancelled marks caller-initiated cancellation.
	KindCancelled ErrorKind = "cancelled"

	// KindContextExhausted marks budget exhaustion beyond compaction's reach.
	KindContextExhausted ErrorKind = "context_exhausted"

	// KindUnknown marks failures outside the classified set.
	KindUnknown ErrorKind = "unknown"
)

// maxFailureChars bounds the error string carried on failure events.
const maxFailureChars = 500

// KindOf maps an error to its kind for failure reporting.
//
// Outputs:
//
//	ErrorKind - The classified kind, or KindUnknown for unclassified errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConfigInvalid):
		return KindConfigInvalid
	case errors.Is(err, ErrProviderTransient):
		return KindProviderTransient
	case errors.Is(err, ErrProviderParseEmpty):
		return KindProviderParseEmpty
	case errors.Is(err, ErrToolTransient):
		return KindToolTransient
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrContextExhausted):
		return KindContextExhausted
	default:
		return KindUnknown
	}
}

// FailureString renders an error for failure events, capped at 500 chars.
func FailureString(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > maxFailureChars {
		return s[:maxFailureChars]
	}
	return s
}
