// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// file paths, database keys, or query parameters. Using these validators
// prevents injection attacks (path traversal, key injection) before the
// input reaches a store or the filesystem.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxCorrelationIDLength caps correlation ids well above UUID length (36)
// while keeping file names comfortably inside filesystem limits.
const MaxCorrelationIDLength = 128

// correlationIDPattern matches valid correlation ids.
// Allows: letters, digits, underscores, hyphens.
// Dots and path separators are deliberately excluded: ids become file names
// (<id>.json) and store keys (checkpoint/<id>), so "../" or "/" in an id
// would escape the checkpoint directory.
var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateCorrelationID validates a run correlation id to prevent path
// traversal and key injection.
//
// Valid ids:
//   - 1-128 characters
//   - Letters A-Z a-z
//   - Digits 0-9
//   - Underscores (_) and hyphens (-), covering UUIDs and human-chosen ids
//
// Returns an error if the id is invalid.
//
// Example:
//
//	if err := validation.ValidateCorrelationID(id); err != nil {
//	    return nil, fmt.Errorf("invalid correlation id: %w", err)
//	}
//	// Safe to use as a file name or store key
func ValidateCorrelationID(id string) error {
	if id == "" {
		return fmt.Errorf("correlation id cannot be empty")
	}

	if len(id) > MaxCorrelationIDLength {
		return fmt.Errorf("correlation id too long: %d chars (max %d)", len(id), MaxCorrelationIDLength)
	}

	if !correlationIDPattern.MatchString(id) {
		return fmt.Errorf("invalid correlation id format: %q (must be 1-%d letters, digits, underscores, or hyphens)",
			id, MaxCorrelationIDLength)
	}

	return nil
}

// SanitizeCorrelationID normalizes and validates a correlation id.
// Returns the trimmed id if valid, or an error if invalid.
//
// Use this for ids arriving from flags or URL parameters where surrounding
// whitespace is likely:
//
//	safeID, err := validation.SanitizeCorrelationID(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeID is trimmed and validated
func SanitizeCorrelationID(id string) (string, error) {
	normalized := strings.TrimSpace(id)
	if err := ValidateCorrelationID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
