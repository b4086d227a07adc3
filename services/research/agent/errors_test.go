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

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"config", ErrConfigInvalid, KindConfigInvalid},
		{"transient", ErrProviderTransient, KindProviderTransient},
		{"parse empty", ErrProviderParseEmpty, KindProviderParseEmpty},
		{"tool", ErrToolTransient, KindToolTransient},
		{"cancelled", ErrCancelled, KindCancelled},
		{"exhausted", ErrContextExhausted, KindContextExhausted},
		{"wrapped transient", fmt.Errorf("generate: %w", ErrProviderTransient), KindProviderTransient},
		{"double wrapped", fmt.Errorf("outer: %w", fmt.Errorf("%w: dial tcp", ErrProviderTransient)), KindProviderTransient},
		{"unclassified", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureString(t *testing.T) {
	if got := FailureString(nil); got != "" {
		t.Errorf("FailureString(nil) = %q, want empty", got)
	}

	if got := FailureString(errors.New("short")); got != "short" {
		t.Errorf("FailureString() = %q", got)
	}

	long := errors.New(strings.Repeat("x", 2*maxFailureChars))
	if got := FailureString(long); len(got) != maxFailureChars {
		t.Errorf("FailureString() length = %d, want %d", len(got), maxFailureChars)
	}
}
