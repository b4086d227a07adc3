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
	"encoding/json"
	"regexp"
	"strings"
)

// fencedBlockRe matches a fenced code block with an optional json language
// tag, capturing the body.
var fencedBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ExtractJSONObject pulls a JSON object out of raw provider text.
//
// Description:
//
//	Providers wrap structured output unpredictably: bare JSON, a fenced
//	code block, or JSON buried in prose. Extraction tries, in order:
//	the whole trimmed text, the first fenced block, and the substring from
//	the first '{' to its balanced '}'. Empty or unparseable text yields an
//	empty object, never an error, so phases can degrade per their own
//	failure policy.
//
// Inputs:
//
//	text - The raw provider response.
//
// Outputs:
//
//	map[string]any - The decoded object, or an empty map.
func ExtractJSONObject(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return map[string]any{}
	}

	if obj, ok := tryUnmarshalObject(trimmed); ok {
		return obj
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		if obj, ok := tryUnmarshalObject(strings.TrimSpace(m[1])); ok {
			return obj
		}
	}

	if candidate := balancedJSONObject(trimmed); candidate != "" {
		if obj, ok := tryUnmarshalObject(candidate); ok {
			return obj
		}
	}

	return map[string]any{}
}

// tryUnmarshalObject decodes text into a JSON object.
func tryUnmarshalObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	if obj == nil {
		return nil, false
	}
	return obj, true
}

// balancedJSONObject returns the substring from the first '{' to its
// balanced closing '}', honoring JSON string literals and escapes so braces
// inside strings don't confuse the scan. Returns "" when no balanced object
// exists.
func balancedJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// -----------------------------------------------------------------------------
// Typed field accessors
// -----------------------------------------------------------------------------

// jsonString returns the string at key, or "".
func jsonString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// jsonBool returns the boolean at key, or false.
func jsonBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

// jsonFloat returns the number at key. Numeric strings are accepted because
// some providers quote scores.
func jsonFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		var f float64
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// jsonInt returns the number at key truncated to int.
func jsonInt(m map[string]any, key string) (int, bool) {
	f, ok := jsonFloat(m, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// jsonSlice returns the array at key, or nil.
func jsonSlice(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

// jsonObjects returns the array of objects at key, skipping non-object
// entries.
func jsonObjects(m map[string]any, key string) []map[string]any {
	raw := jsonSlice(m, key)
	if raw == nil {
		return nil
	}
	objs := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			objs = append(objs, obj)
		}
	}
	return objs
}

// parseSubQueries decodes a sub-query array from plan or completeness
// output. Entries may be bare strings or {query, source_target, rationale}
// objects; entries with an empty query are dropped.
func parseSubQueries(raw []any, defaultTarget string) []SubQuery {
	queries := make([]SubQuery, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			queries = append(queries, SubQuery{Query: v, SourceTarget: defaultTarget})
		case map[string]any:
			q := SubQuery{
				Query:        jsonString(v, "query"),
				SourceTarget: jsonString(v, "source_target"),
				Rationale:    jsonString(v, "rationale"),
			}
			if strings.TrimSpace(q.Query) == "" {
				continue
			}
			if q.SourceTarget == "" {
				q.SourceTarget = defaultTarget
			}
			queries = append(queries, q)
		}
	}
	return queries
}
