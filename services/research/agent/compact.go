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
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianResearch/pkg/telemetry"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/events"
	"github.com/tmc/langchaingo/textsplitter"
)

// compactedDigestTitle marks the synthetic finding that replaces a dropped
// set. Downstream consumers key on this title.
const compactedDigestTitle = "Compacted findings digest"

const (
	// digestChunkChars bounds how much rendered finding text one digest
	// call may carry.
	digestChunkChars = 24000

	// maxDigestChunks bounds the number of digest calls per compaction.
	maxDigestChunks = 3
)

// maybeCompact prunes low-scored findings when the findings list is both
// large and expensive. It runs at most once per evaluate boundary: the
// caller invokes it exactly once after each evaluate phase.
//
// Trigger: at least compactionFindingsFloor findings AND either the budget
// tracker says the context window is tight, or (no tracker) the findings'
// estimated prompt tokens exceed compactionTokenCeiling.
func (l *Loop) maybeCompact(ctx context.Context) error {
	n := len(l.findings)
	if n < compactionFindingsFloor {
		return nil
	}
	if l.budget != nil {
		if !l.budget.ShouldCompact() {
			return nil
		}
	} else if estimateFindingsTokens(l.findings) <= compactionTokenCeiling {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "research.compact")
	defer span.End()
	start := l.clock()

	kept, dropped := partitionByScore(l.findings, compactionKeepRatio)
	if len(dropped) == 0 {
		return nil
	}

	digest, err := l.digestFindings(ctx, dropped)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	synthetic := ScoredFinding{
		Finding: Finding{
			Source: SearchResult{Title: compactedDigestTitle},
			ExtractedFields: map[string]ExtractedValue{
				"digest": TextValue(digest),
			},
		},
	}
	l.findings = append(kept, synthetic)

	if l.metrics != nil {
		l.metrics.CompactionsTotal.Add(ctx, 1)
	}

	elapsed := l.clock().Sub(start)
	l.logger.Info("Findings compacted",
		"iteration", l.iteration,
		"before", n,
		"after", len(l.findings),
		"dropped", len(dropped),
	)
	l.trajectory.Record(PhaseCompact.String(),
		fmt.Sprintf("%d findings", n),
		fmt.Sprintf("kept %d, digested %d", len(kept), len(dropped)),
		"",
		map[string]float64{
			"before":  float64(n),
			"after":   float64(len(l.findings)),
			"dropped": float64(len(dropped)),
		},
		elapsed.Milliseconds(),
	)
	l.notifyProgress(PhaseCompact, fmt.Sprintf("Compacted %d findings into a digest", len(dropped)))
	l.publishEvent(ctx, events.TypePhaseCompleted, map[string]any{
		"phase":     PhaseCompact.String(),
		"iteration": l.iteration,
		"before":    n,
		"after":     len(l.findings),
	})
	return nil
}

// partitionByScore splits findings into the top keepRatio share by composite
// score and the rest. Both slices preserve the original finding order; ties
// favor earlier findings.
func partitionByScore(findings []ScoredFinding, keepRatio float64) (kept, dropped []ScoredFinding) {
	n := len(findings)
	keep := int(math.Ceil(keepRatio * float64(n)))
	if keep >= n {
		return findings, nil
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return findings[idx[a]].CompositeScore() > findings[idx[b]].CompositeScore()
	})

	keepSet := make(map[int]bool, keep)
	for _, i := range idx[:keep] {
		keepSet[i] = true
	}
	for i, f := range findings {
		if keepSet[i] {
			kept = append(kept, f)
		} else {
			dropped = append(dropped, f)
		}
	}
	return kept, dropped
}

// digestFindings asks the provider for a short summary of the dropped
// findings. Oversized inputs are chunked and the chunk digests joined. A
// reply that parses to nothing falls back to the raw reply text, then to a
// counting placeholder, so compaction always yields a usable digest.
func (l *Loop) digestFindings(ctx context.Context, dropped []ScoredFinding) (string, error) {
	prompt := compactionUserPrompt(dropped)
	chunks := splitForDigest(prompt)

	var digests []string
	for _, chunk := range chunks {
		reply, _, err := l.generate(ctx, PhaseCompact,
			compactionSystemPrompt(l.extension), chunk, digestMaxTokens)
		if err != nil {
			return "", err
		}

		parsed := ExtractJSONObject(reply)
		d := jsonString(parsed, "digest")
		if d == "" && len(parsed) == 0 {
			// Some models reply with the digest text directly.
			d = strings.TrimSpace(reply)
		}
		if d != "" {
			digests = append(digests, d)
		}
	}

	digest := strings.TrimSpace(strings.Join(digests, " "))
	if digest == "" {
		digest = fmt.Sprintf("%d low-scored findings were compacted; no digest was produced.", len(dropped))
	}
	return digest, nil
}

// splitForDigest chunks rendered finding text for the digest calls, capped
// at maxDigestChunks. Splitter failures degrade to plain truncation.
func splitForDigest(text string) []string {
	if len(text) <= digestChunkChars {
		return []string{text}
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(digestChunkChars),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " "}),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return []string{truncateString(text, digestChunkChars)}
	}
	if len(chunks) > maxDigestChunks {
		chunks = chunks[:maxDigestChunks]
	}
	return chunks
}
