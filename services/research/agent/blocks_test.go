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
	"reflect"
	"testing"
)

const sampleMarkdown = `# Heat Pump Performance

Cold-climate heat pumps hold useful capacity
well below freezing.

## Findings

- COP stays above 2 at -15C
1. Defrost cycles cost 5-10% of output

> Sizing for the 99% design temperature matters most.

` + "```go\nfunc cop(t float64) float64 { return 2.1 }\n```"

func TestBlocksFromMarkdownTypes(t *testing.T) {
	blocks := BlocksFromMarkdown(sampleMarkdown)

	wantTypes := []BlockType{
		BlockHeading,
		BlockParagraph,
		BlockHeading,
		BlockListItem,
		BlockListItem,
		BlockQuote,
		BlockCode,
	}
	if len(blocks) != len(wantTypes) {
		t.Fatalf("got %d blocks, want %d: %#v", len(blocks), len(wantTypes), blocks)
	}
	for i, want := range wantTypes {
		if blocks[i].Type != want {
			t.Fatalf("block %d type = %q, want %q", i, blocks[i].Type, want)
		}
	}

	if blocks[0].Text != "Heat Pump Performance" || blocks[0].HeadingLevel() != 1 {
		t.Fatalf("title block = %#v", blocks[0])
	}
	if blocks[2].HeadingLevel() != 2 {
		t.Fatalf("subheading level = %d, want 2", blocks[2].HeadingLevel())
	}

	// Consecutive prose lines join into one paragraph.
	if blocks[1].Text != "Cold-climate heat pumps hold useful capacity well below freezing." {
		t.Fatalf("paragraph = %q", blocks[1].Text)
	}

	if blocks[3].Text != "COP stays above 2 at -15C" {
		t.Fatalf("bullet = %q", blocks[3].Text)
	}
	if blocks[4].Text != "Defrost cycles cost 5-10% of output" {
		t.Fatalf("numbered item = %q", blocks[4].Text)
	}
	if blocks[5].Text != "Sizing for the 99% design temperature matters most." {
		t.Fatalf("quote = %q", blocks[5].Text)
	}

	code := blocks[6]
	if code.Text != "func cop(t float64) float64 { return 2.1 }" {
		t.Fatalf("code text = %q", code.Text)
	}
	if lang, _ := code.Metadata["language"].(string); lang != "go" {
		t.Fatalf("code language = %q, want go", lang)
	}
}

func TestBlocksFromMarkdownEmpty(t *testing.T) {
	for _, text := range []string{"", "   \n\n\t"} {
		blocks := BlocksFromMarkdown(text)
		if blocks == nil {
			t.Fatal("got nil, want empty slice")
		}
		if len(blocks) != 0 {
			t.Fatalf("got %d blocks, want 0", len(blocks))
		}
	}
}

func TestBlockIDsDeterministic(t *testing.T) {
	first := BlocksFromMarkdown(sampleMarkdown)
	second := BlocksFromMarkdown(sampleMarkdown)

	if len(first) != len(second) {
		t.Fatalf("parse count drifted: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("block %d id drifted: %q vs %q", i, first[i].ID, second[i].ID)
		}
		if len(first[i].ID) != blockIDLen {
			t.Fatalf("block %d id length = %d, want %d", i, len(first[i].ID), blockIDLen)
		}
	}
}

func TestBlockIDsDistinguishOrdinal(t *testing.T) {
	blocks := BlocksFromMarkdown("- repeat\n- repeat")
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].ID == blocks[1].ID {
		t.Fatalf("identical text at different positions shares id %q", blocks[0].ID)
	}
}

func TestBlocksRoundTrip(t *testing.T) {
	original := BlocksFromMarkdown(sampleMarkdown)
	rendered := MarkdownFromBlocks(original)
	reparsed := BlocksFromMarkdown(rendered)

	if !reflect.DeepEqual(original, reparsed) {
		t.Fatalf("round trip drifted:\noriginal: %#v\nreparsed: %#v", original, reparsed)
	}
}

func TestBlocksHeadingLevelCapped(t *testing.T) {
	blocks := BlocksFromMarkdown("######## too deep")
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].HeadingLevel() != 6 {
		t.Fatalf("level = %d, want 6", blocks[0].HeadingLevel())
	}
}

func TestBlocksUnterminatedCodeFence(t *testing.T) {
	blocks := BlocksFromMarkdown("intro\n\n```\nline one\nline two")
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2: %#v", len(blocks), blocks)
	}
	if blocks[1].Type != BlockCode {
		t.Fatalf("block 1 type = %q, want code", blocks[1].Type)
	}
	if blocks[1].Text != "line one\nline two" {
		t.Fatalf("code text = %q", blocks[1].Text)
	}
}

func TestMarkdownFromBlocksDefaultsHeadingLevel(t *testing.T) {
	out := MarkdownFromBlocks([]Block{{Type: BlockHeading, Text: "Untyped"}})
	if out != "# Untyped" {
		t.Fatalf("rendered = %q, want %q", out, "# Untyped")
	}
}
