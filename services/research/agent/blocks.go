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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var (
	headingRe  = regexp.MustCompile(`^(#+)\s+(.*)$`)
	listItemRe = regexp.MustCompile(`^(?:[-*]|\d+\.)\s+(.*)$`)
)

// blockIDLen is the hex length of a block id.
const blockIDLen = 12

// BlocksFromMarkdown converts synthesized markdown into typed blocks.
//
// Description:
//
//	Headings, list items, quotes, and fenced code are line-delimited;
//	blank-line-separated runs of everything else become paragraphs with the
//	lines joined by single spaces. Empty input yields an empty slice. Block
//	ids are deterministic: a hash of the block text and its ordinal, so
//	re-parsing the same content yields the same ids.
//
// Inputs:
//
//	content - The markdown text.
//
// Outputs:
//
//	[]Block - The typed blocks in document order.
func BlocksFromMarkdown(content string) []Block {
	if strings.TrimSpace(content) == "" {
		return []Block{}
	}

	var blocks []Block
	var paragraph []string

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		text := strings.Join(paragraph, " ")
		blocks = append(blocks, newBlock(BlockParagraph, text, len(blocks), nil))
		paragraph = nil
	}

	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flushParagraph()

		case strings.HasPrefix(trimmed, "```"):
			flushParagraph()
			lang := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			var codeLines []string
			for i++; i < len(lines); i++ {
				if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
					break
				}
				codeLines = append(codeLines, lines[i])
			}
			meta := map[string]any{}
			if lang != "" {
				meta["language"] = lang
			}
			blocks = append(blocks, newBlock(BlockCode, strings.Join(codeLines, "\n"), len(blocks), meta))

		case headingRe.MatchString(trimmed):
			flushParagraph()
			m := headingRe.FindStringSubmatch(trimmed)
			level := len(m[1])
			if level > 6 {
				level = 6
			}
			blocks = append(blocks, newBlock(BlockHeading, m[2], len(blocks), map[string]any{"level": level}))

		case listItemRe.MatchString(trimmed):
			flushParagraph()
			m := listItemRe.FindStringSubmatch(trimmed)
			blocks = append(blocks, newBlock(BlockListItem, m[1], len(blocks), nil))

		case strings.HasPrefix(trimmed, ">"):
			flushParagraph()
			text := strings.TrimSpace(strings.TrimPrefix(trimmed, ">"))
			blocks = append(blocks, newBlock(BlockQuote, text, len(blocks), nil))

		default:
			paragraph = append(paragraph, trimmed)
		}
	}
	flushParagraph()

	if blocks == nil {
		return []Block{}
	}
	return blocks
}

// MarkdownFromBlocks renders blocks back to the markdown subset the parser
// emits. BlocksFromMarkdown(MarkdownFromBlocks(blocks)) reproduces the same
// blocks.
func MarkdownFromBlocks(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case BlockHeading:
			level := b.HeadingLevel()
			if level < 1 {
				level = 1
			}
			parts = append(parts, strings.Repeat("#", level)+" "+b.Text)
		case BlockListItem:
			parts = append(parts, "- "+b.Text)
		case BlockQuote:
			parts = append(parts, "> "+b.Text)
		case BlockCode:
			lang := ""
			if b.Metadata != nil {
				if v, ok := b.Metadata["language"].(string); ok {
					lang = v
				}
			}
			parts = append(parts, "```"+lang+"\n"+b.Text+"\n```")
		default:
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// newBlock builds a block with its deterministic id.
func newBlock(blockType BlockType, text string, ordinal int, metadata map[string]any) Block {
	return Block{
		ID:       blockID(text, ordinal),
		Type:     blockType,
		Text:     text,
		Metadata: metadata,
	}
}

// blockID hashes the block text and ordinal into a short stable id.
func blockID(text string, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", ordinal, text)))
	return hex.EncodeToString(sum[:])[:blockIDLen]
}
