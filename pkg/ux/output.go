// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the research CLI.
//
// Everything here writes to stderr by default: stdout is reserved for the
// report itself, so piping `research run ... > report.md` never captures
// status lines. Plain mode degrades all styling to grep-friendly
// KEY: value lines; it is enabled automatically when stderr is not a
// terminal or NO_COLOR is set.
package ux

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#2CD7C7") // Bright teal for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return Styles.Muted.Render(string(i))
	}
}

// =============================================================================
// Output control
// =============================================================================

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stderr
	plain              = detectPlain()
)

// detectPlain decides the startup mode from the environment.
func detectPlain() bool {
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	fd := os.Stderr.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// SetOutput redirects all ux output. Tests point this at a buffer.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// SetPlain forces plain mode on or off, overriding terminal detection.
func SetPlain(enabled bool) {
	outputMu.Lock()
	defer outputMu.Unlock()
	plain = enabled
}

// plainEnabled reports the current mode.
func plainEnabled() bool {
	outputMu.Lock()
	defer outputMu.Unlock()
	return plain
}

// writer returns the current output destination.
func writer() io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	return output
}

// =============================================================================
// Print helpers
// =============================================================================

// Step announces the start of an action.
func Step(text string) {
	if plainEnabled() {
		fmt.Fprintf(writer(), "%s\n", text)
		return
	}
	fmt.Fprintf(writer(), "%s %s\n", IconArrow.Render(), text)
}

// Success prints a success message with checkmark
func Success(text string) {
	if plainEnabled() {
		fmt.Fprintf(writer(), "OK: %s\n", text)
		return
	}
	fmt.Fprintf(writer(), "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func Warning(text string) {
	if plainEnabled() {
		fmt.Fprintf(writer(), "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(writer(), "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func Error(text string) {
	if plainEnabled() {
		fmt.Fprintf(writer(), "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(writer(), "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Detail prints an indented secondary line, muted when styling is on.
// Use it for statistics under a Success or Warning headline.
func Detail(text string) {
	if plainEnabled() {
		fmt.Fprintf(writer(), "  %s\n", text)
		return
	}
	fmt.Fprintf(writer(), "  %s\n", Styles.Muted.Render(text))
}

// Command prints a copy-pasteable command line, highlighted when styling
// is on.
func Command(text string) {
	if plainEnabled() {
		fmt.Fprintf(writer(), "  %s\n", text)
		return
	}
	fmt.Fprintf(writer(), "  %s\n", Styles.Highlight.Render(text))
}
