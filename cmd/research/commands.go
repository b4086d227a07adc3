// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	rootCmd = &cobra.Command{
		Use:   "research",
		Short: "A cli to run iterative research: plan, search, extract, evaluate, synthesize",
		Long: `Research drives an LLM through repeated plan/search/extract/evaluate
passes until the evidence answers the question, then synthesizes a
cited markdown report. Runs checkpoint after every phase, so an
interrupted run resumes where it stopped.`,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the research version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.AddCommand(runCmd)     // Defined in cmd_run.go
	rootCmd.AddCommand(resumeCmd)  // Defined in cmd_resume.go
	rootCmd.AddCommand(serveCmd)   // Defined in cmd_serve.go
	rootCmd.AddCommand(versionCmd)
}
