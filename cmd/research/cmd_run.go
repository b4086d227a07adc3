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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianResearch/pkg/ux"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/tools"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	runConfigPath     string        // Research config YAML
	runExtension      string        // System-prompt extension
	runOutputPath     string        // Write the report here instead of stdout
	runJSONOutput     bool          // Emit the full result as JSON
	runQuiet          bool          // Errors only on stderr
	runCheckpointDir  string        // File checkpoint directory
	runBadgerPath     string        // BadgerDB checkpoint path (overrides dir)
	runSearchEndpoint string        // SearXNG-style search URL
	runProviderName   string        // openai or ollama (default: from env)
	runModelName      string        // Provider model override
	runTimeout        time.Duration // Overall wall-clock limit (0 = none)
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// runCmd executes one research question end to end.
//
// # Description
//
// Plans sub-queries, searches the configured targets, extracts and scores
// findings, and iterates until the completeness gate passes or a budget
// runs out, then prints the synthesized markdown report to stdout.
//
// # Examples
//
//	research run "What changed in EU AI regulation during 2024?"
//	research run --config research.yaml --out report.md "..."
//	research run --json "..." | jq .metadata.cost
//
// # Limitations
//
//   - Web targets need a reachable search endpoint (--search-endpoint
//     or SEARCH_ENDPOINT)
//   - Interrupting with Ctrl-C checkpoints the run; resume it with
//     `research resume <correlation-id>`
var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Run one research question to a finished report",
	Long: `Runs the full research loop for a single question.

The question may span multiple arguments; they are joined with spaces.
Progress is reported on stderr, the report lands on stdout, and every
phase boundary writes a checkpoint so an interrupted run can resume.

Examples:
  research run "What changed in EU AI regulation during 2024?"
  research run --out report.md --config research.yaml "..."
  research run --json "..." > result.json`,
	Args: cobra.MinimumNArgs(1),
	Run:  runResearchCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "",
		"Path to a research config YAML (default: built-in defaults)")
	runCmd.Flags().StringVar(&runExtension, "extension", "",
		"System-prompt extension appended to every phase prompt")
	runCmd.Flags().StringVarP(&runOutputPath, "out", "o", "",
		"Write the markdown report to this file instead of stdout")
	runCmd.Flags().BoolVar(&runJSONOutput, "json", false,
		"Emit the full result (findings, plan, metadata) as JSON")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false,
		"Suppress progress output; errors only")
	runCmd.Flags().StringVar(&runCheckpointDir, "checkpoint-dir", "",
		"Checkpoint directory (default: ~/.aleutian/research/checkpoints)")
	runCmd.Flags().StringVar(&runBadgerPath, "badger", "",
		"Use a BadgerDB checkpoint store at this path instead of files")
	runCmd.Flags().StringVar(&runSearchEndpoint, "search-endpoint", "",
		"SearXNG-style search URL for web targets (default: SEARCH_ENDPOINT)")
	runCmd.Flags().StringVar(&runProviderName, "provider", "",
		"LLM provider: openai or ollama (default: openai if OPENAI_API_KEY is set)")
	runCmd.Flags().StringVar(&runModelName, "model", "",
		"Model override for the selected provider")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0,
		"Overall wall-clock limit, e.g. 10m (0 = no limit)")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runResearchCommand wires the provider, tools, and checkpoint store, then
// drives the runner to a finished report.
func runResearchCommand(cmd *cobra.Command, args []string) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "A research question is required.")
		os.Exit(1)
	}

	logger := buildLogger(runQuiet)
	defer logger.Close()

	cfg, err := loadResearchConfig(runConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	provider, err := buildProvider(runProviderName, runModelName, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Provider error: %v\n", err)
		os.Exit(1)
	}

	resolved, err := tools.ResolveForConfig(cfg, buildToolOptions(runSearchEndpoint, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tool error: %v\n", err)
		os.Exit(1)
	}

	st, err := buildStore(runCheckpointDir, runBadgerPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Checkpoint store error: %v\n", err)
		os.Exit(1)
	}

	// Pin the correlation id up front so the resume hint is printable even
	// when the run never reaches its first checkpoint acknowledgment.
	correlationID := uuid.NewString()

	loopOpts := []agent.LoopOption{
		agent.WithCorrelationID(correlationID),
		agent.WithLogger(logger),
		agent.WithCheckpointSink(st),
	}
	var spin *ux.Spinner
	if !runQuiet {
		spin = ux.NewSpinner("Planning research")
		spin.Start()
		defer spin.Stop()
		loopOpts = append(loopOpts, agent.WithProgress(func(step, message string) {
			spin.UpdateMessage(fmt.Sprintf("[%s] %s", step, message))
		}))
	}

	runner, err := agent.NewRunner(cfg, runExtension, provider, resolved,
		agent.WithRunnerLogger(logger),
		agent.WithCheckpointSource(st),
		agent.WithLoopOptions(loopOpts...),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Runner error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	result, err := runner.Run(ctx, question, agent.ResearchContext{})
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		if errors.Is(err, agent.ErrCancelled) {
			ux.Warning("Run interrupted. Resume it with:")
			ux.Command("research resume " + correlationID)
			os.Exit(130)
		}
		ux.Error(fmt.Sprintf("Research failed (%s): %v", agent.KindOf(err), err))
		os.Exit(1)
	}

	if err := writeResult(result, runOutputPath, runJSONOutput); err != nil {
		fmt.Fprintf(os.Stderr, "Output error: %v\n", err)
		os.Exit(1)
	}
	if !runQuiet {
		printRunSummary(result)
	}
}

// =============================================================================
// OUTPUT FORMATTING
// =============================================================================

// writeResult emits the report to the output path or stdout, as markdown or
// the full JSON result.
func writeResult(result *agent.Result, path string, asJSON bool) error {
	var out []byte
	if asJSON {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		out = append(encoded, '\n')
	} else {
		content := result.Content
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		out = []byte(content)
	}

	if path == "" {
		_, err := os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(path, out, 0640)
}

// printRunSummary reports run statistics on stderr.
func printRunSummary(result *agent.Result) {
	md := result.Metadata
	ux.Success(fmt.Sprintf("Done: %d findings from %d sources in %d iterations (%.1fs)",
		md.FindingsCount, md.TotalSources, md.Iterations,
		float64(md.GenerationTimeMs)/1000.0))
	if md.Continuations > 0 {
		ux.Detail(fmt.Sprintf("Continuation sessions: %d", md.Continuations))
	}
	if md.Cost != nil {
		ux.Detail(fmt.Sprintf("Tokens: %d prompt + %d completion (est. $%.4f)",
			md.Cost.PromptTokens, md.Cost.CompletionTokens, md.Cost.EstimatedUSD))
	}
	if md.NeedsContinuation {
		ux.Warning("The context budget ran out before research completed; the report covers what was gathered.")
	}
}
