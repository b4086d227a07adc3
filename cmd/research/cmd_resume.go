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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianResearch/pkg/ux"
	"github.com/AleutianAI/AleutianResearch/pkg/validation"
	"github.com/AleutianAI/AleutianResearch/services/research/agent"
	"github.com/AleutianAI/AleutianResearch/services/research/agent/tools"
	rescfg "github.com/AleutianAI/AleutianResearch/services/research/config"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	resumeConfigPath     string        // Config override (default: from checkpoint)
	resumeOutputPath     string        // Write the report here instead of stdout
	resumeJSONOutput     bool          // Emit the full result as JSON
	resumeQuiet          bool          // Errors only on stderr
	resumeCheckpointDir  string        // File checkpoint directory
	resumeBadgerPath     string        // BadgerDB checkpoint path (overrides dir)
	resumeSearchEndpoint string        // SearXNG-style search URL
	resumeProviderName   string        // openai or ollama (default: from env)
	resumeModelName      string        // Provider model override
	resumeTimeout        time.Duration // Overall wall-clock limit (0 = none)
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// resumeCmd restores an interrupted run from its latest checkpoint.
//
// # Description
//
// Loads the checkpoint saved under the correlation id, restores the plan,
// findings, and iteration position, and carries the run to completion. By
// default the run continues under the configuration captured in the
// checkpoint, so stop conditions and source targets match the original
// request.
//
// # Examples
//
//	research resume 0d9a1b2c-3e4f-...
//	research resume --badger /var/lib/research/checkpoints 0d9a1b2c-...
//
// # Limitations
//
//   - The provider is rebuilt from current flags/env, not from the
//     checkpoint; point it at the same backend for comparable output
var resumeCmd = &cobra.Command{
	Use:   "resume [correlation-id]",
	Short: "Resume an interrupted run from its latest checkpoint",
	Long: `Resumes a research run from the checkpoint store.

The correlation id is printed when a run is interrupted and is embedded
in every checkpoint and event. Completed phases are not repeated: a run
checkpointed after evaluation picks up at the completeness gate.

Examples:
  research resume 0d9a1b2c-3e4f-...
  research resume --checkpoint-dir ./checkpoints 0d9a1b2c-...`,
	Args: cobra.ExactArgs(1),
	Run:  runResumeCommand,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	resumeCmd.Flags().StringVarP(&resumeConfigPath, "config", "c", "",
		"Config YAML overriding the checkpoint's captured config")
	resumeCmd.Flags().StringVarP(&resumeOutputPath, "out", "o", "",
		"Write the markdown report to this file instead of stdout")
	resumeCmd.Flags().BoolVar(&resumeJSONOutput, "json", false,
		"Emit the full result (findings, plan, metadata) as JSON")
	resumeCmd.Flags().BoolVarP(&resumeQuiet, "quiet", "q", false,
		"Suppress progress output; errors only")
	resumeCmd.Flags().StringVar(&resumeCheckpointDir, "checkpoint-dir", "",
		"Checkpoint directory (default: ~/.aleutian/research/checkpoints)")
	resumeCmd.Flags().StringVar(&resumeBadgerPath, "badger", "",
		"Use a BadgerDB checkpoint store at this path instead of files")
	resumeCmd.Flags().StringVar(&resumeSearchEndpoint, "search-endpoint", "",
		"SearXNG-style search URL for web targets (default: SEARCH_ENDPOINT)")
	resumeCmd.Flags().StringVar(&resumeProviderName, "provider", "",
		"LLM provider: openai or ollama (default: openai if OPENAI_API_KEY is set)")
	resumeCmd.Flags().StringVar(&resumeModelName, "model", "",
		"Model override for the selected provider")
	resumeCmd.Flags().DurationVar(&resumeTimeout, "timeout", 0,
		"Overall wall-clock limit, e.g. 10m (0 = no limit)")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runResumeCommand loads the checkpoint, rebuilds the run's dependencies
// around its captured config, and resumes.
func runResumeCommand(cmd *cobra.Command, args []string) {
	correlationID, err := validation.SanitizeCorrelationID(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid correlation id: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(resumeQuiet)
	defer logger.Close()

	st, err := buildStore(resumeCheckpointDir, resumeBadgerPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Checkpoint store error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if resumeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, resumeTimeout)
		defer cancel()
	}

	cp, err := st.LoadCheckpoint(ctx, correlationID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No resumable checkpoint for %s: %v\n", correlationID, err)
		os.Exit(1)
	}

	// The checkpoint's config drives tool resolution and stop conditions
	// unless an explicit override is given.
	var cfg *rescfg.Config
	if resumeConfigPath != "" {
		cfg, err = loadResearchConfig(resumeConfigPath)
	} else {
		cfg, err = rescfg.FromDict(cp.Config)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	provider, err := buildProvider(resumeProviderName, resumeModelName, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Provider error: %v\n", err)
		os.Exit(1)
	}

	resolved, err := tools.ResolveForConfig(cfg, buildToolOptions(resumeSearchEndpoint, logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Tool error: %v\n", err)
		os.Exit(1)
	}

	loopOpts := []agent.LoopOption{
		agent.WithLogger(logger),
		agent.WithCheckpointSink(st),
	}
	var spin *ux.Spinner
	if !resumeQuiet {
		spin = ux.NewSpinner("Restoring checkpoint")
		loopOpts = append(loopOpts, agent.WithProgress(func(step, message string) {
			spin.UpdateMessage(fmt.Sprintf("[%s] %s", step, message))
		}))
	}

	runner, err := agent.NewRunner(cfg, cp.PromptExtension, provider, resolved,
		agent.WithRunnerLogger(logger),
		agent.WithCheckpointSource(st),
		agent.WithLoopOptions(loopOpts...),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Runner error: %v\n", err)
		os.Exit(1)
	}

	if !resumeQuiet {
		ux.Step(fmt.Sprintf("Resuming %q from %s (iteration %d)",
			cp.Question, cp.Phase, cp.Iteration))
		spin.Start()
		defer spin.Stop()
	}

	result, err := runner.Resume(ctx, correlationID)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		if errors.Is(err, agent.ErrCancelled) {
			ux.Warning("Run interrupted again. Resume it with:")
			ux.Command("research resume " + correlationID)
			os.Exit(130)
		}
		ux.Error(fmt.Sprintf("Resume failed (%s): %v", agent.KindOf(err), err))
		os.Exit(1)
	}

	if err := writeResult(result, resumeOutputPath, resumeJSONOutput); err != nil {
		fmt.Fprintf(os.Stderr, "Output error: %v\n", err)
		os.Exit(1)
	}
	if !resumeQuiet {
		printRunSummary(result)
	}
}
