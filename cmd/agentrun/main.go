// Package main provides the CLI entry point for agentrun, a host for
// tool-using model runs with human approval.
//
// # Basic Usage
//
// Ask a question in a conversation:
//
//	agentrun run --conversation demo "What is my favorite color?"
//
// List runs waiting for approval and resume one:
//
//	agentrun runs list
//	agentrun runs resume <run-id>
//
// # Environment Variables
//
//   - AGENTRUN_CONFIG: Path to configuration file (default: agentrun.yaml)
//   - OPENAI_API_KEY: OpenAI API key, used when llm.api_key is empty
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentrun",
		Short: "Run tool-using model conversations with human approval",
		Long: `agentrun drives a model through tool calls until it produces a final
answer. Tools that change state pause the run until you approve or reject
each call; paused runs are checkpointed and can be resumed later.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildRunsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
