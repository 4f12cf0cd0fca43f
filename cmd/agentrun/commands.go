package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "agentrun.yaml"

func addConfigFlag(cmd *cobra.Command, target *string) {
	def := os.Getenv("AGENTRUN_CONFIG")
	if def == "" {
		def = defaultConfigPath
	}
	cmd.Flags().StringVarP(target, "config", "c", def, "Path to YAML or JSON5 configuration file")
}

// =============================================================================
// Run Command
// =============================================================================

func buildRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Send one user turn and drive the run to completion",
		Long: `Send one user turn to the model, stream progress, and prompt for a
decision whenever a tool call needs approval. When no prompt argument is
given the first line of stdin is used.

Completed runs append the user and assistant turns to the conversation.`,
		Example: `  # Ask with the default config
  agentrun run --conversation demo "Remember that my favorite color is blue"

  # Record the model responses to a tape
  agentrun run --tape session.tape.json "What is my favorite color?"

  # Replay a tape without calling the model
  agentrun run --replay session.tape.json "What is my favorite color?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.prompt = strings.TrimSpace(strings.Join(args, " "))
			return runRun(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	addConfigFlag(cmd, &opts.configPath)
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "default", "Conversation ID")
	cmd.Flags().StringVar(&opts.userID, "user", "", "User ID passed to tools")
	cmd.Flags().BoolVar(&opts.autoApprove, "auto-approve", false, "Approve every flagged tool call without prompting")
	cmd.Flags().StringVar(&opts.recordPath, "tape", "", "Record model responses to this tape file")
	cmd.Flags().StringVar(&opts.replayPath, "replay", "", "Replay model responses from this tape file")
	cmd.MarkFlagsMutuallyExclusive("tape", "replay")
	return cmd
}

// =============================================================================
// Runs Commands
// =============================================================================

func buildRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and resume checkpointed runs",
	}
	cmd.AddCommand(buildRunsListCmd(), buildRunsResumeCmd())
	return cmd
}

func buildRunsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs awaiting approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsList(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func buildRunsResumeCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Decide the pending tool calls of a run and continue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	addConfigFlag(cmd, &opts.configPath)
	cmd.Flags().BoolVar(&opts.autoApprove, "auto-approve", false, "Approve every flagged tool call without prompting")
	cmd.Flags().StringVar(&opts.replayPath, "replay", "", "Replay model responses from this tape file")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(configPath, cmd.OutOrStdout())
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentrun %s\n  commit: %s\n  built:  %s\n", version, commit, date)
		},
	}
}
