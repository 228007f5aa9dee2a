package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "piedpiper",
	Short: "Escalation & Learning Control Core",
	Long: `Piedpiper runs a team of worker agents on a task under a shared budget,
escalating stuck workers to an expert model and learning from how well
each expert answer worked out.

Core capabilities:
- Runs N workers in parallel, each on its own model tier
- Detects stuck workers and escalates with a classified, formulated question
- Resolves repeat questions from a hybrid semantic+lexical answer cache
- Gates new expert answers behind human review before they are cached
- Trips circuit breakers on repetition, cost spikes, and stalled sessions
- Scores every expert answer against its real outcome to improve the next one`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
