package main

import (
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/piedpiper/internal/config"
	"github.com/ShayCichocki/piedpiper/internal/learning"
)

var (
	learnCategory string
	learnWindow   int
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Inspect what the expert has learned",
	Long: `Inspect the effectiveness ledger: per-category mean scores over the
recent answer window, and the learned context the expert is injected with.

Usage:
  piedpiper learn                        # Per-category review of recent answers
  piedpiper learn --category api_error   # Show the learned context for one category
  piedpiper learn --window 100           # Widen the review window`,
	RunE: runLearn,
}

func init() {
	learnCmd.Flags().StringVarP(&learnCategory, "category", "c", "", "Show learned context for a category")
	learnCmd.Flags().IntVarP(&learnWindow, "window", "n", 50, "How many recent answers to review")
}

func runLearn(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ledger, err := learning.NewLedger(filepath.Join(cfg.Session.DataDir, "learning.db"))
	if err != nil {
		return fmt.Errorf("open learning ledger: %w", err)
	}
	defer ledger.Close()
	tracker := learning.NewTracker(ledger)

	if learnCategory != "" {
		return showCategoryContext(tracker, learnCategory)
	}
	return showPeriodicReview(tracker)
}

func showCategoryContext(tracker *learning.Tracker, category string) error {
	context, err := tracker.GetContext(category)
	if err != nil {
		return fmt.Errorf("get context for %s: %w", category, err)
	}
	if context == "" {
		fmt.Printf("No learned context for %s yet.\n", category)
		return nil
	}
	fmt.Print(context)
	return nil
}

func showPeriodicReview(tracker *learning.Tracker) error {
	reviews, err := tracker.PeriodicReview(learnWindow, learning.DefaultReviewThreshold)
	if err != nil {
		return fmt.Errorf("review recent answers: %w", err)
	}
	if len(reviews) == 0 {
		fmt.Println("No evaluated answers yet. Run a session first.")
		return nil
	}

	fmt.Printf("Answer effectiveness over the last %d evaluated answers:\n", learnWindow)
	for _, r := range reviews {
		symbol, attr := "✓", color.FgGreen
		if r.Flagged {
			symbol, attr = "!", color.FgYellow
		}
		printStatus(symbol, fmt.Sprintf("%s: %.2f mean over %d answers", r.Category, r.MeanScore, r.Count), attr)
		if r.Suggestion != "" {
			fmt.Printf("    %s\n", r.Suggestion)
		}
	}
	return nil
}
