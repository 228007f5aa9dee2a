package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/piedpiper/internal/config"
	"github.com/ShayCichocki/piedpiper/internal/state"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show recent session history",
	Long: `Display recent sessions and their outcomes.

Without arguments, lists recent sessions newest first.
With a session id, shows that session's full report including per-worker
detail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "How many sessions to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := state.DefaultDBPath(cfg.Session.DataDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No session history. Run 'piedpiper run <task>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open session history: %w", err)
	}
	defer db.Close()

	if len(args) == 1 {
		return displaySessionDetail(db, args[0])
	}
	return displayRecentSessions(db)
}

func displaySessionDetail(db *state.DB, sessionID string) error {
	report, err := db.GetReport(sessionID)
	if err != nil {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	fmt.Println(renderReport(report))
	return nil
}

func displayRecentSessions(db *state.DB) error {
	reports, err := db.ListRecent(statusLimit)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(reports) == 0 {
		fmt.Println("No session history. Run 'piedpiper run <task>' to start.")
		return nil
	}

	fmt.Println("Recent Sessions:")
	for _, r := range reports {
		status := string(r.Status.Phase)
		if r.Status.Reason != "" {
			status = fmt.Sprintf("%s (%s)", status, r.Status.Reason)
		}
		fmt.Printf("  %s: %q %s, $%.2f, %d escalations (%s ago)\n",
			r.SessionID, truncate(r.Task, 40), status, r.TotalSpentUSD,
			r.Escalations, formatDuration(time.Since(r.FinishedAt)))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
