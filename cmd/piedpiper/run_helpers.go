package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/piedpiper/internal/orchestrator"
	"github.com/ShayCichocki/piedpiper/internal/review"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// printStatus prints a colored status symbol followed by a message.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// printEvent renders one session event to the terminal. Per-step events
// are suppressed; they only matter to the debug log.
func printEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventWorkerCompleted:
		printStatus("✓", fmt.Sprintf("worker %s completed", ev.WorkerID), color.FgGreen)
	case orchestrator.EventWorkerAbandoned:
		printStatus("✗", fmt.Sprintf("worker %s abandoned", ev.WorkerID), color.FgRed)
	case orchestrator.EventEscalation:
		printStatus("↑", fmt.Sprintf("worker %s escalated (%s): %s", ev.WorkerID, ev.Issue, ev.Message), color.FgYellow)
	case orchestrator.EventCacheHit:
		printStatus("⚡", fmt.Sprintf("worker %s answered from cache", ev.WorkerID), color.FgCyan)
	case orchestrator.EventExpertAnswered:
		printStatus("◆", fmt.Sprintf("expert answered worker %s", ev.WorkerID), color.FgMagenta)
	case orchestrator.EventReviewSubmitted:
		printStatus("?", fmt.Sprintf("answer for worker %s awaiting review", ev.WorkerID), color.FgYellow)
	case orchestrator.EventBreakerTripped:
		printStatus("■", fmt.Sprintf("breaker %s tripped: %s", ev.Breaker, ev.Message), color.FgRed)
	case orchestrator.EventBudgetWarning:
		printStatus("$", ev.Message, color.FgYellow)
	case orchestrator.EventValidation:
		printStatus("✓", fmt.Sprintf("worker %s validated: %s", ev.WorkerID, ev.Message), color.FgGreen)
	}
}

// startReviewer serves the session's review queue from this terminal.
// Returns a stop function for when the session is over.
func startReviewer(ctx context.Context, q *review.Queue, autoApprove bool) func() {
	done := make(chan struct{})

	go func() {
		seen := make(map[string]bool)
		reader := bufio.NewReader(os.Stdin)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			for _, item := range q.Pending() {
				if seen[item.ID] {
					continue
				}
				seen[item.ID] = true

				if autoApprove {
					decide(q, item.ID, review.Outcome{
						Decision:   review.DecisionApproved,
						ReviewerID: "auto-approve",
					})
					continue
				}
				promptReview(reader, q, item)
			}
		}
	}()

	return func() { close(done) }
}

// promptReview shows one pending item and collects the verdict.
func promptReview(reader *bufio.Reader, q *review.Queue, item review.Item) {
	fmt.Println(renderReviewItem(item))

	for {
		fmt.Print("  [a]pprove / [r]eject / [m]odify: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			// Stdin closed; fail safe by rejecting.
			decide(q, item.ID, review.Outcome{Decision: review.DecisionRejected, ReviewerID: "terminal"})
			return
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "a", "approve":
			decide(q, item.ID, review.Outcome{Decision: review.DecisionApproved, ReviewerID: "terminal"})
			return
		case "r", "reject":
			fmt.Print("  reason (optional): ")
			reason, _ := reader.ReadString('\n')
			decide(q, item.ID, review.Outcome{
				Decision:   review.DecisionRejected,
				ReviewerID: "terminal",
				Reason:     strings.TrimSpace(reason),
			})
			return
		case "m", "modify":
			fmt.Print("  corrected answer: ")
			corrected, _ := reader.ReadString('\n')
			corrected = strings.TrimSpace(corrected)
			if corrected == "" {
				fmt.Println("  a modified decision needs a corrected answer")
				continue
			}
			fmt.Print("  reason (optional): ")
			reason, _ := reader.ReadString('\n')
			decide(q, item.ID, review.Outcome{
				Decision:        review.DecisionModified,
				ReviewerID:      "terminal",
				CorrectedAnswer: corrected,
				Reason:          strings.TrimSpace(reason),
			})
			return
		}
	}
}

// decide records a verdict, tolerating reviews the worker stopped waiting
// on.
func decide(q *review.Queue, reviewID string, outcome review.Outcome) {
	if err := q.Decide(reviewID, outcome); err != nil {
		printStatus("!", fmt.Sprintf("review %s: %v", reviewID, err), color.FgYellow)
	}
}

var (
	reviewPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("214")).
				Padding(0, 1)
	reviewLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	reportTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	reportOKStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	reportFailStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	reportPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("243")).
				Padding(0, 1)
)

// renderReviewItem renders a pending review as a bordered panel.
func renderReviewItem(item review.Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (urgency %.2f)\n", reviewLabelStyle.Render("Review"), item.Category, item.Urgency)
	fmt.Fprintf(&sb, "%s %s\n", reviewLabelStyle.Render("Worker"), item.WorkerID)
	fmt.Fprintf(&sb, "%s %s\n", reviewLabelStyle.Render("Question"), item.Question)
	if item.Context != "" {
		fmt.Fprintf(&sb, "%s %s\n", reviewLabelStyle.Render("Context"), item.Context)
	}
	fmt.Fprintf(&sb, "%s %s", reviewLabelStyle.Render("Proposed"), item.ProposedAnswer)
	return reviewPanelStyle.Render(sb.String())
}

// renderReport renders the final session report.
func renderReport(report models.SessionReport) string {
	var sb strings.Builder

	sb.WriteString(reportTitleStyle.Render("Session "+report.SessionID) + "\n")

	status := reportOKStyle.Render("completed")
	if report.Status.Phase != models.PhaseCompleted {
		status = reportFailStyle.Render(fmt.Sprintf("%s (%s)", report.Status.Phase, report.Status.Reason))
	}
	fmt.Fprintf(&sb, "Status: %s\n", status)
	fmt.Fprintf(&sb, "Task: %s\n", report.Task)
	fmt.Fprintf(&sb, "Duration: %s\n", formatDuration(report.FinishedAt.Sub(report.StartedAt)))
	fmt.Fprintf(&sb, "Spend: $%.2f\n", report.TotalSpentUSD)
	fmt.Fprintf(&sb, "Escalations: %d (%d from cache)\n", report.Escalations, report.CacheHits)

	sb.WriteString("\nWorkers:\n")
	for _, w := range report.Workers {
		mark := "✗"
		if w.Completed {
			mark = "✓"
		}
		fmt.Fprintf(&sb, "  %s %s (%s) escalated %dx\n", mark, w.ID, w.Expertise, w.Escalations)
	}

	if len(report.Validations) > 0 {
		sb.WriteString("\nValidation:\n")
		for _, v := range report.Validations {
			verdict := "FAIL"
			if v.Passed {
				verdict = "PASS"
			}
			fmt.Fprintf(&sb, "  %s %s (%.2f)", verdict, v.WorkerID, v.Score)
			if len(v.Errors) > 0 {
				fmt.Fprintf(&sb, " - %s", strings.Join(v.Errors, "; "))
			}
			sb.WriteString("\n")
		}
	}

	return reportPanelStyle.Render(strings.TrimRight(sb.String(), "\n"))
}
