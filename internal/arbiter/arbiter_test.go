package arbiter

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/ShayCichocki/piedpiper/pkg/models"
)

func healthyWorker() *models.WorkerState {
	ws := models.NewWorkerState(models.WorkerConfig{
		ID:        "junior",
		Model:     "microsoft/Phi-4-mini-instruct",
		Expertise: models.ExpertiseBeginner,
	})
	ws.Subtask = "implement the login endpoint"
	for i := 0; i < 10; i++ {
		ws.RecordAction(models.WorkerAction{
			Type:        "run_code",
			Description: fmt.Sprintf("distinct step %d", i),
			Result:      "ok",
		})
	}
	return ws
}

func TestShouldEscalate_HealthyWorker(t *testing.T) {
	a := New()
	ws := healthyWorker()

	d := a.ShouldEscalate(ws)
	if d.Escalate {
		t.Error("healthy worker escalated")
	}
	if d.Urgency > 1e-9 {
		t.Errorf("urgency = %v, want 0", d.Urgency)
	}
}

func TestShouldEscalate_UrgencyMonotonic(t *testing.T) {
	a := New()

	// Flip each signal on individually and verify urgency never decreases
	// relative to the no-signal baseline.
	base := a.ShouldEscalate(healthyWorker()).Urgency

	flips := []struct {
		name   string
		mutate func(*models.WorkerState)
		weight float64
	}{
		{"timeStuck", func(ws *models.WorkerState) { ws.MinutesWithoutProgress = 6 }, 0.30},
		{"errorLoop", func(ws *models.WorkerState) {
			for i := 0; i < 4; i++ {
				ws.RecordError(fmt.Sprintf("error %d", i))
			}
		}, 0.25},
		{"lowConfidence", func(ws *models.WorkerState) { ws.Confidence = 0.5 }, 0.20},
		{"repetition", func(ws *models.WorkerState) {
			ws.ActionHistory = nil
			for i := 0; i < 10; i++ {
				ws.RecordAction(models.WorkerAction{Type: "run_code", Description: "same thing"})
			}
		}, 0.15},
	}

	for _, flip := range flips {
		t.Run(flip.name, func(t *testing.T) {
			ws := healthyWorker()
			flip.mutate(ws)
			got := a.ShouldEscalate(ws).Urgency
			if got < base {
				t.Errorf("urgency decreased: %v < %v", got, base)
			}
			if math.Abs(got-base-flip.weight) > 1e-9 {
				t.Errorf("urgency = %v, want base+%v", got, flip.weight)
			}
		})
	}
}

func TestShouldEscalate_StuckAndLooping(t *testing.T) {
	a := New()
	ws := healthyWorker()
	ws.MinutesWithoutProgress = 6
	for i := 0; i < 4; i++ {
		ws.RecordError(fmt.Sprintf("connection refused %d", i))
	}

	d := a.ShouldEscalate(ws)
	if !d.Escalate {
		t.Fatal("stuck and looping worker did not escalate")
	}
	if d.Issue != models.IssueAPIError {
		t.Errorf("issue = %q, want api_error", d.Issue)
	}
	if d.Urgency <= 0.5 {
		t.Errorf("urgency = %v, want > 0.5", d.Urgency)
	}
}

func TestShouldEscalate_DeadEndAloneEscalates(t *testing.T) {
	a := New()
	ws := healthyWorker()
	ws.ActionHistory = nil
	// Three failures of the same approach, no success afterward, padded
	// with enough variety that repetition does not fire.
	for i := 0; i < 5; i++ {
		ws.RecordAction(models.WorkerAction{Type: "explore", Description: fmt.Sprintf("look at %d", i), Result: "ok"})
	}
	for i := 0; i < 3; i++ {
		ws.RecordAction(models.WorkerAction{Type: "run_code", Description: "call the flaky endpoint", Error: "timeout"})
	}
	ws.RecentErrors = nil // keep errorLoop off

	d := a.ShouldEscalate(ws)
	if !d.Signals.DeadEnd {
		t.Fatal("dead end not detected")
	}
	if !d.Escalate {
		t.Error("dead end alone must escalate regardless of urgency")
	}
	if d.Urgency > 0.5 {
		t.Errorf("urgency = %v, expected the disjunction (not the score) to trigger", d.Urgency)
	}
	if d.Issue != models.IssueBugSuspected {
		t.Errorf("issue = %q, want bug_suspected", d.Issue)
	}
}

func TestDetectDeadEnd_SuccessAfterFailuresClears(t *testing.T) {
	ws := healthyWorker()
	ws.ActionHistory = nil
	for i := 0; i < 3; i++ {
		ws.RecordAction(models.WorkerAction{Type: "run_code", Description: "call the flaky endpoint", Error: "timeout"})
	}
	ws.RecordAction(models.WorkerAction{Type: "run_code", Description: "try a new strategy", Result: "ok"})

	if detectDeadEnd(ws) {
		t.Error("dead end detected despite a successful action afterward")
	}
}

func TestClassifyIssue_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		signals Signals
		want    models.IssueType
	}{
		{"error loop wins", Signals{ErrorLoop: true, DeadEnd: true, TimeStuck: true}, models.IssueAPIError},
		{"dead end without error loop", Signals{DeadEnd: true, LowConfidence: true, Repetition: true}, models.IssueBugSuspected},
		{"low confidence with repetition", Signals{LowConfidence: true, Repetition: true, TimeStuck: true}, models.IssueConceptualBlock},
		{"time stuck alone", Signals{TimeStuck: true}, models.IssueDocumentationGap},
		{"low confidence alone is unclassified", Signals{LowConfidence: true}, models.IssueClarificationNeeded},
		{"nothing", Signals{}, models.IssueClarificationNeeded},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyIssue(tc.signals); got != tc.want {
				t.Errorf("classifyIssue() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWithSensitivity(t *testing.T) {
	// At reduced sensitivity the same signal set stays below threshold.
	ws := healthyWorker()
	ws.MinutesWithoutProgress = 6
	ws.Confidence = 0.5 // urgency 0.50

	eager := New(WithSensitivity(0.9))
	if !eager.ShouldEscalate(ws).Escalate {
		t.Error("eager arbiter should escalate at urgency 0.50")
	}

	relaxed := New()
	if relaxed.ShouldEscalate(ws).Escalate {
		t.Error("default arbiter should not escalate at urgency exactly 0.50")
	}
}

func TestBuildQuery(t *testing.T) {
	a := New()
	ws := healthyWorker()
	ws.MinutesWithoutProgress = 6
	for i := 0; i < 4; i++ {
		ws.RecordError("401 unauthorized")
	}

	d := a.ShouldEscalate(ws)
	q := a.BuildQuery(ws, d)

	if q.WorkerID != "junior" {
		t.Errorf("worker id = %q", q.WorkerID)
	}
	if q.Issue != models.IssueAPIError {
		t.Errorf("issue = %q", q.Issue)
	}
	if q.Category != string(models.IssueAPIError) {
		t.Errorf("category = %q", q.Category)
	}
	if !strings.Contains(q.Question, ws.Subtask) {
		t.Errorf("question %q does not mention the subtask", q.Question)
	}
	if !strings.Contains(q.Question, "401 unauthorized") {
		t.Errorf("question %q does not carry the latest error", q.Question)
	}
	if !strings.Contains(q.Context, "junior") {
		t.Errorf("context %q does not identify the worker", q.Context)
	}
	if q.ID == "" {
		t.Error("query id is empty")
	}
}
