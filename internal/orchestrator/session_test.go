package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/piedpiper/internal/breaker"
	"github.com/ShayCichocki/piedpiper/internal/cache"
	"github.com/ShayCichocki/piedpiper/internal/cost"
	"github.com/ShayCichocki/piedpiper/internal/expert"
	"github.com/ShayCichocki/piedpiper/internal/learning"
	"github.com/ShayCichocki/piedpiper/internal/llm"
	"github.com/ShayCichocki/piedpiper/internal/review"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// scriptedRunner drives workers through a canned trajectory: an optional
// per-step mutation, completion after a fixed number of steps, and
// completion on receiving an expert answer.
type scriptedRunner struct {
	mu               sync.Mutex
	stepCost         float64
	completeAfter    int
	completeOnAnswer bool
	mutate           func(ws *models.WorkerState, step int)
	steps            map[string]int
	applied          []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{steps: make(map[string]int)}
}

func (r *scriptedRunner) ExecuteStep(_ context.Context, ws *models.WorkerState) (float64, error) {
	r.mu.Lock()
	step := r.steps[ws.Config.ID]
	r.steps[ws.Config.ID]++
	r.mu.Unlock()

	if r.mutate != nil {
		r.mutate(ws, step)
	}
	if r.completeAfter > 0 && step+1 >= r.completeAfter {
		ws.Completed = true
		ws.Output = "finished " + ws.Subtask
	}
	return r.stepCost, nil
}

func (r *scriptedRunner) ApplyExpertAnswer(_ context.Context, ws *models.WorkerState, answer models.ExpertAnswer) (float64, error) {
	r.mu.Lock()
	r.applied = append(r.applied, answer.Content)
	r.mu.Unlock()

	ws.MinutesWithoutProgress = 0
	if r.completeOnAnswer {
		ws.Completed = true
		ws.Output = "finished with help"
	}
	return 0, nil
}

func (r *scriptedRunner) appliedAnswers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

type fakeExpert struct {
	mu      sync.Mutex
	content string
	calls   int
}

func (f *fakeExpert) Answer(_ context.Context, query models.ExpertQuery) (models.ExpertAnswer, expert.Usage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return models.ExpertAnswer{
		QueryID:    query.ID,
		Content:    f.content,
		Confidence: 0.9,
		Model:      "test-model",
		CreatedAt:  time.Now(),
	}, expert.Usage{Model: "test-model", InputTokens: 100, OutputTokens: 50}, nil
}

func (f *fakeExpert) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type passValidator struct{}

func (passValidator) Validate(_ context.Context, ws *models.WorkerState) (models.ValidationResult, error) {
	return models.ValidationResult{WorkerID: ws.Config.ID, Passed: true, Score: 1.0}, nil
}

// serveReviews decides every pending review with the given outcome until
// stopped.
func serveReviews(q *review.Queue, outcome review.Outcome) (stop func()) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(2 * time.Millisecond):
			}
			for _, item := range q.Pending() {
				// Races with worker abandonment are fine to ignore.
				_ = q.Decide(item.ID, outcome)
			}
		}
	}()
	return func() { close(done) }
}

func singleWorker() []models.WorkerConfig {
	return []models.WorkerConfig{{ID: "w1", Model: "test-model", Expertise: models.ExpertiseMidLevel}}
}

// stallWorker keeps a worker in escalation territory: over five minutes
// without progress and more than three recent errors.
func stallWorker(ws *models.WorkerState, _ int) {
	ws.MinutesWithoutProgress = 6
	for len(ws.RecentErrors) < 4 {
		ws.RecordError("401 unauthorized from token endpoint")
	}
}

func newTracker(t *testing.T) *learning.Tracker {
	t.Helper()
	ledger, err := learning.NewLedger(filepath.Join(t.TempDir(), "learning.db"))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	if err := ledger.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return learning.NewTracker(ledger)
}

func TestRunCompletesAndValidates(t *testing.T) {
	runner := newScriptedRunner()
	runner.completeAfter = 2
	runner.stepCost = 0.01

	s := New("write the parser", runner, &fakeExpert{content: "unused"},
		WithWorkers(singleWorker()),
		WithValidator(passValidator{}),
	)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status.Phase != models.PhaseCompleted {
		t.Fatalf("phase = %s (%s), want completed", report.Status.Phase, report.Status.Reason)
	}
	if len(report.Workers) != 1 || !report.Workers[0].Completed {
		t.Errorf("workers = %+v, want one completed", report.Workers)
	}
	if len(report.Validations) != 1 || !report.Validations[0].Passed {
		t.Errorf("validations = %+v, want one passed", report.Validations)
	}
	if report.Escalations != 0 {
		t.Errorf("escalations = %d, want 0", report.Escalations)
	}
	if report.TotalSpentUSD <= 0 {
		t.Errorf("total spent = %v, want > 0", report.TotalSpentUSD)
	}

	var done bool
	for ev := range s.Events() {
		if ev.Type == EventSessionDone {
			done = true
		}
	}
	if !done {
		t.Error("no session_done event emitted")
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	runner := newScriptedRunner()
	runner.stepCost = 0.10

	s := New("expensive task", runner, &fakeExpert{content: "unused"},
		WithWorkers(singleWorker()),
		WithBudget(cost.Budget{
			TotalUSD:           0.05,
			WorkerLimitUSD:     0.05,
			ExpertLimitUSD:     0.05,
			ValidationLimitUSD: 0.05,
			BufferUSD:          0.01,
		}),
	)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status.Phase != models.PhaseFailed {
		t.Fatalf("phase = %s, want failed", report.Status.Phase)
	}
	if report.Status.Reason != "budget_exceeded" {
		t.Errorf("reason = %q, want budget_exceeded", report.Status.Reason)
	}
	if len(report.Validations) != 0 {
		t.Errorf("failed session should not validate, got %+v", report.Validations)
	}
}

func TestRunEscalationApproved(t *testing.T) {
	runner := newScriptedRunner()
	runner.completeOnAnswer = true
	runner.mutate = stallWorker
	expertAgent := &fakeExpert{content: "Refresh the session token before retrying."}
	tracker := newTracker(t)

	s := New("fix the authentication token endpoint", runner, expertAgent,
		WithWorkers(singleWorker()),
		WithTracker(tracker),
	)
	stop := serveReviews(s.Reviews(), review.Outcome{
		Decision:   review.DecisionApproved,
		ReviewerID: "reviewer-1",
	})
	defer stop()

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status.Phase != models.PhaseCompleted {
		t.Fatalf("phase = %s (%s), want completed", report.Status.Phase, report.Status.Reason)
	}
	if report.Escalations != 1 {
		t.Errorf("escalations = %d, want 1", report.Escalations)
	}
	if report.Workers[0].Escalations != 1 {
		t.Errorf("worker escalations = %d, want 1", report.Workers[0].Escalations)
	}
	if expertAgent.callCount() != 1 {
		t.Errorf("expert calls = %d, want 1", expertAgent.callCount())
	}

	applied := runner.appliedAnswers()
	if len(applied) != 1 || applied[0] != "Refresh the session token before retrying." {
		t.Errorf("applied = %q, want the approved expert answer", applied)
	}

	// The learner saw the answer and its successful outcome.
	reviews, err := tracker.PeriodicReview(10, 0.6)
	if err != nil {
		t.Fatalf("PeriodicReview: %v", err)
	}
	if len(reviews) != 1 || reviews[0].Count != 1 {
		t.Errorf("periodic review = %+v, want one evaluated answer", reviews)
	}
}

func TestRunCacheHitSkipsExpert(t *testing.T) {
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	hybrid := cache.NewHybrid(store, llm.NewLocalEmbedder(64))

	_, err = hybrid.Store(context.Background(),
		"I keep hitting errors while working on: fix the authentication token endpoint",
		"Refresh the session token before retrying the request.",
		"reviewer-1", "api_error")
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	runner := newScriptedRunner()
	runner.completeOnAnswer = true
	runner.mutate = stallWorker
	expertAgent := &fakeExpert{content: "should not be consulted"}

	s := New("fix the authentication token endpoint", runner, expertAgent,
		WithWorkers(singleWorker()),
		WithCache(hybrid),
	)

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status.Phase != models.PhaseCompleted {
		t.Fatalf("phase = %s (%s), want completed", report.Status.Phase, report.Status.Reason)
	}
	if report.CacheHits != 1 {
		t.Errorf("cache hits = %d, want 1", report.CacheHits)
	}
	if expertAgent.callCount() != 0 {
		t.Errorf("expert calls = %d, want 0", expertAgent.callCount())
	}

	applied := runner.appliedAnswers()
	if len(applied) != 1 || applied[0] != "Refresh the session token before retrying the request." {
		t.Errorf("applied = %q, want the cached answer", applied)
	}
	if pending := s.Reviews().Pending(); len(pending) != 0 {
		t.Errorf("cache hit should not enter review, got %d pending", len(pending))
	}
}

func TestRunReviewModifiedAppliesCorrection(t *testing.T) {
	runner := newScriptedRunner()
	runner.completeOnAnswer = true
	runner.mutate = stallWorker
	expertAgent := &fakeExpert{content: "Try restarting the service."}

	s := New("fix the authentication token endpoint", runner, expertAgent,
		WithWorkers(singleWorker()),
		WithTracker(newTracker(t)),
	)
	stop := serveReviews(s.Reviews(), review.Outcome{
		Decision:        review.DecisionModified,
		ReviewerID:      "reviewer-1",
		CorrectedAnswer: "Rotate the API key; restarts will not help.",
		Reason:          "expert answer treats the symptom",
	})
	defer stop()

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status.Phase != models.PhaseCompleted {
		t.Fatalf("phase = %s (%s), want completed", report.Status.Phase, report.Status.Reason)
	}
	applied := runner.appliedAnswers()
	if len(applied) != 1 || applied[0] != "Rotate the API key; restarts will not help." {
		t.Errorf("applied = %q, want the corrected answer", applied)
	}
}

func TestRunStuckWorkersTripBreaker(t *testing.T) {
	runner := newScriptedRunner()
	runner.mutate = stallWorker

	s := New("impossible task", runner, &fakeExpert{content: "no idea"},
		WithWorkers(singleWorker()),
		WithBreakers(breaker.Config{StuckThreshold: 0.9}),
	)
	stop := serveReviews(s.Reviews(), review.Outcome{
		Decision:   review.DecisionRejected,
		ReviewerID: "reviewer-1",
	})
	defer stop()

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status.Phase != models.PhaseFailed {
		t.Fatalf("phase = %s, want failed", report.Status.Phase)
	}
	if report.Status.Reason != "circuit_breaker: stuck_percentage" {
		t.Errorf("reason = %q, want circuit_breaker: stuck_percentage", report.Status.Reason)
	}
}
