package orchestrator

import (
	"context"
	"time"

	"github.com/ShayCichocki/piedpiper/internal/cost"
	"github.com/ShayCichocki/piedpiper/internal/learning"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// finalize validates completed workers, closes the learning loop, and
// compiles the session report. Domain failures surface as a structured
// status, never as an error.
func (s *Session) finalize(ctx context.Context) models.SessionReport {
	s.mu.Lock()
	failReason := s.failReason
	escalations := s.escalations
	cacheHits := s.cacheHits
	perWorker := make(map[string]int, len(s.perWorker))
	for id, n := range s.perWorker {
		perWorker[id] = n
	}
	s.mu.Unlock()

	status := models.SessionStatus{Phase: models.PhaseCompleted}
	if failReason != "" {
		status = models.SessionStatus{Phase: models.PhaseFailed, Reason: failReason}
	}

	var validations []models.ValidationResult
	if status.Phase == models.PhaseCompleted {
		validations = s.validateWorkers(ctx)
	}

	s.reviewLearnings()

	report := models.SessionReport{
		SessionID:     s.id,
		Task:          s.task,
		Status:        status,
		Validations:   validations,
		Escalations:   escalations,
		CacheHits:     cacheHits,
		TotalSpentUSD: s.budget.TotalSpent(),
		StartedAt:     s.startedAt,
		FinishedAt:    time.Now(),
	}
	for _, ws := range s.states {
		report.Workers = append(report.Workers, models.WorkerSummary{
			ID:          ws.Config.ID,
			Expertise:   ws.Config.Expertise,
			Completed:   ws.Completed,
			Escalations: perWorker[ws.Config.ID],
			Output:      ws.Output,
		})
	}

	s.emit(Event{Type: EventSessionDone, Message: string(status.Phase), Cost: report.TotalSpentUSD})
	s.logger.Log("session %s finished: %s %s ($%.2f, %d escalations, %d cache hits)",
		s.id, status.Phase, status.Reason, report.TotalSpentUSD, escalations, cacheHits)
	return report
}

// validateWorkers runs the validator over workers that completed. A
// validator error counts as a failed validation rather than aborting the
// report.
func (s *Session) validateWorkers(ctx context.Context) []models.ValidationResult {
	if s.validator == nil {
		return nil
	}

	var results []models.ValidationResult
	for _, ws := range s.states {
		if !ws.Completed {
			continue
		}
		s.budget.RecordSpend(cost.CategoryValidation, DefaultValidationCostUSD)
		result, err := s.validator.Validate(ctx, ws)
		if err != nil {
			s.logger.Log("validate worker %s: %v", ws.Config.ID, err)
			result = models.ValidationResult{
				WorkerID: ws.Config.ID,
				Passed:   false,
				Errors:   []string{err.Error()},
			}
		}
		results = append(results, result)
		s.emit(Event{Type: EventValidation, WorkerID: ws.Config.ID, Message: validationMessage(result)})
	}
	return results
}

// reviewLearnings surfaces underperforming answer categories in the debug
// log at session end. Advisory only.
func (s *Session) reviewLearnings() {
	if s.tracker == nil {
		return
	}
	reviews, err := s.tracker.PeriodicReview(50, learning.DefaultReviewThreshold)
	if err != nil {
		s.logger.Log("periodic review: %v", err)
		return
	}
	for _, r := range reviews {
		if !r.Flagged {
			continue
		}
		s.logger.Log("category %s underperforming: mean effectiveness %.2f over %d answers",
			r.Category, r.MeanScore, r.Count)
	}
}

func validationMessage(result models.ValidationResult) string {
	if result.Passed {
		return "passed"
	}
	if len(result.Errors) > 0 {
		return "failed: " + result.Errors[0]
	}
	return "failed"
}
