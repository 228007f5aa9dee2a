package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/ShayCichocki/piedpiper/internal/cache"
	"github.com/ShayCichocki/piedpiper/internal/cost"
	"github.com/ShayCichocki/piedpiper/internal/review"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// resolveEscalation answers an escalated query: cache first, then the
// expert with the answer gated through human review. Returns the answer
// to apply, a pending evaluation for the learner (nil for cache hits),
// and whether an answer was produced at all.
func (s *Session) resolveEscalation(ctx context.Context, ws *models.WorkerState, query models.ExpertQuery) (models.ExpertAnswer, *pendingEval, bool) {
	if answer, ok := s.tryCache(ctx, query); ok {
		return answer, nil, true
	}

	answer, usage, err := s.expert.Answer(ctx, query)
	if err != nil {
		if ctx.Err() == nil {
			ws.RecordError("expert: " + err.Error())
			s.logger.Log("expert answer for worker %s failed: %v", ws.Config.ID, err)
		}
		return models.ExpertAnswer{}, nil, false
	}
	s.budget.TrackLLMCall(cost.CategoryExpert, usage.Model, int(usage.InputTokens), int(usage.OutputTokens))
	s.emit(Event{Type: EventExpertAnswered, WorkerID: ws.Config.ID, Message: answer.Content, Cost: s.budget.TotalSpent()})

	reviewID := s.reviews.Submit(review.Item{
		QueryID:        query.ID,
		WorkerID:       query.WorkerID,
		Question:       query.Question,
		Context:        query.Context,
		ProposedAnswer: answer.Content,
		Category:       query.Category,
		Urgency:        query.Urgency,
	})
	s.emit(Event{Type: EventReviewSubmitted, WorkerID: ws.Config.ID, Message: query.Question})
	s.logger.Log("review %s submitted for worker %s", reviewID, ws.Config.ID)

	outcome, err := s.reviews.AwaitDecision(ctx, reviewID)
	if err != nil {
		s.logger.Log("review %s: %v", reviewID, err)
		return models.ExpertAnswer{}, nil, false
	}
	s.emit(Event{Type: EventReviewDecided, WorkerID: ws.Config.ID, Message: string(outcome.Decision)})

	switch outcome.Decision {
	case review.DecisionRejected:
		s.logger.Log("review %s rejected by %s", reviewID, outcome.ReviewerID)
		return models.ExpertAnswer{}, nil, false

	case review.DecisionModified:
		if s.tracker != nil {
			if err := s.tracker.TrackHumanCorrection(query.Question, answer.Content, outcome.CorrectedAnswer, outcome.Reason, query.Category); err != nil {
				s.logger.Log("track correction: %v", err)
			}
		}
		answer.Content = outcome.CorrectedAnswer
	}

	if s.cache != nil {
		s.budget.RecordSpend(cost.CategoryEmbeddings, 2*DefaultEmbedCostUSD)
		if _, err := s.cache.Store(ctx, query.Question, answer.Content, outcome.ReviewerID, query.Category); err != nil {
			s.logger.Log("cache store: %v", err)
		}
	}

	eval := s.trackAnswer(query, answer)
	return answer, eval, true
}

// tryCache serves the escalation from the retrieval cache when the top
// fused candidate clears the hit threshold. Retrieval failures degrade to
// a miss.
func (s *Session) tryCache(ctx context.Context, query models.ExpertQuery) (models.ExpertAnswer, bool) {
	if s.cache == nil {
		return models.ExpertAnswer{}, false
	}

	s.budget.RecordSpend(cost.CategoryEmbeddings, DefaultEmbedCostUSD)
	results, err := s.cache.Search(ctx, query.Question, DefaultSearchTopK)
	if err != nil {
		if errors.Is(err, cache.ErrRetrievalUnavailable) {
			s.logger.Log("cache unavailable, consulting expert: %v", err)
		} else {
			s.logger.Log("cache search: %v", err)
		}
		return models.ExpertAnswer{}, false
	}
	if len(results) == 0 || results[0].FusedScore < s.cacheHitScore {
		return models.ExpertAnswer{}, false
	}

	rec := results[0].Record
	if err := s.cache.RecordUsage(rec.ID); err != nil {
		s.logger.Log("cache usage for %s: %v", rec.ID, err)
	}
	s.noteCacheHit()
	s.emit(Event{Type: EventCacheHit, WorkerID: query.WorkerID, Message: rec.Question})
	s.logger.Log("cache hit for worker %s: %s (fused %.4f)", query.WorkerID, rec.ID, results[0].FusedScore)

	return models.ExpertAnswer{
		ID:         rec.ID,
		QueryID:    query.ID,
		Content:    rec.Answer,
		Confidence: 1.0,
		CreatedAt:  time.Now(),
	}, true
}

// trackAnswer registers the answer with the effectiveness learner and
// returns the pending evaluation the worker loop settles later.
func (s *Session) trackAnswer(query models.ExpertQuery, answer models.ExpertAnswer) *pendingEval {
	if s.tracker == nil {
		return nil
	}
	answerID, err := s.tracker.TrackAnswer(query, answer.Content, answer.Confidence)
	if err != nil {
		s.logger.Log("track answer: %v", err)
		return nil
	}
	return &pendingEval{answerID: answerID, answeredAt: time.Now()}
}
