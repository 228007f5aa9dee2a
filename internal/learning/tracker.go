package learning

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// Score factor weights. Together they sum to 1.0, keeping scores in [0,1].
const (
	weightSuccess      = 0.4
	weightSpeed        = 0.2
	weightIndependence = 0.2
	weightCalibration  = 0.2

	// speedTargetSeconds is the resolution-time target; slower answers get
	// zero speed credit, never negative.
	speedTargetSeconds = 300.0
)

// Pattern extraction thresholds.
const (
	successPatternThreshold = 0.8
	failurePatternThreshold = 0.4
)

// Tracker is the effectiveness learner: it appends a pending record for
// every expert answer, scores it once the real outcome arrives, aggregates
// recurring answer shapes into patterns, and renders the accumulated
// experience as context for the expert's next answer.
type Tracker struct {
	ledger *Ledger
}

// NewTracker creates a Tracker over the given ledger.
func NewTracker(ledger *Ledger) *Tracker {
	return &Tracker{ledger: ledger}
}

// TrackAnswer appends a pending record for a freshly produced answer and
// returns its opaque id immediately; the caller does not wait for
// evaluation.
func (t *Tracker) TrackAnswer(query models.ExpertQuery, answerText string, initialConfidence float64) (string, error) {
	rec := &EffectivenessRecord{
		AnswerID:          uuid.New().String()[:8],
		QueryID:           query.ID,
		WorkerID:          query.WorkerID,
		Question:          query.Question,
		Category:          query.Category,
		Answer:            answerText,
		InitialConfidence: initialConfidence,
		Status:            StatusPending,
		CreatedAt:         time.Now(),
	}
	if err := t.ledger.insertAnswer(rec); err != nil {
		return "", err
	}
	return rec.AnswerID, nil
}

// EvaluateEffectiveness scores a tracked answer against its real outcome
// and transitions the record to completed. The score is computed exactly
// once: a second call for the same answer fails with
// ErrDuplicateEvaluation.
func (t *Tracker) EvaluateEffectiveness(answerID string, outcome models.WorkerOutcome) (float64, error) {
	rec, err := t.ledger.getAnswer(answerID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, fmt.Errorf("unknown answer %s", answerID)
	}
	if rec.Status == StatusCompleted {
		return 0, fmt.Errorf("answer %s: %w", answerID, ErrDuplicateEvaluation)
	}

	score := effectivenessScore(outcome, rec.InitialConfidence)

	rec.Status = StatusCompleted
	rec.Success = outcome.Success
	rec.TimeToComplete = outcome.TimeToComplete
	rec.FollowUpCount = len(outcome.FollowUpQuestions)
	rec.Score = score
	rec.EvaluatedAt = time.Now()

	if err := t.ledger.completeAnswer(rec); err != nil {
		return 0, err
	}
	if err := t.UpdateLearnedPatterns(rec, score); err != nil {
		return 0, err
	}
	return score, nil
}

// effectivenessScore is the weighted sum of four factors, each normalized
// to [0,1]: outcome, speed against a 5-minute target, independence from
// follow-up questions, and confidence calibration against the real outcome.
func effectivenessScore(outcome models.WorkerOutcome, initialConfidence float64) float64 {
	success := 0.0
	if outcome.Success {
		success = 1.0
	}

	speed := math.Max(0, 1-outcome.TimeToComplete/speedTargetSeconds)
	independence := 1.0 / (1.0 + float64(len(outcome.FollowUpQuestions)))
	calibration := 1 - math.Abs(initialConfidence-success)

	return weightSuccess*success + weightSpeed*speed +
		weightIndependence*independence + weightCalibration*calibration
}

// UpdateLearnedPatterns persists a pattern when the score crosses a
// threshold: above 0.8 a success shape, below 0.4 a failure shape with a
// suggested improvement. Scores in between are unremarkable and produce
// nothing. Pattern storage is additive, never destructive.
func (t *Tracker) UpdateLearnedPatterns(rec *EffectivenessRecord, score float64) error {
	switch {
	case score > successPatternThreshold:
		return t.ledger.upsertPattern(rec.Category, PatternSuccess, describeShape(rec), "")
	case score < failurePatternThreshold:
		return t.ledger.upsertPattern(rec.Category, PatternFailure, describeShape(rec), suggestImprovement(rec))
	default:
		return nil
	}
}

// GetContext formats the top success and failure patterns for a category,
// plus derived style preferences, into a string injected ahead of the
// expert's next answer for that category.
func (t *Tracker) GetContext(category string) (string, error) {
	successes, err := t.ledger.topPatterns(category, PatternSuccess, 3)
	if err != nil {
		return "", err
	}
	failures, err := t.ledger.topPatterns(category, PatternFailure, 3)
	if err != nil {
		return "", err
	}
	if len(successes) == 0 && len(failures) == 0 {
		return "", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Learned context for %s:\n", category)

	if len(successes) > 0 {
		sb.WriteString("What has worked:\n")
		for _, p := range successes {
			fmt.Fprintf(&sb, "- %s (seen %dx)\n", p.Description, p.Count)
		}
	}
	if len(failures) > 0 {
		sb.WriteString("What has not worked:\n")
		for _, p := range failures {
			fmt.Fprintf(&sb, "- %s (seen %dx)", p.Description, p.Count)
			if p.Suggestion != "" {
				fmt.Fprintf(&sb, " - %s", p.Suggestion)
			}
			sb.WriteString("\n")
		}
	}

	prefs, err := t.stylePreferences(category)
	if err != nil {
		return "", err
	}
	if len(prefs) > 0 {
		sb.WriteString("Style preferences: " + strings.Join(prefs, "; ") + "\n")
	}
	return sb.String(), nil
}

// TrackHumanCorrection records a human override of an answer. A correction
// always counts as evidence of a failure pattern for its category: a human
// rewriting an answer outweighs any algorithmic effectiveness estimate.
func (t *Tracker) TrackHumanCorrection(question, originalAnswer, correctedAnswer, reason, category string) error {
	c := &Correction{
		ID:              uuid.New().String()[:8],
		Category:        category,
		Question:        question,
		OriginalAnswer:  originalAnswer,
		CorrectedAnswer: correctedAnswer,
		Reason:          reason,
		CreatedAt:       time.Now(),
	}
	if err := t.ledger.insertCorrection(c); err != nil {
		return err
	}

	desc := "answer required human correction"
	if reason != "" {
		desc = "answer required human correction: " + reason
	}
	return t.ledger.upsertPattern(category, PatternFailure, desc,
		"review what the human changed before answering similar questions")
}

// CategoryReview is one category's slice of a periodic review.
type CategoryReview struct {
	// Category is the issue category reviewed.
	Category string
	// MeanScore is the mean effectiveness score over the window.
	MeanScore float64
	// Count is how many evaluated records fed the mean.
	Count int
	// Flagged is true when the mean fell below the review threshold.
	Flagged bool
	// Suggestion is advisory prompt-improvement guidance for flagged
	// categories.
	Suggestion string
}

// DefaultReviewThreshold is the mean score below which a category is
// flagged for prompt improvement.
const DefaultReviewThreshold = 0.6

// PeriodicReview pulls the most recent n evaluated records, groups them by
// category, and flags categories whose mean score fell below the
/// threshold. Advisory output only: behavior changes flow through
// GetContext, not through this call.
func (t *Tracker) PeriodicReview(n int, threshold float64) ([]CategoryReview, error) {
	if threshold <= 0 {
		threshold = DefaultReviewThreshold
	}
	recs, err := t.ledger.recentEvaluated(n)
	if err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, rec := range recs {
		sums[rec.Category] += rec.Score
		counts[rec.Category]++
	}

	reviews := make([]CategoryReview, 0, len(sums))
	for category, sum := range sums {
		mean := sum / float64(counts[category])
		review := CategoryReview{
			Category:  category,
			MeanScore: mean,
			Count:     counts[category],
			Flagged:   mean < threshold,
		}
		if review.Flagged {
			review.Suggestion = fmt.Sprintf(
				"answers for %s average %.2f; revisit the prompt and the top failure patterns",
				category, mean)
		}
		reviews = append(reviews, review)
	}

	sort.Slice(reviews, func(i, j int) bool { return reviews[i].MeanScore < reviews[j].MeanScore })
	return reviews, nil
}
