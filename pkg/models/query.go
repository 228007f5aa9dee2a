package models

import "time"

// IssueType classifies why a worker needed escalation.
type IssueType string

const (
	// IssueDocumentationGap indicates missing or unclear documentation.
	IssueDocumentationGap IssueType = "documentation_gap"
	// IssueAPIError indicates the worker is fighting repeated API errors.
	IssueAPIError IssueType = "api_error"
	// IssueConceptualBlock indicates the worker misunderstands the problem.
	IssueConceptualBlock IssueType = "conceptual_block"
	// IssueBugSuspected indicates a suspected bug outside the worker's control.
	IssueBugSuspected IssueType = "bug_suspected"
	// IssueClarificationNeeded indicates the task itself is ambiguous.
	IssueClarificationNeeded IssueType = "clarification_needed"
)

// Valid returns true if the issue type is a known value.
func (t IssueType) Valid() bool {
	switch t {
	case IssueDocumentationGap, IssueAPIError, IssueConceptualBlock,
		IssueBugSuspected, IssueClarificationNeeded:
		return true
	default:
		return false
	}
}

// ExpertQuery is an escalated question routed to the cache, the human
// reviewer, and ultimately the expert. It is immutable once resolved except
// for appending the resolution.
type ExpertQuery struct {
	// ID is the unique identifier for this query.
	ID string `json:"id"`
	// WorkerID identifies the worker that escalated.
	WorkerID string `json:"worker_id"`
	// Question is the formulated question text.
	Question string `json:"question"`
	// Context summarizes the worker's situation at escalation time.
	Context string `json:"context"`
	// Category is the free-text topic used for learning and caching.
	Category string `json:"category"`
	// Issue is the arbiter's classification.
	Issue IssueType `json:"issue_type"`
	// Urgency is the arbiter's urgency score in [0,1].
	Urgency float64 `json:"urgency"`
	// CreatedAt is when the escalation triggered.
	CreatedAt time.Time `json:"created_at"`
	// CacheHit indicates the resolution came from the retrieval cache.
	CacheHit bool `json:"cache_hit"`
	// Answer is the resolution, nil while the query is pending.
	Answer *ExpertAnswer `json:"answer,omitempty"`
}

// ExpertAnswer is the resolution of an ExpertQuery, either produced by the
// expert agent or served from the cache.
type ExpertAnswer struct {
	// ID is the unique answer identifier, used by the effectiveness ledger.
	ID string `json:"id"`
	// QueryID links back to the originating query.
	QueryID string `json:"query_id"`
	// Content is the answer text.
	Content string `json:"content"`
	// Confidence is the expert's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Model is the model that produced the answer, empty for cache hits.
	Model string `json:"model,omitempty"`
	// CreatedAt is when the answer was produced.
	CreatedAt time.Time `json:"created_at"`
}

// WorkerOutcome reports what happened to a worker after an expert answer
// was applied. It feeds the effectiveness learner.
type WorkerOutcome struct {
	// WorkerID identifies the worker.
	WorkerID string `json:"worker_id"`
	// AnswerID identifies the answer being evaluated.
	AnswerID string `json:"answer_id"`
	// Success is whether the worker ultimately succeeded on the subtask.
	Success bool `json:"success"`
	// TimeToComplete is the wall-clock seconds from answer to resolution.
	TimeToComplete float64 `json:"time_to_complete_seconds"`
	// FollowUpQuestions lists questions the same worker asked afterwards
	// on the same subtask.
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}
