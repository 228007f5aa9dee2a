package orchestrator

import (
	"time"

	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// EventType represents the type of session event.
type EventType string

const (
	// EventSessionStarted indicates the session began executing.
	EventSessionStarted EventType = "session_started"
	// EventWorkerStep indicates a worker finished one execution step.
	EventWorkerStep EventType = "worker_step"
	// EventWorkerCompleted indicates a worker finished its subtask.
	EventWorkerCompleted EventType = "worker_completed"
	// EventWorkerAbandoned indicates a worker was taken out of rotation.
	EventWorkerAbandoned EventType = "worker_abandoned"
	// EventEscalation indicates the arbiter escalated a worker.
	EventEscalation EventType = "escalation"
	// EventCacheHit indicates an escalation was resolved from the cache.
	EventCacheHit EventType = "cache_hit"
	// EventReviewSubmitted indicates an item entered the human review queue.
	EventReviewSubmitted EventType = "review_submitted"
	// EventReviewDecided indicates a reviewer decided an item.
	EventReviewDecided EventType = "review_decided"
	// EventExpertAnswered indicates the expert produced an answer.
	EventExpertAnswered EventType = "expert_answered"
	// EventBreakerTripped indicates a circuit breaker tripped.
	EventBreakerTripped EventType = "breaker_tripped"
	// EventBudgetWarning indicates a non-fatal budget condition.
	EventBudgetWarning EventType = "budget_warning"
	// EventValidation indicates a worker's output was validated.
	EventValidation EventType = "validation"
	// EventSessionDone indicates the session reached a terminal state.
	EventSessionDone EventType = "session_done"
)

// Event represents an event emitted by the session loop. Events feed the
// CLI's progress display and the debug log.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// WorkerID is the related worker, if applicable.
	WorkerID string
	// Message provides additional context about the event.
	Message string
	// Issue is the classified issue type for escalation events.
	Issue models.IssueType
	// Breaker names the tripped breaker for breaker events.
	Breaker string
	// Cost is the running total spend at emission time.
	Cost float64
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
