package models

import "time"

// ValidationResult is the outcome of validating one worker's output.
type ValidationResult struct {
	// WorkerID identifies the worker whose output was validated.
	WorkerID string `json:"worker_id"`
	// Passed is whether validation succeeded overall.
	Passed bool `json:"passed"`
	// Score is the validation quality score in [0,1].
	Score float64 `json:"score"`
	// Errors lists individual validation failures.
	Errors []string `json:"errors,omitempty"`
}

// SessionStatus is the structured terminal status of a session. User-visible
// failure is always one of these, never a raw error leaking out.
type SessionStatus struct {
	// Phase is the terminal phase (completed or failed).
	Phase Phase `json:"phase"`
	// Reason is the machine-readable failure reason, empty on success
	// (e.g., "budget_exceeded", "circuit_breaker: repetition").
	Reason string `json:"reason,omitempty"`
}

// SessionReport is the final product of a session.
type SessionReport struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`
	// Task is the task the workers attempted.
	Task string `json:"task"`
	// Status is the structured terminal status.
	Status SessionStatus `json:"status"`
	// Workers summarizes each worker's final state.
	Workers []WorkerSummary `json:"workers"`
	// Validations holds per-worker validation results.
	Validations []ValidationResult `json:"validations,omitempty"`
	// Escalations is the count of expert queries raised.
	Escalations int `json:"escalations"`
	// CacheHits is the count of escalations resolved from the cache.
	CacheHits int `json:"cache_hits"`
	// TotalSpentUSD is the total session spend.
	TotalSpentUSD float64 `json:"total_spent_usd"`
	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the session reached a terminal phase.
	FinishedAt time.Time `json:"finished_at"`
}

// WorkerSummary is a worker's final state for the report.
type WorkerSummary struct {
	// ID is the worker identifier.
	ID string `json:"id"`
	// Expertise is the worker's tier.
	Expertise Expertise `json:"expertise"`
	// Completed is whether the worker finished its subtask.
	Completed bool `json:"completed"`
	// Escalations is how many times this worker escalated.
	Escalations int `json:"escalations"`
	// Output is the worker's final product, if any.
	Output string `json:"output,omitempty"`
}
