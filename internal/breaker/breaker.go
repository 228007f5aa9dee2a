// Package breaker implements independent failure and abuse detectors that
// guard a session against runaway cost and failure loops. Each breaker is a
// small state machine (armed or tripped); the session loop reads trips and
// decides how to respond. Tripping is a signal, never a fault.
package breaker

import (
	"fmt"
	"time"
)

// Action is what a tripped breaker asks the session loop to do.
type Action string

const (
	// ActionPauseAndAlert pauses the session and alerts a human.
	ActionPauseAndAlert Action = "PAUSE_AND_ALERT"
	// ActionResetWorker resets the offending worker.
	ActionResetWorker Action = "RESET_WORKER"
	// ActionThrottle degrades to cheaper resourcing.
	ActionThrottle Action = "THROTTLE"
	// ActionSkipToReport ends the session early with partial output.
	ActionSkipToReport Action = "SKIP_TO_REPORT"
	// ActionEscalateToHuman hands the session off to a human.
	ActionEscalateToHuman Action = "ESCALATE_TO_HUMAN"
)

// Trip carries the breaker name, the requested action, and a reason. It is
// a value handed to the session loop, never thrown.
type Trip struct {
	// Breaker is the name of the breaker that tripped.
	Breaker string
	// Action is what the breaker asks the session loop to do.
	Action Action
	// Reason is a human-readable explanation.
	Reason string
	// WorkerID identifies the offending worker for per-worker breakers.
	WorkerID string
}

// String formats the trip for logs and terminal status reasons.
func (t *Trip) String() string {
	return fmt.Sprintf("circuit_breaker: %s", t.Breaker)
}

// Observation is the input shape shared by all breakers. Each breaker reads
// only the fields it cares about.
type Observation struct {
	// WorkerID identifies the worker the observation concerns, if any.
	WorkerID string
	// ExpertAnswerResolved reports whether an expert answer resolved its
	// worker's issue (ConsecutiveFailure).
	ExpertAnswerResolved *bool
	// ActionSignatures is the worker's recent action signature window
	// (Repetition).
	ActionSignatures []string
	// CostRate is the current spend rate in USD per minute (CostSpike).
	CostRate float64
	// Elapsed is the session's elapsed wall-clock time (TimeBudget).
	Elapsed time.Duration
	// MinutesWithoutProgress is the worker's stall time (NoProgress).
	MinutesWithoutProgress float64
	// StuckFraction is the fraction of workers simultaneously stuck
	// (StuckPercentage).
	StuckFraction float64
}

// Breaker is the uniform interface over all breaker variants, so the bank
// can add or remove breaker types without touching the session loop.
type Breaker interface {
	// Name identifies the breaker in trips and logs.
	Name() string
	// RecordObservation feeds the breaker its next observation.
	RecordObservation(obs Observation)
	// CheckTripped returns the pending trip, or nil while armed.
	CheckTripped() *Trip
	// Reset re-arms the breaker after the session loop has remediated.
	Reset()
}
