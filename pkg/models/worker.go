package models

import (
	"fmt"
	"time"
)

// Expertise represents a worker's skill tier.
type Expertise string

const (
	// ExpertiseBeginner is the least capable worker tier.
	ExpertiseBeginner Expertise = "beginner"
	// ExpertiseMidLevel is the middle worker tier.
	ExpertiseMidLevel Expertise = "mid-level"
	// ExpertiseAdvanced is the most capable worker tier.
	ExpertiseAdvanced Expertise = "advanced"
)

// Valid returns true if the expertise is a known value.
func (e Expertise) Valid() bool {
	switch e {
	case ExpertiseBeginner, ExpertiseMidLevel, ExpertiseAdvanced:
		return true
	default:
		return false
	}
}

// WorkerConfig describes a worker agent: its identity, the model it runs on,
// and its expertise tier.
type WorkerConfig struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// Model is the LLM model this worker runs on.
	Model string `json:"model"`
	// Expertise is the worker's skill tier.
	Expertise Expertise `json:"expertise"`
}

// DefaultWorkers returns the standard three-worker roster. The design
// supports any N; three is the product default.
func DefaultWorkers() []WorkerConfig {
	return []WorkerConfig{
		{ID: "junior", Model: "microsoft/Phi-4-mini-instruct", Expertise: ExpertiseBeginner},
		{ID: "intermediate", Model: "meta-llama/Llama-3.1-8B-Instruct", Expertise: ExpertiseMidLevel},
		{ID: "senior", Model: "Qwen/Qwen2.5-14B-Instruct", Expertise: ExpertiseAdvanced},
	}
}

// ActionHistoryWindow is the bounded window of actions kept per worker.
const ActionHistoryWindow = 10

// RecentErrorWindow is the bounded window of errors kept per worker.
const RecentErrorWindow = 5

// WorkerAction records a single step a worker took.
type WorkerAction struct {
	// Timestamp is when the action occurred.
	Timestamp time.Time `json:"timestamp"`
	// Type is the kind of action (e.g., "run_code", "read_docs").
	Type string `json:"type"`
	// Description describes what the action did.
	Description string `json:"description"`
	// Result holds the action's output, if any.
	Result string `json:"result,omitempty"`
	// Error holds the failure message if the action failed.
	Error string `json:"error,omitempty"`
}

// Failed returns true if the action recorded an error.
func (a WorkerAction) Failed() bool {
	return a.Error != ""
}

// Signature returns a normalized representation of the action that ignores
// incidental parameters but captures its semantic shape. Two actions with
// the same signature are attempts at materially the same thing.
func (a WorkerAction) Signature() string {
	desc := a.Description
	if len(desc) > 50 {
		desc = desc[:50]
	}
	return fmt.Sprintf("%s:%s", a.Type, desc)
}

// WorkerState is the rolling state for one concurrent worker. It is owned
// by the session loop and never shared across workers.
type WorkerState struct {
	// Config identifies the worker and its tier.
	Config WorkerConfig `json:"config"`
	// Subtask is the worker's current assignment.
	Subtask string `json:"subtask"`
	// ActionHistory is the ordered, bounded window of recent actions.
	ActionHistory []WorkerAction `json:"action_history"`
	// RecentErrors is the ordered, bounded list of recent error messages.
	RecentErrors []string `json:"recent_errors"`
	// Confidence is the worker's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// MinutesWithoutProgress is elapsed time without observable progress.
	MinutesWithoutProgress float64 `json:"minutes_without_progress"`
	// Stuck indicates the session loop has flagged the worker as stuck.
	Stuck bool `json:"stuck"`
	// Completed indicates the worker finished its subtask.
	Completed bool `json:"completed"`
	// Output holds the worker's final product, if completed.
	Output string `json:"output,omitempty"`
}

// NewWorkerState creates the initial state for a worker at session init.
func NewWorkerState(cfg WorkerConfig) *WorkerState {
	return &WorkerState{
		Config:     cfg,
		Confidence: 1.0,
	}
}

// RecordAction appends an action, trimming the history to the bounded
// window. Failed actions also append to the recent-error list.
func (w *WorkerState) RecordAction(a WorkerAction) {
	w.ActionHistory = append(w.ActionHistory, a)
	if len(w.ActionHistory) > ActionHistoryWindow {
		w.ActionHistory = w.ActionHistory[len(w.ActionHistory)-ActionHistoryWindow:]
	}
	if a.Failed() {
		w.RecordError(a.Error)
	}
}

// RecordError appends an error message, trimming to the bounded window.
func (w *WorkerState) RecordError(msg string) {
	w.RecentErrors = append(w.RecentErrors, msg)
	if len(w.RecentErrors) > RecentErrorWindow {
		w.RecentErrors = w.RecentErrors[len(w.RecentErrors)-RecentErrorWindow:]
	}
}

// ClearErrors resets the recent-error list, typically after progress is
// observed.
func (w *WorkerState) ClearErrors() {
	w.RecentErrors = nil
}

// ActionSignatures returns the signatures of the last n actions, oldest
// first. If n exceeds the history, all signatures are returned.
func (w *WorkerState) ActionSignatures(n int) []string {
	history := w.ActionHistory
	if len(history) > n {
		history = history[len(history)-n:]
	}
	sigs := make([]string, len(history))
	for i, a := range history {
		sigs[i] = a.Signature()
	}
	return sigs
}
