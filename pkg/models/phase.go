package models

// Phase is a stage of the session workflow. The session loop advances
// through these phases, looping between worker execution and escalation
// handling until all workers complete or a terminal condition fires.
type Phase string

const (
	// PhaseInit provisions workers at session start.
	PhaseInit Phase = "init"
	// PhaseAssignTask hands the task to every worker.
	PhaseAssignTask Phase = "assign_task"
	// PhaseWorkerExecute runs each active worker for one step.
	PhaseWorkerExecute Phase = "worker_execute"
	// PhaseCheckProgress inspects worker states for stuck flags.
	PhaseCheckProgress Phase = "check_progress"
	// PhaseArbiter evaluates stuck workers for escalation.
	PhaseArbiter Phase = "arbiter"
	// PhaseHybridSearch consults the retrieval cache for escalated queries.
	PhaseHybridSearch Phase = "hybrid_search"
	// PhaseHumanReview suspends an escalated query on a human decision.
	PhaseHumanReview Phase = "human_review"
	// PhaseExpertAnswer produces and applies an expert answer.
	PhaseExpertAnswer Phase = "expert_answer"
	// PhaseValidate validates worker output after completion.
	PhaseValidate Phase = "validate"
	// PhaseGenerateReport compiles the session report.
	PhaseGenerateReport Phase = "generate_report"
	// PhaseExpertLearn closes the learning loop at session end.
	PhaseExpertLearn Phase = "expert_learn"
	// PhaseCompleted is the successful terminal phase.
	PhaseCompleted Phase = "completed"
	// PhaseFailed is the unsuccessful terminal phase.
	PhaseFailed Phase = "failed"
)

// Terminal returns true for the two terminal phases.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}
