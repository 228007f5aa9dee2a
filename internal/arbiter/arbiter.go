// Package arbiter decides, from a worker's rolling state, whether the
// worker is stuck badly enough to escalate to the expert, and classifies
// why. It reads worker state only; it never mutates it.
package arbiter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// Signal weights for the urgency score. Together they sum to 1.0.
const (
	weightTimeStuck     = 0.30
	weightErrorLoop     = 0.25
	weightLowConfidence = 0.20
	weightRepetition    = 0.15
	weightDeadEnd       = 0.10
)

// Default signal thresholds.
const (
	// DefaultStuckMinutes is the minutes-without-progress threshold.
	DefaultStuckMinutes = 5.0
	// DefaultErrorLoopCount is the recent-error count threshold.
	DefaultErrorLoopCount = 3
	// DefaultConfidenceFloor is the self-reported confidence threshold.
	DefaultConfidenceFloor = 0.6
	// DefaultEscalationThreshold is the urgency score above which the
	// weighted rule alone triggers escalation.
	DefaultEscalationThreshold = 0.5
)

// Signals is the boolean signal set extracted from a worker state.
type Signals struct {
	// TimeStuck is true when the worker has gone too long without progress.
	TimeStuck bool
	// ErrorLoop is true when recent errors exceed the threshold.
	ErrorLoop bool
	// LowConfidence is true when self-reported confidence is low.
	LowConfidence bool
	// Repetition is true when the recent action window lacks variety.
	Repetition bool
	// DeadEnd is true when the worker keeps failing the same approach
	// with no new strategy.
	DeadEnd bool
}

// Decision is the arbiter's verdict for one worker.
type Decision struct {
	// Escalate is whether the worker should escalate to the expert.
	Escalate bool
	// Issue is the classified issue type.
	Issue models.IssueType
	// Urgency is the weighted urgency score in [0,1].
	Urgency float64
	// Signals is the extracted signal set, kept for logging and breakers.
	Signals Signals
}

// Arbiter evaluates worker states. The sensitivity multiplier scales the
// escalation threshold so the session loop can dial escalations down under
// budget pressure.
type Arbiter struct {
	stuckMinutes    float64
	errorLoopCount  int
	confidenceFloor float64
	threshold       float64
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithStuckMinutes overrides the minutes-without-progress threshold.
func WithStuckMinutes(m float64) Option {
	return func(a *Arbiter) { a.stuckMinutes = m }
}

// WithErrorLoopCount overrides the recent-error count threshold.
func WithErrorLoopCount(n int) Option {
	return func(a *Arbiter) { a.errorLoopCount = n }
}

// WithConfidenceFloor overrides the confidence threshold.
func WithConfidenceFloor(f float64) Option {
	return func(a *Arbiter) { a.confidenceFloor = f }
}

// WithSensitivity scales the escalation threshold. Values below 1.0 make
// the arbiter more eager to escalate; above 1.0, less.
func WithSensitivity(s float64) Option {
	return func(a *Arbiter) {
		if s > 0 {
			a.threshold = DefaultEscalationThreshold * s
		}
	}
}

// New creates an Arbiter with default thresholds.
func New(opts ...Option) *Arbiter {
	a := &Arbiter{
		stuckMinutes:    DefaultStuckMinutes,
		errorLoopCount:  DefaultErrorLoopCount,
		confidenceFloor: DefaultConfidenceFloor,
		threshold:       DefaultEscalationThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ShouldEscalate extracts signals from the worker state, computes the
// urgency score, and applies the escalation rule. Escalation triggers on
// urgency above the threshold, on the stuck+looping combination, or on a
// dead end alone: those combinations indicate the worker cannot
// self-recover regardless of the aggregate score.
func (a *Arbiter) ShouldEscalate(ws *models.WorkerState) Decision {
	signals := a.extract(ws)

	urgency := 0.0
	if signals.TimeStuck {
		urgency += weightTimeStuck
	}
	if signals.ErrorLoop {
		urgency += weightErrorLoop
	}
	if signals.LowConfidence {
		urgency += weightLowConfidence
	}
	if signals.Repetition {
		urgency += weightRepetition
	}
	if signals.DeadEnd {
		urgency += weightDeadEnd
	}

	escalate := urgency > a.threshold ||
		(signals.TimeStuck && signals.ErrorLoop) ||
		signals.DeadEnd

	return Decision{
		Escalate: escalate,
		Issue:    classifyIssue(signals),
		Urgency:  urgency,
		Signals:  signals,
	}
}

// extract derives the boolean signal set from the worker state.
func (a *Arbiter) extract(ws *models.WorkerState) Signals {
	return Signals{
		TimeStuck:     ws.MinutesWithoutProgress > a.stuckMinutes,
		ErrorLoop:     len(ws.RecentErrors) > a.errorLoopCount,
		LowConfidence: ws.Confidence < a.confidenceFloor,
		Repetition:    detectRepetition(ws),
		DeadEnd:       detectDeadEnd(ws),
	}
}

// detectRepetition reports whether the last 10 actions collapse to fewer
// than 3 distinct signatures. Workers with fewer than 5 actions are not
// judged: there is too little history.
func detectRepetition(ws *models.WorkerState) bool {
	if len(ws.ActionHistory) < 5 {
		return false
	}
	sigs := ws.ActionSignatures(10)
	distinct := make(map[string]struct{}, len(sigs))
	for _, s := range sigs {
		distinct[s] = struct{}{}
	}
	return len(distinct) < 3
}

// detectDeadEnd reports whether the recent window shows repeated failed
// attempts at materially the same approach: at least two failures whose
// signatures collide with an earlier failure's signature, with no
// successful action after the last colliding failure.
func detectDeadEnd(ws *models.WorkerState) bool {
	recent := ws.ActionHistory
	if len(recent) > models.ActionHistoryWindow {
		recent = recent[len(recent)-models.ActionHistoryWindow:]
	}

	failedSigs := make(map[string]bool)
	collisions := 0
	lastCollision := -1
	for i, action := range recent {
		if !action.Failed() {
			continue
		}
		sig := action.Signature()
		if failedSigs[sig] {
			collisions++
			lastCollision = i
		}
		failedSigs[sig] = true
	}

	if collisions < 2 {
		return false
	}
	for _, action := range recent[lastCollision+1:] {
		if !action.Failed() {
			return false
		}
	}
	return true
}

// classifyIssue maps the signal set to an issue type. First match wins;
// the ordering reflects which signal is the most direct evidence.
func classifyIssue(s Signals) models.IssueType {
	switch {
	case s.ErrorLoop:
		return models.IssueAPIError
	case s.DeadEnd:
		return models.IssueBugSuspected
	case s.LowConfidence && s.Repetition:
		return models.IssueConceptualBlock
	case s.TimeStuck:
		return models.IssueDocumentationGap
	default:
		return models.IssueClarificationNeeded
	}
}

// BuildQuery formulates an ExpertQuery from a stuck worker's state and the
// arbiter's decision, summarizing the subtask and the last few actions and
// errors.
func (a *Arbiter) BuildQuery(ws *models.WorkerState, d Decision) models.ExpertQuery {
	return models.ExpertQuery{
		ID:        uuid.New().String()[:8],
		WorkerID:  ws.Config.ID,
		Question:  formulateQuestion(ws, d),
		Context:   summarizeContext(ws),
		Category:  string(d.Issue),
		Issue:     d.Issue,
		Urgency:   d.Urgency,
		CreatedAt: time.Now(),
	}
}

// formulateQuestion phrases the worker's situation as a question for the
// expert, led by the classified issue.
func formulateQuestion(ws *models.WorkerState, d Decision) string {
	var sb strings.Builder
	switch d.Issue {
	case models.IssueAPIError:
		sb.WriteString("I keep hitting errors while working on: ")
	case models.IssueBugSuspected:
		sb.WriteString("I may have found a bug while working on: ")
	case models.IssueConceptualBlock:
		sb.WriteString("I don't understand how to approach: ")
	case models.IssueDocumentationGap:
		sb.WriteString("I can't find documentation for: ")
	default:
		sb.WriteString("I need clarification on: ")
	}
	sb.WriteString(ws.Subtask)

	if len(ws.RecentErrors) > 0 {
		sb.WriteString(fmt.Sprintf(" (latest error: %s)", ws.RecentErrors[len(ws.RecentErrors)-1]))
	}
	return sb.String()
}

// summarizeContext condenses the worker's recent actions and errors for
// the reviewer and the expert.
func summarizeContext(ws *models.WorkerState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Worker %s (%s) on subtask: %s\n", ws.Config.ID, ws.Config.Expertise, ws.Subtask)
	fmt.Fprintf(&sb, "Confidence %.2f, %.1f minutes without progress\n", ws.Confidence, ws.MinutesWithoutProgress)

	actions := ws.ActionHistory
	if len(actions) > 3 {
		actions = actions[len(actions)-3:]
	}
	for _, action := range actions {
		if action.Failed() {
			fmt.Fprintf(&sb, "- %s: %s (failed: %s)\n", action.Type, action.Description, action.Error)
		} else {
			fmt.Fprintf(&sb, "- %s: %s\n", action.Type, action.Description)
		}
	}
	return sb.String()
}
