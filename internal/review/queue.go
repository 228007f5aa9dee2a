// Package review implements the human decision channel: escalated queries
// wait here until a reviewer approves, rejects, or rewrites the proposed
// answer. Waiting suspends only the escalating worker; the rest of the
// session keeps moving.
package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is a reviewer's verdict.
type Decision string

const (
	// DecisionApproved accepts the proposed answer as-is.
	DecisionApproved Decision = "approved"
	// DecisionRejected discards the proposed answer.
	DecisionRejected Decision = "rejected"
	// DecisionModified accepts a reviewer-rewritten answer.
	DecisionModified Decision = "modified"
)

// Valid returns true if the decision is a known value.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionModified:
		return true
	default:
		return false
	}
}

// State is the lifecycle state of one review.
type State string

const (
	// StatePending means no reviewer has decided yet.
	StatePending State = "pending"
	// StateDecided means a decision arrived.
	StateDecided State = "decided"
	// StateAbandoned means the waiting worker gave up before a decision.
	StateAbandoned State = "abandoned"
)

// Item is one escalation awaiting review.
type Item struct {
	// ID is assigned by Submit.
	ID string
	// QueryID links to the escalated query.
	QueryID string
	// WorkerID is the escalating worker.
	WorkerID string
	// Question is the escalated question text.
	Question string
	// Context summarizes the worker's situation.
	Context string
	// ProposedAnswer is the expert's draft or cache candidate, if any.
	ProposedAnswer string
	// Category is the issue category.
	Category string
	// Urgency is the arbiter's urgency score.
	Urgency float64
	// SubmittedAt is when the item entered the queue.
	SubmittedAt time.Time
}

// Outcome is a reviewer's decision.
type Outcome struct {
	// Decision is the verdict.
	Decision Decision
	// ReviewerID identifies the human reviewer.
	ReviewerID string
	// CorrectedAnswer holds the rewritten answer for modified decisions.
	CorrectedAnswer string
	// Reason is the reviewer's note, if any.
	Reason string
	// DecidedAt is when the decision arrived.
	DecidedAt time.Time
}

type pendingReview struct {
	item    Item
	state   State
	outcome *Outcome
	done    chan Outcome
}

// Queue is an in-memory review queue owned by one session. There is no
// built-in decision timeout: a pending review waits until decided or until
// the waiting worker's context is cancelled.
type Queue struct {
	mu      sync.Mutex
	reviews map[string]*pendingReview
	order   []string
}

// NewQueue creates an empty review queue.
func NewQueue() *Queue {
	return &Queue{reviews: make(map[string]*pendingReview)}
}

// Submit registers an item for review and returns its review id
// immediately.
func (q *Queue) Submit(item Item) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()[:8]
	}
	if item.SubmittedAt.IsZero() {
		item.SubmittedAt = time.Now()
	}

	q.reviews[item.ID] = &pendingReview{
		item:  item,
		state: StatePending,
		done:  make(chan Outcome, 1),
	}
	q.order = append(q.order, item.ID)
	return item.ID
}

// AwaitDecision blocks until a decision arrives for the review or the
// context is cancelled. Cancellation marks the review abandoned: a later
// Decide on it fails rather than reaching a worker that stopped waiting.
func (q *Queue) AwaitDecision(ctx context.Context, reviewID string) (Outcome, error) {
	q.mu.Lock()
	r, ok := q.reviews[reviewID]
	q.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("unknown review %s", reviewID)
	}

	select {
	case outcome := <-r.done:
		return outcome, nil
	case <-ctx.Done():
		q.mu.Lock()
		if r.state == StatePending {
			r.state = StateAbandoned
		}
		q.mu.Unlock()

		// A decision may have raced the cancellation; prefer it.
		select {
		case outcome := <-r.done:
			return outcome, nil
		default:
		}
		return Outcome{}, fmt.Errorf("await review %s: %w", reviewID, ctx.Err())
	}
}

// Decide records a reviewer's verdict and wakes the waiting worker.
func (q *Queue) Decide(reviewID string, outcome Outcome) error {
	if !outcome.Decision.Valid() {
		return fmt.Errorf("invalid decision %q", outcome.Decision)
	}
	if outcome.Decision == DecisionModified && outcome.CorrectedAnswer == "" {
		return fmt.Errorf("modified decision requires a corrected answer")
	}
	if outcome.DecidedAt.IsZero() {
		outcome.DecidedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.reviews[reviewID]
	if !ok {
		return fmt.Errorf("unknown review %s", reviewID)
	}
	switch r.state {
	case StateDecided:
		return fmt.Errorf("review %s already decided", reviewID)
	case StateAbandoned:
		return fmt.Errorf("review %s was abandoned by the worker", reviewID)
	}

	r.state = StateDecided
	r.outcome = &outcome
	r.done <- outcome
	return nil
}

// Pending returns the items still awaiting a decision, oldest first.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var items []Item
	for _, id := range q.order {
		if r := q.reviews[id]; r.state == StatePending {
			items = append(items, r.item)
		}
	}
	return items
}

// Get returns an item, its state, and its outcome (nil until decided).
func (q *Queue) Get(reviewID string) (Item, State, *Outcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.reviews[reviewID]
	if !ok {
		return Item{}, "", nil, false
	}
	return r.item, r.state, r.outcome, true
}
