package review

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmitAndDecide(t *testing.T) {
	q := NewQueue()

	id := q.Submit(Item{
		QueryID:  "q1",
		WorkerID: "junior",
		Question: "How do I authenticate?",
	})
	if id == "" {
		t.Fatal("empty review id")
	}

	got := make(chan Outcome, 1)
	errs := make(chan error, 1)
	go func() {
		outcome, err := q.AwaitDecision(context.Background(), id)
		if err != nil {
			errs <- err
			return
		}
		got <- outcome
	}()

	// Give the waiter a moment to block, then decide.
	time.Sleep(10 * time.Millisecond)
	if err := q.Decide(id, Outcome{Decision: DecisionApproved, ReviewerID: "alice"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	select {
	case outcome := <-got:
		if outcome.Decision != DecisionApproved || outcome.ReviewerID != "alice" {
			t.Errorf("outcome = %+v", outcome)
		}
	case err := <-errs:
		t.Fatalf("AwaitDecision: %v", err)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}

	if err := q.Decide(id, Outcome{Decision: DecisionRejected, ReviewerID: "bob"}); err == nil {
		t.Error("second Decide succeeded")
	}
}

func TestDecideBeforeAwait(t *testing.T) {
	q := NewQueue()
	id := q.Submit(Item{Question: "Why is the build red?"})

	if err := q.Decide(id, Outcome{Decision: DecisionRejected, ReviewerID: "alice"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := q.AwaitDecision(ctx, id)
	if err != nil {
		t.Fatalf("AwaitDecision: %v", err)
	}
	if outcome.Decision != DecisionRejected {
		t.Errorf("decision = %q", outcome.Decision)
	}
}

func TestAwaitCancellationAbandons(t *testing.T) {
	q := NewQueue()
	id := q.Submit(Item{Question: "How do I paginate?"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.AwaitDecision(ctx, id)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	_, state, _, ok := q.Get(id)
	if !ok || state != StateAbandoned {
		t.Errorf("state = %q, want abandoned", state)
	}

	// The worker is gone; a late decision must not pretend to land.
	if err := q.Decide(id, Outcome{Decision: DecisionApproved, ReviewerID: "alice"}); err == nil {
		t.Error("Decide on abandoned review succeeded")
	}
}

func TestDecideValidation(t *testing.T) {
	q := NewQueue()
	id := q.Submit(Item{Question: "q"})

	if err := q.Decide(id, Outcome{Decision: "maybe"}); err == nil {
		t.Error("invalid decision accepted")
	}
	if err := q.Decide(id, Outcome{Decision: DecisionModified}); err == nil {
		t.Error("modified decision without corrected answer accepted")
	}
	if err := q.Decide("nope", Outcome{Decision: DecisionApproved}); err == nil {
		t.Error("unknown review accepted")
	}
}

func TestPendingOrder(t *testing.T) {
	q := NewQueue()

	first := q.Submit(Item{Question: "first"})
	second := q.Submit(Item{Question: "second"})
	third := q.Submit(Item{Question: "third"})

	if err := q.Decide(second, Outcome{Decision: DecisionApproved, ReviewerID: "alice"}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	pending := q.Pending()
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].ID != first || pending[1].ID != third {
		t.Errorf("pending order = [%s %s], want [%s %s]", pending[0].ID, pending[1].ID, first, third)
	}
}
