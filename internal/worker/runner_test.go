package worker

import (
	"context"
	"strings"
	"testing"

	"github.com/ShayCichocki/piedpiper/internal/llm"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

type scriptedCompleter struct {
	replies  []string
	requests []llm.Request
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.requests = append(s.requests, req)
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return llm.Response{Text: reply, InputTokens: 1000, OutputTokens: 500}, nil
}

func testWorker() *models.WorkerState {
	ws := models.NewWorkerState(models.WorkerConfig{
		ID:        "junior",
		Model:     "microsoft/Phi-4-mini-instruct",
		Expertise: models.ExpertiseBeginner,
	})
	ws.Subtask = "add pagination to the orders endpoint"
	return ws
}

func TestExecuteStepRecordsAction(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		"ACTION: edit_code - add limit and offset params\nRESULT: handler updated\nCONFIDENCE: 0.8\nSTATUS: WORKING",
	}}
	r := NewRunner(completer, nil)
	ws := testWorker()

	stepCost, err := r.ExecuteStep(context.Background(), ws)
	if err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}

	if stepCost <= 0 {
		t.Error("expected a nonzero step cost")
	}
	if len(ws.ActionHistory) != 1 {
		t.Fatalf("actions = %d, want 1", len(ws.ActionHistory))
	}
	a := ws.ActionHistory[0]
	if a.Type != "edit_code" || a.Description != "add limit and offset params" {
		t.Errorf("action = %+v", a)
	}
	if a.Failed() {
		t.Error("action should not have failed")
	}
	if ws.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", ws.Confidence)
	}
	if ws.Completed {
		t.Error("worker should still be working")
	}

	req := completer.requests[0]
	if req.Model != "microsoft/Phi-4-mini-instruct" {
		t.Errorf("model = %q", req.Model)
	}
	if !strings.Contains(req.Messages[0].Content, "add pagination to the orders endpoint") {
		t.Error("first prompt should carry the subtask")
	}
}

func TestExecuteStepFailureFeedsErrors(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		"ACTION: run_tests - execute the suite\nRESULT: ERROR: 3 tests failing in pagination_test\nCONFIDENCE: 0.4\nSTATUS: WORKING",
	}}
	r := NewRunner(completer, nil)
	ws := testWorker()

	if _, err := r.ExecuteStep(context.Background(), ws); err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}

	if len(ws.RecentErrors) != 1 {
		t.Fatalf("errors = %v, want 1", ws.RecentErrors)
	}
	if ws.RecentErrors[0] != "3 tests failing in pagination_test" {
		t.Errorf("error = %q", ws.RecentErrors[0])
	}
}

func TestExecuteStepCompletion(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		"ACTION: finalize - wrap up the change\nRESULT: all tests green\nSTATUS: DONE\nOUTPUT:\nPagination added with limit/offset, default page size 50.",
	}}
	r := NewRunner(completer, nil)
	ws := testWorker()

	if _, err := r.ExecuteStep(context.Background(), ws); err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}

	if !ws.Completed {
		t.Fatal("worker should be completed")
	}
	if ws.Output != "Pagination added with limit/offset, default page size 50." {
		t.Errorf("output = %q", ws.Output)
	}
}

func TestApplyExpertAnswerInjectsGuidance(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		"ACTION: read_docs - check the ORM docs\nRESULT: nothing useful\nSTATUS: WORKING",
		"ACTION: edit_code - use keyset pagination\nRESULT: done\nSTATUS: WORKING",
	}}
	r := NewRunner(completer, nil)
	ws := testWorker()

	if _, err := r.ExecuteStep(context.Background(), ws); err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}

	applyCost, err := r.ApplyExpertAnswer(context.Background(), ws, models.ExpertAnswer{
		Content: "Use keyset pagination instead of offset for large tables.",
	})
	if err != nil {
		t.Fatalf("ApplyExpertAnswer: %v", err)
	}
	if applyCost != 0 {
		t.Errorf("apply cost = %v, want 0", applyCost)
	}

	if _, err := r.ExecuteStep(context.Background(), ws); err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}

	last := completer.requests[1].Messages
	found := false
	for _, msg := range last {
		if strings.Contains(msg.Content, "keyset pagination instead of offset") {
			found = true
		}
	}
	if !found {
		t.Error("expert guidance should be in the next step's conversation")
	}
}

func TestConversationIsBounded(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		"ACTION: step - poke at it\nRESULT: still going\nSTATUS: WORKING",
	}}
	r := NewRunner(completer, nil)
	ws := testWorker()

	for i := 0; i < 30; i++ {
		if _, err := r.ExecuteStep(context.Background(), ws); err != nil {
			t.Fatalf("ExecuteStep %d: %v", i, err)
		}
	}

	last := completer.requests[len(completer.requests)-1]
	if len(last.Messages) > maxConversationTurns {
		t.Errorf("conversation grew to %d messages", len(last.Messages))
	}
	if !strings.Contains(last.Messages[0].Content, "add pagination to the orders endpoint") {
		t.Error("assignment should survive conversation trimming")
	}
}

func TestParseStepUnstructuredReply(t *testing.T) {
	step := parseStep("Sure! Let me think about how pagination should work here.")

	if step.done {
		t.Error("unstructured reply should not complete the worker")
	}
	if step.action.Failed() {
		t.Error("unstructured reply should not count as a failure")
	}
	if step.action.Description == "" {
		t.Error("action description should fall back to the first line")
	}
}
