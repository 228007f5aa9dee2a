package expert

import (
	"context"
	"strings"
	"testing"

	"github.com/ShayCichocki/piedpiper/internal/llm"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

type fakeCompleter struct {
	reply      string
	lastSystem string
	lastUser   string
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.lastSystem = req.System
	if len(req.Messages) > 0 {
		f.lastUser = req.Messages[len(req.Messages)-1].Content
	}
	return llm.Response{Text: f.reply, InputTokens: 100, OutputTokens: 50}, nil
}

type fakeContext struct{ text string }

func (f fakeContext) GetContext(string) (string, error) { return f.text, nil }

func TestParseReply(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantContent    string
		wantConfidence float64
	}{
		{
			name:           "confidence line stripped",
			text:           "Use OAuth2.\n\nConfidence: 0.85",
			wantContent:    "Use OAuth2.",
			wantConfidence: 0.85,
		},
		{
			name:           "no confidence line",
			text:           "Use OAuth2.",
			wantContent:    "Use OAuth2.",
			wantConfidence: DefaultConfidence,
		},
		{
			name:           "case insensitive",
			text:           "Retry with backoff.\nconfidence: 1.0",
			wantContent:    "Retry with backoff.",
			wantConfidence: 1.0,
		},
		{
			name:           "mid-text mention ignored",
			text:           "Confidence: 0.2 is what the worker reported.\nCheck the token.",
			wantContent:    "Confidence: 0.2 is what the worker reported.\nCheck the token.",
			wantConfidence: DefaultConfidence,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			content, confidence := parseReply(tc.text)
			if content != tc.wantContent {
				t.Errorf("content = %q, want %q", content, tc.wantContent)
			}
			if confidence != tc.wantConfidence {
				t.Errorf("confidence = %v, want %v", confidence, tc.wantConfidence)
			}
		})
	}
}

func TestAnswer(t *testing.T) {
	completer := &fakeCompleter{reply: "Pass the token in the Authorization header.\nConfidence: 0.9"}
	agent := New(completer,
		WithModel("claude-sonnet-4"),
		WithContextProvider(fakeContext{text: "Learned context for api_error:\nWhat has worked:\n- code examples"}))

	query := models.ExpertQuery{
		ID:       "q1",
		WorkerID: "junior",
		Question: "How do I authenticate?",
		Context:  "Worker junior stuck on login endpoint",
		Category: "api_error",
		Issue:    models.IssueAPIError,
		Urgency:  0.55,
	}

	answer, usage, err := agent.Answer(context.Background(), query)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if answer.Content != "Pass the token in the Authorization header." {
		t.Errorf("content = %q", answer.Content)
	}
	if answer.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", answer.Confidence)
	}
	if answer.QueryID != "q1" {
		t.Errorf("query id = %q", answer.QueryID)
	}
	if usage.InputTokens != 100 || usage.OutputTokens != 50 {
		t.Errorf("usage = %+v", usage)
	}

	if !strings.Contains(completer.lastSystem, "Learned context for api_error") {
		t.Error("learned context not injected into system prompt")
	}
	if !strings.Contains(completer.lastUser, "How do I authenticate?") {
		t.Error("question missing from user prompt")
	}
	if !strings.Contains(completer.lastUser, "api_error") {
		t.Error("issue type missing from user prompt")
	}
}
