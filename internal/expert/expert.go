// Package expert implements the expert agent: the strong model that
// answers escalated worker questions, conditioned on the learning loop's
// accumulated context for the question's category.
package expert

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/piedpiper/internal/llm"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// ContextProvider supplies learned context for a category. Implemented by
// the learning tracker.
type ContextProvider interface {
	GetContext(category string) (string, error)
}

// DefaultConfidence is assumed when the expert's reply carries no parseable
// confidence line.
const DefaultConfidence = 0.7

// Agent answers escalated queries.
type Agent struct {
	completer llm.Completer
	context   ContextProvider
	model     string
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// WithContextProvider wires in the learning loop's context feed.
func WithContextProvider(p ContextProvider) Option {
	return func(a *Agent) { a.context = p }
}

// New creates an expert agent over the given completer.
func New(completer llm.Completer, opts ...Option) *Agent {
	a := &Agent{completer: completer}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Usage reports the billing counts of one expert call.
type Usage struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Answer produces an answer for the escalated query. Learned context for
// the query's category, when present, is injected into the system prompt so
// each answer is conditioned on the accumulated experience of all prior
// answers in that category.
func (a *Agent) Answer(ctx context.Context, query models.ExpertQuery) (models.ExpertAnswer, Usage, error) {
	system := a.systemPrompt(query.Category)

	resp, err := a.completer.Complete(ctx, llm.Request{
		Model:  a.model,
		System: system,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: a.userPrompt(query)},
		},
	})
	if err != nil {
		return models.ExpertAnswer{}, Usage{}, fmt.Errorf("expert completion: %w", err)
	}

	content, confidence := parseReply(resp.Text)
	answer := models.ExpertAnswer{
		ID:         uuid.New().String()[:8],
		QueryID:    query.ID,
		Content:    content,
		Confidence: confidence,
		Model:      a.model,
		CreatedAt:  time.Now(),
	}
	usage := Usage{
		Model:        a.model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	return answer, usage, nil
}

func (a *Agent) systemPrompt(category string) string {
	var sb strings.Builder
	sb.WriteString("You are a senior engineer unblocking a junior teammate. ")
	sb.WriteString("Answer their question directly and concretely. ")
	sb.WriteString("End your reply with a line of the form 'Confidence: 0.NN' estimating how likely your answer resolves their problem.")

	if a.context != nil {
		learned, err := a.context.GetContext(category)
		if err == nil && learned != "" {
			sb.WriteString("\n\n")
			sb.WriteString(learned)
		}
	}
	return sb.String()
}

func (a *Agent) userPrompt(query models.ExpertQuery) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue type: %s (urgency %.2f)\n\n", query.Issue, query.Urgency)
	if query.Context != "" {
		fmt.Fprintf(&sb, "Situation:\n%s\n", query.Context)
	}
	fmt.Fprintf(&sb, "Question: %s\n", query.Question)
	return sb.String()
}

var confidenceLine = regexp.MustCompile(`(?i)confidence:\s*([01](?:\.\d+)?)\s*$`)

// parseReply strips the trailing confidence line from a reply and returns
// the remaining content with the parsed confidence, clamped to [0,1].
func parseReply(text string) (content string, confidence float64) {
	confidence = DefaultConfidence
	trimmed := strings.TrimSpace(text)

	if m := confidenceLine.FindStringSubmatch(trimmed); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = v
			if confidence < 0 {
				confidence = 0
			}
			if confidence > 1 {
				confidence = 1
			}
		}
		trimmed = strings.TrimSpace(trimmed[:len(trimmed)-len(m[0])])
	}
	return trimmed, confidence
}
