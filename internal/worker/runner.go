// Package worker implements the LLM-backed worker runner: each worker
// holds a rolling conversation with its own model and advances one
// structured step per call. The session loop owns the schedule; this
// package only turns "take a step" into a completion call and folds the
// reply back into the worker's state.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/piedpiper/internal/cost"
	"github.com/ShayCichocki/piedpiper/internal/llm"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// maxConversationTurns bounds the rolling conversation per worker; older
// turns fall off so long sessions don't grow the prompt without bound.
const maxConversationTurns = 20

// Runner drives workers through their models. Safe for concurrent use:
// the session runs one goroutine per worker, each touching only its own
// conversation, but the map itself is shared.
type Runner struct {
	completer llm.Completer
	pricing   *cost.Pricing

	mu           sync.Mutex
	convos       map[string][]llm.Message
	lastProgress map[string]time.Time
}

// NewRunner creates a runner over the given completion client. A nil
// pricing table falls back to the defaults.
func NewRunner(completer llm.Completer, pricing *cost.Pricing) *Runner {
	if pricing == nil {
		pricing = cost.DefaultPricing()
	}
	return &Runner{
		completer:    completer,
		pricing:      pricing,
		convos:       make(map[string][]llm.Message),
		lastProgress: make(map[string]time.Time),
	}
}

// ExecuteStep advances one worker a single step: one completion call on
// the worker's own model, parsed into an action record. Returns the
// billable cost of the call.
func (r *Runner) ExecuteStep(ctx context.Context, ws *models.WorkerState) (float64, error) {
	prompt := "Take your next step. Report it in the required format."
	if len(r.conversation(ws.Config.ID)) == 0 {
		prompt = assignmentPrompt(ws)
	}
	r.appendMessage(ws.Config.ID, llm.Message{Role: llm.RoleUser, Content: prompt})

	resp, err := r.completer.Complete(ctx, llm.Request{
		Model:     ws.Config.Model,
		System:    systemPrompt(ws.Config.Expertise),
		Messages:  r.conversation(ws.Config.ID),
		MaxTokens: 2048,
	})
	if err != nil {
		return 0, fmt.Errorf("worker %s step: %w", ws.Config.ID, err)
	}
	r.appendMessage(ws.Config.ID, llm.Message{Role: llm.RoleAssistant, Content: resp.Text})

	stepCost := r.pricing.Cost(ws.Config.Model, int(resp.InputTokens), int(resp.OutputTokens))

	step := parseStep(resp.Text)
	ws.RecordAction(step.action)
	if step.confidenceSeen {
		ws.Confidence = step.confidence
	}
	if step.done {
		ws.Completed = true
		ws.Output = step.output
	}

	r.observeProgress(ws, !step.action.Failed() || step.done)
	return stepCost, nil
}

// ApplyExpertAnswer injects expert guidance into the worker's
// conversation. The next step consumes it; no completion call happens
// here, so the cost is zero.
func (r *Runner) ApplyExpertAnswer(_ context.Context, ws *models.WorkerState, answer models.ExpertAnswer) (float64, error) {
	r.appendMessage(ws.Config.ID, llm.Message{
		Role:    llm.RoleUser,
		Content: "A senior engineer reviewed your situation and advises:\n\n" + answer.Content + "\n\nApply this guidance on your next step.",
	})
	r.observeProgress(ws, true)
	return 0, nil
}

func (r *Runner) conversation(workerID string) []llm.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.convos[workerID]
}

func (r *Runner) appendMessage(workerID string, msg llm.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	convo := append(r.convos[workerID], msg)
	if len(convo) > maxConversationTurns {
		// Keep the opening assignment so the worker never loses its task.
		head := convo[:1]
		tail := convo[len(convo)-(maxConversationTurns-1):]
		convo = append(append([]llm.Message{}, head...), tail...)
	}
	r.convos[workerID] = convo
}

// observeProgress maintains the worker's no-progress clock: productive
// steps reset it, failed steps let it run.
func (r *Runner) observeProgress(ws *models.WorkerState, productive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	last, ok := r.lastProgress[ws.Config.ID]
	if !ok || productive {
		r.lastProgress[ws.Config.ID] = now
		ws.MinutesWithoutProgress = 0
		return
	}
	ws.MinutesWithoutProgress = now.Sub(last).Minutes()
}

func systemPrompt(tier models.Expertise) string {
	var sb strings.Builder
	sb.WriteString("You are a ")
	sb.WriteString(string(tier))
	sb.WriteString(" software engineer working through an assigned subtask one step at a time.\n\n")
	sb.WriteString("Every reply must use this format:\n")
	sb.WriteString("ACTION: <type> - <what you did this step>\n")
	sb.WriteString("RESULT: <what happened, or 'ERROR: <message>' if it failed>\n")
	sb.WriteString("CONFIDENCE: <0.0-1.0, how confident you are in your current approach>\n")
	sb.WriteString("STATUS: <WORKING or DONE>\n\n")
	sb.WriteString("When STATUS is DONE, follow it with:\n")
	sb.WriteString("OUTPUT:\n<your complete final deliverable>\n")
	return sb.String()
}

func assignmentPrompt(ws *models.WorkerState) string {
	return fmt.Sprintf("Your subtask:\n\n%s\n\nTake your first step. Report it in the required format.", ws.Subtask)
}

// parsedStep is one decoded worker reply.
type parsedStep struct {
	action         models.WorkerAction
	confidence     float64
	confidenceSeen bool
	done           bool
	output         string
}

// parseStep decodes the line-oriented step report. Replies that ignore
// the format entirely become a generic non-failing action, so a chatty
// model degrades gracefully instead of erroring the step.
func parseStep(text string) parsedStep {
	step := parsedStep{
		action: models.WorkerAction{
			Timestamp:   time.Now(),
			Type:        "step",
			Description: firstLine(text),
		},
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "ACTION:"):
			body := strings.TrimSpace(strings.TrimPrefix(trimmed, "ACTION:"))
			if typ, desc, ok := strings.Cut(body, " - "); ok {
				step.action.Type = strings.TrimSpace(typ)
				step.action.Description = strings.TrimSpace(desc)
			} else {
				step.action.Description = body
			}

		case strings.HasPrefix(trimmed, "RESULT:"):
			body := strings.TrimSpace(strings.TrimPrefix(trimmed, "RESULT:"))
			if msg, ok := strings.CutPrefix(body, "ERROR:"); ok {
				step.action.Error = strings.TrimSpace(msg)
			} else {
				step.action.Result = body
			}

		case strings.HasPrefix(trimmed, "CONFIDENCE:"):
			raw := strings.TrimSpace(strings.TrimPrefix(trimmed, "CONFIDENCE:"))
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				step.confidence = clamp(v)
				step.confidenceSeen = true
			}

		case strings.HasPrefix(trimmed, "STATUS:"):
			status := strings.TrimSpace(strings.TrimPrefix(trimmed, "STATUS:"))
			step.done = strings.EqualFold(status, "DONE")

		case strings.HasPrefix(trimmed, "OUTPUT:"):
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "OUTPUT:"))
			remainder := strings.Join(lines[i+1:], "\n")
			step.output = strings.TrimSpace(rest + "\n" + remainder)
			return step
		}
	}
	return step
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
