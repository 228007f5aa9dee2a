// Package validation scores a completed worker's output against its
// subtask. The session consults it after workers finish; results land in
// the final report and never block completion on their own.
package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/piedpiper/internal/llm"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// Validator reviews worker output with an LLM judge.
type Validator struct {
	completer llm.Completer
	model     string
}

// Option configures a Validator.
type Option func(*Validator)

// WithModel sets the judge model.
func WithModel(model string) Option {
	return func(v *Validator) { v.model = model }
}

// New creates a validator over the given completion client.
func New(completer llm.Completer, opts ...Option) *Validator {
	v := &Validator{completer: completer}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate scores one worker's output. Workers that produced no output
// fail without consulting the judge.
func (v *Validator) Validate(ctx context.Context, ws *models.WorkerState) (models.ValidationResult, error) {
	result := models.ValidationResult{WorkerID: ws.Config.ID}

	if strings.TrimSpace(ws.Output) == "" {
		result.Errors = []string{"worker produced no output"}
		return result, nil
	}

	resp, err := v.completer.Complete(ctx, llm.Request{
		Model:     v.model,
		System:    judgeSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: buildJudgePrompt(ws)}},
		MaxTokens: 1024,
	})
	if err != nil {
		return result, fmt.Errorf("validation completion: %w", err)
	}

	passed, score, errs := parseJudgeResponse(resp.Text)
	result.Passed = passed
	result.Score = score
	result.Errors = errs
	return result, nil
}

const judgeSystemPrompt = "You are reviewing whether a worker's output fulfills its assigned subtask. " +
	"Be strict but fair: PASS only if the output truly addresses the subtask."

// buildJudgePrompt constructs the review prompt for one worker.
func buildJudgePrompt(ws *models.WorkerState) string {
	var sb strings.Builder

	sb.WriteString("## Subtask\n\n")
	sb.WriteString(ws.Subtask)
	sb.WriteString("\n\n## Output\n\n```\n")
	sb.WriteString(ws.Output)
	sb.WriteString("\n```\n\n")

	sb.WriteString("Respond in the following format:\n\n")
	sb.WriteString("VERDICT: [PASS/FAIL]\n")
	sb.WriteString("SCORE: [0.0-1.0 quality score]\n")
	sb.WriteString("ERRORS: [semicolon-separated list of problems, or 'None']\n")

	return sb.String()
}

// parseJudgeResponse parses the judge's line-oriented reply. Missing
// fields fall back conservatively: an absent verdict fails, an absent
// score follows the verdict.
func parseJudgeResponse(response string) (passed bool, score float64, errs []string) {
	scoreSeen := false

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "VERDICT:"):
			verdict := strings.TrimSpace(strings.TrimPrefix(line, "VERDICT:"))
			passed = strings.EqualFold(verdict, "PASS")
		case strings.HasPrefix(line, "SCORE:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "SCORE:"))
			if s, err := strconv.ParseFloat(raw, 64); err == nil {
				score = clamp(s)
				scoreSeen = true
			}
		case strings.HasPrefix(line, "ERRORS:"):
			list := strings.TrimSpace(strings.TrimPrefix(line, "ERRORS:"))
			if list != "" && !strings.EqualFold(list, "none") {
				for _, e := range strings.Split(list, ";") {
					if e = strings.TrimSpace(e); e != "" {
						errs = append(errs, e)
					}
				}
			}
		}
	}

	if !scoreSeen {
		if passed {
			score = 1.0
		} else {
			score = 0.0
		}
	}
	return passed, score, errs
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
