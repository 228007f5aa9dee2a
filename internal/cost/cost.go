// Package cost tracks per-category spend against a session budget and
// answers admission-control queries before billable operations run.
package cost

import (
	"errors"
	"sync"
	"time"
)

// Category is a spend category tracked against its own limit.
type Category string

const (
	// CategoryWorkers covers worker LLM calls.
	CategoryWorkers Category = "workers"
	// CategoryExpert covers expert LLM calls.
	CategoryExpert Category = "expert"
	// CategoryValidation covers output validation.
	CategoryValidation Category = "validation"
	// CategoryEmbeddings covers embedding calls for the retrieval cache.
	CategoryEmbeddings Category = "embeddings"
)

// Verdict is the result of a budget check, ordered most severe first.
type Verdict int

const (
	// VerdictOK indicates spending can continue normally.
	VerdictOK Verdict = iota
	// VerdictWarnBuffer indicates remaining budget is below the buffer.
	VerdictWarnBuffer
	// VerdictWarnCategory indicates the worker category limit is exceeded;
	// execution continues degraded.
	VerdictWarnCategory
	// VerdictExpertDepleted indicates the expert category limit is exceeded.
	VerdictExpertDepleted
	// VerdictTotalExceeded indicates the total ceiling is exceeded.
	VerdictTotalExceeded
)

// String returns a human-readable representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "OK"
	case VerdictWarnBuffer:
		return "WARN_BUFFER"
	case VerdictWarnCategory:
		return "WARN_CATEGORY"
	case VerdictExpertDepleted:
		return "EXPERT_DEPLETED"
	case VerdictTotalExceeded:
		return "TOTAL_EXCEEDED"
	default:
		return "Unknown"
	}
}

// ErrBudgetExceeded is returned by callers that translate a blocking
// verdict into a hard stop. The controller itself never returns it; the
// session loop decides continuation.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Budget holds the configured limits for a session.
type Budget struct {
	// TotalUSD is the total session ceiling.
	TotalUSD float64 `mapstructure:"total_usd"`
	// WorkerLimitUSD is the worker-category limit.
	WorkerLimitUSD float64 `mapstructure:"worker_limit_usd"`
	// ExpertLimitUSD is the expert-category limit.
	ExpertLimitUSD float64 `mapstructure:"expert_limit_usd"`
	// ValidationLimitUSD is the validation-category limit.
	ValidationLimitUSD float64 `mapstructure:"validation_limit_usd"`
	// BufferUSD is the reserve below which a warning is raised.
	BufferUSD float64 `mapstructure:"buffer_usd"`
}

// DefaultBudget returns the product-default budget split.
func DefaultBudget() Budget {
	return Budget{
		TotalUSD:           50.00,
		WorkerLimitUSD:     30.00,
		ExpertLimitUSD:     15.00,
		ValidationLimitUSD: 3.00,
		BufferUSD:          2.00,
	}
}

// Entry is one billable operation in the audit trail.
type Entry struct {
	// Timestamp is when the spend was recorded.
	Timestamp time.Time
	// Category is the spend category.
	Category Category
	// Model is the model billed, if the spend was an LLM call.
	Model string
	// TokensIn is the input token count for LLM calls.
	TokensIn int
	// TokensOut is the output token count for LLM calls.
	TokensOut int
	// AmountUSD is the cost in dollars.
	AmountUSD float64
}

// Controller tracks spend per category with a single mutual-exclusion
// boundary around the running totals, so recording from concurrently
// executing workers is atomic and checks read a consistent snapshot.
type Controller struct {
	mu      sync.Mutex
	budget  Budget
	pricing *Pricing
	spent   map[Category]float64
	entries []Entry
}

// NewController creates a Controller with the given budget. A nil pricing
// table falls back to the defaults.
func NewController(budget Budget, pricing *Pricing) *Controller {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Controller{
		budget:  budget,
		pricing: pricing,
		spent:   make(map[Category]float64),
	}
}

// RecordSpend adds to a category's running total. It never fails: the
// spending already happened.
func (c *Controller) RecordSpend(cat Category, amountUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.spent[cat] += amountUSD
	c.entries = append(c.entries, Entry{
		Timestamp: time.Now(),
		Category:  cat,
		AmountUSD: amountUSD,
	})
}

// TrackLLMCall prices an LLM call from the pricing table and records the
// spend. Returns the cost in USD.
func (c *Controller) TrackLLMCall(cat Category, model string, tokensIn, tokensOut int) float64 {
	amount := c.pricing.Cost(model, tokensIn, tokensOut)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.spent[cat] += amount
	c.entries = append(c.entries, Entry{
		Timestamp: time.Now(),
		Category:  cat,
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		AmountUSD: amount,
	})
	return amount
}

// CheckBudget reports whether spending can continue, with the most severe
// applicable verdict:
//  1. total spent over ceiling: (false, TOTAL_EXCEEDED, 0)
//  2. expert spend over expert limit: (false, EXPERT_DEPLETED, remaining)
//  3. worker spend over worker limit: (true, WARN_CATEGORY, remaining)
//  4. remaining under buffer: (true, WARN_BUFFER, remaining)
//  5. otherwise: (true, OK, remaining)
func (c *Controller) CheckBudget() (canContinue bool, verdict Verdict, remainingUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0.0
	for _, amount := range c.spent {
		total += amount
	}
	remaining := c.budget.TotalUSD - total

	if total > c.budget.TotalUSD {
		return false, VerdictTotalExceeded, 0
	}
	if c.spent[CategoryExpert] > c.budget.ExpertLimitUSD {
		return false, VerdictExpertDepleted, remaining
	}
	if c.spent[CategoryWorkers] > c.budget.WorkerLimitUSD {
		return true, VerdictWarnCategory, remaining
	}
	if remaining < c.budget.BufferUSD {
		return true, VerdictWarnBuffer, remaining
	}
	return true, VerdictOK, remaining
}

// Recommendation is an advisory cost-saving suggestion. It never mutates
// state or blocks execution.
type Recommendation string

const (
	// RecommendNone indicates no action is needed.
	RecommendNone Recommendation = "no action needed"
	// RecommendDowngradeWorkers suggests switching workers to cheaper models.
	RecommendDowngradeWorkers Recommendation = "switch workers to cheaper models"
	// RecommendReduceEscalations suggests reducing arbiter sensitivity.
	RecommendReduceEscalations Recommendation = "reduce arbiter sensitivity to decrease escalations"
)

// Recommend suggests a cost-saving measure based on category spend ratios.
func (c *Controller) Recommend() Recommendation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.budget.ExpertLimitUSD > 0 && c.spent[CategoryExpert] >= c.budget.ExpertLimitUSD*0.8 {
		return RecommendDowngradeWorkers
	}
	if c.budget.WorkerLimitUSD > 0 && c.spent[CategoryWorkers] >= c.budget.WorkerLimitUSD*0.7 {
		return RecommendReduceEscalations
	}
	return RecommendNone
}

// Spent returns the running total for one category.
func (c *Controller) Spent(cat Category) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spent[cat]
}

// TotalSpent returns the total across all categories.
func (c *Controller) TotalSpent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0.0
	for _, amount := range c.spent {
		total += amount
	}
	return total
}

// Entries returns a copy of the audit trail.
func (c *Controller) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}
