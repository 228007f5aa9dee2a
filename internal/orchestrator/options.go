package orchestrator

import (
	"github.com/ShayCichocki/piedpiper/internal/arbiter"
	"github.com/ShayCichocki/piedpiper/internal/breaker"
	"github.com/ShayCichocki/piedpiper/internal/cache"
	"github.com/ShayCichocki/piedpiper/internal/cost"
	"github.com/ShayCichocki/piedpiper/internal/learning"
	"github.com/ShayCichocki/piedpiper/internal/review"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// Session loop defaults.
const (
	// DefaultMaxSteps bounds each worker's execution steps.
	DefaultMaxSteps = 50
	// DefaultSearchTopK is how many cache candidates a search returns.
	DefaultSearchTopK = 5
	// DefaultCacheHitScore is the fused score a top candidate needs to be
	// served as a hit. A record ranked first by both strategies scores
	// about 0.033; one strategy alone tops out near 0.017.
	DefaultCacheHitScore = 0.03
	// DefaultEmbedCostUSD is the flat per-call embedding spend estimate.
	DefaultEmbedCostUSD = 0.0001
	// DefaultValidationCostUSD is the flat per-worker validation spend
	// estimate.
	DefaultValidationCostUSD = 0.05
)

// Option configures a Session.
type Option func(*Session)

// WithWorkers overrides the default three-worker roster.
func WithWorkers(configs []models.WorkerConfig) Option {
	return func(s *Session) { s.workerConfigs = configs }
}

// WithBudget sets the session budget.
func WithBudget(b cost.Budget) Option {
	return func(s *Session) { s.budgetCfg = b }
}

// WithPricing sets the model pricing table used for spend tracking.
func WithPricing(p *cost.Pricing) Option {
	return func(s *Session) { s.pricing = p }
}

// WithBreakers sets breaker thresholds.
func WithBreakers(cfg breaker.Config) Option {
	return func(s *Session) { s.breakers = breaker.NewBank(cfg) }
}

// WithArbiter replaces the default arbiter.
func WithArbiter(a *arbiter.Arbiter) Option {
	return func(s *Session) { s.arbiter = a }
}

// WithCache wires in the hybrid retrieval cache. Without it, every
// escalation goes to review and the expert.
func WithCache(c *cache.Hybrid) Option {
	return func(s *Session) { s.cache = c }
}

// WithTracker wires in the effectiveness learner.
func WithTracker(t *learning.Tracker) Option {
	return func(s *Session) { s.tracker = t }
}

// WithReviewQueue replaces the session-owned review queue, letting an
// external surface (CLI, HTTP) serve decisions.
func WithReviewQueue(q *review.Queue) Option {
	return func(s *Session) { s.reviews = q }
}

// WithValidator wires in the output validation collaborator.
func WithValidator(v Validator) Option {
	return func(s *Session) { s.validator = v }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMaxSteps bounds each worker's execution steps.
func WithMaxSteps(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

// WithCacheHitScore overrides the fused score needed to serve a cache hit.
func WithCacheHitScore(min float64) Option {
	return func(s *Session) {
		if min > 0 {
			s.cacheHitScore = min
		}
	}
}
