package breaker

import (
	"fmt"
	"sync"
	"time"
)

// ConsecutiveFailure trips after N consecutive expert answers fail to
// resolve their worker's issue. Unlike the other breakers, a single success
// resets its counter.
type ConsecutiveFailure struct {
	mu        sync.Mutex
	threshold int
	failures  int
	trip      *Trip
}

// DefaultConsecutiveFailureThreshold is the default failure run length.
const DefaultConsecutiveFailureThreshold = 5

// NewConsecutiveFailure creates the breaker; threshold <= 0 uses the default.
func NewConsecutiveFailure(threshold int) *ConsecutiveFailure {
	if threshold <= 0 {
		threshold = DefaultConsecutiveFailureThreshold
	}
	return &ConsecutiveFailure{threshold: threshold}
}

// Name implements Breaker.
func (b *ConsecutiveFailure) Name() string { return "consecutive_failure" }

// RecordObservation implements Breaker. Observations without an
// ExpertAnswerResolved signal are ignored.
func (b *ConsecutiveFailure) RecordObservation(obs Observation) {
	if obs.ExpertAnswerResolved == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trip != nil {
		return
	}

	if *obs.ExpertAnswerResolved {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip = &Trip{
			Breaker: b.Name(),
			Action:  ActionPauseAndAlert,
			Reason:  fmt.Sprintf("%d consecutive expert answers failed to resolve - possible systematic problem", b.failures),
		}
	}
}

// CheckTripped implements Breaker.
func (b *ConsecutiveFailure) CheckTripped() *Trip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trip
}

// Reset implements Breaker.
func (b *ConsecutiveFailure) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trip = nil
}

// Repetition trips when a worker's recent action window collapses to fewer
// than minDistinct distinct signatures.
type Repetition struct {
	mu          sync.Mutex
	minDistinct int
	window      int
	trip        *Trip
}

// NewRepetition creates the breaker with the standard 10-action window;
// minDistinct <= 0 uses the default of 3.
func NewRepetition(minDistinct int) *Repetition {
	if minDistinct <= 0 {
		minDistinct = 3
	}
	return &Repetition{minDistinct: minDistinct, window: 10}
}

// Name implements Breaker.
func (b *Repetition) Name() string { return "repetition" }

// RecordObservation implements Breaker. Observations with an empty
// signature list are ignored.
func (b *Repetition) RecordObservation(obs Observation) {
	if len(obs.ActionSignatures) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trip != nil {
		return
	}

	sigs := obs.ActionSignatures
	if len(sigs) > b.window {
		sigs = sigs[len(sigs)-b.window:]
	}
	if len(sigs) < b.window {
		// Too little history to judge.
		return
	}

	distinct := make(map[string]struct{}, len(sigs))
	for _, s := range sigs {
		distinct[s] = struct{}{}
	}
	if len(distinct) < b.minDistinct {
		b.trip = &Trip{
			Breaker:  b.Name(),
			Action:   ActionResetWorker,
			Reason:   fmt.Sprintf("worker stuck in repetition loop (%d unique actions in last %d)", len(distinct), len(sigs)),
			WorkerID: obs.WorkerID,
		}
	}
}

// CheckTripped implements Breaker.
func (b *Repetition) CheckTripped() *Trip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trip
}

// Reset implements Breaker.
func (b *Repetition) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip = nil
}

// CostSpike trips when the spend rate exceeds a learned baseline by more
// than a configured multiplier. The baseline is set lazily on the first
// observation.
type CostSpike struct {
	mu         sync.Mutex
	multiplier float64
	baseline   float64
	hasBase    bool
	trip       *Trip
}

// NewCostSpike creates the breaker; multiplier <= 0 uses the default 2.0.
func NewCostSpike(multiplier float64) *CostSpike {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return &CostSpike{multiplier: multiplier}
}

// Name implements Breaker.
func (b *CostSpike) Name() string { return "cost_spike" }

// RecordObservation implements Breaker. Observations with a zero cost rate
// are ignored.
func (b *CostSpike) RecordObservation(obs Observation) {
	if obs.CostRate <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trip != nil {
		return
	}

	if !b.hasBase {
		b.baseline = obs.CostRate
		b.hasBase = true
		return
	}
	if obs.CostRate > b.baseline*b.multiplier {
		b.trip = &Trip{
			Breaker: b.Name(),
			Action:  ActionThrottle,
			Reason:  fmt.Sprintf("cost spike detected: %.2fx baseline", obs.CostRate/b.baseline),
		}
	}
}

// CheckTripped implements Breaker.
func (b *CostSpike) CheckTripped() *Trip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trip
}

// Reset implements Breaker. The learned baseline survives the reset.
func (b *CostSpike) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip = nil
}

// TimeBudget trips when elapsed session time exceeds a ceiling.
type TimeBudget struct {
	mu      sync.Mutex
	ceiling time.Duration
	trip    *Trip
}

// DefaultTimeBudget is the default session ceiling.
const DefaultTimeBudget = 60 * time.Minute

// NewTimeBudget creates the breaker; ceiling <= 0 uses the default.
func NewTimeBudget(ceiling time.Duration) *TimeBudget {
	if ceiling <= 0 {
		ceiling = DefaultTimeBudget
	}
	return &TimeBudget{ceiling: ceiling}
}

// Name implements Breaker.
func (b *TimeBudget) Name() string { return "time_budget" }

// RecordObservation implements Breaker.
func (b *TimeBudget) RecordObservation(obs Observation) {
	if obs.Elapsed <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trip != nil {
		return
	}

	if obs.Elapsed > b.ceiling {
		b.trip = &Trip{
			Breaker: b.Name(),
			Action:  ActionSkipToReport,
			Reason:  fmt.Sprintf("session exceeded %s limit", b.ceiling),
		}
	}
}

// CheckTripped implements Breaker.
func (b *TimeBudget) CheckTripped() *Trip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trip
}

// Reset implements Breaker.
func (b *TimeBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip = nil
}

// NoProgress trips when a worker has shown zero progress for a sustained
// window.
type NoProgress struct {
	mu      sync.Mutex
	minutes float64
	trip    *Trip
}

// DefaultNoProgressMinutes is the default sustained-stall window.
const DefaultNoProgressMinutes = 15.0

// NewNoProgress creates the breaker; minutes <= 0 uses the default.
func NewNoProgress(minutes float64) *NoProgress {
	if minutes <= 0 {
		minutes = DefaultNoProgressMinutes
	}
	return &NoProgress{minutes: minutes}
}

// Name implements Breaker.
func (b *NoProgress) Name() string { return "no_progress" }

// RecordObservation implements Breaker.
func (b *NoProgress) RecordObservation(obs Observation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trip != nil {
		return
	}

	if obs.MinutesWithoutProgress > b.minutes {
		b.trip = &Trip{
			Breaker:  b.Name(),
			Action:   ActionEscalateToHuman,
			Reason:   fmt.Sprintf("no progress for %.0f minutes", obs.MinutesWithoutProgress),
			WorkerID: obs.WorkerID,
		}
	}
}

// CheckTripped implements Breaker.
func (b *NoProgress) CheckTripped() *Trip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trip
}

// Reset implements Breaker.
func (b *NoProgress) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip = nil
}

// StuckPercentage trips when the fraction of workers simultaneously stuck
// exceeds a threshold.
type StuckPercentage struct {
	mu        sync.Mutex
	threshold float64
	trip      *Trip
}

// DefaultStuckThreshold is the default stuck-fraction threshold.
const DefaultStuckThreshold = 0.9

// NewStuckPercentage creates the breaker; threshold <= 0 uses the default.
func NewStuckPercentage(threshold float64) *StuckPercentage {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return &StuckPercentage{threshold: threshold}
}

// Name implements Breaker.
func (b *StuckPercentage) Name() string { return "stuck_percentage" }

// RecordObservation implements Breaker.
func (b *StuckPercentage) RecordObservation(obs Observation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trip != nil {
		return
	}

	if obs.StuckFraction > b.threshold {
		b.trip = &Trip{
			Breaker: b.Name(),
			Action:  ActionPauseAndAlert,
			Reason:  fmt.Sprintf("%.0f%% of workers are stuck", obs.StuckFraction*100),
		}
	}
}

// CheckTripped implements Breaker.
func (b *StuckPercentage) CheckTripped() *Trip {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trip
}

// Reset implements Breaker.
func (b *StuckPercentage) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trip = nil
}
