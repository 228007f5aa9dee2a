package breaker

import "time"

// Config holds the thresholds for a standard bank. Zero values select the
// per-breaker defaults.
type Config struct {
	// ConsecutiveFailures is the expert failure run length.
	ConsecutiveFailures int `mapstructure:"consecutive_failures"`
	// RepetitionMinDistinct is the minimum distinct signatures in the window.
	RepetitionMinDistinct int `mapstructure:"repetition_min_distinct"`
	// CostSpikeMultiplier is the allowed multiple of the cost-rate baseline.
	CostSpikeMultiplier float64 `mapstructure:"cost_spike_multiplier"`
	// TimeBudgetMinutes is the session ceiling in minutes.
	TimeBudgetMinutes int `mapstructure:"time_budget_minutes"`
	// NoProgressMinutes is the per-worker sustained-stall window.
	NoProgressMinutes float64 `mapstructure:"no_progress_minutes"`
	// StuckThreshold is the stuck-fraction threshold.
	StuckThreshold float64 `mapstructure:"stuck_threshold"`
}

// Bank owns one instance of every breaker for a session and fans
// observations out to all of them.
type Bank struct {
	breakers []Breaker
}

// NewBank creates a bank with the six standard breakers.
func NewBank(cfg Config) *Bank {
	return &Bank{breakers: []Breaker{
		NewConsecutiveFailure(cfg.ConsecutiveFailures),
		NewRepetition(cfg.RepetitionMinDistinct),
		NewCostSpike(cfg.CostSpikeMultiplier),
		NewTimeBudget(time.Duration(cfg.TimeBudgetMinutes) * time.Minute),
		NewNoProgress(cfg.NoProgressMinutes),
		NewStuckPercentage(cfg.StuckThreshold),
	}}
}

// Record fans an observation out to every breaker.
func (b *Bank) Record(obs Observation) {
	for _, br := range b.breakers {
		br.RecordObservation(obs)
	}
}

// Tripped returns all pending trips, in breaker order.
func (b *Bank) Tripped() []*Trip {
	var trips []*Trip
	for _, br := range b.breakers {
		if t := br.CheckTripped(); t != nil {
			trips = append(trips, t)
		}
	}
	return trips
}

// Reset re-arms the named breaker. Unknown names are a no-op.
func (b *Bank) Reset(name string) {
	for _, br := range b.breakers {
		if br.Name() == name {
			br.Reset()
			return
		}
	}
}

// ResetAll re-arms every breaker.
func (b *Bank) ResetAll() {
	for _, br := range b.breakers {
		br.Reset()
	}
}

// Breakers exposes the underlying breakers for status reporting.
func (b *Bank) Breakers() []Breaker {
	return b.breakers
}
