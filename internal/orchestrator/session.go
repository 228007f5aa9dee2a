package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/piedpiper/internal/arbiter"
	"github.com/ShayCichocki/piedpiper/internal/breaker"
	"github.com/ShayCichocki/piedpiper/internal/cache"
	"github.com/ShayCichocki/piedpiper/internal/cost"
	"github.com/ShayCichocki/piedpiper/internal/expert"
	"github.com/ShayCichocki/piedpiper/internal/learning"
	"github.com/ShayCichocki/piedpiper/internal/review"
	"github.com/ShayCichocki/piedpiper/pkg/models"
)

// WorkerRunner is the worker execution collaborator. It advances a worker
// one step at a time, mutating the worker state in place, and reports the
// billable cost of each call.
type WorkerRunner interface {
	ExecuteStep(ctx context.Context, ws *models.WorkerState) (costUSD float64, err error)
	ApplyExpertAnswer(ctx context.Context, ws *models.WorkerState, answer models.ExpertAnswer) (costUSD float64, err error)
}

// Validator is the output validation collaborator, consulted after workers
// complete.
type Validator interface {
	Validate(ctx context.Context, ws *models.WorkerState) (models.ValidationResult, error)
}

// ExpertAgent answers escalated queries. Implemented by expert.Agent.
type ExpertAgent interface {
	Answer(ctx context.Context, query models.ExpertQuery) (models.ExpertAnswer, expert.Usage, error)
}

// Session owns one run of the control loop: N workers advancing in
// parallel, a shared budget, a shared breaker bank, and the
// escalate→cache→review→expert→learn pipeline.
type Session struct {
	id     string
	task   string
	runner WorkerRunner
	expert ExpertAgent

	workerConfigs []models.WorkerConfig
	states        []*models.WorkerState

	arbiter   *arbiter.Arbiter
	budgetCfg cost.Budget
	budget    *cost.Controller
	pricing   *cost.Pricing
	breakers  *breaker.Bank
	cache     *cache.Hybrid
	tracker   *learning.Tracker
	reviews   *review.Queue
	validator Validator
	logger    *DebugLogger

	maxSteps      int
	cacheHitScore float64

	events    chan Event
	startedAt time.Time

	mu          sync.Mutex
	failReason  string
	earlyStop   bool
	throttled   bool
	escalations int
	cacheHits   int
	perWorker   map[string]int
	stuck       map[string]bool
}

// pendingEval is an expert answer awaiting its real outcome.
type pendingEval struct {
	answerID   string
	answeredAt time.Time
	followUps  []string
}

// New creates a session for the given task. The runner and expert agent
// are required collaborators; everything else has a default or is
// optional.
func New(task string, runner WorkerRunner, expertAgent ExpertAgent, opts ...Option) *Session {
	s := &Session{
		id:            uuid.New().String()[:8],
		task:          task,
		runner:        runner,
		expert:        expertAgent,
		workerConfigs: models.DefaultWorkers(),
		arbiter:       arbiter.New(),
		budgetCfg:     cost.DefaultBudget(),
		pricing:       cost.DefaultPricing(),
		breakers:      breaker.NewBank(breaker.Config{}),
		reviews:       review.NewQueue(),
		logger:        NopLogger(),
		maxSteps:      DefaultMaxSteps,
		cacheHitScore: DefaultCacheHitScore,
		events:        make(chan Event, 256),
		perWorker:     make(map[string]int),
		stuck:         make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.budget = cost.NewController(s.budgetCfg, s.pricing)
	return s
}

// Budget exposes the spend controller for status surfaces.
func (s *Session) Budget() *cost.Controller { return s.budget }

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Events returns the session's event stream. The channel is closed when
// Run returns.
func (s *Session) Events() <-chan Event { return s.events }

// Reviews returns the session's review queue so an external surface can
// serve pending decisions.
func (s *Session) Reviews() *review.Queue { return s.reviews }

// Run drives the session to a terminal state and returns the report. The
// returned error is non-nil only for setup failures; domain failures
// (budget, breakers) are reported through the structured status instead.
func (s *Session) Run(ctx context.Context) (models.SessionReport, error) {
	if s.runner == nil || s.expert == nil {
		return models.SessionReport{}, errors.New("session requires a worker runner and an expert agent")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.events)

	s.startedAt = time.Now()
	s.states = make([]*models.WorkerState, len(s.workerConfigs))
	for i, cfg := range s.workerConfigs {
		ws := models.NewWorkerState(cfg)
		ws.Subtask = s.task
		s.states[i] = ws
	}
	s.emit(Event{Type: EventSessionStarted, Message: s.task})
	s.logger.Log("session %s started with %d workers: %s", s.id, len(s.states), s.task)

	var wg sync.WaitGroup
	for _, ws := range s.states {
		wg.Add(1)
		go func(ws *models.WorkerState) {
			defer wg.Done()
			s.runWorker(ctx, cancel, ws)
		}(ws)
	}
	wg.Wait()

	return s.finalize(ctx), nil
}

// runWorker advances one worker until it completes, the session stops, or
// the step budget runs out. Escalations block this worker only.
func (s *Session) runWorker(ctx context.Context, cancel context.CancelFunc, ws *models.WorkerState) {
	var pending []*pendingEval

	defer func() {
		s.settlePending(pending, ws.Completed)
	}()

	for step := 0; step < s.maxSteps; step++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.checkBudget(cancel) {
			return
		}

		stepCost, err := s.runner.ExecuteStep(ctx, ws)
		if stepCost > 0 {
			s.budget.RecordSpend(cost.CategoryWorkers, stepCost)
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ws.RecordError(err.Error())
			s.logger.Log("worker %s step %d failed: %v", ws.Config.ID, step, err)
		}
		s.emit(Event{Type: EventWorkerStep, WorkerID: ws.Config.ID, Cost: s.budget.TotalSpent()})

		if stopWorker, stopSession := s.observeBreakers(cancel, ws); stopSession {
			return
		} else if stopWorker {
			s.emit(Event{Type: EventWorkerAbandoned, WorkerID: ws.Config.ID})
			return
		}

		if ws.Completed {
			s.emit(Event{Type: EventWorkerCompleted, WorkerID: ws.Config.ID})
			s.logger.Log("worker %s completed after %d steps", ws.Config.ID, step+1)
			return
		}

		decision := s.currentArbiter().ShouldEscalate(ws)
		if !decision.Escalate {
			s.setStuck(ws, false)
			continue
		}

		s.setStuck(ws, true)
		query := s.arbiter.BuildQuery(ws, decision)
		s.noteEscalation(ws.Config.ID)
		for _, p := range pending {
			p.followUps = append(p.followUps, query.Question)
		}
		s.emit(Event{Type: EventEscalation, WorkerID: ws.Config.ID, Issue: query.Issue, Message: query.Question})
		s.logger.Log("worker %s escalated: %s (urgency %.2f)", ws.Config.ID, query.Issue, query.Urgency)

		answer, eval, ok := s.resolveEscalation(ctx, ws, query)
		if !ok {
			// Session stopping or review abandoned; the loop's entry
			// checks will sort out which.
			continue
		}
		if eval != nil {
			pending = append(pending, eval)
		}

		applyCost, err := s.runner.ApplyExpertAnswer(ctx, ws, answer)
		if applyCost > 0 {
			s.budget.RecordSpend(cost.CategoryWorkers, applyCost)
		}
		if err != nil && ctx.Err() == nil {
			ws.RecordError(err.Error())
		}
		s.setStuck(ws, false)
		ws.ClearErrors()
	}
	s.logger.Log("worker %s ran out of steps", ws.Config.ID)
}

// checkBudget enforces admission control before each billable step. Hard
// stops cancel the whole session.
func (s *Session) checkBudget(cancel context.CancelFunc) bool {
	canContinue, verdict, remaining := s.budget.CheckBudget()
	if !canContinue {
		s.failSession(cancel, "budget_exceeded")
		return false
	}
	if verdict != cost.VerdictOK {
		s.emit(Event{
			Type:    EventBudgetWarning,
			Message: fmt.Sprintf("%s ($%.2f remaining)", verdict, remaining),
			Cost:    s.budget.TotalSpent(),
		})
	}
	return true
}

// observeBreakers feeds the breaker bank and reacts to trips. Returns
// whether this worker should stop and whether the whole session is
// stopping.
func (s *Session) observeBreakers(cancel context.CancelFunc, ws *models.WorkerState) (stopWorker, stopSession bool) {
	s.breakers.Record(breaker.Observation{
		WorkerID:               ws.Config.ID,
		ActionSignatures:       ws.ActionSignatures(models.ActionHistoryWindow),
		MinutesWithoutProgress: ws.MinutesWithoutProgress,
		Elapsed:                time.Since(s.startedAt),
		StuckFraction:          s.stuckFraction(),
		CostRate:               s.costRate(),
	})

	for _, trip := range s.breakers.Tripped() {
		s.emit(Event{Type: EventBreakerTripped, WorkerID: trip.WorkerID, Breaker: trip.Breaker, Message: trip.Reason})
		s.logger.Log("breaker %s tripped: %s", trip.Breaker, trip.Reason)

		switch trip.Action {
		case breaker.ActionPauseAndAlert:
			s.failSession(cancel, trip.String())
			return false, true

		case breaker.ActionSkipToReport:
			s.stopEarly(cancel)
			return false, true

		case breaker.ActionResetWorker:
			if trip.WorkerID == ws.Config.ID {
				ws.ActionHistory = nil
				ws.ClearErrors()
				s.setStuck(ws, false)
			}
			s.breakers.Reset(trip.Breaker)

		case breaker.ActionThrottle:
			s.setThrottled()
			s.breakers.Reset(trip.Breaker)

		case breaker.ActionEscalateToHuman:
			s.breakers.Reset(trip.Breaker)
			if trip.WorkerID == ws.Config.ID {
				s.setStuck(ws, true)
				return true, false
			}
		}
	}
	return false, false
}

// currentArbiter returns the configured arbiter, or a less eager one while
// the session is throttled for cost.
func (s *Session) currentArbiter() *arbiter.Arbiter {
	s.mu.Lock()
	throttled := s.throttled
	s.mu.Unlock()
	if throttled {
		return arbiter.New(arbiter.WithSensitivity(1.5))
	}
	return s.arbiter
}

// settlePending evaluates this worker's outstanding expert answers once
// the worker's fate is known.
func (s *Session) settlePending(pending []*pendingEval, success bool) {
	if s.tracker == nil {
		return
	}
	for _, p := range pending {
		outcome := models.WorkerOutcome{
			AnswerID:          p.answerID,
			Success:           success,
			TimeToComplete:    time.Since(p.answeredAt).Seconds(),
			FollowUpQuestions: p.followUps,
		}
		if _, err := s.tracker.EvaluateEffectiveness(p.answerID, outcome); err != nil {
			s.logger.Log("evaluate answer %s: %v", p.answerID, err)
		}
		resolved := success && len(p.followUps) == 0
		s.breakers.Record(breaker.Observation{ExpertAnswerResolved: &resolved})
	}
}

func (s *Session) noteEscalation(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations++
	s.perWorker[workerID]++
}

func (s *Session) noteCacheHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheHits++
}

func (s *Session) setThrottled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttled = true
}

func (s *Session) failSession(cancel context.CancelFunc, reason string) {
	s.mu.Lock()
	if s.failReason == "" {
		s.failReason = reason
	}
	s.mu.Unlock()
	cancel()
}

func (s *Session) stopEarly(cancel context.CancelFunc) {
	s.mu.Lock()
	s.earlyStop = true
	s.mu.Unlock()
	cancel()
}

// setStuck updates both the worker-owned flag and the session's shared
// view of it; the shared map is what other workers' breaker observations
// read.
func (s *Session) setStuck(ws *models.WorkerState, stuck bool) {
	ws.Stuck = stuck
	s.mu.Lock()
	s.stuck[ws.Config.ID] = stuck
	s.mu.Unlock()
}

// stuckFraction is the share of workers currently flagged stuck.
func (s *Session) stuckFraction() float64 {
	if len(s.states) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stuck := 0
	for _, flagged := range s.stuck {
		if flagged {
			stuck++
		}
	}
	return float64(stuck) / float64(len(s.states))
}

// costRate is dollars per minute since session start.
func (s *Session) costRate() float64 {
	minutes := time.Since(s.startedAt).Minutes()
	if minutes <= 0 {
		return 0
	}
	return s.budget.TotalSpent() / minutes
}

func (s *Session) emit(event Event) {
	event.Timestamp = time.Now()
	select {
	case s.events <- event:
	default:
		// Slow consumer; drop rather than stall the loop.
	}
}
