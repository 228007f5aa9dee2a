package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/piedpiper/internal/arbiter"
	"github.com/ShayCichocki/piedpiper/internal/cache"
	"github.com/ShayCichocki/piedpiper/internal/config"
	"github.com/ShayCichocki/piedpiper/internal/cost"
	"github.com/ShayCichocki/piedpiper/internal/expert"
	"github.com/ShayCichocki/piedpiper/internal/learning"
	"github.com/ShayCichocki/piedpiper/internal/llm"
	"github.com/ShayCichocki/piedpiper/internal/orchestrator"
	"github.com/ShayCichocki/piedpiper/internal/state"
	"github.com/ShayCichocki/piedpiper/internal/validation"
	"github.com/ShayCichocki/piedpiper/internal/worker"
)

var (
	runBudget      float64
	runMaxSteps    int
	runAutoApprove bool
	runLocalEmbed  bool
	runDebugLog    string
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a worker session on a task",
	Long: `Run a session: workers attack the task in parallel while the control
core watches for stuck workers, escalates to the expert, and tracks spend.

Escalated answers wait for your review in this terminal before they reach
the worker and the answer cache. Use --auto-approve to wave them through.

Examples:
  piedpiper run "add pagination to the orders endpoint"
  piedpiper run --budget 10 --max-steps 25 "fix the flaky auth test"
  piedpiper run --auto-approve "migrate the billing service"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "Override the total session budget in USD")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "Override the per-worker step cap")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "Approve expert answers without prompting")
	runCmd.Flags().BoolVar(&runLocalEmbed, "local-embeddings", false, "Use the offline embedder for the answer cache")
	runCmd.Flags().StringVar(&runDebugLog, "debug-log", "", "Write a debug log to this path")
}

func runRun(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runBudget > 0 {
		cfg.Budget.TotalUSD = runBudget
	}
	if runMaxSteps > 0 {
		cfg.Session.MaxSteps = runMaxSteps
	}
	if runDebugLog != "" {
		cfg.Session.DebugLog = runDebugLog
	}
	if runLocalEmbed {
		cfg.Embedding.Local = true
	}

	client, err := newCompletionClient(cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.Session.DataDir
	store, err := cache.NewStore(filepath.Join(dataDir, "cache.db"))
	if err != nil {
		return fmt.Errorf("open answer cache: %w", err)
	}
	defer store.Close()
	hybrid := cache.NewHybrid(store, newEmbedder(cfg))

	ledger, err := learning.NewLedger(filepath.Join(dataDir, "learning.db"))
	if err != nil {
		return fmt.Errorf("open learning ledger: %w", err)
	}
	defer ledger.Close()
	tracker := learning.NewTracker(ledger)

	pricing, err := loadPricing(cfg)
	if err != nil {
		return err
	}

	logger, err := orchestrator.NewDebugLogger(cfg.Session.DebugLog)
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	defer logger.Close()

	expertAgent := expert.New(client,
		expert.WithContextProvider(tracker),
		expert.WithModel(cfg.Anthropic.Model))

	session := orchestrator.New(task, worker.NewRunner(client, pricing), expertAgent,
		orchestrator.WithBudget(cfg.Budget),
		orchestrator.WithPricing(pricing),
		orchestrator.WithBreakers(cfg.Breakers),
		orchestrator.WithArbiter(arbiter.New(arbiter.WithSensitivity(cfg.Arbiter.Sensitivity))),
		orchestrator.WithCache(hybrid),
		orchestrator.WithTracker(tracker),
		orchestrator.WithValidator(validation.New(client, validation.WithModel(cfg.Anthropic.Model))),
		orchestrator.WithLogger(logger),
		orchestrator.WithMaxSteps(cfg.Session.MaxSteps),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range session.Events() {
			printEvent(ev)
		}
	}()

	stopReviewer := startReviewer(ctx, session.Reviews(), runAutoApprove)
	defer stopReviewer()

	printStatus("▶", fmt.Sprintf("session %s: %s", session.ID(), task), color.FgCyan)

	report, err := session.Run(ctx)
	<-eventsDone
	if err != nil {
		return err
	}

	if db, err := state.Open(state.DefaultDBPath(dataDir)); err != nil {
		printStatus("!", fmt.Sprintf("session history unavailable: %v", err), color.FgYellow)
	} else {
		if err := db.SaveReport(report); err != nil {
			printStatus("!", fmt.Sprintf("save session history: %v", err), color.FgYellow)
		}
		db.Close()
	}

	fmt.Println(renderReport(report))
	return nil
}

// newCompletionClient builds the shared completion client for workers, the
// expert, and the validator.
func newCompletionClient(cfg *config.Config) (*llm.AnthropicClient, error) {
	anthropicCfg := llm.AnthropicConfig{
		Model:         cfg.Anthropic.Model,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}
	if !cfg.Anthropic.UseAWSBedrock {
		apiKey, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		anthropicCfg.APIKey = apiKey
	}
	return llm.NewAnthropicClient(anthropicCfg)
}

// newEmbedder picks the cache embedder: the configured endpoint when a key
// is available, otherwise the offline hashed embedder.
func newEmbedder(cfg *config.Config) cache.Embedder {
	if cfg.Embedding.Local {
		return llm.NewLocalEmbedder(0)
	}

	apiKey := config.GetEmbeddingKey(cfg)
	if apiKey == "" && cfg.Embedding.BaseURL == "" {
		printStatus("!", "no embedding key configured; using the offline embedder", color.FgYellow)
		return llm.NewLocalEmbedder(0)
	}
	return llm.NewOpenAIEmbedder(llm.OpenAIEmbedderConfig{
		APIKey:  apiKey,
		BaseURL: cfg.Embedding.BaseURL,
		Model:   cfg.Embedding.Model,
	})
}

// loadPricing resolves the model rate table and arms the hot-reload
// watcher when configured.
func loadPricing(cfg *config.Config) (*cost.Pricing, error) {
	if cfg.Pricing.Path == "" {
		return cost.DefaultPricing(), nil
	}

	pricing, err := cost.LoadPricing(cfg.Pricing.Path)
	if err != nil {
		return nil, fmt.Errorf("load pricing table: %w", err)
	}
	if cfg.Pricing.Watch {
		if _, err := config.WatchPricing(cfg.Pricing.Path, pricing); err != nil {
			printStatus("!", fmt.Sprintf("pricing watch unavailable: %v", err), color.FgYellow)
		}
	}
	return pricing, nil
}
