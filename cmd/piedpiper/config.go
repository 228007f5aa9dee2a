package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/piedpiper/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Piedpiper configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/piedpiper/config.yaml
Project-specific overrides can be placed in .piedpiper.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", orUnset(cfg.Anthropic.Model))
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("anthropic.aws_region: %s\n", orUnset(cfg.Anthropic.AWSRegion))
	fmt.Printf("embedding.base_url: %s\n", orUnset(cfg.Embedding.BaseURL))
	fmt.Printf("embedding.model: %s\n", orUnset(cfg.Embedding.Model))
	fmt.Printf("embedding.local: %t\n", cfg.Embedding.Local)
	fmt.Printf("budget.total_usd: %.2f\n", cfg.Budget.TotalUSD)
	fmt.Printf("budget.worker_limit_usd: %.2f\n", cfg.Budget.WorkerLimitUSD)
	fmt.Printf("budget.expert_limit_usd: %.2f\n", cfg.Budget.ExpertLimitUSD)
	fmt.Printf("budget.validation_limit_usd: %.2f\n", cfg.Budget.ValidationLimitUSD)
	fmt.Printf("budget.buffer_usd: %.2f\n", cfg.Budget.BufferUSD)
	fmt.Printf("breakers.consecutive_failures: %d\n", cfg.Breakers.ConsecutiveFailures)
	fmt.Printf("breakers.repetition_min_distinct: %d\n", cfg.Breakers.RepetitionMinDistinct)
	fmt.Printf("breakers.cost_spike_multiplier: %g\n", cfg.Breakers.CostSpikeMultiplier)
	fmt.Printf("breakers.time_budget_minutes: %d\n", cfg.Breakers.TimeBudgetMinutes)
	fmt.Printf("breakers.no_progress_minutes: %g\n", cfg.Breakers.NoProgressMinutes)
	fmt.Printf("breakers.stuck_threshold: %g\n", cfg.Breakers.StuckThreshold)
	fmt.Printf("arbiter.sensitivity: %g\n", cfg.Arbiter.Sensitivity)
	fmt.Printf("session.max_steps: %d\n", cfg.Session.MaxSteps)
	fmt.Printf("session.data_dir: %s\n", cfg.Session.DataDir)
	fmt.Printf("session.debug_log: %s\n", orUnset(cfg.Session.DebugLog))
	fmt.Printf("pricing.path: %s\n", orUnset(cfg.Pricing.Path))
	fmt.Printf("pricing.watch: %t\n", cfg.Pricing.Watch)
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return orUnset(cfg.Anthropic.Model), nil
	case "anthropic.use_aws_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseAWSBedrock), nil
	case "anthropic.aws_region":
		return orUnset(cfg.Anthropic.AWSRegion), nil
	case "anthropic.aws_profile":
		return orUnset(cfg.Anthropic.AWSProfile), nil
	case "embedding.base_url":
		return orUnset(cfg.Embedding.BaseURL), nil
	case "embedding.model":
		return orUnset(cfg.Embedding.Model), nil
	case "embedding.local":
		return strconv.FormatBool(cfg.Embedding.Local), nil
	case "budget.total_usd":
		return fmt.Sprintf("%.2f", cfg.Budget.TotalUSD), nil
	case "budget.worker_limit_usd":
		return fmt.Sprintf("%.2f", cfg.Budget.WorkerLimitUSD), nil
	case "budget.expert_limit_usd":
		return fmt.Sprintf("%.2f", cfg.Budget.ExpertLimitUSD), nil
	case "budget.validation_limit_usd":
		return fmt.Sprintf("%.2f", cfg.Budget.ValidationLimitUSD), nil
	case "budget.buffer_usd":
		return fmt.Sprintf("%.2f", cfg.Budget.BufferUSD), nil
	case "breakers.consecutive_failures":
		return strconv.Itoa(cfg.Breakers.ConsecutiveFailures), nil
	case "breakers.repetition_min_distinct":
		return strconv.Itoa(cfg.Breakers.RepetitionMinDistinct), nil
	case "breakers.cost_spike_multiplier":
		return strconv.FormatFloat(cfg.Breakers.CostSpikeMultiplier, 'g', -1, 64), nil
	case "breakers.time_budget_minutes":
		return strconv.Itoa(cfg.Breakers.TimeBudgetMinutes), nil
	case "breakers.no_progress_minutes":
		return strconv.FormatFloat(cfg.Breakers.NoProgressMinutes, 'g', -1, 64), nil
	case "breakers.stuck_threshold":
		return strconv.FormatFloat(cfg.Breakers.StuckThreshold, 'g', -1, 64), nil
	case "arbiter.sensitivity":
		return strconv.FormatFloat(cfg.Arbiter.Sensitivity, 'g', -1, 64), nil
	case "session.max_steps":
		return strconv.Itoa(cfg.Session.MaxSteps), nil
	case "session.data_dir":
		return cfg.Session.DataDir, nil
	case "session.debug_log":
		return orUnset(cfg.Session.DebugLog), nil
	case "pricing.path":
		return orUnset(cfg.Pricing.Path), nil
	case "pricing.watch":
		return strconv.FormatBool(cfg.Pricing.Watch), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_aws_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_aws_bedrock: %w", err)
		}
		cfg.Anthropic.UseAWSBedrock = b
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "embedding.base_url":
		cfg.Embedding.BaseURL = value
	case "embedding.model":
		cfg.Embedding.Model = value
	case "embedding.local":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for embedding.local: %w", err)
		}
		cfg.Embedding.Local = b
	case "budget.total_usd":
		return setBudgetField(&cfg.Budget.TotalUSD, key, value)
	case "budget.worker_limit_usd":
		return setBudgetField(&cfg.Budget.WorkerLimitUSD, key, value)
	case "budget.expert_limit_usd":
		return setBudgetField(&cfg.Budget.ExpertLimitUSD, key, value)
	case "budget.validation_limit_usd":
		return setBudgetField(&cfg.Budget.ValidationLimitUSD, key, value)
	case "budget.buffer_usd":
		return setBudgetField(&cfg.Budget.BufferUSD, key, value)
	case "breakers.consecutive_failures":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		cfg.Breakers.ConsecutiveFailures = n
	case "breakers.repetition_min_distinct":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		cfg.Breakers.RepetitionMinDistinct = n
	case "breakers.cost_spike_multiplier":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		cfg.Breakers.CostSpikeMultiplier = f
	case "breakers.time_budget_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		cfg.Breakers.TimeBudgetMinutes = n
	case "breakers.no_progress_minutes":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		cfg.Breakers.NoProgressMinutes = f
	case "breakers.stuck_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		cfg.Breakers.StuckThreshold = f
	case "arbiter.sensitivity":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for sensitivity: %w", err)
		}
		cfg.Arbiter.Sensitivity = f
	case "session.max_steps":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_steps: %w", err)
		}
		cfg.Session.MaxSteps = n
	case "session.data_dir":
		cfg.Session.DataDir = value
	case "session.debug_log":
		cfg.Session.DebugLog = value
	case "pricing.path":
		cfg.Pricing.Path = value
	case "pricing.watch":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for pricing.watch: %w", err)
		}
		cfg.Pricing.Watch = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func setBudgetField(field *float64, key, value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if f < 0 {
		return fmt.Errorf("%s cannot be negative", key)
	}
	*field = f
	return nil
}
