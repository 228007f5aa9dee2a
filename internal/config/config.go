// Package config handles configuration loading and management for Piedpiper.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/piedpiper/internal/breaker"
	"github.com/ShayCichocki/piedpiper/internal/cost"
)

// Config holds all configuration for Piedpiper.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Budget    cost.Budget     `mapstructure:"budget"`
	Breakers  breaker.Config  `mapstructure:"breakers"`
	Arbiter   ArbiterConfig   `mapstructure:"arbiter"`
	Session   SessionConfig   `mapstructure:"session"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
}

// AnthropicConfig holds expert-model API settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key; ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model is the expert model name.
	Model string `mapstructure:"model"`
	// UseAWSBedrock routes expert calls through AWS Bedrock.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional AWS profile name.
	AWSProfile string `mapstructure:"aws_profile"`
}

// EmbeddingConfig holds embedding endpoint settings for the retrieval cache.
type EmbeddingConfig struct {
	// APIKey authenticates against the embeddings endpoint.
	APIKey string `mapstructure:"api_key"`
	// BaseURL overrides the OpenAI-compatible endpoint, for local servers.
	BaseURL string `mapstructure:"base_url"`
	// Model is the embedding model name.
	Model string `mapstructure:"model"`
	// Local switches to the offline hashed embedder; no endpoint needed.
	Local bool `mapstructure:"local"`
}

// ArbiterConfig holds escalation tuning.
type ArbiterConfig struct {
	// Sensitivity scales the escalation threshold; 1.0 is the default
	// behavior, above 1.0 escalates less eagerly.
	Sensitivity float64 `mapstructure:"sensitivity"`
}

// SessionConfig holds session loop settings.
type SessionConfig struct {
	// MaxSteps bounds each worker's execution steps.
	MaxSteps int `mapstructure:"max_steps"`
	// DataDir is where the session keeps its databases and logs.
	DataDir string `mapstructure:"data_dir"`
	// DebugLog is the debug log path; empty disables debug logging.
	DebugLog string `mapstructure:"debug_log"`
}

// PricingConfig holds model rate table settings.
type PricingConfig struct {
	// Path is a YAML rate table merged over the built-in defaults.
	Path string `mapstructure:"path"`
	// Watch reloads the rate table when the file changes.
	Watch bool `mapstructure:"watch"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OPENAI_API_KEY)
// 2. Project config (.piedpiper.yaml in current directory or parent)
// 3. User config (~/.config/piedpiper/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("embedding.api_key", "OPENAI_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Embedding.APIKey = expandEnv(cfg.Embedding.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Embedding.APIKey = expandEnv(cfg.Embedding.APIKey)
	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("embedding.api_key", cfg.Embedding.APIKey)
	v.Set("embedding.base_url", cfg.Embedding.BaseURL)
	v.Set("embedding.model", cfg.Embedding.Model)
	v.Set("embedding.local", cfg.Embedding.Local)
	v.Set("budget.total_usd", cfg.Budget.TotalUSD)
	v.Set("budget.worker_limit_usd", cfg.Budget.WorkerLimitUSD)
	v.Set("budget.expert_limit_usd", cfg.Budget.ExpertLimitUSD)
	v.Set("budget.validation_limit_usd", cfg.Budget.ValidationLimitUSD)
	v.Set("budget.buffer_usd", cfg.Budget.BufferUSD)
	v.Set("breakers.consecutive_failures", cfg.Breakers.ConsecutiveFailures)
	v.Set("breakers.repetition_min_distinct", cfg.Breakers.RepetitionMinDistinct)
	v.Set("breakers.cost_spike_multiplier", cfg.Breakers.CostSpikeMultiplier)
	v.Set("breakers.time_budget_minutes", cfg.Breakers.TimeBudgetMinutes)
	v.Set("breakers.no_progress_minutes", cfg.Breakers.NoProgressMinutes)
	v.Set("breakers.stuck_threshold", cfg.Breakers.StuckThreshold)
	v.Set("arbiter.sensitivity", cfg.Arbiter.Sensitivity)
	v.Set("session.max_steps", cfg.Session.MaxSteps)
	v.Set("session.data_dir", cfg.Session.DataDir)
	v.Set("session.debug_log", cfg.Session.DebugLog)
	v.Set("pricing.path", cfg.Pricing.Path)
	v.Set("pricing.watch", cfg.Pricing.Watch)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("embedding.local", false)

	budget := cost.DefaultBudget()
	v.SetDefault("budget.total_usd", budget.TotalUSD)
	v.SetDefault("budget.worker_limit_usd", budget.WorkerLimitUSD)
	v.SetDefault("budget.expert_limit_usd", budget.ExpertLimitUSD)
	v.SetDefault("budget.validation_limit_usd", budget.ValidationLimitUSD)
	v.SetDefault("budget.buffer_usd", budget.BufferUSD)

	// Breaker zero values select per-breaker defaults.
	v.SetDefault("breakers.consecutive_failures", 0)
	v.SetDefault("breakers.repetition_min_distinct", 0)
	v.SetDefault("breakers.cost_spike_multiplier", 0.0)
	v.SetDefault("breakers.time_budget_minutes", 0)
	v.SetDefault("breakers.no_progress_minutes", 0.0)
	v.SetDefault("breakers.stuck_threshold", 0.0)

	v.SetDefault("arbiter.sensitivity", 1.0)

	v.SetDefault("session.max_steps", 50)
	v.SetDefault("session.data_dir", defaultDataDir())
	v.SetDefault("session.debug_log", "")

	v.SetDefault("pricing.path", "")
	v.SetDefault("pricing.watch", false)
}

// getUserConfigDir returns the XDG config directory for Piedpiper.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "piedpiper")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "piedpiper")
	}
	return filepath.Join(home, ".config", "piedpiper")
}

// defaultDataDir returns the default location for session databases.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".piedpiper")
	}
	return filepath.Join(home, ".piedpiper")
}

// findProjectConfig searches for .piedpiper.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".piedpiper.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Budget:  cost.DefaultBudget(),
		Arbiter: ArbiterConfig{Sensitivity: 1.0},
		Session: SessionConfig{
			MaxSteps: 50,
			DataDir:  defaultDataDir(),
		},
	}
}
