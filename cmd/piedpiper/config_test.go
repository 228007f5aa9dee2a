package main

import (
	"testing"
	"time"

	"github.com/ShayCichocki/piedpiper/internal/config"
)

func TestSetAndGetConfigValue(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"anthropic.model", "claude-sonnet-4-20250514", "claude-sonnet-4-20250514"},
		{"anthropic.use_aws_bedrock", "true", "true"},
		{"embedding.local", "true", "true"},
		{"budget.total_usd", "25.5", "25.50"},
		{"breakers.consecutive_failures", "4", "4"},
		{"breakers.stuck_threshold", "0.75", "0.75"},
		{"arbiter.sensitivity", "1.5", "1.5"},
		{"session.max_steps", "30", "30"},
		{"pricing.watch", "true", "true"},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			cfg := config.Default()
			if err := setConfigValue(cfg, tc.key, tc.value); err != nil {
				t.Fatalf("setConfigValue: %v", err)
			}
			got, err := getConfigValue(cfg, tc.key)
			if err != nil {
				t.Fatalf("getConfigValue: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSetConfigValueRejectsBadInput(t *testing.T) {
	cfg := config.Default()

	if err := setConfigValue(cfg, "budget.total_usd", "lots"); err == nil {
		t.Error("expected error for non-numeric budget")
	}
	if err := setConfigValue(cfg, "budget.total_usd", "-5"); err == nil {
		t.Error("expected error for negative budget")
	}
	if err := setConfigValue(cfg, "nonsense.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestGetConfigValueMasksAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Anthropic.APIKey = "sk-ant-REDACTED"

	got, err := getConfigValue(cfg, "anthropic.api_key")
	if err != nil {
		t.Fatalf("getConfigValue: %v", err)
	}
	if got == cfg.Anthropic.APIKey {
		t.Error("api key should be masked")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{90 * time.Minute, "1h30m"},
		{2 * time.Hour, "2h"},
		{49 * time.Hour, "2d"},
	}
	for _, tc := range tests {
		if got := formatDuration(tc.d); got != tc.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 40); got != "short" {
		t.Errorf("got %q", got)
	}
	long := "a task description that is much longer than the limit allows"
	if got := truncate(long, 20); len(got) > len(long) || got == long {
		t.Errorf("got %q", got)
	}
}
