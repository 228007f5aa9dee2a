package cost

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ModelRate is the per-million-token price for one model.
type ModelRate struct {
	// InputUSD is the price per 1M input tokens.
	InputUSD float64 `yaml:"input_usd"`
	// OutputUSD is the price per 1M output tokens.
	OutputUSD float64 `yaml:"output_usd"`
}

// Pricing maps model names to rates. Unknown models fall back to a
// conservative default rate.
type Pricing struct {
	mu    sync.RWMutex
	rates map[string]ModelRate
}

// defaultRate is charged for models missing from the table.
var defaultRate = ModelRate{InputUSD: 1.00, OutputUSD: 1.00}

// DefaultPricing returns the built-in rate table for the supported worker
// and expert models.
func DefaultPricing() *Pricing {
	return &Pricing{rates: map[string]ModelRate{
		// Workers
		"microsoft/Phi-4-mini-instruct":     {0.10, 0.10},
		"meta-llama/Llama-3.1-8B-Instruct":  {0.20, 0.20},
		"meta-llama/Llama-3.3-70B-Instruct": {0.80, 0.80},
		"Qwen/Qwen2.5-14B-Instruct":         {0.30, 0.30},
		// Expert models
		"deepseek-ai/DeepSeek-R1-0528":          {1.00, 1.00},
		"deepseek-ai/DeepSeek-V3-0324":          {0.80, 0.80},
		"Qwen/Qwen3-235B-A22B-Instruct-2507":    {1.00, 1.00},
		"Qwen/Qwen3-Coder-480B-A35B-Instruct":   {1.50, 1.50},
		"moonshotai/Kimi-K2-Instruct":           {0.60, 0.60},
		"openai/gpt-oss-120b":                   {1.00, 1.00},
		"zai-org/GLM-4.5":                       {0.80, 0.80},
	}}
}

// LoadPricing reads a YAML rate table from path, merged over the defaults.
func LoadPricing(path string) (*Pricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}

	var rates map[string]ModelRate
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}

	p := DefaultPricing()
	p.mu.Lock()
	for model, rate := range rates {
		p.rates[model] = rate
	}
	p.mu.Unlock()
	return p, nil
}

// Reload replaces rates from path, keeping existing entries on parse error.
func (p *Pricing) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pricing file: %w", err)
	}

	var rates map[string]ModelRate
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return fmt.Errorf("parse pricing file: %w", err)
	}

	p.mu.Lock()
	for model, rate := range rates {
		p.rates[model] = rate
	}
	p.mu.Unlock()
	return nil
}

// Rate returns the rate for a model, falling back to the default rate.
func (p *Pricing) Rate(model string) ModelRate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if rate, ok := p.rates[model]; ok {
		return rate
	}
	return defaultRate
}

// Cost computes the USD cost of an LLM call.
func (p *Pricing) Cost(model string, tokensIn, tokensOut int) float64 {
	rate := p.Rate(model)
	return (float64(tokensIn)*rate.InputUSD + float64(tokensOut)*rate.OutputUSD) / 1_000_000
}
