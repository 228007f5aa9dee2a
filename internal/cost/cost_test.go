package cost

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestCheckBudget_Ordering(t *testing.T) {
	tests := []struct {
		name        string
		spend       map[Category]float64
		wantGo      bool
		wantVerdict Verdict
	}{
		{
			name:        "fresh session is OK",
			spend:       map[Category]float64{},
			wantGo:      true,
			wantVerdict: VerdictOK,
		},
		{
			name:        "under buffer warns",
			spend:       map[Category]float64{CategoryValidation: 48.50},
			wantGo:      true,
			wantVerdict: VerdictWarnBuffer,
		},
		{
			name:        "worker limit exceeded continues degraded",
			spend:       map[Category]float64{CategoryWorkers: 31.00},
			wantGo:      true,
			wantVerdict: VerdictWarnCategory,
		},
		{
			name:        "expert limit exceeded blocks",
			spend:       map[Category]float64{CategoryExpert: 16.00},
			wantGo:      false,
			wantVerdict: VerdictExpertDepleted,
		},
		{
			name:        "total ceiling exceeded blocks",
			spend:       map[Category]float64{CategoryWorkers: 60.00},
			wantGo:      false,
			wantVerdict: VerdictTotalExceeded,
		},
		{
			name: "total ceiling wins over expert depletion",
			spend: map[Category]float64{
				CategoryExpert:  20.00,
				CategoryWorkers: 40.00,
			},
			wantGo:      false,
			wantVerdict: VerdictTotalExceeded,
		},
		{
			name: "expert depletion wins over worker warning",
			spend: map[Category]float64{
				CategoryExpert:  16.00,
				CategoryWorkers: 31.00,
			},
			wantGo:      false,
			wantVerdict: VerdictExpertDepleted,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController(DefaultBudget(), nil)
			for cat, amount := range tc.spend {
				c.RecordSpend(cat, amount)
			}

			canGo, verdict, remaining := c.CheckBudget()
			if canGo != tc.wantGo {
				t.Errorf("canContinue = %v, want %v", canGo, tc.wantGo)
			}
			if verdict != tc.wantVerdict {
				t.Errorf("verdict = %v, want %v", verdict, tc.wantVerdict)
			}
			if verdict == VerdictTotalExceeded && remaining != 0 {
				t.Errorf("remaining = %v, want 0 when total exceeded", remaining)
			}
		})
	}
}

func TestCheckBudget_Remaining(t *testing.T) {
	c := NewController(DefaultBudget(), nil)
	c.RecordSpend(CategoryWorkers, 10.00)
	c.RecordSpend(CategoryExpert, 5.00)

	_, _, remaining := c.CheckBudget()
	if math.Abs(remaining-35.00) > 1e-9 {
		t.Errorf("remaining = %v, want 35.00", remaining)
	}
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name  string
		spend map[Category]float64
		want  Recommendation
	}{
		{
			name:  "no pressure",
			spend: map[Category]float64{},
			want:  RecommendNone,
		},
		{
			name:  "expert at 80 percent suggests cheaper workers",
			spend: map[Category]float64{CategoryExpert: 12.00},
			want:  RecommendDowngradeWorkers,
		},
		{
			name:  "workers at 70 percent suggests fewer escalations",
			spend: map[Category]float64{CategoryWorkers: 21.00},
			want:  RecommendReduceEscalations,
		},
		{
			name: "expert pressure takes precedence",
			spend: map[Category]float64{
				CategoryExpert:  12.00,
				CategoryWorkers: 21.00,
			},
			want: RecommendDowngradeWorkers,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController(DefaultBudget(), nil)
			for cat, amount := range tc.spend {
				c.RecordSpend(cat, amount)
			}
			if got := c.Recommend(); got != tc.want {
				t.Errorf("Recommend() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRecordSpend_Concurrent(t *testing.T) {
	c := NewController(DefaultBudget(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordSpend(CategoryWorkers, 0.01)
			}
		}()
	}
	wg.Wait()

	if got := c.Spent(CategoryWorkers); math.Abs(got-10.00) > 1e-6 {
		t.Errorf("Spent(workers) = %v, want 10.00", got)
	}
	if got := len(c.Entries()); got != 1000 {
		t.Errorf("len(Entries()) = %d, want 1000", got)
	}
}

func TestTrackLLMCall(t *testing.T) {
	c := NewController(DefaultBudget(), nil)

	cost := c.TrackLLMCall(CategoryWorkers, "microsoft/Phi-4-mini-instruct", 1_000_000, 1_000_000)
	if math.Abs(cost-0.20) > 1e-9 {
		t.Errorf("cost = %v, want 0.20", cost)
	}
	if got := c.Spent(CategoryWorkers); math.Abs(got-0.20) > 1e-9 {
		t.Errorf("Spent(workers) = %v, want 0.20", got)
	}

	entries := c.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(Entries()) = %d, want 1", len(entries))
	}
	if entries[0].Model != "microsoft/Phi-4-mini-instruct" {
		t.Errorf("entry model = %q", entries[0].Model)
	}
}

func TestPricing_UnknownModelFallsBack(t *testing.T) {
	p := DefaultPricing()
	cost := p.Cost("some/unknown-model", 500_000, 500_000)
	if math.Abs(cost-1.00) > 1e-9 {
		t.Errorf("cost = %v, want 1.00 at default rate", cost)
	}
}

func TestLoadPricing_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	content := "custom/model:\n  input_usd: 2.0\n  output_usd: 4.0\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPricing(path)
	if err != nil {
		t.Fatalf("LoadPricing: %v", err)
	}

	if got := p.Cost("custom/model", 1_000_000, 0); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("custom model input cost = %v, want 2.0", got)
	}
	// Defaults survive the merge.
	if got := p.Cost("microsoft/Phi-4-mini-instruct", 1_000_000, 0); math.Abs(got-0.10) > 1e-9 {
		t.Errorf("default model cost = %v, want 0.10", got)
	}
}
