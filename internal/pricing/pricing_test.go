package pricing

import (
	"errors"
	"testing"

	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

func TestFlatPrice(t *testing.T) {
	for _, model := range []models.ModelID{models.GPT35Turbo, models.GPT35Turbo0301} {
		usage := models.ModelUsage{TotalTokens: 1234}
		got, err := Price(model, usage)
		if err != nil {
			t.Fatalf("Price(%s): %v", model, err)
		}
		want := float64(1234) / 1000 * 0.002
		if got != want {
			t.Errorf("Price(%s) = %v, want %v", model, got, want)
		}
	}
}

func TestFlatPriceIgnoresSplitFields(t *testing.T) {
	got, err := Price(models.GPT35Turbo0301, models.ModelUsage{PromptTokens: 900, CompletionTokens: 100, TotalTokens: 1000})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if got != 0.002 {
		t.Errorf("expected 0.002, got %v", got)
	}
}

func TestSplitPriceTierBoundary(t *testing.T) {
	tests := []struct {
		name  string
		usage models.ModelUsage
		want  float64
	}{
		{
			name:  "exactly 8000 uses 8K tier",
			usage: models.ModelUsage{PromptTokens: 6000, CompletionTokens: 2000, TotalTokens: 8000},
			want:  float64(6000)/1000*0.03 + float64(2000)/1000*0.06,
		},
		{
			name:  "8001 uses 32K tier",
			usage: models.ModelUsage{PromptTokens: 6001, CompletionTokens: 2000, TotalTokens: 8001},
			want:  float64(6001)/1000*0.06 + float64(2000)/1000*0.12,
		},
		{
			name:  "exactly 32000 uses 32K tier",
			usage: models.ModelUsage{PromptTokens: 30000, CompletionTokens: 2000, TotalTokens: 32000},
			want:  float64(30000)/1000*0.06 + float64(2000)/1000*0.12,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Price(models.GPT4, tt.usage)
			if err != nil {
				t.Fatalf("Price: %v", err)
			}
			if got != tt.want {
				t.Errorf("Price = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitPriceTooManyTokens(t *testing.T) {
	_, err := Price(models.GPT4, models.ModelUsage{PromptTokens: 30000, CompletionTokens: 2001, TotalTokens: 32001})
	var tooMany *models.TooManyTokensError
	if !errors.As(err, &tooMany) {
		t.Fatalf("expected TooManyTokensError, got %v", err)
	}
	if tooMany.Tokens != 32001 || tooMany.Limit != 32000 {
		t.Errorf("unexpected error fields: %+v", tooMany)
	}
}

func TestPriceUnsupportedModel(t *testing.T) {
	var unsupported *models.UnsupportedModelError
	if _, err := Price("claude-2", models.ModelUsage{TotalTokens: 10}); !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedModelError, got %v", err)
	}
	if _, err := DefaultTable.PromptPrice("claude-2", 10); !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedModelError, got %v", err)
	}
}

func TestPromptPrice(t *testing.T) {
	got, err := DefaultTable.PromptPrice(models.GPT35Turbo0301, 25000)
	if err != nil {
		t.Fatalf("PromptPrice: %v", err)
	}
	if got != float64(25000)/1000*0.002 {
		t.Errorf("flat prompt price = %v", got)
	}

	got, err = DefaultTable.PromptPrice(models.GPT4, 1000)
	if err != nil {
		t.Fatalf("PromptPrice: %v", err)
	}
	if got != 0.03 {
		t.Errorf("gpt-4 prompt price for 1000 tokens = %v, want 0.03", got)
	}

	got, err = DefaultTable.PromptPrice(models.GPT4, 9000)
	if err != nil {
		t.Fatalf("PromptPrice: %v", err)
	}
	if got != float64(9000)/1000*0.06 {
		t.Errorf("gpt-4 prompt price for 9000 tokens = %v", got)
	}
}

func TestPlanSplit(t *testing.T) {
	p, err := DefaultTable.Plan(models.GPT4)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !p.Split() {
		t.Error("gpt-4 should bill prompt and completion separately")
	}
	p, _ = DefaultTable.Plan(models.GPT35Turbo)
	if p.Split() {
		t.Error("gpt-3.5-turbo should be flat")
	}
}
