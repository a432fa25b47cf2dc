package tokens

import (
	"errors"
	"sync"
	"testing"

	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

func TestCountHelloWorld(t *testing.T) {
	c := NewCounter()
	msgs := []models.Message{{Role: models.RoleUser, Content: "hello world"}}

	tests := []struct {
		model models.ModelID
		want  int
	}{
		// overhead + 2 BPE tokens + reply priming
		{models.GPT35Turbo0301, 4 + 2 + 2},
		{models.GPT35Turbo, 4 + 2 + 2},
		{models.GPT4, 3 + 2 + 2},
		{models.GPT40314, 3 + 2 + 2},
	}
	for _, tt := range tests {
		got, err := c.Count(msgs, tt.model)
		if err != nil {
			t.Fatalf("Count(%s): %v", tt.model, err)
		}
		if got != tt.want {
			t.Errorf("Count(%s) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestCountEmptyIsReplyPrimingOnly(t *testing.T) {
	c := NewCounter()
	got, err := c.Count(nil, models.GPT4)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if got != ReplyPriming {
		t.Errorf("Count(nil) = %d, want %d", got, ReplyPriming)
	}
}

func TestCountDeterministic(t *testing.T) {
	c := NewCounter()
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: models.DefaultSystemPrompt},
		{Role: models.RoleUser, Content: "Ivan Petrenko says:Привіт! How are you today?"},
		{Role: models.RoleAssistant, Content: "I'm fine, thanks. 🙂"},
	}
	first, err := c.Count(msgs, models.GPT35Turbo0301)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Count(msgs, models.GPT35Turbo0301)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if again != first {
			t.Fatalf("Count not deterministic: %d then %d", first, again)
		}
	}
}

func TestCountAddingMessageAddsOverheadPlusContent(t *testing.T) {
	c := NewCounter()
	base := []models.Message{
		{Role: models.RoleSystem, Content: models.DefaultSystemPrompt},
		{Role: models.RoleUser, Content: "first question"},
	}
	extra := models.Message{Role: models.RoleUser, Content: "What is the capital of Ukraine?"}

	for _, model := range []models.ModelID{models.GPT35Turbo0301, models.GPT4} {
		before, err := c.Count(base, model)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		after, err := c.Count(append(append([]models.Message(nil), base...), extra), model)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		overhead, _ := PerMessageOverhead(model)
		contentLen, err := c.EncodeLen(extra.Content, model)
		if err != nil {
			t.Fatalf("EncodeLen: %v", err)
		}
		if after-before != overhead+contentLen {
			t.Errorf("%s: delta = %d, want %d", model, after-before, overhead+contentLen)
		}
	}
}

func TestCountUnsupportedModel(t *testing.T) {
	c := NewCounter()
	_, err := c.Count([]models.Message{{Role: models.RoleUser, Content: "hi"}}, "text-davinci-003")
	var unsupported *models.UnsupportedModelError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedModelError, got %v", err)
	}
	if unsupported.Model != "text-davinci-003" {
		t.Errorf("unexpected model in error: %q", unsupported.Model)
	}

	if _, err := c.EncodeLen("hi", models.GPT4Tier8K); !errors.As(err, &unsupported) {
		t.Errorf("EncodeLen on pricing tier: expected UnsupportedModelError, got %v", err)
	}
}

func TestCountConcurrent(t *testing.T) {
	c := NewCounter()
	msgs := []models.Message{{Role: models.RoleUser, Content: "hello world"}}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if n, err := c.Count(msgs, models.GPT4); err != nil || n != 7 {
				t.Errorf("Count = %d, %v", n, err)
			}
		}()
	}
	wg.Wait()
}
