package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

// Package tokens counts chat-completion prompt tokens the way the completion
// API bills them. Billing and history trimming both depend on the exact
// output, so every caller goes through Counter.

func init() {
	// BPE ranks ship with the binary; counting never downloads vocab files.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// ReplyPriming is added once per Count call: every reply is primed with
// <|start|>assistant<|message|>.
const ReplyPriming = 2

// Counter counts tokens for a model.
type Counter interface {
	// Count returns the prompt tokens consumed by messages on model.
	Count(messages []models.Message, model models.ModelID) (int, error)

	// EncodeLen returns the raw BPE length of text on model, without framing.
	EncodeLen(text string, model models.ModelID) (int, error)
}

type family struct {
	encoding   string
	perMessage int
}

// families maps chat models to their encoding and per-message framing cost.
// gpt-3.5-turbo is counted as its 0301 snapshot.
var families = map[models.ModelID]family{
	models.GPT35Turbo:     {encoding: "cl100k_base", perMessage: 4},
	models.GPT35Turbo0301: {encoding: "cl100k_base", perMessage: 4},
	models.GPT4:           {encoding: "cl100k_base", perMessage: 3},
	models.GPT40314:       {encoding: "cl100k_base", perMessage: 3},
}

// PerMessageOverhead returns the framing tokens added for each message on model.
func PerMessageOverhead(model models.ModelID) (int, error) {
	f, ok := families[model]
	if !ok {
		return 0, &models.UnsupportedModelError{Model: model}
	}
	return f.perMessage, nil
}

// TiktokenCounter implements Counter with tiktoken BPE encodings.
type TiktokenCounter struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewCounter creates a TiktokenCounter with an empty encoding cache.
func NewCounter() *TiktokenCounter {
	return &TiktokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Count implements Counter.
func (c *TiktokenCounter) Count(messages []models.Message, model models.ModelID) (int, error) {
	f, ok := families[model]
	if !ok {
		return 0, &models.UnsupportedModelError{Model: model}
	}
	enc, err := c.encoding(f.encoding)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, m := range messages {
		total += f.perMessage
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total + ReplyPriming, nil
}

// EncodeLen implements Counter.
func (c *TiktokenCounter) EncodeLen(text string, model models.ModelID) (int, error) {
	f, ok := families[model]
	if !ok {
		return 0, &models.UnsupportedModelError{Model: model}
	}
	enc, err := c.encoding(f.encoding)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (c *TiktokenCounter) encoding(name string) (*tiktoken.Tiktoken, error) {
	c.mu.RLock()
	enc, ok := c.encodings[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", name, err)
	}
	c.encodings[name] = enc
	return enc, nil
}
