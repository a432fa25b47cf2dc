package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/metrics"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

// Package openai is the chat completions client used for dialogue turns.
//
// Responsibilities:
//   - POST {base}/chat/completions with model, messages, max_tokens, temperature
//   - Return the first choice's content and the billed usage
//   - Classify API failures (APIError) so transient ones are retried
//   - Record request counts, latency and retries per model
//
// The caller owns the overall deadline through ctx; each attempt additionally
// gets its own timeout so a hung connection becomes a retryable failure.

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultAttemptTimeout = 10 * time.Second
	DefaultMaxAttempts    = 3
)

// ChatRequest is one completion call.
type ChatRequest struct {
	Model       models.ModelID
	Messages    []models.Message
	MaxTokens   int
	Temperature float64
}

// Usage is the token usage reported by the API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the result of a successful completion.
type ChatResponse struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("OpenAI API error (status %d, %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("OpenAI API error (status %d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root. Used in tests.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// WithAttemptTimeout bounds a single HTTP attempt.
func WithAttemptTimeout(d time.Duration) Option { return func(c *Client) { c.attemptTimeout = d } }

// WithRetry sets the attempt budget and the first backoff interval.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.initialInterval = initialInterval
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// Client calls the chat completions endpoint.
type Client struct {
	apiKey          string
	baseURL         string
	httpClient      *http.Client
	attemptTimeout  time.Duration
	maxAttempts     int
	initialInterval time.Duration
	logger          *zap.Logger
}

// NewClient creates a client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	c := &Client{
		apiKey:          apiKey,
		baseURL:         DefaultBaseURL,
		httpClient:      &http.Client{},
		attemptTimeout:  DefaultAttemptTimeout,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: defaultInitialInterval,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.initialInterval <= 0 {
		c.initialInterval = defaultInitialInterval
	}
	c.logger = c.logger.Named("openai")
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// CreateChatCompletion sends req, retrying transient failures with
// exponential backoff until the attempt budget or ctx runs out.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	payload := chatRequest{
		Model:       string(req.Model),
		Messages:    make([]chatMessage, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for i, m := range req.Messages {
		payload.Messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	model := string(req.Model)
	start := time.Now()
	var resp *ChatResponse
	err = c.retry(ctx, model, func() error {
		var attemptErr error
		resp, attemptErr = c.do(ctx, body)
		return attemptErr
	})
	metrics.CompletionRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(model, "error").Inc()
		return nil, err
	}

	metrics.CompletionRequestsTotal.WithLabelValues(model, "success").Inc()
	metrics.TokensUsed.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.TokensUsed.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// do performs a single attempt bounded by the attempt timeout.
func (c *Client) do(ctx context.Context, body []byte) (*ChatResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	endpoint, err := url.JoinPath(c.baseURL, "chat/completions")
	if err != nil {
		return nil, fmt.Errorf("failed to join url path: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: string(raw)}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Error.Message != "" {
			apiErr.Message = eb.Error.Message
			apiErr.Type = eb.Error.Type
		}
		return nil, apiErr
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("no choices in OpenAI response")
	}
	return &ChatResponse{
		ID:      parsed.ID,
		Model:   parsed.Model,
		Content: parsed.Choices[0].Message.Content,
		Usage:   parsed.Usage,
	}, nil
}
