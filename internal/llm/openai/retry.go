package openai

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/metrics"
)

const (
	defaultInitialInterval = 500 * time.Millisecond
	maxInterval            = 4 * time.Second
)

// retry runs op until it succeeds, fails permanently, or the attempt budget
// is spent. The last error is returned unwrapped.
func (c *Client) retry(ctx context.Context, model string, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialInterval
	exp.Multiplier = 2
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.maxAttempts-1)), ctx)

	classified := func() error {
		err := op()
		if err == nil || retryable(ctx, err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		metrics.CompletionRetries.WithLabelValues(model).Inc()
		c.logger.Warn("completion attempt failed, retrying",
			zap.String("model", model),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	return backoff.RetryNotify(classified, policy, notify)
}

// retryable reports whether err is worth another attempt. Failures caused by
// the caller's own context ending are not.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// per-attempt timeout while the caller still has time
	return errors.Is(err, context.DeadlineExceeded)
}
