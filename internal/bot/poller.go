package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/metrics"
	"github.com/UltimateSoul/soul-ai-bot/internal/telegram"
	"github.com/UltimateSoul/soul-ai-bot/internal/worker"
)

// DefaultPollTimeout is the long-poll window passed to getUpdates.
const DefaultPollTimeout = 30 * time.Second

// UpdateSource is the part of the Telegram API the poller uses.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, int64, error)
	DeleteWebhook(ctx context.Context) error
}

// Dispatcher accepts updates for processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, u telegram.Update) error
}

// Poller feeds long-polled updates to a Dispatcher.
type Poller struct {
	source     UpdateSource
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *zap.Logger

	newBackOff func() backoff.BackOff
}

// NewPoller creates a Poller.
func NewPoller(source UpdateSource, dispatcher Dispatcher, timeout time.Duration, logger *zap.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		source:     source,
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run removes any webhook and polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.source.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	p.logger.Info("polling for updates", zap.Duration("timeout", p.timeout))

	bo := p.newBackOff()
	var offset int64
	for ctx.Err() == nil {
		updates, next, err := p.source.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if telegram.IsPollTimeout(err) {
				continue
			}
			wait := bo.NextBackOff()
			p.logger.Warn("getUpdates failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		offset = next

		for _, u := range updates {
			metrics.UpdatesReceived.WithLabelValues("poll").Inc()
			if err := p.dispatcher.Dispatch(ctx, u); err != nil {
				if errors.Is(err, worker.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				p.logger.Error("failed to dispatch update", zap.Int64("update_id", u.UpdateID), zap.Error(err))
			}
		}
	}
	p.logger.Info("poller stopped")
	return nil
}
