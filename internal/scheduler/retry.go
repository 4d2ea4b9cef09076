package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/config"
	queuesvc "github.com/acme/outbound-call-queue/internal/service/queue"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// Retrier is one retry sweep.
type Retrier interface {
	RescheduleFailed(ctx context.Context, maxAttempts int, backoff queuesvc.Backoff) (queuesvc.RetryResult, error)
}

// RetrySweeper periodically reschedules failed entries.
type RetrySweeper struct {
	retrier     Retrier
	backoff     queuesvc.Backoff
	maxAttempts int
	interval    time.Duration
	logger      *logger.Logger
}

// NewRetrySweeper builds a sweeper from the retry settings.
func NewRetrySweeper(retrier Retrier, cfg config.RetryConfig, log *logger.Logger) (*RetrySweeper, error) {
	backoff, err := queuesvc.BackoffFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &RetrySweeper{
		retrier:     retrier,
		backoff:     backoff,
		maxAttempts: cfg.MaxAttempts,
		interval:    interval,
		logger:      log.Component("retry-sweeper"),
	}, nil
}

// Run sweeps until cancelled.
func (r *RetrySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs a single retry pass.
func (r *RetrySweeper) Sweep(ctx context.Context) (queuesvc.RetryResult, error) {
	res, err := r.retrier.RescheduleFailed(ctx, r.maxAttempts, r.backoff)
	if err != nil {
		return res, err
	}
	if res.Rescheduled > 0 || res.Released > 0 || res.Skipped > 0 {
		r.logger.Info("sweep finished",
			zap.Int("rescheduled", res.Rescheduled),
			zap.Int64("released", res.Released),
			zap.Int("skipped", res.Skipped),
			zap.Int64("abandoned", res.Abandoned),
		)
	}
	return res, nil
}
