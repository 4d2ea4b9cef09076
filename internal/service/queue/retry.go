package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/metrics"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// RetryResult summarizes one sweep.
type RetryResult struct {
	Rescheduled int          `json:"rescheduled"`
	Abandoned   int64        `json:"abandoned"`
	Skipped     int          `json:"skipped"`
	Released    int64        `json:"released"`
	Errors      []EntryError `json:"errors,omitempty"`
}

// EntryError is a per-entry problem reported in a summary.
type EntryError struct {
	EntryID uuid.UUID `json:"entry_id"`
	Reason  string    `json:"reason"`
}

// RetryScheduler moves failed entries with attempts left back to pending.
type RetryScheduler struct {
	store    repository.QueueStore
	stats    repository.CampaignStatisticsRepository
	policy   Admission
	clock    clock.Clock
	logger   *logger.Logger
	pageSize int
	claimTTL time.Duration
	tracer   trace.Tracer
}

// NewRetryScheduler constructs the sweep. A positive claimTTL also releases
// processing entries whose claim is older than the TTL before each sweep.
func NewRetryScheduler(repos repository.Repositories, policy Admission, clk clock.Clock, log *logger.Logger, pageSize int, claimTTL time.Duration) *RetryScheduler {
	if pageSize <= 0 {
		pageSize = 200
	}
	if clk == nil {
		clk = clock.System()
	}
	return &RetryScheduler{
		store:    repos.Queue,
		stats:    repos.Statistics,
		policy:   policy,
		clock:    clk,
		logger:   log.Component("retry"),
		pageSize: pageSize,
		claimTTL: claimTTL,
		tracer:   otel.Tracer("outbound.retry"),
	}
}

// RescheduleFailed reschedules every failed entry with attemptCount < maxAttempts at
// the first admissible instant after now + backoff(attemptCount). Entries at the limit
// are counted as abandoned and never touched.
func (r *RetryScheduler) RescheduleFailed(ctx context.Context, maxAttempts int, backoff Backoff) (RetryResult, error) {
	if maxAttempts <= 0 {
		return RetryResult{}, fmt.Errorf("retry: %w: max attempts must be positive", apperrors.ErrValidation)
	}
	if backoff == nil {
		backoff = Fixed(0)
	}

	ctx, span := r.tracer.Start(ctx, "queue.retry", trace.WithAttributes(attribute.Int("max_attempts", maxAttempts)))
	defer span.End()

	now := r.clock.Now()
	var result RetryResult

	if r.claimTTL > 0 {
		released, err := r.store.ReleaseStale(ctx, now.Add(-r.claimTTL), now)
		if err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("retry: release stale claims: %w", err)
		}
		result.Released = released
		if released > 0 {
			metrics.StaleClaimsReleasedTotal.Add(float64(released))
			r.logger.Warn("released stale claims", zap.Int64("count", released), zap.Duration("ttl", r.claimTTL))
		}
	}

	afterID := uuid.Nil
	for {
		page, err := r.store.ListRetryable(ctx, maxAttempts, afterID, r.pageSize)
		if err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("retry: list failed entries: %w", err)
		}

		for _, entry := range page {
			target, err := r.policy.NextAdmissibleInstant(ctx, now.Add(backoff(entry.AttemptCount)))
			if errors.Is(err, apperrors.ErrNoWindow) {
				result.Skipped++
				result.Errors = append(result.Errors, EntryError{EntryID: entry.ID, Reason: err.Error()})
				continue
			}
			if err != nil {
				span.RecordError(err)
				return result, fmt.Errorf("retry: next admissible instant: %w", err)
			}

			err = r.store.Reschedule(ctx, entry.ID, maxAttempts, target)
			switch {
			case err == nil:
				result.Rescheduled++
				metrics.RetryRescheduledTotal.Inc()
				if entry.CampaignID != nil {
					delta := repository.StatsDelta{FailedCallsDelta: -1, PendingCallsDelta: 1, RetriesDelta: 1}
					if err := r.stats.ApplyDelta(ctx, *entry.CampaignID, delta); err != nil {
						r.logger.Warn("apply campaign stats", zap.String("entry_id", entry.ID.String()), zap.Error(err))
					}
				}
			case errors.Is(err, apperrors.ErrDuplicate), errors.Is(err, apperrors.ErrConflict):
				result.Skipped++
				result.Errors = append(result.Errors, EntryError{EntryID: entry.ID, Reason: err.Error()})
			default:
				span.RecordError(err)
				return result, fmt.Errorf("retry: reschedule %s: %w", entry.ID, err)
			}
		}

		if len(page) < r.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	abandoned, err := r.store.CountExhausted(ctx, maxAttempts)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("retry: count exhausted: %w", err)
	}
	result.Abandoned = abandoned
	metrics.RetryAbandoned.Set(float64(abandoned))

	span.SetAttributes(
		attribute.Int("rescheduled", result.Rescheduled),
		attribute.Int64("abandoned", result.Abandoned),
		attribute.Int("skipped", result.Skipped),
	)
	r.logger.Info("retry sweep finished",
		zap.Int("rescheduled", result.Rescheduled),
		zap.Int64("abandoned", result.Abandoned),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
