// Package scheduler drives the queue services on fixed intervals.
package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/metrics"
	queuesvc "github.com/acme/outbound-call-queue/internal/service/queue"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// Processor is one claim-and-dispatch cycle.
type Processor interface {
	Process(ctx context.Context, limit int) (queuesvc.ProcessResult, error)
}

// Counter reports queue sizes by status.
type Counter interface {
	CountsByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error)
}

// Scheduler periodically processes due queue entries.
type Scheduler struct {
	processor Processor
	counter   Counter
	interval  time.Duration
	batchSize int
	logger    *logger.Logger
	tracer    trace.Tracer
}

// New constructs a scheduler. counter may be nil, in which case the status gauges are
// not refreshed.
func New(processor Processor, counter Counter, cfg config.SchedulerConfig, log *logger.Logger) *Scheduler {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.MaxBatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Scheduler{
		processor: processor,
		counter:   counter,
		interval:  interval,
		batchSize: batch,
		logger:    log.Component("scheduler"),
		tracer:    otel.Tracer("outbound.scheduler"),
	}
}

// Run executes the scheduling loop until cancelled. The first tick runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one processing cycle and refreshes the status gauges.
func (s *Scheduler) Tick(ctx context.Context) (queuesvc.ProcessResult, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.tick", trace.WithAttributes(attribute.Int("batch_size", s.batchSize)))
	defer span.End()

	res, err := s.processor.Process(ctx, s.batchSize)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	span.SetAttributes(
		attribute.Bool("admitted", res.Admitted),
		attribute.Int("processed", res.Processed),
	)
	if res.Processed > 0 {
		s.logger.Info("tick processed entries",
			zap.Int("processed", res.Processed),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
		)
	} else {
		s.logger.Debug("tick idle", zap.Bool("admitted", res.Admitted))
	}

	s.refreshGauges(ctx)
	return res, nil
}

func (s *Scheduler) refreshGauges(ctx context.Context) {
	if s.counter == nil {
		return
	}
	counts, err := s.counter.CountsByStatus(ctx)
	if err != nil {
		s.logger.Warn("count entries", zap.Error(err))
		return
	}
	observed := make(map[string]int64, len(domain.EntryStatuses))
	for _, status := range domain.EntryStatuses {
		observed[string(status)] = counts[status]
	}
	metrics.ObserveCounts(observed)
}
