// Package status consumes dispatch outcome events and records them in the attempt journal.
package status

import (
	"context"
	"errors"
	"io"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	events "github.com/acme/outbound-call-queue/internal/queue"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// MessageReader is the subset of *kafka.Reader the worker consumes from.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Worker appends every outcome event to the journal and commits it afterwards.
type Worker struct {
	reader  MessageReader
	journal repository.AttemptJournal
	logger  *logger.Logger
	tracer  trace.Tracer
}

// New creates a status worker.
func New(reader MessageReader, journal repository.AttemptJournal, log *logger.Logger) *Worker {
	return &Worker{
		reader:  reader,
		journal: journal,
		logger:  log.Component("status-worker"),
		tracer:  otel.Tracer("outbound.statusworker"),
	}
}

// Run processes outcome events until the context is cancelled. Undecodable messages are
// committed and dropped. A journal failure leaves the message uncommitted so the next
// consumer generation redelivers it.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			w.logger.Error("fetch", zap.Error(err))
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			w.logger.Error("journal append", zap.Error(err), zap.Int64("offset", msg.Offset))
			continue
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			w.logger.Error("commit", zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) error {
	evt, err := events.DecodeOutcome(msg.Value)
	if err != nil {
		w.logger.Warn("dropping malformed outcome", zap.Error(err), zap.Int64("offset", msg.Offset))
		return nil
	}

	ctx, span := w.tracer.Start(ctx, "outcome.journal", trace.WithAttributes(
		attribute.String("entry.id", evt.EntryID.String()),
		attribute.String("status", evt.Status),
		attribute.Int("attempt", evt.Attempt),
	))
	defer span.End()

	if err := w.journal.Append(ctx, evt.JournalRecord()); err != nil {
		span.RecordError(err)
		return err
	}
	w.logger.Debug("outcome recorded",
		zap.String("entry_id", evt.EntryID.String()),
		zap.String("status", evt.Status),
		zap.Int("attempt", evt.Attempt),
	)
	return nil
}
