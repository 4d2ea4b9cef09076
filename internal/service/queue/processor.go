// Package queue runs the claim-and-dispatch cycle, the retry sweep and ad-hoc bulk
// scheduling over the queue store.
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
	"golang.org/x/sync/errgroup"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/metrics"
	events "github.com/acme/outbound-call-queue/internal/queue"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/internal/service/concurrency"
	"github.com/acme/outbound-call-queue/internal/telephony"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// Admission is the window policy as seen by the queue services.
type Admission interface {
	IsAdmissible(ctx context.Context, t time.Time) (bool, error)
	NextAdmissibleInstant(ctx context.Context, after time.Time) (time.Time, error)
}

// SlotLimiter caps in-flight dispatches per campaign.
type SlotLimiter interface {
	Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, campaignID uuid.UUID) error
}

// OutcomePublisher receives one event per completed dispatch attempt.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, evt events.OutcomeEvent) error
}

// ProcessorConfig tunes the dispatch fan-out. DispatchTimeout bounds the dispatcher
// call alone; SlotWait bounds the wait for a per-campaign slot before it.
type ProcessorConfig struct {
	WorkerCount     int
	DispatchTimeout time.Duration
	DefaultPrompt   string
	SlotPoll        time.Duration
	SlotWait        time.Duration
}

// ProcessResult summarizes one Process call. Released entries were claimed but handed
// back to pending without a dispatch, either because the caller was cancelled or no
// campaign slot freed up in time.
type ProcessResult struct {
	Admitted  bool           `json:"admitted"`
	Processed int            `json:"processed"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Released  int            `json:"released"`
	Failures  []EntryFailure `json:"failures,omitempty"`
}

// EntryFailure describes a failed dispatch in a summary.
type EntryFailure struct {
	EntryID   uuid.UUID           `json:"entry_id"`
	ContactID uuid.UUID           `json:"contact_id"`
	Kind      telephony.ErrorKind `json:"kind"`
	Reason    string              `json:"reason"`
}

// ProcessorOption customizes optional collaborators.
type ProcessorOption func(*Processor)

// WithSlots enables the per-campaign concurrency limiter.
func WithSlots(slots SlotLimiter) ProcessorOption {
	return func(p *Processor) { p.slots = slots }
}

// WithPublisher emits an outcome event after every completed attempt.
func WithPublisher(pub OutcomePublisher) ProcessorOption {
	return func(p *Processor) { p.publisher = pub }
}

// Processor claims due entries and hands them to the dispatcher.
type Processor struct {
	store      repository.QueueStore
	campaigns  repository.CampaignRepository
	contacts   repository.ContactRepository
	stats      repository.CampaignStatisticsRepository
	policy     Admission
	dispatcher telephony.Dispatcher
	clock      clock.Clock
	logger     *logger.Logger
	cfg        ProcessorConfig
	slots      SlotLimiter
	publisher  OutcomePublisher
	tracer     trace.Tracer
}

// NewProcessor wires a processor over one storage backend.
func NewProcessor(
	repos repository.Repositories,
	policy Admission,
	dispatcher telephony.Dispatcher,
	clk clock.Clock,
	log *logger.Logger,
	cfg ProcessorConfig,
	opts ...ProcessorOption,
) *Processor {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 15 * time.Second
	}
	if cfg.SlotWait <= 0 {
		cfg.SlotWait = cfg.DispatchTimeout
	}
	if clk == nil {
		clk = clock.System()
	}
	p := &Processor{
		store:      repos.Queue,
		campaigns:  repos.Campaigns,
		contacts:   repos.Contacts,
		stats:      repos.Statistics,
		policy:     policy,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     log.Component("processor"),
		cfg:        cfg,
		tracer:     otel.Tracer("outbound.processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type entryOutcome struct {
	entry     domain.QueueEntry
	succeeded bool
	released  bool
	kind      telephony.ErrorKind
	reason    string
}

// Process claims up to limit due entries and dispatches them. Nothing is claimed while
// the calling window is closed. Dispatch failures are recorded on the entries and
// reported in the summary; only store failures are returned as errors.
func (p *Processor) Process(ctx context.Context, limit int) (ProcessResult, error) {
	if limit <= 0 {
		return ProcessResult{}, fmt.Errorf("processor: %w: limit must be positive", apperrors.ErrValidation)
	}

	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "queue.process", trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()
	defer func() { metrics.ProcessDurationSeconds.Observe(time.Since(started).Seconds()) }()

	now := p.clock.Now()
	admitted, err := p.policy.IsAdmissible(ctx, now)
	if err != nil {
		span.RecordError(err)
		return ProcessResult{}, fmt.Errorf("processor: check window: %w", err)
	}
	if !admitted {
		metrics.AdmissionDeniedTotal.Inc()
		span.SetAttributes(attribute.Bool("admitted", false))
		p.logger.Debug("calling window closed", zap.Time("now", now))
		return ProcessResult{}, nil
	}

	entries, err := p.store.ClaimBatch(ctx, limit, now)
	if err != nil {
		span.RecordError(err)
		return ProcessResult{Admitted: true}, fmt.Errorf("processor: claim: %w", err)
	}
	metrics.ClaimedEntries.Observe(float64(len(entries)))
	span.SetAttributes(attribute.Int("claimed", len(entries)))
	if len(entries) == 0 {
		return ProcessResult{Admitted: true}, nil
	}

	campaigns := p.loadCampaigns(ctx, entries)

	outcomes := make([]*entryOutcome, len(entries))
	var g errgroup.Group
	g.SetLimit(p.cfg.WorkerCount)
	for i := range entries {
		i, entry := i, entries[i]
		g.Go(func() error {
			var campaign *domain.Campaign
			if entry.CampaignID != nil {
				campaign = campaigns[*entry.CampaignID]
			}
			out, err := p.handle(ctx, entry, campaign)
			outcomes[i] = out
			return err
		})
	}
	waitErr := g.Wait()

	result := ProcessResult{Admitted: true}
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		if out.released {
			result.Released++
			continue
		}
		result.Processed++
		if out.succeeded {
			result.Succeeded++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, EntryFailure{
			EntryID:   out.entry.ID,
			ContactID: out.entry.ContactID,
			Kind:      out.kind,
			Reason:    out.reason,
		})
	}
	span.SetAttributes(
		attribute.Int("processed", result.Processed),
		attribute.Int("succeeded", result.Succeeded),
		attribute.Int("failed", result.Failed),
		attribute.Int("released", result.Released),
	)
	p.logger.Info("queue processed",
		zap.Int("claimed", len(entries)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("released", result.Released),
	)

	if waitErr != nil {
		span.RecordError(waitErr)
		return result, fmt.Errorf("processor: %w", waitErr)
	}
	return result, nil
}

func (p *Processor) loadCampaigns(ctx context.Context, entries []domain.QueueEntry) map[uuid.UUID]*domain.Campaign {
	out := make(map[uuid.UUID]*domain.Campaign)
	for _, entry := range entries {
		if entry.CampaignID == nil {
			continue
		}
		id := *entry.CampaignID
		if _, seen := out[id]; seen {
			continue
		}
		campaign, err := p.campaigns.Get(ctx, id)
		if err != nil {
			p.logger.Warn("load campaign for prompt", zap.String("campaign_id", id.String()), zap.Error(err))
		}
		out[id] = campaign
	}
	return out
}

// handle dispatches one claimed entry and records its outcome. Entries reached after
// the caller is cancelled, or that get no campaign slot in time, are released back to
// pending without counting an attempt. The returned error is set only when the store
// rejected the write.
func (p *Processor) handle(ctx context.Context, entry domain.QueueEntry, campaign *domain.Campaign) (*entryOutcome, error) {
	if err := ctx.Err(); err != nil {
		return p.release(ctx, entry, "cancelled", err)
	}

	releaseSlot := func() {}
	if campaign != nil && p.slots != nil {
		if err := p.acquireSlot(ctx, campaign); err != nil {
			return p.release(ctx, entry, "no_slot", err)
		}
		releaseSlot = func() {
			if err := p.slots.Release(context.WithoutCancel(ctx), campaign.ID); err != nil {
				p.logger.Warn("release concurrency slot", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
			}
		}
	}

	attempt := entry.AttemptCount + 1
	started := time.Now()
	res, dispatchErr := p.dispatch(ctx, entry, campaign, attempt)
	elapsed := time.Since(started)
	releaseSlot()
	metrics.DispatchDurationSeconds.Observe(elapsed.Seconds())

	at := p.clock.Now()
	out := &entryOutcome{entry: entry, succeeded: dispatchErr == nil}
	outcome := domain.Succeeded(res.DispatchID, at)
	if dispatchErr != nil {
		out.kind = telephony.KindOf(dispatchErr)
		out.reason = dispatchErr.Error()
		outcome = domain.FailedWith(out.reason, at)
	}

	// Claimed rows must not be stranded in processing by a cancelled caller.
	storeCtx := context.WithoutCancel(ctx)
	if err := p.store.Complete(storeCtx, entry.ID, outcome); err != nil {
		return nil, fmt.Errorf("complete entry %s: %w", entry.ID, err)
	}

	p.afterOutcome(storeCtx, out, res, attempt, elapsed, at)
	return out, nil
}

func (p *Processor) acquireSlot(ctx context.Context, campaign *domain.Campaign) error {
	wctx, cancel := context.WithTimeout(ctx, p.cfg.SlotWait)
	defer cancel()
	return concurrency.Wait(wctx, p.slots, campaign.ID, campaign.MaxConcurrentCalls, p.cfg.SlotPoll)
}

func (p *Processor) release(ctx context.Context, entry domain.QueueEntry, reason string, cause error) (*entryOutcome, error) {
	if err := p.store.Release(context.WithoutCancel(ctx), entry.ID); err != nil {
		return nil, fmt.Errorf("release entry %s: %w", entry.ID, err)
	}
	metrics.ReleasedTotal.WithLabelValues(reason).Inc()
	p.logger.Info("entry released undispatched",
		zap.String("entry_id", entry.ID.String()),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	return &entryOutcome{entry: entry, released: true, reason: reason}, nil
}

// dispatch calls the dispatcher under DispatchTimeout only. Cancelling the caller does
// not abort a call that is already being placed.
func (p *Processor) dispatch(ctx context.Context, entry domain.QueueEntry, campaign *domain.Campaign, attempt int) (telephony.Result, error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DispatchTimeout)
	defer cancel()

	req := telephony.Request{
		PhoneNumber: entry.PhoneNumber,
		Prompt:      campaign.Prompt(p.cfg.DefaultPrompt),
		EntryID:     entry.ID,
		CampaignID:  entry.CampaignID,
		Attempt:     attempt,
	}

	type reply struct {
		res telephony.Result
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := p.dispatcher.Dispatch(dctx, req)
		done <- reply{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && !errors.Is(r.err, apperrors.ErrDispatch) {
			return r.res, telephony.Transient("dispatcher error", r.err)
		}
		return r.res, r.err
	case <-dctx.Done():
		return telephony.Result{}, telephony.Transient("dispatch timed out", dctx.Err())
	}
}

// afterOutcome runs the best-effort side effects of a stored outcome.
func (p *Processor) afterOutcome(ctx context.Context, out *entryOutcome, res telephony.Result, attempt int, elapsed time.Duration, at time.Time) {
	entry := out.entry
	fields := []zap.Field{zap.String("entry_id", entry.ID.String()), zap.Int("attempt", attempt)}

	if err := p.contacts.MarkAttempt(ctx, entry.ContactID, at); err != nil {
		p.logger.Warn("mark contact attempt", append(fields, zap.Error(err))...)
	}

	status := domain.EntryStatusCompleted
	if !out.succeeded {
		status = domain.EntryStatusFailed
	}
	metrics.DispatchTotal.WithLabelValues(string(status), string(out.kind)).Inc()

	if entry.CampaignID != nil {
		delta := repository.StatsDelta{PendingCallsDelta: -1}
		if out.succeeded {
			delta.CompletedCallsDelta = 1
		} else {
			delta.FailedCallsDelta = 1
		}
		if err := p.stats.ApplyDelta(ctx, *entry.CampaignID, delta); err != nil {
			p.logger.Warn("apply campaign stats", append(fields, zap.Error(err))...)
		}
	}

	if out.succeeded {
		p.logger.Debug("dispatch succeeded", append(fields, zap.String("dispatch_id", res.DispatchID))...)
	} else {
		p.logger.Info("dispatch failed", append(fields, zap.String("kind", string(out.kind)), zap.String("reason", out.reason))...)
	}

	if p.publisher == nil {
		return
	}
	evt := events.OutcomeEvent{
		EntryID:     entry.ID,
		CampaignID:  entry.CampaignID,
		ContactID:   entry.ContactID,
		PhoneNumber: entry.PhoneNumber,
		Status:      string(status),
		Attempt:     attempt,
		DispatchID:  res.DispatchID,
		Error:       out.reason,
		DurationMs:  elapsed.Milliseconds(),
		OccurredAt:  at,
	}
	if !out.succeeded {
		evt.ErrorKind = string(out.kind)
	}
	if err := p.publisher.PublishOutcome(ctx, evt); err != nil {
		p.logger.Warn("publish outcome", append(fields, zap.Error(err))...)
	}
}
