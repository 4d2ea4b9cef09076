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

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/metrics"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
	"github.com/acme/outbound-call-queue/pkg/phone"
)

// ScheduleRequest is an ad-hoc bulk schedule without a campaign.
type ScheduleRequest struct {
	ContactIDs []uuid.UUID
	Priority   int
	NotBefore  *time.Time
	Notes      string
}

// ScheduleResult summarizes a bulk schedule.
type ScheduleResult struct {
	Scheduled int                 `json:"scheduled"`
	Skipped   int                 `json:"skipped"`
	Skips     []domain.Skip       `json:"skips,omitempty"`
	Entries   []domain.QueueEntry `json:"entries,omitempty"`
}

// Scheduler enqueues ad-hoc entries at the next admissible instant.
type Scheduler struct {
	store    repository.QueueStore
	contacts repository.ContactRepository
	policy   Admission
	clock    clock.Clock
	logger   *logger.Logger
	region   string
	tracer   trace.Tracer
}

// NewScheduler constructs the bulk scheduler. region is the default phone region.
func NewScheduler(repos repository.Repositories, policy Admission, clk clock.Clock, log *logger.Logger, region string) *Scheduler {
	if clk == nil {
		clk = clock.System()
	}
	return &Scheduler{
		store:    repos.Queue,
		contacts: repos.Contacts,
		policy:   policy,
		clock:    clk,
		logger:   log.Component("scheduler"),
		region:   region,
		tracer:   otel.Tracer("outbound.schedule"),
	}
}

// BulkSchedule enqueues one entry per eligible contact, in request order, at the first
// admissible instant at or after max(now, NotBefore).
func (s *Scheduler) BulkSchedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error) {
	if len(req.ContactIDs) == 0 {
		return ScheduleResult{}, fmt.Errorf("bulk schedule: %w: no contacts given", apperrors.ErrValidation)
	}

	ctx, span := s.tracer.Start(ctx, "queue.bulk_schedule", trace.WithAttributes(attribute.Int("contacts", len(req.ContactIDs))))
	defer span.End()

	now := s.clock.Now()
	base := now
	if req.NotBefore != nil && req.NotBefore.After(now) {
		base = *req.NotBefore
	}
	target, err := s.policy.NextAdmissibleInstant(ctx, base)
	if err != nil {
		span.RecordError(err)
		return ScheduleResult{}, fmt.Errorf("bulk schedule: %w", err)
	}

	found, err := s.contacts.Find(ctx, domain.ContactCriteria{IDs: req.ContactIDs, Limit: len(req.ContactIDs)})
	if err != nil {
		span.RecordError(err)
		return ScheduleResult{}, fmt.Errorf("bulk schedule: find contacts: %w", err)
	}
	byID := make(map[uuid.UUID]domain.Contact, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	var result ScheduleResult
	skip := func(id uuid.UUID, reason domain.SkipReason, detail string) {
		result.Skipped++
		result.Skips = append(result.Skips, domain.Skip{ContactID: id, Reason: reason, Detail: detail})
		metrics.SkippedTotal.WithLabelValues(string(reason)).Inc()
	}

	for _, id := range req.ContactIDs {
		contact, ok := byID[id]
		if !ok {
			skip(id, domain.SkipNotFound, "")
			continue
		}
		elig, err := CheckEligible(ctx, s.store, contact, s.region)
		if err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("bulk schedule: %w", err)
		}
		if !elig.OK() {
			skip(id, elig.Reason, elig.Detail)
			continue
		}

		entry := domain.QueueEntry{
			ContactID:   contact.ID,
			PhoneNumber: elig.PhoneNumber,
			ScheduledAt: target,
			Priority:    req.Priority,
			Notes:       req.Notes,
			CreatedAt:   now,
		}
		if err := s.store.Enqueue(ctx, &entry, nil); err != nil {
			if reason, ok := SkipReasonOf(err); ok {
				skip(id, reason, err.Error())
				continue
			}
			span.RecordError(err)
			return result, fmt.Errorf("bulk schedule: enqueue %s: %w", id, err)
		}
		if err := s.contacts.SetNextAvailable(ctx, contact.ID, target); err != nil {
			s.logger.Warn("set next available", zap.String("contact_id", contact.ID.String()), zap.Error(err))
		}
		result.Scheduled++
		result.Entries = append(result.Entries, entry)
		metrics.ScheduledTotal.WithLabelValues("bulk").Inc()
	}

	span.SetAttributes(attribute.Int("scheduled", result.Scheduled), attribute.Int("skipped", result.Skipped))
	s.logger.Info("bulk schedule finished",
		zap.Int("scheduled", result.Scheduled),
		zap.Int("skipped", result.Skipped),
		zap.Time("scheduled_at", target),
	)
	return result, nil
}

// ActiveChecker is the part of the store the eligibility check needs.
type ActiveChecker interface {
	HasActive(ctx context.Context, contactID uuid.UUID) (bool, error)
}

// Eligibility is the result of CheckEligible.
type Eligibility struct {
	Reason      domain.SkipReason
	Detail      string
	PhoneNumber string
}

// OK reports whether the contact may be scheduled.
func (e Eligibility) OK() bool { return e.Reason == "" }

// CheckEligible applies the skip rules shared by launches and bulk schedules.
// On success PhoneNumber holds the E.164 form.
func CheckEligible(ctx context.Context, store ActiveChecker, contact domain.Contact, region string) (Eligibility, error) {
	if !contact.SchedulingEnabled {
		return Eligibility{Reason: domain.SkipSchedulingDisabled}, nil
	}
	active, err := store.HasActive(ctx, contact.ID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("check active entry: %w", err)
	}
	if active {
		return Eligibility{Reason: domain.SkipAlreadyActive}, nil
	}
	number, err := phone.Normalize(contact.PhoneNumber, region)
	if err != nil {
		return Eligibility{Reason: domain.SkipInvalidPhone, Detail: err.Error()}, nil
	}
	return Eligibility{PhoneNumber: number}, nil
}

// SkipReasonOf maps enqueue eligibility errors raised under a race to skip reasons.
func SkipReasonOf(err error) (domain.SkipReason, bool) {
	switch {
	case errors.Is(err, apperrors.ErrDuplicate):
		return domain.SkipAlreadyActive, true
	case errors.Is(err, apperrors.ErrIneligible):
		return domain.SkipSchedulingDisabled, true
	}
	return "", false
}
