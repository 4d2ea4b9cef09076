package campaign

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
	queuesvc "github.com/acme/outbound-call-queue/internal/service/queue"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// LaunchResult summarizes one launch.
type LaunchResult struct {
	CampaignID uuid.UUID           `json:"campaign_id"`
	Scheduled  int                 `json:"scheduled"`
	Skipped    int                 `json:"skipped"`
	Skips      []domain.Skip       `json:"skips,omitempty"`
	Errors     []string            `json:"errors,omitempty"`
	Entries    []domain.QueueEntry `json:"entries,omitempty"`
}

// Launcher turns a campaign and a contact selection into spaced queue entries.
type Launcher struct {
	campaigns repository.CampaignRepository
	store     repository.QueueStore
	contacts  repository.ContactRepository
	stats     repository.CampaignStatisticsRepository
	policy    queuesvc.Admission
	clock     clock.Clock
	logger    *logger.Logger
	region    string
	tracer    trace.Tracer
}

// NewLauncher constructs a launcher. region is the default phone region.
func NewLauncher(repos repository.Repositories, policy queuesvc.Admission, clk clock.Clock, log *logger.Logger, region string) *Launcher {
	if clk == nil {
		clk = clock.System()
	}
	return &Launcher{
		campaigns: repos.Campaigns,
		store:     repos.Queue,
		contacts:  repos.Contacts,
		stats:     repos.Statistics,
		policy:    policy,
		clock:     clk,
		logger:    log.Component("launcher"),
		region:    region,
		tracer:    otel.Tracer("outbound.launcher"),
	}
}

// Launch selects up to BatchSize contacts and enqueues one entry per eligible contact.
// The i-th scheduled contact targets the first admissible instant at or after
// now + i*CallSpacing, so spacing is applied before window snapping and may be
// compressed at a window boundary.
func (l *Launcher) Launch(ctx context.Context, campaignID uuid.UUID, criteria domain.ContactCriteria) (LaunchResult, error) {
	ctx, span := l.tracer.Start(ctx, "campaign.launch", trace.WithAttributes(attribute.String("campaign.id", campaignID.String())))
	defer span.End()

	result := LaunchResult{CampaignID: campaignID}

	campaign, err := l.campaigns.Get(ctx, campaignID)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("launcher: load campaign: %w", err)
	}
	if !campaign.Status.Launchable() {
		return result, fmt.Errorf("launcher: %w: campaign %s is %s", apperrors.ErrConflict, campaign.ID, campaign.Status)
	}

	if campaign.BatchSize > 0 && (criteria.Limit <= 0 || criteria.Limit > campaign.BatchSize) {
		criteria.Limit = campaign.BatchSize
	}
	find := criteria
	if len(criteria.IDs) > 0 {
		find.Limit = len(criteria.IDs)
	}
	candidates, err := l.contacts.Find(ctx, find)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("launcher: find contacts: %w", err)
	}
	candidates, missing := selectionOrder(candidates, criteria.IDs, criteria.Limit)

	skip := func(id uuid.UUID, reason domain.SkipReason, detail string) {
		result.Skipped++
		result.Skips = append(result.Skips, domain.Skip{ContactID: id, Reason: reason, Detail: detail})
		metrics.SkippedTotal.WithLabelValues(string(reason)).Inc()
	}
	for _, id := range missing {
		skip(id, domain.SkipNotFound, "")
	}

	now := l.clock.Now()
	if _, err := l.policy.NextAdmissibleInstant(ctx, now); err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("launcher: %w", err)
	}

	for _, contact := range candidates {
		elig, err := queuesvc.CheckEligible(ctx, l.store, contact, l.region)
		if err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("launcher: %w", err)
		}
		if !elig.OK() {
			skip(contact.ID, elig.Reason, elig.Detail)
			continue
		}

		nominal := now.Add(time.Duration(result.Scheduled) * campaign.CallSpacing)
		target, err := l.policy.NextAdmissibleInstant(ctx, nominal)
		if err != nil {
			if errors.Is(err, apperrors.ErrNoWindow) {
				result.Errors = append(result.Errors, fmt.Sprintf("contact %s: %v", contact.ID, err))
				continue
			}
			span.RecordError(err)
			return result, fmt.Errorf("launcher: %w", err)
		}

		id := campaign.ID
		entry := domain.QueueEntry{
			ContactID:   contact.ID,
			CampaignID:  &id,
			PhoneNumber: elig.PhoneNumber,
			ScheduledAt: target,
			Priority:    campaign.Priority,
			CreatedAt:   now,
		}
		call := &domain.CampaignCall{CampaignID: campaign.ID}
		if err := l.store.Enqueue(ctx, &entry, call); err != nil {
			if reason, ok := queuesvc.SkipReasonOf(err); ok {
				skip(contact.ID, reason, err.Error())
				continue
			}
			span.RecordError(err)
			return result, fmt.Errorf("launcher: enqueue contact %s: %w", contact.ID, err)
		}
		if err := l.contacts.SetNextAvailable(ctx, contact.ID, target); err != nil {
			l.logger.Warn("set next available", zap.String("contact_id", contact.ID.String()), zap.Error(err))
		}

		result.Scheduled++
		result.Entries = append(result.Entries, entry)
		metrics.ScheduledTotal.WithLabelValues("campaign").Inc()
	}

	if result.Scheduled > 0 {
		delta := repository.StatsDelta{TotalCallsDelta: int64(result.Scheduled), PendingCallsDelta: int64(result.Scheduled)}
		if err := l.stats.ApplyDelta(ctx, campaign.ID, delta); err != nil {
			l.logger.Warn("apply campaign stats", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
		}
	}

	if campaign.Status == domain.CampaignStatusDraft || campaign.Status == domain.CampaignStatusScheduled {
		if err := l.campaigns.UpdateStatus(ctx, campaign.ID, domain.CampaignStatusRunning, now); err != nil {
			span.RecordError(err)
			return result, fmt.Errorf("launcher: mark running: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("scheduled", result.Scheduled), attribute.Int("skipped", result.Skipped))
	l.logger.Info("campaign launched",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("scheduled", result.Scheduled),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// selectionOrder reorders contacts to follow ids when the caller named them, and
// reports requested ids that were not found. Without ids the store order is kept.
func selectionOrder(contacts []domain.Contact, ids []uuid.UUID, limit int) ([]domain.Contact, []uuid.UUID) {
	if len(ids) == 0 {
		return contacts, nil
	}
	byID := make(map[uuid.UUID]domain.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}
	ordered := make([]domain.Contact, 0, len(contacts))
	var missing []uuid.UUID
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if limit > 0 && len(ordered)+len(missing) >= limit {
			break
		}
		c, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		ordered = append(ordered, c)
	}
	return ordered, missing
}
