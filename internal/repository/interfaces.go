package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a conditional update lost its race or a unique constraint fired.
	ErrConflict = apperrors.ErrConflict
)

// QueueStore is the durable set of queue entries with atomic claim semantics.
type QueueStore interface {
	// Enqueue inserts a pending entry, and its campaign call when call is non-nil, in one
	// transaction. It fails with ErrIneligible for missing or disabled contacts and with
	// ErrDuplicate when the contact already holds an active entry.
	Enqueue(ctx context.Context, entry *domain.QueueEntry, call *domain.CampaignCall) error
	// ClaimBatch moves up to limit due pending entries to processing and returns them
	// ordered by priority then scheduled time. Entries of paused campaigns are skipped.
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error)
	// Complete records the terminal outcome of a processing entry.
	Complete(ctx context.Context, id uuid.UUID, outcome domain.Outcome) error
	// Release hands a processing entry that was never dispatched back to pending. The
	// attempt count and scheduled time are left as they were.
	Release(ctx context.Context, id uuid.UUID) error
	CountsByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error)

	HasActive(ctx context.Context, contactID uuid.UUID) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error)
	List(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueEntry, error)
	// ListRetryable pages failed entries with attempt_count < maxAttempts by id after afterID.
	ListRetryable(ctx context.Context, maxAttempts int, afterID uuid.UUID, limit int) ([]domain.QueueEntry, error)
	CountExhausted(ctx context.Context, maxAttempts int) (int64, error)
	// Reschedule moves a failed entry back to pending at the given time.
	Reschedule(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time) error
	// ReleaseStale fails processing entries claimed before olderThan.
	ReleaseStale(ctx context.Context, olderThan, now time.Time) (int64, error)
}

// CampaignRepository manages campaign metadata persistence.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Update(ctx context.Context, campaign *domain.Campaign) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus, at time.Time) error
	List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
}

// CampaignCallRepository reads the campaign-to-entry join rows written by the queue store.
type CampaignCallRepository interface {
	GetByEntry(ctx context.Context, entryID uuid.UUID) (*domain.CampaignCall, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.CampaignCall, error)
}

// ContactRepository is the callable record store.
type ContactRepository interface {
	Create(ctx context.Context, contact *domain.Contact) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error)
	Find(ctx context.Context, criteria domain.ContactCriteria) ([]domain.Contact, error)
	MarkAttempt(ctx context.Context, id uuid.UUID, at time.Time) error
	SetNextAvailable(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AvailabilityRuleRepository stores the weekly calling windows.
type AvailabilityRuleRepository interface {
	ListRules(ctx context.Context) ([]domain.AvailabilityRule, error)
	ReplaceRules(ctx context.Context, rules []domain.AvailabilityRule) error
}

// CampaignStatisticsRepository keeps aggregate counters.
type CampaignStatisticsRepository interface {
	Ensure(ctx context.Context, campaignID uuid.UUID) error
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
	ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta StatsDelta) error
}

// AttemptJournal is the append-only dispatch attempt history.
type AttemptJournal interface {
	Append(ctx context.Context, attempt domain.DispatchAttempt) error
	ListByEntry(ctx context.Context, entryID uuid.UUID, limit int) ([]domain.DispatchAttempt, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.DispatchAttempt, []byte, error)
}

// Repositories bundles one storage backend.
type Repositories struct {
	Queue      QueueStore
	Campaigns  CampaignRepository
	Calls      CampaignCallRepository
	Contacts   ContactRepository
	Rules      AvailabilityRuleRepository
	Statistics CampaignStatisticsRepository
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	TotalCallsDelta     int64
	CompletedCallsDelta int64
	FailedCallsDelta    int64
	PendingCallsDelta   int64
	RetriesDelta        int64
}

// IsZero reports whether the delta changes nothing.
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}
