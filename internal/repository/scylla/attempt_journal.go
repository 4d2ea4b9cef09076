package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
)

// AttemptJournal persists dispatch attempts in Scylla.
type AttemptJournal struct {
	session *gocql.Session
}

var _ repository.AttemptJournal = (*AttemptJournal)(nil)

// NewAttemptJournal creates a new attempt journal.
func NewAttemptJournal(session *gocql.Session) *AttemptJournal {
	return &AttemptJournal{session: session}
}

// Append records one attempt in both lookup tables.
func (j *AttemptJournal) Append(ctx context.Context, attempt domain.DispatchAttempt) error {
	durationMs := int64(attempt.Duration / time.Millisecond)
	occurred := attempt.OccurredAt.UTC()

	if err := j.session.Query(`INSERT INTO attempts_by_entry (entry_id, attempt_number, occurred_at, campaign_id, contact_id, status, dispatch_id, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.EntryID.String(), attempt.AttemptNumber, occurred, attempt.CampaignID.String(), attempt.ContactID.String(),
		string(attempt.Status), attempt.DispatchID, attempt.Error, durationMs,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt journal: insert attempts_by_entry: %w", err)
	}

	if attempt.CampaignID == uuid.Nil {
		return nil
	}
	if err := j.session.Query(`INSERT INTO attempts_by_campaign (campaign_id, bucket, occurred_at, entry_id, attempt_number, contact_id, status, dispatch_id, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.CampaignID.String(), bucketDate(occurred), occurred, attempt.EntryID.String(), attempt.AttemptNumber,
		attempt.ContactID.String(), string(attempt.Status), attempt.DispatchID, attempt.Error, durationMs,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt journal: insert attempts_by_campaign: %w", err)
	}
	return nil
}

// ListByEntry returns the newest attempts of one queue entry first.
func (j *AttemptJournal) ListByEntry(ctx context.Context, entryID uuid.UUID, limit int) ([]domain.DispatchAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	iter := j.session.Query(`SELECT attempt_number, occurred_at, campaign_id, contact_id, status, dispatch_id, error, duration_ms
		FROM attempts_by_entry WHERE entry_id = ? LIMIT ?`, entryID.String(), limit).WithContext(ctx).Iter()

	var (
		attemptNumber int
		occurred      time.Time
		campaignIDStr string
		contactIDStr  string
		status        string
		dispatchID    string
		errMsg        string
		durationMs    int64
	)

	attempts := make([]domain.DispatchAttempt, 0, limit)
	for iter.Scan(&attemptNumber, &occurred, &campaignIDStr, &contactIDStr, &status, &dispatchID, &errMsg, &durationMs) {
		attempts = append(attempts, domain.DispatchAttempt{
			EntryID:       entryID,
			CampaignID:    parseUUID(campaignIDStr),
			ContactID:     parseUUID(contactIDStr),
			AttemptNumber: attemptNumber,
			Status:        domain.EntryStatus(status),
			DispatchID:    dispatchID,
			Error:         errMsg,
			Duration:      time.Duration(durationMs) * time.Millisecond,
			OccurredAt:    occurred,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("attempt journal: list by entry: %w", err)
	}
	return attempts, nil
}

// ListByCampaign pages through a campaign's attempts using the driver paging state.
func (j *AttemptJournal) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.DispatchAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := j.session.Query(`SELECT occurred_at, entry_id, attempt_number, contact_id, status, dispatch_id, error, duration_ms
		FROM attempts_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	attempts := make([]domain.DispatchAttempt, 0, limit)

	var (
		occurred      time.Time
		entryIDStr    string
		attemptNumber int
		contactIDStr  string
		status        string
		dispatchID    string
		errMsg        string
		durationMs    int64
	)

	for iter.Scan(&occurred, &entryIDStr, &attemptNumber, &contactIDStr, &status, &dispatchID, &errMsg, &durationMs) {
		entryID, err := uuid.Parse(entryIDStr)
		if err != nil {
			continue
		}
		attempts = append(attempts, domain.DispatchAttempt{
			EntryID:       entryID,
			CampaignID:    campaignID,
			ContactID:     parseUUID(contactIDStr),
			AttemptNumber: attemptNumber,
			Status:        domain.EntryStatus(status),
			DispatchID:    dispatchID,
			Error:         errMsg,
			Duration:      time.Duration(durationMs) * time.Millisecond,
			OccurredAt:    occurred,
		})
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt journal: iter close: %w", err)
	}
	return attempts, nextState, nil
}

func parseUUID(value string) uuid.UUID {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
