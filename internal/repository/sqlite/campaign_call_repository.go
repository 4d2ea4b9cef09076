package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
)

const campaignCallColumns = `id, campaign_id, contact_id, queue_entry_id, dispatch_id, error_message,
	attempt_number, created_at, updated_at, dispatched_at, completed_at`

// CampaignCallRepository reads campaign call rows.
type CampaignCallRepository struct {
	db *sqlx.DB
}

// NewCampaignCallRepository constructs the repository.
func NewCampaignCallRepository(db *sqlx.DB) *CampaignCallRepository {
	return &CampaignCallRepository{db: db}
}

// GetByEntry returns the call linked to a queue entry.
func (r *CampaignCallRepository) GetByEntry(ctx context.Context, entryID uuid.UUID) (*domain.CampaignCall, error) {
	var rec campaignCallRecord
	err := r.db.GetContext(ctx, &rec, `SELECT `+campaignCallColumns+` FROM campaign_calls WHERE queue_entry_id = ?`, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campaign calls: get: %w", err)
	}
	call := rec.toDomain()
	return &call, nil
}

// ListByCampaign lists calls of a campaign in launch order.
func (r *CampaignCallRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.CampaignCall, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []campaignCallRecord
	if err := r.db.SelectContext(ctx, &recs, `SELECT `+campaignCallColumns+` FROM campaign_calls
		WHERE campaign_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, campaignID, limit); err != nil {
		return nil, fmt.Errorf("campaign calls: list: %w", err)
	}
	calls := make([]domain.CampaignCall, 0, len(recs))
	for _, rec := range recs {
		calls = append(calls, rec.toDomain())
	}
	return calls, nil
}

type campaignCallRecord struct {
	ID            uuid.UUID      `db:"id"`
	CampaignID    uuid.UUID      `db:"campaign_id"`
	ContactID     uuid.UUID      `db:"contact_id"`
	QueueEntryID  uuid.UUID      `db:"queue_entry_id"`
	DispatchID    sql.NullString `db:"dispatch_id"`
	ErrorMessage  sql.NullString `db:"error_message"`
	AttemptNumber int            `db:"attempt_number"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
	DispatchedAt  sql.NullInt64  `db:"dispatched_at"`
	CompletedAt   sql.NullInt64  `db:"completed_at"`
}

func (r campaignCallRecord) toDomain() domain.CampaignCall {
	return domain.CampaignCall{
		ID:            r.ID,
		CampaignID:    r.CampaignID,
		ContactID:     r.ContactID,
		QueueEntryID:  r.QueueEntryID,
		DispatchID:    stringPtr(r.DispatchID),
		ErrorMessage:  stringPtr(r.ErrorMessage),
		AttemptNumber: r.AttemptNumber,
		CreatedAt:     fromMillis(r.CreatedAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
		DispatchedAt:  fromNullMillis(r.DispatchedAt),
		CompletedAt:   fromNullMillis(r.CompletedAt),
	}
}
