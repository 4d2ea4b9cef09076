package postgres

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

// CampaignStatisticsRepository implements repository.CampaignStatisticsRepository.
type CampaignStatisticsRepository struct {
	db *sqlx.DB
}

// NewCampaignStatisticsRepository builds the repository.
func NewCampaignStatisticsRepository(db *sqlx.DB) *CampaignStatisticsRepository {
	return &CampaignStatisticsRepository{db: db}
}

// Ensure ensures a row exists for the campaign.
func (r *CampaignStatisticsRepository) Ensure(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO campaign_statistics (campaign_id)
		VALUES ($1) ON CONFLICT (campaign_id) DO NOTHING`, campaignID)
	if err != nil {
		return fmt.Errorf("campaign stats: ensure: %w", err)
	}
	return nil
}

// Get retrieves statistics.
func (r *CampaignStatisticsRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	var stats domain.CampaignStats
	err := r.db.QueryRowxContext(ctx, `SELECT total_calls, completed_calls, failed_calls, pending_calls, retries_attempted
		FROM campaign_statistics WHERE campaign_id = $1`, campaignID).StructScan(&stats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campaign stats: get: %w", err)
	}
	return &stats, nil
}

// ApplyDelta adds counter deltas, creating the row on first use. Counters never drop
// below zero.
func (r *CampaignStatisticsRepository) ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO campaign_statistics AS s
		(campaign_id, total_calls, completed_calls, failed_calls, pending_calls, retries_attempted, updated_at)
	VALUES ($1, GREATEST($2::bigint, 0), GREATEST($3::bigint, 0), GREATEST($4::bigint, 0), GREATEST($5::bigint, 0), GREATEST($6::bigint, 0), NOW())
	ON CONFLICT (campaign_id) DO UPDATE SET
		total_calls = GREATEST(s.total_calls + $2::bigint, 0),
		completed_calls = GREATEST(s.completed_calls + $3::bigint, 0),
		failed_calls = GREATEST(s.failed_calls + $4::bigint, 0),
		pending_calls = GREATEST(s.pending_calls + $5::bigint, 0),
		retries_attempted = GREATEST(s.retries_attempted + $6::bigint, 0),
		updated_at = NOW()`,
		campaignID,
		delta.TotalCallsDelta,
		delta.CompletedCallsDelta,
		delta.FailedCallsDelta,
		delta.PendingCallsDelta,
		delta.RetriesDelta,
	)
	if err != nil {
		return fmt.Errorf("campaign stats: apply delta: %w", err)
	}
	return nil
}
