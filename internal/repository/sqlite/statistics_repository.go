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
	"github.com/acme/outbound-call-queue/pkg/clock"
)

// CampaignStatisticsRepository keeps campaign counters in SQLite.
type CampaignStatisticsRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewCampaignStatisticsRepository builds the repository.
func NewCampaignStatisticsRepository(db *sqlx.DB, clk clock.Clock) *CampaignStatisticsRepository {
	return &CampaignStatisticsRepository{db: db, clock: clk}
}

// Ensure ensures a row exists for the campaign.
func (r *CampaignStatisticsRepository) Ensure(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO campaign_statistics (campaign_id, updated_at)
		VALUES (?, ?) ON CONFLICT (campaign_id) DO NOTHING`, campaignID, millis(r.clock.Now())); err != nil {
		return fmt.Errorf("campaign stats: ensure: %w", err)
	}
	return nil
}

// Get retrieves statistics.
func (r *CampaignStatisticsRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	var stats domain.CampaignStats
	err := r.db.GetContext(ctx, &stats, `SELECT total_calls, completed_calls, failed_calls, pending_calls, retries_attempted
		FROM campaign_statistics WHERE campaign_id = ?`, campaignID)
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
	if _, err := r.db.ExecContext(ctx, `INSERT INTO campaign_statistics
		(campaign_id, total_calls, completed_calls, failed_calls, pending_calls, retries_attempted, updated_at)
	VALUES (:id, MAX(:total, 0), MAX(:completed, 0), MAX(:failed, 0), MAX(:pending, 0), MAX(:retries, 0), :now)
	ON CONFLICT (campaign_id) DO UPDATE SET
		total_calls = MAX(total_calls + :total, 0),
		completed_calls = MAX(completed_calls + :completed, 0),
		failed_calls = MAX(failed_calls + :failed, 0),
		pending_calls = MAX(pending_calls + :pending, 0),
		retries_attempted = MAX(retries_attempted + :retries, 0),
		updated_at = :now`,
		sql.Named("id", campaignID),
		sql.Named("total", delta.TotalCallsDelta),
		sql.Named("completed", delta.CompletedCallsDelta),
		sql.Named("failed", delta.FailedCallsDelta),
		sql.Named("pending", delta.PendingCallsDelta),
		sql.Named("retries", delta.RetriesDelta),
		sql.Named("now", millis(r.clock.Now())),
	); err != nil {
		return fmt.Errorf("campaign stats: apply delta: %w", err)
	}
	return nil
}
