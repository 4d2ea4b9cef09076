package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
)

const campaignColumns = `id, name, description, status, batch_size, call_spacing_seconds, prompt_override,
	priority, max_concurrent_calls, created_by, created_at, updated_at, launched_at, completed_at`

// CampaignRepository implements repository.CampaignRepository on SQLite.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, c *domain.Campaign) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, string(c.Status), c.BatchSize, int(c.CallSpacing/time.Second),
		nullString(c.PromptOverride), c.Priority, c.MaxConcurrentCalls, c.CreatedBy,
		millis(c.CreatedAt), millis(c.UpdatedAt), nullMillis(c.LaunchedAt), nullMillis(c.CompletedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("campaign repo: insert %s: %w", c.ID, repository.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	var record campaignRecord
	err := r.db.GetContext(ctx, &record, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}
	campaign := record.toDomain()
	return &campaign, nil
}

// Update updates campaign metadata.
func (r *CampaignRepository) Update(ctx context.Context, c *domain.Campaign) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		name = ?, description = ?, status = ?, batch_size = ?, call_spacing_seconds = ?,
		prompt_override = ?, priority = ?, max_concurrent_calls = ?, updated_at = ?,
		launched_at = ?, completed_at = ?
	 WHERE id = ?`,
		c.Name, c.Description, string(c.Status), c.BatchSize, int(c.CallSpacing/time.Second),
		nullString(c.PromptOverride), c.Priority, c.MaxConcurrentCalls, millis(c.UpdatedAt),
		nullMillis(c.LaunchedAt), nullMillis(c.CompletedAt), c.ID)
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateStatus updates campaign status and stamps launch or completion times.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CampaignStatus, at time.Time) error {
	ts := millis(at)
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		status = ?,
		updated_at = ?,
		launched_at = CASE WHEN ? = 'running' AND launched_at IS NULL THEN ? ELSE launched_at END,
		completed_at = CASE WHEN ? = 'completed' THEN ? ELSE completed_at END
	WHERE id = ?`, string(status), ts, string(status), ts, string(status), ts, id)
	if err != nil {
		return fmt.Errorf("campaign repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// List returns campaigns with keyset pagination on id.
func (r *CampaignRepository) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	after := uuid.Nil
	if afterID != nil {
		after = *afterID
	}
	var records []campaignRecord
	if err := r.db.SelectContext(ctx, &records, `SELECT `+campaignColumns+`
		FROM campaigns WHERE id > ? ORDER BY id ASC LIMIT ?`, after.String(), limit); err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	return toCampaigns(records), nil
}

// ListByStatus returns campaigns filtered by status.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []campaignRecord
	if err := r.db.SelectContext(ctx, &records, `SELECT `+campaignColumns+`
		FROM campaigns WHERE status = ? ORDER BY priority ASC, created_at ASC LIMIT ?`, string(status), limit); err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	return toCampaigns(records), nil
}

type campaignRecord struct {
	ID                 uuid.UUID      `db:"id"`
	Name               string         `db:"name"`
	Description        sql.NullString `db:"description"`
	Status             string         `db:"status"`
	BatchSize          int            `db:"batch_size"`
	CallSpacingSeconds int            `db:"call_spacing_seconds"`
	PromptOverride     sql.NullString `db:"prompt_override"`
	Priority           int            `db:"priority"`
	MaxConcurrentCalls int            `db:"max_concurrent_calls"`
	CreatedBy          string         `db:"created_by"`
	CreatedAt          int64          `db:"created_at"`
	UpdatedAt          int64          `db:"updated_at"`
	LaunchedAt         sql.NullInt64  `db:"launched_at"`
	CompletedAt        sql.NullInt64  `db:"completed_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	return domain.Campaign{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description.String,
		Status:             domain.CampaignStatus(r.Status),
		BatchSize:          r.BatchSize,
		CallSpacing:        time.Duration(r.CallSpacingSeconds) * time.Second,
		PromptOverride:     stringPtr(r.PromptOverride),
		Priority:           r.Priority,
		MaxConcurrentCalls: r.MaxConcurrentCalls,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          fromMillis(r.CreatedAt),
		UpdatedAt:          fromMillis(r.UpdatedAt),
		LaunchedAt:         fromNullMillis(r.LaunchedAt),
		CompletedAt:        fromNullMillis(r.CompletedAt),
	}
}

func toCampaigns(records []campaignRecord) []*domain.Campaign {
	results := make([]*domain.Campaign, 0, len(records))
	for _, record := range records {
		campaign := record.toDomain()
		results = append(results, &campaign)
	}
	return results
}
