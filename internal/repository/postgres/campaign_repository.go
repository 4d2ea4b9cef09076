package postgres

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

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (
		id, name, description, status, batch_size, call_spacing_seconds, prompt_override,
		priority, max_concurrent_calls, created_by, created_at, updated_at, launched_at, completed_at
	) VALUES (
		:id, :name, :description, :status, :batch_size, :call_spacing_seconds, :prompt_override,
		:priority, :max_concurrent_calls, :created_by, :created_at, :updated_at, :launched_at, :completed_at
	)`

	if _, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("campaign repo: insert %s: %w", campaign.ID, repository.ErrConflict)
		}
		return fmt.Errorf("campaign repo: insert: %w", err)
	}
	return nil
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	var record campaignRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id).StructScan(&record)
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
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	q := `UPDATE campaigns SET
		name = :name,
		description = :description,
		status = :status,
		batch_size = :batch_size,
		call_spacing_seconds = :call_spacing_seconds,
		prompt_override = :prompt_override,
		priority = :priority,
		max_concurrent_calls = :max_concurrent_calls,
		updated_at = :updated_at,
		launched_at = :launched_at,
		completed_at = :completed_at
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, campaignParams(campaign))
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
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		status = $2,
		updated_at = $3,
		launched_at = CASE WHEN $2 = 'running' AND launched_at IS NULL THEN $3 ELSE launched_at END,
		completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END
	WHERE id = $1`, id, string(status), at)
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
	var records []campaignRecord
	var err error
	if afterID != nil {
		err = r.db.SelectContext(ctx, &records, `SELECT `+campaignColumns+`
			FROM campaigns WHERE id > $1 ORDER BY id ASC LIMIT $2`, *afterID, limit)
	} else {
		err = r.db.SelectContext(ctx, &records, `SELECT `+campaignColumns+`
			FROM campaigns ORDER BY id ASC LIMIT $1`, limit)
	}
	if err != nil {
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
		FROM campaigns WHERE status = $1 ORDER BY priority ASC, created_at ASC LIMIT $2`, string(status), limit); err != nil {
		return nil, fmt.Errorf("campaign repo: list by status: %w", err)
	}
	return toCampaigns(records), nil
}

func campaignParams(c *domain.Campaign) map[string]any {
	return map[string]any{
		"id":                   c.ID,
		"name":                 c.Name,
		"description":          c.Description,
		"status":               string(c.Status),
		"batch_size":           c.BatchSize,
		"call_spacing_seconds": int(c.CallSpacing / time.Second),
		"prompt_override":      c.PromptOverride,
		"priority":             c.Priority,
		"max_concurrent_calls": c.MaxConcurrentCalls,
		"created_by":           c.CreatedBy,
		"created_at":           c.CreatedAt,
		"updated_at":           c.UpdatedAt,
		"launched_at":          c.LaunchedAt,
		"completed_at":         c.CompletedAt,
	}
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
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	LaunchedAt         sql.NullTime   `db:"launched_at"`
	CompletedAt        sql.NullTime   `db:"completed_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description.String,
		Status:             domain.CampaignStatus(r.Status),
		BatchSize:          r.BatchSize,
		CallSpacing:        time.Duration(r.CallSpacingSeconds) * time.Second,
		Priority:           r.Priority,
		MaxConcurrentCalls: r.MaxConcurrentCalls,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
		LaunchedAt:         timePtr(r.LaunchedAt),
		CompletedAt:        timePtr(r.CompletedAt),
	}
	if r.PromptOverride.Valid {
		prompt := r.PromptOverride.String
		campaign.PromptOverride = &prompt
	}
	return campaign
}

func toCampaigns(records []campaignRecord) []*domain.Campaign {
	results := make([]*domain.Campaign, 0, len(records))
	for _, record := range records {
		campaign := record.toDomain()
		results = append(results, &campaign)
	}
	return results
}
