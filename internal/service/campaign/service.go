package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// Defaults fill campaign settings the caller leaves unset.
type Defaults struct {
	BatchSize          int
	CallSpacing        time.Duration
	MaxConcurrentCalls int
}

// Service orchestrates campaign lifecycle operations.
type Service struct {
	repo      repository.CampaignRepository
	statsRepo repository.CampaignStatisticsRepository
	callRepo  repository.CampaignCallRepository
	clock     clock.Clock
	defaults  Defaults
}

// NewService constructs a campaign service.
func NewService(repos repository.Repositories, clk clock.Clock, defaults Defaults) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if defaults.BatchSize <= 0 {
		defaults.BatchSize = 100
	}
	return &Service{
		repo:      repos.Campaigns,
		statsRepo: repos.Statistics,
		callRepo:  repos.Calls,
		clock:     clk,
		defaults:  defaults,
	}
}

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	Name               string
	Description        string
	BatchSize          int
	CallSpacing        time.Duration
	PromptOverride     *string
	Priority           int
	MaxConcurrentCalls int
	CreatedBy          string
	// Scheduled creates the campaign in the scheduled state instead of draft.
	Scheduled bool
}

// UpdateCampaignInput captures updatable properties.
type UpdateCampaignInput struct {
	ID                 uuid.UUID
	Name               *string
	Description        *string
	BatchSize          *int
	CallSpacing        *time.Duration
	PromptOverride     *string
	Priority           *int
	MaxConcurrentCalls *int
}

// Create provisions a new campaign.
func (s *Service) Create(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	status := domain.CampaignStatusDraft
	if input.Scheduled {
		status = domain.CampaignStatusScheduled
	}
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		Name:               strings.TrimSpace(input.Name),
		Description:        input.Description,
		Status:             status,
		BatchSize:          resolve(input.BatchSize, s.defaults.BatchSize),
		CallSpacing:        input.CallSpacing,
		PromptOverride:     input.PromptOverride,
		Priority:           input.Priority,
		MaxConcurrentCalls: resolve(input.MaxConcurrentCalls, s.defaults.MaxConcurrentCalls),
		CreatedBy:          input.CreatedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if campaign.CallSpacing == 0 {
		campaign.CallSpacing = s.defaults.CallSpacing
	}

	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}
	if err := s.statsRepo.Ensure(ctx, campaign.ID); err != nil {
		return nil, fmt.Errorf("campaign service: ensure stats: %w", err)
	}
	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns ordered by id after afterID.
func (s *Service) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return s.repo.List(ctx, afterID, limit)
}

// ListByStatus returns campaigns in one status.
func (s *Service) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown campaign status %q", apperrors.ErrValidation, status)
	}
	return s.repo.ListByStatus(ctx, status, limit)
}

// Update modifies campaign settings. Completed campaigns are read-only.
func (s *Service) Update(ctx context.Context, input UpdateCampaignInput) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == domain.CampaignStatusCompleted {
		return nil, fmt.Errorf("campaign service: %w: campaign %s is completed", apperrors.ErrConflict, campaign.ID)
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
		}
		campaign.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		campaign.Description = *input.Description
	}
	if input.BatchSize != nil {
		if *input.BatchSize <= 0 {
			return nil, fmt.Errorf("%w: batch size must be positive", apperrors.ErrValidation)
		}
		campaign.BatchSize = *input.BatchSize
	}
	if input.CallSpacing != nil {
		if *input.CallSpacing < 0 {
			return nil, fmt.Errorf("%w: call spacing must not be negative", apperrors.ErrValidation)
		}
		campaign.CallSpacing = *input.CallSpacing
	}
	if input.PromptOverride != nil {
		if *input.PromptOverride == "" {
			campaign.PromptOverride = nil
		} else {
			prompt := *input.PromptOverride
			campaign.PromptOverride = &prompt
		}
	}
	if input.Priority != nil {
		campaign.Priority = *input.Priority
	}
	if input.MaxConcurrentCalls != nil {
		campaign.MaxConcurrentCalls = resolve(*input.MaxConcurrentCalls, s.defaults.MaxConcurrentCalls)
	}

	campaign.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: update: %w", err)
	}
	return campaign, nil
}

// Pause stops new claims for the campaign's entries. Entries themselves are untouched.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusPaused, func(from domain.CampaignStatus) bool {
		return from != domain.CampaignStatusCompleted
	})
}

// Resume lets a paused campaign's entries be claimed again.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusRunning, func(from domain.CampaignStatus) bool {
		return from == domain.CampaignStatusPaused
	})
}

// Complete closes the campaign to further launches.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.CampaignStatusCompleted, func(from domain.CampaignStatus) bool {
		return from != domain.CampaignStatusCompleted
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.CampaignStatus, allowed func(domain.CampaignStatus) bool) error {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status == to {
		return nil
	}
	if !allowed(campaign.Status) {
		return fmt.Errorf("campaign service: %w: cannot move campaign from %s to %s", apperrors.ErrConflict, campaign.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, to, s.clock.Now()); err != nil {
		return fmt.Errorf("campaign service: update status: %w", err)
	}
	return nil
}

// Stats retrieves aggregated statistics.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.statsRepo.Get(ctx, id)
}

// Calls lists the campaign's launched calls.
func (s *Service) Calls(ctx context.Context, id uuid.UUID, limit int) ([]domain.CampaignCall, error) {
	return s.callRepo.ListByCampaign(ctx, id, limit)
}

func resolve(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func validateCreateInput(input CreateCampaignInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", apperrors.ErrValidation)
	}
	if input.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative", apperrors.ErrValidation)
	}
	if input.CallSpacing < 0 {
		return fmt.Errorf("%w: call spacing must not be negative", apperrors.ErrValidation)
	}
	if input.MaxConcurrentCalls < 0 {
		return fmt.Errorf("%w: max concurrent calls must not be negative", apperrors.ErrValidation)
	}
	return nil
}
