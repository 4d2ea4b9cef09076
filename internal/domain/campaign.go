package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusCompleted:
		return true
	}
	return false
}

// Launchable reports whether a launch may add entries for the campaign.
func (s CampaignStatus) Launchable() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning, CampaignStatusPaused:
		return true
	case CampaignStatusCompleted:
		return false
	}
	return false
}

// Campaign is a named bulk-launch configuration.
type Campaign struct {
	ID                 uuid.UUID
	Name               string
	Description        string
	Status             CampaignStatus
	BatchSize          int
	CallSpacing        time.Duration
	PromptOverride     *string
	Priority           int
	MaxConcurrentCalls int
	CreatedBy          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LaunchedAt         *time.Time
	CompletedAt        *time.Time
}

// Prompt returns the campaign override when present, else fallback.
func (c *Campaign) Prompt(fallback string) string {
	if c != nil && c.PromptOverride != nil && *c.PromptOverride != "" {
		return *c.PromptOverride
	}
	return fallback
}

// CampaignCall joins one launched contact to its queue entry outcome.
type CampaignCall struct {
	ID            uuid.UUID
	CampaignID    uuid.UUID
	ContactID     uuid.UUID
	QueueEntryID  uuid.UUID
	DispatchID    *string
	ErrorMessage  *string
	AttemptNumber int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DispatchedAt  *time.Time
	CompletedAt   *time.Time
}

// CampaignStats aggregates campaign counters.
type CampaignStats struct {
	TotalCalls       int64 `db:"total_calls"`
	CompletedCalls   int64 `db:"completed_calls"`
	FailedCalls      int64 `db:"failed_calls"`
	PendingCalls     int64 `db:"pending_calls"`
	RetriesAttempted int64 `db:"retries_attempted"`
}
