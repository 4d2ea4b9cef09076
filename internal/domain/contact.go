package domain

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a callable record.
type Contact struct {
	ID                uuid.UUID
	PhoneNumber       string
	DisplayName       string
	TimeZone          string
	SchedulingEnabled bool
	LastAttemptAt     *time.Time
	NextAvailableAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ContactCriteria selects candidate contacts. Zero values do not filter.
type ContactCriteria struct {
	IDs []uuid.UUID
	// TimeZone matches the contact time zone label exactly.
	TimeZone    string
	PhonePrefix string
	// NotAttemptedSince keeps contacts never attempted or last attempted before it.
	NotAttemptedSince *time.Time
	EnabledOnly       bool
	Limit             int
}
