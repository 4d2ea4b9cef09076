package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus is the lifecycle state of a queue entry.
type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusCompleted  EntryStatus = "completed"
	EntryStatusFailed     EntryStatus = "failed"
)

// EntryStatuses lists every status in lifecycle order.
var EntryStatuses = []EntryStatus{
	EntryStatusPending,
	EntryStatusProcessing,
	EntryStatusCompleted,
	EntryStatusFailed,
}

// Valid reports whether s is a known status.
func (s EntryStatus) Valid() bool {
	switch s {
	case EntryStatusPending, EntryStatusProcessing, EntryStatusCompleted, EntryStatusFailed:
		return true
	}
	return false
}

// Active reports whether s counts against the one-active-entry-per-contact rule.
func (s EntryStatus) Active() bool {
	return s == EntryStatusPending || s == EntryStatusProcessing
}

// CanTransitionTo reports whether the lifecycle allows s -> next.
// Failed -> Pending is only taken by the retry scheduler.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	switch s {
	case EntryStatusPending:
		return next == EntryStatusProcessing
	case EntryStatusProcessing:
		return next == EntryStatusCompleted || next == EntryStatusFailed
	case EntryStatusFailed:
		return next == EntryStatusPending
	case EntryStatusCompleted:
		return false
	}
	return false
}

// ParseEntryStatus validates a raw status string.
func ParseEntryStatus(raw string) (EntryStatus, bool) {
	s := EntryStatus(raw)
	return s, s.Valid()
}

// QueueEntry is one pending or historical call attempt slot.
type QueueEntry struct {
	ID            uuid.UUID
	ContactID     uuid.UUID
	CampaignID    *uuid.UUID
	PhoneNumber   string
	ScheduledAt   time.Time
	Priority      int
	Status        EntryStatus
	AttemptCount  int
	LastAttemptAt *time.Time
	ClaimedAt     *time.Time
	FailureReason *string
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outcome is what the processor writes back after a dispatch.
type Outcome struct {
	Status     EntryStatus
	DispatchID string
	Reason     string
	At         time.Time
}

// Succeeded builds a completed outcome.
func Succeeded(dispatchID string, at time.Time) Outcome {
	return Outcome{Status: EntryStatusCompleted, DispatchID: dispatchID, At: at}
}

// FailedWith builds a failed outcome.
func FailedWith(reason string, at time.Time) Outcome {
	return Outcome{Status: EntryStatusFailed, Reason: reason, At: at}
}

// QueueFilter narrows entry listings.
type QueueFilter struct {
	Status     EntryStatus
	CampaignID *uuid.UUID
	ContactID  *uuid.UUID
	Limit      int
}

// DispatchAttempt is one journaled dispatch try.
type DispatchAttempt struct {
	EntryID       uuid.UUID
	CampaignID    uuid.UUID
	ContactID     uuid.UUID
	AttemptNumber int
	Status        EntryStatus
	DispatchID    string
	Error         string
	Duration      time.Duration
	OccurredAt    time.Time
}
