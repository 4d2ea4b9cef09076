package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/outbound-call-queue/internal/domain"
)

// OutcomeEvent reports the result of one dispatch attempt.
type OutcomeEvent struct {
	EntryID     uuid.UUID  `json:"entry_id"`
	CampaignID  *uuid.UUID `json:"campaign_id,omitempty"`
	ContactID   uuid.UUID  `json:"contact_id"`
	PhoneNumber string     `json:"phone_number"`
	Status      string     `json:"status"`
	Attempt     int        `json:"attempt"`
	DispatchID  string     `json:"dispatch_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// JournalRecord converts the event into a journal record.
func (e OutcomeEvent) JournalRecord() domain.DispatchAttempt {
	var campaignID uuid.UUID
	if e.CampaignID != nil {
		campaignID = *e.CampaignID
	}
	return domain.DispatchAttempt{
		EntryID:       e.EntryID,
		CampaignID:    campaignID,
		ContactID:     e.ContactID,
		AttemptNumber: e.Attempt,
		Status:        domain.EntryStatus(e.Status),
		DispatchID:    e.DispatchID,
		Error:         e.Error,
		Duration:      time.Duration(e.DurationMs) * time.Millisecond,
		OccurredAt:    e.OccurredAt,
	}
}

// DecodeOutcome parses a message value produced by OutcomePublisher.
func DecodeOutcome(value []byte) (OutcomeEvent, error) {
	var evt OutcomeEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		return OutcomeEvent{}, fmt.Errorf("outcome event: decode: %w", err)
	}
	if evt.EntryID == uuid.Nil {
		return OutcomeEvent{}, fmt.Errorf("outcome event: missing entry id")
	}
	return evt, nil
}
