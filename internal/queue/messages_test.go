package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/domain"
)

func TestDecodeOutcomeToAttempt(t *testing.T) {
	campaignID := uuid.New()
	evt := OutcomeEvent{
		EntryID:     uuid.New(),
		CampaignID:  &campaignID,
		ContactID:   uuid.New(),
		PhoneNumber: "+12015550123",
		Status:      string(domain.EntryStatusFailed),
		Attempt:     2,
		Error:       "dispatch rejected: busy",
		ErrorKind:   "rejected",
		DurationMs:  1500,
		OccurredAt:  time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	decoded, err := DecodeOutcome(raw)
	require.NoError(t, err)

	attempt := decoded.JournalRecord()
	assert.Equal(t, evt.EntryID, attempt.EntryID)
	assert.Equal(t, campaignID, attempt.CampaignID)
	assert.Equal(t, domain.EntryStatusFailed, attempt.Status)
	assert.Equal(t, 2, attempt.AttemptNumber)
	assert.Equal(t, 1500*time.Millisecond, attempt.Duration)
	assert.True(t, evt.OccurredAt.Equal(attempt.OccurredAt))
}

func TestDecodeOutcomeRejectsGarbage(t *testing.T) {
	_, err := DecodeOutcome([]byte("not json"))
	require.Error(t, err)

	_, err = DecodeOutcome([]byte(`{"status":"completed"}`))
	require.Error(t, err)
}
