package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/domain"
	events "github.com/acme/outbound-call-queue/internal/queue"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type memJournal struct {
	attempts []domain.DispatchAttempt
	err      error
}

func (j *memJournal) Append(ctx context.Context, a domain.DispatchAttempt) error {
	if j.err != nil {
		return j.err
	}
	j.attempts = append(j.attempts, a)
	return nil
}

func (j *memJournal) ListByEntry(ctx context.Context, entryID uuid.UUID, limit int) ([]domain.DispatchAttempt, error) {
	return j.attempts, nil
}

func (j *memJournal) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, state []byte) ([]domain.DispatchAttempt, []byte, error) {
	return j.attempts, nil, nil
}

func encode(t *testing.T, evt events.OutcomeEvent, offset int64) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(evt.EntryID.String()), Value: raw, Offset: offset}
}

func TestRunJournalsAndCommits(t *testing.T) {
	campaignID := uuid.New()
	evt := events.OutcomeEvent{
		EntryID:    uuid.New(),
		CampaignID: &campaignID,
		ContactID:  uuid.New(),
		Status:     string(domain.EntryStatusFailed),
		Attempt:    2,
		Error:      "busy",
		DurationMs: 1500,
		OccurredAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	reader := &fakeReader{msgs: []kafka.Message{
		encode(t, evt, 1),
		{Value: []byte("not json"), Offset: 2},
	}}
	journal := &memJournal{}

	err := New(reader, journal, logger.Nop()).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, journal.attempts, 1)
	got := journal.attempts[0]
	assert.Equal(t, evt.EntryID, got.EntryID)
	assert.Equal(t, campaignID, got.CampaignID)
	assert.Equal(t, 2, got.AttemptNumber)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, []int64{1, 2}, reader.committed, "malformed messages are committed and dropped")
	assert.True(t, reader.closed)
}

func TestRunLeavesFailedAppendUncommitted(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{encode(t, events.OutcomeEvent{EntryID: uuid.New(), Status: "completed"}, 7)}}
	journal := &memJournal{err: errors.New("scylla down")}

	require.NoError(t, New(reader, journal, logger.Nop()).Run(context.Background()))
	assert.Empty(t, reader.committed)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &blockingReader{}
	err := New(reader, &memJournal{}, logger.Nop()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type blockingReader struct{ fakeReader }

func (r *blockingReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}
