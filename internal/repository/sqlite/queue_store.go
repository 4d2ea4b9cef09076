package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/pkg/clock"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

const queueEntryColumns = `id, contact_id, campaign_id, phone_number, scheduled_at, priority, status,
	attempt_count, last_attempt_at, claimed_at, failure_reason, notes, created_at, updated_at`

const staleClaimReason = "claim expired"

// QueueStore implements repository.QueueStore on SQLite. Claims are a single
// UPDATE ... RETURNING statement on a serialized connection.
type QueueStore struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewQueueStore constructs the store.
func NewQueueStore(db *sqlx.DB, clk clock.Clock) *QueueStore {
	return &QueueStore{db: db, clock: clk}
}

// Enqueue inserts a pending entry after the eligibility and dedup checks.
func (s *QueueStore) Enqueue(ctx context.Context, entry *domain.QueueEntry, call *domain.CampaignCall) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Status = domain.EntryStatusPending
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	entry.UpdatedAt = entry.CreatedAt

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var enabled bool
		err := tx.GetContext(ctx, &enabled, `SELECT scheduling_enabled FROM contacts WHERE id = ?`, entry.ContactID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("queue store: enqueue: %w: contact %s not found", apperrors.ErrIneligible, entry.ContactID)
		}
		if err != nil {
			return fmt.Errorf("queue store: load contact: %w", err)
		}
		if !enabled {
			return fmt.Errorf("queue store: enqueue: %w: scheduling disabled for contact %s", apperrors.ErrIneligible, entry.ContactID)
		}

		var active int
		if err := tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM queue_entries
			WHERE contact_id = ? AND status IN ('pending', 'processing')`, entry.ContactID); err != nil {
			return fmt.Errorf("queue store: check active: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("queue store: enqueue contact %s: %w", entry.ContactID, apperrors.ErrDuplicate)
		}

		var campaignID any
		if entry.CampaignID != nil {
			campaignID = entry.CampaignID.String()
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO queue_entries (
			id, contact_id, campaign_id, phone_number, scheduled_at, priority, status,
			attempt_count, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.ContactID, campaignID, entry.PhoneNumber, millis(entry.ScheduledAt), entry.Priority,
			string(entry.Status), entry.AttemptCount, entry.Notes, millis(entry.CreatedAt), millis(entry.UpdatedAt))
		if isUniqueViolation(err) {
			return fmt.Errorf("queue store: enqueue contact %s: %w", entry.ContactID, apperrors.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("queue store: insert entry: %w", err)
		}

		if call == nil {
			return nil
		}
		if call.ID == uuid.Nil {
			call.ID = uuid.New()
		}
		call.QueueEntryID = entry.ID
		call.ContactID = entry.ContactID
		if call.CampaignID == uuid.Nil && entry.CampaignID != nil {
			call.CampaignID = *entry.CampaignID
		}
		call.CreatedAt = entry.CreatedAt
		call.UpdatedAt = entry.CreatedAt
		if _, err := tx.ExecContext(ctx, `INSERT INTO campaign_calls (
			id, campaign_id, contact_id, queue_entry_id, attempt_number, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			call.ID, call.CampaignID, call.ContactID, call.QueueEntryID, call.AttemptNumber,
			millis(call.CreatedAt), millis(call.UpdatedAt)); err != nil {
			return fmt.Errorf("queue store: insert campaign call: %w", err)
		}
		return nil
	})
}

// ClaimBatch moves due pending entries to processing in one statement.
func (s *QueueStore) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	at := millis(now)
	rows, err := s.db.QueryxContext(ctx, `UPDATE queue_entries
		SET status = 'processing', claimed_at = ?, updated_at = ?
		WHERE id IN (
			SELECT e.id
			  FROM queue_entries e
			  LEFT JOIN campaigns c ON c.id = e.campaign_id
			 WHERE e.status = 'pending'
			   AND e.scheduled_at <= ?
			   AND (e.campaign_id IS NULL OR c.status <> 'paused')
			 ORDER BY e.priority ASC, e.scheduled_at ASC, e.id ASC
			 LIMIT ?
		) AND status = 'pending'
		RETURNING `+queueEntryColumns, at, at, at, limit)
	if err != nil {
		return nil, fmt.Errorf("queue store: claim: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("queue store: claim: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return entries, nil
}

// Complete moves a processing entry to its terminal status and updates the campaign call.
func (s *QueueStore) Complete(ctx context.Context, id uuid.UUID, outcome domain.Outcome) error {
	if outcome.Status != domain.EntryStatusCompleted && outcome.Status != domain.EntryStatusFailed {
		return fmt.Errorf("queue store: complete: %w: terminal status required, got %q", apperrors.ErrValidation, outcome.Status)
	}
	failed := outcome.Status == domain.EntryStatusFailed
	increment := 0
	var reason sql.NullString
	if failed {
		increment = 1
		reason = sql.NullString{String: outcome.Reason, Valid: true}
	}
	at := millis(outcome.At)

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var attempts int
		err := tx.GetContext(ctx, &attempts, `UPDATE queue_entries
			SET status = ?, attempt_count = attempt_count + ?, last_attempt_at = ?,
			    failure_reason = ?, claimed_at = NULL, updated_at = ?
			WHERE id = ? AND status = 'processing'
			RETURNING attempt_count`,
			string(outcome.Status), increment, at, reason, at, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("queue store: complete %s: %w: entry is not processing", id, repository.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("queue store: complete: %w", err)
		}

		attemptNumber := attempts
		if !failed {
			attemptNumber++
		}
		var dispatchID sql.NullString
		if outcome.DispatchID != "" {
			dispatchID = sql.NullString{String: outcome.DispatchID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE campaign_calls
			SET dispatch_id = COALESCE(?, dispatch_id), error_message = ?, attempt_number = ?,
			    dispatched_at = ?, completed_at = ?, updated_at = ?
			WHERE queue_entry_id = ?`,
			dispatchID, reason, attemptNumber, at, at, at, id); err != nil {
			return fmt.Errorf("queue store: update campaign call: %w", err)
		}
		return nil
	})
}

// CountsByStatus returns a count for every status, zero included.
func (s *QueueStore) CountsByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	counts := make(map[domain.EntryStatus]int64, len(domain.EntryStatuses))
	for _, st := range domain.EntryStatuses {
		counts[st] = 0
	}
	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM queue_entries GROUP BY status`); err != nil {
		return nil, fmt.Errorf("queue store: counts: %w", err)
	}
	for _, row := range rows {
		counts[domain.EntryStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// HasActive reports whether the contact has a pending or processing entry.
func (s *QueueStore) HasActive(ctx context.Context, contactID uuid.UUID) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queue_entries
		WHERE contact_id = ? AND status IN ('pending', 'processing')`, contactID); err != nil {
		return false, fmt.Errorf("queue store: has active: %w", err)
	}
	return n > 0, nil
}

// Get fetches one entry.
func (s *QueueStore) Get(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	var record queueEntryRecord
	err := s.db.QueryRowxContext(ctx, `SELECT `+queueEntryColumns+` FROM queue_entries WHERE id = ?`, id).StructScan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue store: get: %w", err)
	}
	entry := record.toDomain()
	return &entry, nil
}

// List returns entries matching the filter, oldest schedule first.
func (s *QueueStore) List(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueEntry, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CampaignID != nil {
		conds = append(conds, "campaign_id = ?")
		args = append(args, filter.CampaignID.String())
	}
	if filter.ContactID != nil {
		conds = append(conds, "contact_id = ?")
		args = append(args, filter.ContactID.String())
	}
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY scheduled_at ASC, id ASC LIMIT ?"
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue store: list: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("queue store: list: %w", err)
	}
	return entries, nil
}

// ListRetryable pages failed entries still under the attempt bound.
func (s *QueueStore) ListRetryable(ctx context.Context, maxAttempts int, afterID uuid.UUID, limit int) ([]domain.QueueEntry, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT `+queueEntryColumns+` FROM queue_entries
		WHERE status = 'failed' AND attempt_count < ? AND id > ?
		ORDER BY id ASC LIMIT ?`, maxAttempts, afterID.String(), listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("queue store: list retryable: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("queue store: list retryable: %w", err)
	}
	return entries, nil
}

// CountExhausted counts failed entries that reached the attempt bound.
func (s *QueueStore) CountExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queue_entries
		WHERE status = 'failed' AND attempt_count >= ?`, maxAttempts); err != nil {
		return 0, fmt.Errorf("queue store: count exhausted: %w", err)
	}
	return n, nil
}

// Reschedule reopens a failed entry that is still under the attempt bound.
func (s *QueueStore) Reschedule(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE queue_entries
		SET status = 'pending', scheduled_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed' AND attempt_count < ?`,
		millis(at), millis(s.clock.Now()), id, maxAttempts)
	if isUniqueViolation(err) {
		return fmt.Errorf("queue store: reschedule %s: %w", id, apperrors.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("queue store: reschedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue store: rows affected: %w", err)
	}
	if n == 0 {
		return s.notRetryable(ctx, id, maxAttempts)
	}
	return nil
}

// notRetryable explains a reschedule that matched no row.
func (s *QueueStore) notRetryable(ctx context.Context, id uuid.UUID, maxAttempts int) error {
	var row struct {
		Status       string `db:"status"`
		AttemptCount int    `db:"attempt_count"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT status, attempt_count FROM queue_entries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("queue store: reschedule %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("queue store: reschedule lookup: %w", err)
	}
	if row.Status == string(domain.EntryStatusFailed) && row.AttemptCount >= maxAttempts {
		return fmt.Errorf("queue store: reschedule %s: %w: %w", id, repository.ErrConflict, apperrors.ErrExhausted)
	}
	return fmt.Errorf("queue store: reschedule %s: %w: entry is %s", id, repository.ErrConflict, row.Status)
}

// Release returns an undispatched processing entry to pending.
func (s *QueueStore) Release(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE queue_entries
		SET status = 'pending', claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing'`, millis(s.clock.Now()), id)
	if err != nil {
		return fmt.Errorf("queue store: release: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("queue store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue store: release %s: %w: entry is not processing", id, repository.ErrConflict)
	}
	return nil
}

// ReleaseStale fails entries stuck in processing since before olderThan.
func (s *QueueStore) ReleaseStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE queue_entries
		SET status = 'failed', attempt_count = attempt_count + 1, failure_reason = ?,
		    last_attempt_at = claimed_at, claimed_at = NULL, updated_at = ?
		WHERE status = 'processing' AND claimed_at < ?`, staleClaimReason, millis(now), millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("queue store: release stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue store: rows affected: %w", err)
	}
	return n, nil
}

type queueEntryRecord struct {
	ID            uuid.UUID      `db:"id"`
	ContactID     uuid.UUID      `db:"contact_id"`
	CampaignID    uuid.NullUUID  `db:"campaign_id"`
	PhoneNumber   string         `db:"phone_number"`
	ScheduledAt   int64          `db:"scheduled_at"`
	Priority      int            `db:"priority"`
	Status        string         `db:"status"`
	AttemptCount  int            `db:"attempt_count"`
	LastAttemptAt sql.NullInt64  `db:"last_attempt_at"`
	ClaimedAt     sql.NullInt64  `db:"claimed_at"`
	FailureReason sql.NullString `db:"failure_reason"`
	Notes         string         `db:"notes"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

func (r queueEntryRecord) toDomain() domain.QueueEntry {
	entry := domain.QueueEntry{
		ID:            r.ID,
		ContactID:     r.ContactID,
		PhoneNumber:   r.PhoneNumber,
		ScheduledAt:   fromMillis(r.ScheduledAt),
		Priority:      r.Priority,
		Status:        domain.EntryStatus(r.Status),
		AttemptCount:  r.AttemptCount,
		LastAttemptAt: fromNullMillis(r.LastAttemptAt),
		ClaimedAt:     fromNullMillis(r.ClaimedAt),
		FailureReason: stringPtr(r.FailureReason),
		Notes:         r.Notes,
		CreatedAt:     fromMillis(r.CreatedAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
	}
	if r.CampaignID.Valid {
		id := r.CampaignID.UUID
		entry.CampaignID = &id
	}
	return entry
}

func scanEntries(rows *sqlx.Rows) ([]domain.QueueEntry, error) {
	defer rows.Close()
	var entries []domain.QueueEntry
	for rows.Next() {
		var record queueEntryRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, record.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return entries, nil
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
