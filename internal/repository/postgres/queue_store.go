package postgres

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
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

const queueEntryColumns = `id, contact_id, campaign_id, phone_number, scheduled_at, priority, status,
	attempt_count, last_attempt_at, claimed_at, failure_reason, notes, created_at, updated_at`

// QueueStore implements repository.QueueStore on PostgreSQL.
type QueueStore struct {
	db *sqlx.DB
}

// NewQueueStore constructs the store.
func NewQueueStore(db *sqlx.DB) *QueueStore {
	return &QueueStore{db: db}
}

// Enqueue inserts a pending entry after the eligibility and dedup checks.
func (s *QueueStore) Enqueue(ctx context.Context, entry *domain.QueueEntry, call *domain.CampaignCall) error {
	prepareEntry(entry)

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var enabled bool
		err := tx.GetContext(ctx, &enabled, `SELECT scheduling_enabled FROM contacts WHERE id = $1 FOR SHARE`, entry.ContactID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("queue store: enqueue: %w: contact %s not found", apperrors.ErrIneligible, entry.ContactID)
		}
		if err != nil {
			return fmt.Errorf("queue store: load contact: %w", err)
		}
		if !enabled {
			return fmt.Errorf("queue store: enqueue: %w: scheduling disabled for contact %s", apperrors.ErrIneligible, entry.ContactID)
		}

		var active bool
		if err := tx.GetContext(ctx, &active, `SELECT EXISTS (
			SELECT 1 FROM queue_entries WHERE contact_id = $1 AND status IN ('pending', 'processing'))`, entry.ContactID); err != nil {
			return fmt.Errorf("queue store: check active: %w", err)
		}
		if active {
			return fmt.Errorf("queue store: enqueue contact %s: %w", entry.ContactID, apperrors.ErrDuplicate)
		}

		_, err = tx.NamedExecContext(ctx, `INSERT INTO queue_entries (
			id, contact_id, campaign_id, phone_number, scheduled_at, priority, status,
			attempt_count, notes, created_at, updated_at
		) VALUES (
			:id, :contact_id, :campaign_id, :phone_number, :scheduled_at, :priority, :status,
			:attempt_count, :notes, :created_at, :updated_at
		)`, map[string]any{
			"id":            entry.ID,
			"contact_id":    entry.ContactID,
			"campaign_id":   nullUUID(entry.CampaignID),
			"phone_number":  entry.PhoneNumber,
			"scheduled_at":  entry.ScheduledAt,
			"priority":      entry.Priority,
			"status":        string(entry.Status),
			"attempt_count": entry.AttemptCount,
			"notes":         entry.Notes,
			"created_at":    entry.CreatedAt,
			"updated_at":    entry.UpdatedAt,
		})
		if isUniqueViolation(err) {
			return fmt.Errorf("queue store: enqueue contact %s: %w", entry.ContactID, apperrors.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("queue store: insert entry: %w", err)
		}

		if call == nil {
			return nil
		}
		call.QueueEntryID = entry.ID
		prepareCall(call, entry)
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO campaign_calls (
			id, campaign_id, contact_id, queue_entry_id, attempt_number, created_at, updated_at
		) VALUES (:id, :campaign_id, :contact_id, :queue_entry_id, :attempt_number, :created_at, :updated_at)`, map[string]any{
			"id":             call.ID,
			"campaign_id":    call.CampaignID,
			"contact_id":     call.ContactID,
			"queue_entry_id": call.QueueEntryID,
			"attempt_number": call.AttemptNumber,
			"created_at":     call.CreatedAt,
			"updated_at":     call.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("queue store: insert campaign call: %w", err)
		}
		return nil
	})
}

// ClaimBatch locks due rows with SKIP LOCKED so concurrent claimers never overlap.
func (s *QueueStore) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.QueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryxContext(ctx, `UPDATE queue_entries q
		SET status = 'processing', claimed_at = $1, updated_at = $1
		FROM (
			SELECT e.id
			  FROM queue_entries e
			  LEFT JOIN campaigns c ON c.id = e.campaign_id
			 WHERE e.status = 'pending'
			   AND e.scheduled_at <= $1
			   AND (e.campaign_id IS NULL OR c.status <> 'paused')
			 ORDER BY e.priority ASC, e.scheduled_at ASC, e.id ASC
			 LIMIT $2
			 FOR UPDATE OF e SKIP LOCKED
		) picked
		WHERE q.id = picked.id AND q.status = 'pending'
		RETURNING q.id, q.contact_id, q.campaign_id, q.phone_number, q.scheduled_at, q.priority, q.status,
			q.attempt_count, q.last_attempt_at, q.claimed_at, q.failure_reason, q.notes, q.created_at, q.updated_at`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("queue store: claim: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("queue store: claim: %w", err)
	}
	sortClaimOrder(entries)
	return entries, nil
}

// Complete moves a processing entry to its terminal status and updates the campaign call.
func (s *QueueStore) Complete(ctx context.Context, id uuid.UUID, outcome domain.Outcome) error {
	if outcome.Status != domain.EntryStatusCompleted && outcome.Status != domain.EntryStatusFailed {
		return fmt.Errorf("queue store: complete: %w: terminal status required, got %q", apperrors.ErrValidation, outcome.Status)
	}
	failed := outcome.Status == domain.EntryStatusFailed
	increment := 0
	var reason *string
	if failed {
		increment = 1
		reason = &outcome.Reason
	}

	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var attempts int
		err := tx.GetContext(ctx, &attempts, `UPDATE queue_entries
			SET status = $2, attempt_count = attempt_count + $3, last_attempt_at = $4,
			    failure_reason = $5, claimed_at = NULL, updated_at = $4
			WHERE id = $1 AND status = 'processing'
			RETURNING attempt_count`,
			id, string(outcome.Status), increment, outcome.At, reason)
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
		var dispatchID *string
		if outcome.DispatchID != "" {
			dispatchID = &outcome.DispatchID
		}
		if _, err := tx.ExecContext(ctx, `UPDATE campaign_calls
			SET dispatch_id = COALESCE($2, dispatch_id), error_message = $3, attempt_number = $4,
			    dispatched_at = $5, completed_at = $5, updated_at = $5
			WHERE queue_entry_id = $1`,
			id, dispatchID, reason, attemptNumber, outcome.At); err != nil {
			return fmt.Errorf("queue store: update campaign call: %w", err)
		}
		return nil
	})
}

// CountsByStatus returns a count for every status, zero included.
func (s *QueueStore) CountsByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	return countsByStatus(ctx, s.db)
}

// HasActive reports whether the contact has a pending or processing entry.
func (s *QueueStore) HasActive(ctx context.Context, contactID uuid.UUID) (bool, error) {
	var active bool
	if err := s.db.GetContext(ctx, &active, `SELECT EXISTS (
		SELECT 1 FROM queue_entries WHERE contact_id = $1 AND status IN ('pending', 'processing'))`, contactID); err != nil {
		return false, fmt.Errorf("queue store: has active: %w", err)
	}
	return active, nil
}

// Get fetches one entry.
func (s *QueueStore) Get(ctx context.Context, id uuid.UUID) (*domain.QueueEntry, error) {
	var record queueEntryRecord
	err := s.db.QueryRowxContext(ctx, `SELECT `+queueEntryColumns+` FROM queue_entries WHERE id = $1`, id).StructScan(&record)
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
	where, args := filterClause(filter)
	query := s.db.Rebind(`SELECT ` + queueEntryColumns + ` FROM queue_entries` + where +
		` ORDER BY scheduled_at ASC, id ASC LIMIT ?`)
	rows, err := s.db.QueryxContext(ctx, query, append(args, listLimit(filter.Limit))...)
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
		WHERE status = 'failed' AND attempt_count < $1 AND id > $2
		ORDER BY id ASC LIMIT $3`, maxAttempts, afterID, listLimit(limit))
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
		WHERE status = 'failed' AND attempt_count >= $1`, maxAttempts); err != nil {
		return 0, fmt.Errorf("queue store: count exhausted: %w", err)
	}
	return n, nil
}

// Reschedule reopens a failed entry that is still under the attempt bound.
func (s *QueueStore) Reschedule(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE queue_entries
		SET status = 'pending', scheduled_at = $3, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed' AND attempt_count < $2`, id, maxAttempts, at)
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
	err := s.db.GetContext(ctx, &row, `SELECT status, attempt_count FROM queue_entries WHERE id = $1`, id)
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
		SET status = 'pending', claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
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
		SET status = 'failed', attempt_count = attempt_count + 1, failure_reason = $2,
		    last_attempt_at = claimed_at, claimed_at = NULL, updated_at = $3
		WHERE status = 'processing' AND claimed_at < $1`, olderThan, staleClaimReason, now)
	if err != nil {
		return 0, fmt.Errorf("queue store: release stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue store: rows affected: %w", err)
	}
	return n, nil
}

const staleClaimReason = "claim expired"

type queueEntryRecord struct {
	ID            uuid.UUID      `db:"id"`
	ContactID     uuid.UUID      `db:"contact_id"`
	CampaignID    uuid.NullUUID  `db:"campaign_id"`
	PhoneNumber   string         `db:"phone_number"`
	ScheduledAt   time.Time      `db:"scheduled_at"`
	Priority      int            `db:"priority"`
	Status        string         `db:"status"`
	AttemptCount  int            `db:"attempt_count"`
	LastAttemptAt sql.NullTime   `db:"last_attempt_at"`
	ClaimedAt     sql.NullTime   `db:"claimed_at"`
	FailureReason sql.NullString `db:"failure_reason"`
	Notes         string         `db:"notes"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r queueEntryRecord) toDomain() domain.QueueEntry {
	entry := domain.QueueEntry{
		ID:            r.ID,
		ContactID:     r.ContactID,
		PhoneNumber:   r.PhoneNumber,
		ScheduledAt:   r.ScheduledAt.UTC(),
		Priority:      r.Priority,
		Status:        domain.EntryStatus(r.Status),
		AttemptCount:  r.AttemptCount,
		LastAttemptAt: timePtr(r.LastAttemptAt),
		ClaimedAt:     timePtr(r.ClaimedAt),
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.CampaignID.Valid {
		id := r.CampaignID.UUID
		entry.CampaignID = &id
	}
	if r.FailureReason.Valid {
		reason := r.FailureReason.String
		entry.FailureReason = &reason
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

func countsByStatus(ctx context.Context, db *sqlx.DB) (map[domain.EntryStatus]int64, error) {
	counts := make(map[domain.EntryStatus]int64, len(domain.EntryStatuses))
	for _, st := range domain.EntryStatuses {
		counts[st] = 0
	}

	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"n"`
	}
	if err := db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM queue_entries GROUP BY status`); err != nil {
		return nil, fmt.Errorf("queue store: counts: %w", err)
	}
	for _, row := range rows {
		counts[domain.EntryStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func filterClause(filter domain.QueueFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CampaignID != nil {
		conds = append(conds, "campaign_id = ?")
		args = append(args, *filter.CampaignID)
	}
	if filter.ContactID != nil {
		conds = append(conds, "contact_id = ?")
		args = append(args, *filter.ContactID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func sortClaimOrder(entries []domain.QueueEntry) {
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
}

func prepareEntry(entry *domain.QueueEntry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Status = domain.EntryStatusPending
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
}

func prepareCall(call *domain.CampaignCall, entry *domain.QueueEntry) {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if call.ContactID == uuid.Nil {
		call.ContactID = entry.ContactID
	}
	if call.CampaignID == uuid.Nil && entry.CampaignID != nil {
		call.CampaignID = *entry.CampaignID
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = entry.CreatedAt
	}
	call.UpdatedAt = call.CreatedAt
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

