package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/pkg/clock"
)

const contactColumns = `id, phone_number, display_name, time_zone, scheduling_enabled,
	last_attempt_at, next_available_at, created_at, updated_at`

// ContactRepository persists callable contacts.
type ContactRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewContactRepository constructs the repository.
func NewContactRepository(db *sqlx.DB, clk clock.Clock) *ContactRepository {
	return &ContactRepository{db: db, clock: clk}
}

// Create inserts a contact.
func (r *ContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = r.clock.Now()
	}
	contact.UpdatedAt = contact.CreatedAt

	_, err := r.db.ExecContext(ctx, `INSERT INTO contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contact.ID, contact.PhoneNumber, contact.DisplayName, contact.TimeZone, contact.SchedulingEnabled,
		nullMillis(contact.LastAttemptAt), nullMillis(contact.NextAvailableAt),
		millis(contact.CreatedAt), millis(contact.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("contacts: insert %s: %w", contact.ID, repository.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("contacts: insert: %w", err)
	}
	return nil
}

// Get fetches a contact by id.
func (r *ContactRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	var record contactRecord
	err := r.db.QueryRowxContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id).StructScan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contacts: get: %w", err)
	}
	contact := record.toDomain()
	return &contact, nil
}

// Find returns contacts matching the criteria in creation order.
func (r *ContactRepository) Find(ctx context.Context, criteria domain.ContactCriteria) ([]domain.Contact, error) {
	var conds []string
	var args []any
	if len(criteria.IDs) > 0 {
		ids := make([]string, len(criteria.IDs))
		for i, id := range criteria.IDs {
			ids[i] = id.String()
		}
		in, inArgs, err := sqlx.In("id IN (?)", ids)
		if err != nil {
			return nil, fmt.Errorf("contacts: expand ids: %w", err)
		}
		conds = append(conds, in)
		args = append(args, inArgs...)
	}
	if criteria.TimeZone != "" {
		conds = append(conds, "time_zone = ?")
		args = append(args, criteria.TimeZone)
	}
	if criteria.PhonePrefix != "" {
		conds = append(conds, "phone_number LIKE ?")
		args = append(args, criteria.PhonePrefix+"%")
	}
	if criteria.NotAttemptedSince != nil {
		conds = append(conds, "(last_attempt_at IS NULL OR last_attempt_at < ?)")
		args = append(args, millis(*criteria.NotAttemptedSince))
	}
	if criteria.EnabledOnly {
		conds = append(conds, "scheduling_enabled = 1")
	}

	query := `SELECT ` + contactColumns + ` FROM contacts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	args = append(args, contactLimit(criteria.Limit))

	var records []contactRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("contacts: find: %w", err)
	}
	contacts := make([]domain.Contact, 0, len(records))
	for _, rec := range records {
		contacts = append(contacts, rec.toDomain())
	}
	return contacts, nil
}

// MarkAttempt records the last dispatch attempt time.
func (r *ContactRepository) MarkAttempt(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.touch(ctx, `UPDATE contacts SET last_attempt_at = ?, updated_at = ? WHERE id = ?`, millis(at), millis(at), id)
}

// SetNextAvailable stores the scheduling hint.
func (r *ContactRepository) SetNextAvailable(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.touch(ctx, `UPDATE contacts SET next_available_at = ?, updated_at = ? WHERE id = ?`,
		millis(at), millis(r.clock.Now()), id)
}

func (r *ContactRepository) touch(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("contacts: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("contacts: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type contactRecord struct {
	ID                uuid.UUID     `db:"id"`
	PhoneNumber       string        `db:"phone_number"`
	DisplayName       string        `db:"display_name"`
	TimeZone          string        `db:"time_zone"`
	SchedulingEnabled bool          `db:"scheduling_enabled"`
	LastAttemptAt     sql.NullInt64 `db:"last_attempt_at"`
	NextAvailableAt   sql.NullInt64 `db:"next_available_at"`
	CreatedAt         int64         `db:"created_at"`
	UpdatedAt         int64         `db:"updated_at"`
}

func (r contactRecord) toDomain() domain.Contact {
	return domain.Contact{
		ID:                r.ID,
		PhoneNumber:       r.PhoneNumber,
		DisplayName:       r.DisplayName,
		TimeZone:          r.TimeZone,
		SchedulingEnabled: r.SchedulingEnabled,
		LastAttemptAt:     fromNullMillis(r.LastAttemptAt),
		NextAvailableAt:   fromNullMillis(r.NextAvailableAt),
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
	}
}

func contactLimit(limit int) int {
	if limit <= 0 || limit > 10000 {
		return 1000
	}
	return limit
}
