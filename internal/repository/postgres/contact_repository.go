package postgres

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
)

const contactColumns = `id, phone_number, display_name, time_zone, scheduling_enabled,
	last_attempt_at, next_available_at, created_at, updated_at`

// ContactRepository persists callable contacts.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs the repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create inserts a contact.
func (r *ContactRepository) Create(ctx context.Context, contact *domain.Contact) error {
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	contact.UpdatedAt = contact.CreatedAt

	_, err := r.db.NamedExecContext(ctx, `INSERT INTO contacts (
		id, phone_number, display_name, time_zone, scheduling_enabled,
		last_attempt_at, next_available_at, created_at, updated_at
	) VALUES (
		:id, :phone_number, :display_name, :time_zone, :scheduling_enabled,
		:last_attempt_at, :next_available_at, :created_at, :updated_at
	)`, map[string]any{
		"id":                 contact.ID,
		"phone_number":       contact.PhoneNumber,
		"display_name":       contact.DisplayName,
		"time_zone":          contact.TimeZone,
		"scheduling_enabled": contact.SchedulingEnabled,
		"last_attempt_at":    contact.LastAttemptAt,
		"next_available_at":  contact.NextAvailableAt,
		"created_at":         contact.CreatedAt,
		"updated_at":         contact.UpdatedAt,
	})
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
	err := r.db.QueryRowxContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id).StructScan(&record)
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
		conds = append(conds, "id = ANY(?::uuid[])")
		args = append(args, ids)
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
		args = append(args, *criteria.NotAttemptedSince)
	}
	if criteria.EnabledOnly {
		conds = append(conds, "scheduling_enabled")
	}

	query := `SELECT ` + contactColumns + ` FROM contacts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ?"
	args = append(args, contactLimit(criteria.Limit))

	var records []contactRecord
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...); err != nil {
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
	return r.touch(ctx, `UPDATE contacts SET last_attempt_at = $2, updated_at = $2 WHERE id = $1`, id, at)
}

// SetNextAvailable stores the scheduling hint.
func (r *ContactRepository) SetNextAvailable(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.touch(ctx, `UPDATE contacts SET next_available_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
}

func (r *ContactRepository) touch(ctx context.Context, query string, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx, query, id, at)
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
	ID                uuid.UUID    `db:"id"`
	PhoneNumber       string       `db:"phone_number"`
	DisplayName       string       `db:"display_name"`
	TimeZone          string       `db:"time_zone"`
	SchedulingEnabled bool         `db:"scheduling_enabled"`
	LastAttemptAt     sql.NullTime `db:"last_attempt_at"`
	NextAvailableAt   sql.NullTime `db:"next_available_at"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

func (r contactRecord) toDomain() domain.Contact {
	return domain.Contact{
		ID:                r.ID,
		PhoneNumber:       r.PhoneNumber,
		DisplayName:       r.DisplayName,
		TimeZone:          r.TimeZone,
		SchedulingEnabled: r.SchedulingEnabled,
		LastAttemptAt:     timePtr(r.LastAttemptAt),
		NextAvailableAt:   timePtr(r.NextAvailableAt),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func contactLimit(limit int) int {
	if limit <= 0 || limit > 10000 {
		return 1000
	}
	return limit
}
