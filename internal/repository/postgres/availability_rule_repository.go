package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/domain"
)

// AvailabilityRuleRepository persists the weekly calling windows.
type AvailabilityRuleRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRuleRepository creates a new repository.
func NewAvailabilityRuleRepository(db *sqlx.DB) *AvailabilityRuleRepository {
	return &AvailabilityRuleRepository{db: db}
}

// ReplaceRules swaps the whole rule set in one transaction.
func (r *AvailabilityRuleRepository) ReplaceRules(ctx context.Context, rules []domain.AvailabilityRule) error {
	now := time.Now().UTC()
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM availability_rules`); err != nil {
			return fmt.Errorf("availability rules: delete existing: %w", err)
		}

		if len(rules) == 0 {
			return nil
		}

		stmt, err := tx.PreparexContext(ctx, `INSERT INTO availability_rules
			(id, day_of_week, start_second, end_second, enabled, label, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`)
		if err != nil {
			return fmt.Errorf("availability rules: prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := range rules {
			rule := &rules[i]
			if rule.ID == uuid.Nil {
				rule.ID = uuid.New()
			}
			if _, err := stmt.ExecContext(ctx, rule.ID, int(rule.DayOfWeek), int(rule.Start), int(rule.End), rule.Enabled, rule.Label, now); err != nil {
				return fmt.Errorf("availability rules: insert: %w", err)
			}
		}
		return nil
	})
}

// ListRules returns every rule ordered by day and start.
func (r *AvailabilityRuleRepository) ListRules(ctx context.Context) ([]domain.AvailabilityRule, error) {
	var rows []ruleRecord
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, day_of_week, start_second, end_second, enabled, label, created_at, updated_at
		FROM availability_rules ORDER BY day_of_week, start_second, id`); err != nil {
		return nil, fmt.Errorf("availability rules: query: %w", err)
	}

	rules := make([]domain.AvailabilityRule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, domain.AvailabilityRule{
			ID:        row.ID,
			DayOfWeek: time.Weekday(row.Day),
			Start:     domain.TimeOfDay(row.Start),
			End:       domain.TimeOfDay(row.End),
			Enabled:   row.Enabled,
			Label:     row.Label,
			CreatedAt: row.CreatedAt.UTC(),
			UpdatedAt: row.UpdatedAt.UTC(),
		})
	}
	return rules, nil
}

type ruleRecord struct {
	ID        uuid.UUID `db:"id"`
	Day       int       `db:"day_of_week"`
	Start     int       `db:"start_second"`
	End       int       `db:"end_second"`
	Enabled   bool      `db:"enabled"`
	Label     string    `db:"label"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
