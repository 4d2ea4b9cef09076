package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/pkg/clock"
)

// AvailabilityRuleRepository persists the weekly calling windows.
type AvailabilityRuleRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAvailabilityRuleRepository creates a new repository.
func NewAvailabilityRuleRepository(db *sqlx.DB, clk clock.Clock) *AvailabilityRuleRepository {
	return &AvailabilityRuleRepository{db: db, clock: clk}
}

// ReplaceRules swaps the whole rule set in one transaction.
func (r *AvailabilityRuleRepository) ReplaceRules(ctx context.Context, rules []domain.AvailabilityRule) error {
	now := millis(r.clock.Now())
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM availability_rules`); err != nil {
			return fmt.Errorf("availability rules: delete existing: %w", err)
		}
		for i := range rules {
			rule := &rules[i]
			if rule.ID == uuid.Nil {
				rule.ID = uuid.New()
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO availability_rules
				(id, day_of_week, start_second, end_second, enabled, label, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				rule.ID, int(rule.DayOfWeek), int(rule.Start), int(rule.End), rule.Enabled, rule.Label, now, now); err != nil {
				return fmt.Errorf("availability rules: insert: %w", err)
			}
		}
		return nil
	})
}

// ListRules returns every rule ordered by day and start.
func (r *AvailabilityRuleRepository) ListRules(ctx context.Context) ([]domain.AvailabilityRule, error) {
	var rows []struct {
		ID        uuid.UUID `db:"id"`
		Day       int       `db:"day_of_week"`
		Start     int       `db:"start_second"`
		End       int       `db:"end_second"`
		Enabled   bool      `db:"enabled"`
		Label     string    `db:"label"`
		CreatedAt int64     `db:"created_at"`
		UpdatedAt int64     `db:"updated_at"`
	}
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
			CreatedAt: fromMillis(row.CreatedAt),
			UpdatedAt: fromMillis(row.UpdatedAt),
		})
	}
	return rules, nil
}
