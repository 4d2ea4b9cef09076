package window

import (
	"context"
	"fmt"
	"time"

	"github.com/acme/outbound-call-queue/internal/domain"
	"github.com/acme/outbound-call-queue/pkg/clock"
)

// RuleSource supplies the current availability rules.
type RuleSource interface {
	ListRules(ctx context.Context) ([]domain.AvailabilityRule, error)
}

// StaticRules serves a fixed rule set.
type StaticRules []domain.AvailabilityRule

// ListRules returns a copy of the rules.
func (s StaticRules) ListRules(context.Context) ([]domain.AvailabilityRule, error) {
	out := make([]domain.AvailabilityRule, len(s))
	copy(out, s)
	return out, nil
}

// Policy answers window questions against rules read fresh on every call.
type Policy struct {
	rules RuleSource
	loc   *time.Location
	clock clock.Clock
}

// NewPolicy constructs a policy in the given reference zone.
func NewPolicy(rules RuleSource, loc *time.Location, clk clock.Clock) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Policy{rules: rules, loc: loc, clock: clk}
}

// Snapshot loads the current rules into a Schedule.
func (p *Policy) Snapshot(ctx context.Context) (*Schedule, error) {
	rules, err := p.rules.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("window: load rules: %w", err)
	}
	return NewSchedule(rules, p.loc), nil
}

// IsAdmissible reports whether t falls inside an enabled rule.
func (p *Policy) IsAdmissible(ctx context.Context, t time.Time) (bool, error) {
	s, err := p.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return s.Admissible(t), nil
}

// NextAdmissibleInstant returns the earliest admissible instant at or after after.
func (p *Policy) NextAdmissibleInstant(ctx context.Context, after time.Time) (time.Time, error) {
	s, err := p.Snapshot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after)
}

// CurrentStatus evaluates the window at the policy clock's now.
func (p *Policy) CurrentStatus(ctx context.Context) (Status, error) {
	s, err := p.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	return s.Status(p.clock.Now()), nil
}

// WeeklySchedule renders the enabled windows per weekday.
func (p *Policy) WeeklySchedule(ctx context.Context) ([]DaySchedule, error) {
	s, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.Week(), nil
}
