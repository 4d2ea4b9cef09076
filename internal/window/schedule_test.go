package window

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/outbound-call-queue/internal/domain"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

func mondayNineToFive() []domain.AvailabilityRule {
	return []domain.AvailabilityRule{{
		DayOfWeek: time.Monday,
		Start:     domain.ClockTime(9, 0, 0),
		End:       domain.ClockTime(17, 0, 0),
		Enabled:   true,
		Label:     "office hours",
	}}
}

func TestAdmissibleWithinRule(t *testing.T) {
	s := NewSchedule(mondayNineToFive(), time.UTC)

	// 2024-01-01 is a Monday.
	mondayMorning := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if !s.Admissible(mondayMorning) {
		t.Fatalf("expected %v to be admissible", mondayMorning)
	}

	mondayNight := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	if s.Admissible(mondayNight) {
		t.Fatalf("expected %v to be outside the window", mondayNight)
	}

	tuesdayMorning := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	if s.Admissible(tuesdayMorning) {
		t.Fatalf("expected %v to be outside the window (wrong day)", tuesdayMorning)
	}

	assert.True(t, s.Admissible(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)), "start is inclusive")
	assert.True(t, s.Admissible(time.Date(2024, 1, 1, 16, 59, 0, 0, time.UTC)))
	assert.False(t, s.Admissible(time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)), "end is exclusive")
	assert.False(t, s.Admissible(time.Date(2024, 1, 1, 17, 1, 0, 0, time.UTC)))
}

func TestCrossMidnightAsTwoRules(t *testing.T) {
	rules := []domain.AvailabilityRule{
		{DayOfWeek: time.Monday, Start: domain.ClockTime(22, 0, 0), End: domain.EndOfDay, Enabled: true},
		{DayOfWeek: time.Tuesday, Start: 0, End: domain.ClockTime(2, 0, 0), Enabled: true},
	}
	s := NewSchedule(rules, time.UTC)

	night := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	if !s.Admissible(night) {
		t.Fatalf("expected %v to be admissible", night)
	}
	earlyMorning := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)
	if !s.Admissible(earlyMorning) {
		t.Fatalf("expected %v to be admissible", earlyMorning)
	}
	assert.False(t, s.Admissible(time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)))
}

func TestSingleRuleDoesNotWrapMidnight(t *testing.T) {
	rules := []domain.AvailabilityRule{
		{DayOfWeek: time.Monday, Start: domain.ClockTime(22, 0, 0), End: domain.ClockTime(2, 0, 0), Enabled: true},
	}
	s := NewSchedule(rules, time.UTC)

	assert.False(t, s.Admissible(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.False(t, s.Admissible(time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)))
}

func TestDisabledAndEmptyRulesNeverAdmit(t *testing.T) {
	rules := mondayNineToFive()
	rules[0].Enabled = false
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range map[string]*Schedule{
		"disabled": NewSchedule(rules, time.UTC),
		"empty":    NewSchedule(nil, time.UTC),
	} {
		t.Run(name, func(t *testing.T) {
			assert.False(t, s.Admissible(at))
			_, err := s.Next(at)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrNoWindow))
		})
	}
}

func TestNextPicksSameDayThenFollowingDays(t *testing.T) {
	rules := []domain.AvailabilityRule{
		{DayOfWeek: time.Monday, Start: domain.ClockTime(14, 0, 0), End: domain.ClockTime(16, 0, 0), Enabled: true},
		{DayOfWeek: time.Monday, Start: domain.ClockTime(9, 0, 0), End: domain.ClockTime(11, 0, 0), Enabled: true},
		{DayOfWeek: time.Wednesday, Start: domain.ClockTime(8, 30, 0), End: domain.ClockTime(9, 0, 0), Enabled: true},
	}
	s := NewSchedule(rules, time.UTC)

	cases := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{"admissible returns itself", time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC), time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)},
		{"before first rule", time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"gap between rules", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)},
		{"after last rule of the day", time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 8, 30, 0, 0, time.UTC)},
		{"wraps the week", time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC), time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Next(tc.after)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestNextReachesSameWeekdayOneWeekLater(t *testing.T) {
	s := NewSchedule(mondayNineToFive(), time.UTC)
	// Monday 17:01: the only window reopens seven days later.
	got, err := s.Next(time.Date(2024, 1, 1, 17, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), got)
}

func TestReferenceTimeZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	s := NewSchedule(mondayNineToFive(), ny)

	// 14:30 UTC on 2024-01-01 is 09:30 EST.
	assert.True(t, s.Admissible(time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC)))
	assert.False(t, s.Admissible(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))

	got, err := s.Next(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), got.UTC())
}

func TestStatusReportsActiveOrNextRule(t *testing.T) {
	s := NewSchedule(mondayNineToFive(), time.UTC)

	open := s.Status(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	assert.True(t, open.Allowed)
	require.NotNil(t, open.ActiveRule)
	assert.Equal(t, "office hours", open.ActiveRule.Label)
	assert.Nil(t, open.NextRule)

	closed := s.Status(time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC))
	assert.False(t, closed.Allowed)
	require.NotNil(t, closed.NextRule)
	require.NotNil(t, closed.NextStart)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), *closed.NextStart)
}

func TestWeekListsEveryDay(t *testing.T) {
	week := NewSchedule(mondayNineToFive(), time.UTC).Week()
	require.Len(t, week, 7)
	assert.Equal(t, time.Sunday, week[0].Day)
	assert.Empty(t, week[0].Windows)
	require.Len(t, week[1].Windows, 1)
	assert.Equal(t, Span{Start: "09:00", End: "17:00", Label: "office hours"}, week[1].Windows[0])
}

func randomRules(rng *rand.Rand) []domain.AvailabilityRule {
	n := rng.Intn(6)
	rules := make([]domain.AvailabilityRule, 0, n)
	for i := 0; i < n; i++ {
		start := rng.Intn(24*4) * 15
		end := start + (rng.Intn(16)+1)*15
		if end > 24*60 {
			end = 24 * 60
		}
		rules = append(rules, domain.AvailabilityRule{
			DayOfWeek: time.Weekday(rng.Intn(7)),
			Start:     domain.TimeOfDay(start * 60),
			End:       domain.TimeOfDay(end * 60),
			Enabled:   rng.Intn(5) > 0,
		})
	}
	return rules
}

func coveredByAnyRule(rules []domain.AvailabilityRule, t time.Time) bool {
	tod := domain.TimeOfDayOf(t)
	for _, r := range rules {
		if r.Enabled && r.DayOfWeek == t.Weekday() && r.Start <= tod && tod < r.End {
			return true
		}
	}
	return false
}

func TestAdmissibleMatchesRuleCoverage(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 200; i++ {
		rules := randomRules(rng)
		s := NewSchedule(rules, time.UTC)
		for j := 0; j < 50; j++ {
			at := base.Add(time.Duration(rng.Intn(7*24*60)) * time.Minute)
			if got, want := s.Admissible(at), coveredByAnyRule(rules, at); got != want {
				t.Fatalf("rules %+v at %s: admissible=%v want %v", rules, at, got, want)
			}
		}
	}
}

func TestNextIsAdmissibleAndMinimal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		rules := randomRules(rng)
		s := NewSchedule(rules, time.UTC)
		after := base.Add(time.Duration(rng.Intn(7*24*60)) * time.Minute)

		next, err := s.Next(after)
		if err != nil {
			require.ErrorIs(t, err, apperrors.ErrNoWindow)
			for m := 0; m < searchDays*24*60; m++ {
				require.False(t, s.Admissible(after.Add(time.Duration(m)*time.Minute)))
			}
			continue
		}

		require.False(t, next.Before(after))
		require.True(t, s.Admissible(next), "rules %+v: next %s not admissible", rules, next)
		for probe := after; probe.Before(next); probe = probe.Add(time.Minute) {
			require.False(t, s.Admissible(probe), "rules %+v: %s admissible before next %s", rules, probe, next)
		}
	}
}

func TestNextFindsSecondOccurrenceOnFallBack(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// 2024-11-03 is a Sunday; clocks go from 02:00 EDT back to 01:00 EST.
	s := NewSchedule([]domain.AvailabilityRule{{
		DayOfWeek: time.Sunday,
		Start:     domain.ClockTime(1, 30, 0),
		End:       domain.ClockTime(1, 45, 0),
		Enabled:   true,
	}}, ny)

	firstPass := time.Date(2024, 11, 3, 5, 10, 0, 0, time.UTC) // 01:10 EDT
	got, err := s.Next(firstPass)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC), got.UTC())

	secondPass := time.Date(2024, 11, 3, 6, 10, 0, 0, time.UTC) // 01:10 EST
	got, err = s.Next(secondPass)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 3, 6, 30, 0, 0, time.UTC), got.UTC())
	assert.True(t, s.Admissible(got))

	afterBoth := time.Date(2024, 11, 3, 6, 50, 0, 0, time.UTC) // 01:50 EST
	got, err = s.Next(afterBoth)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 10, 6, 30, 0, 0, time.UTC), got.UTC())
}
