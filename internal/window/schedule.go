// Package window answers calling-hour questions over a weekly set of availability rules.
package window

import (
	"fmt"
	"sort"
	"time"

	"github.com/acme/outbound-call-queue/internal/domain"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// searchDays bounds Next so an empty or fully disabled rule set terminates.
const searchDays = 8

// Schedule is an immutable view over a rule set in one reference time zone.
type Schedule struct {
	loc   *time.Location
	byDay [7][]domain.AvailabilityRule
}

// Status describes the window at a given instant.
type Status struct {
	Now        time.Time                `json:"now"`
	Allowed    bool                     `json:"allowed"`
	ActiveRule *domain.AvailabilityRule `json:"active_rule,omitempty"`
	NextRule   *domain.AvailabilityRule `json:"next_rule,omitempty"`
	NextStart  *time.Time               `json:"next_start,omitempty"`
}

// DaySchedule lists the enabled windows of one weekday.
type DaySchedule struct {
	Day     time.Weekday `json:"day"`
	Name    string       `json:"name"`
	Windows []Span       `json:"windows"`
}

// Span is a rendered [start, end) window.
type Span struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label,omitempty"`
}

// NewSchedule indexes the enabled, well-formed rules by weekday. A nil location means UTC.
func NewSchedule(rules []domain.AvailabilityRule, loc *time.Location) *Schedule {
	if loc == nil {
		loc = time.UTC
	}
	s := &Schedule{loc: loc}
	for _, r := range rules {
		if !r.Enabled || r.End <= r.Start || r.DayOfWeek < time.Sunday || r.DayOfWeek > time.Saturday {
			continue
		}
		s.byDay[r.DayOfWeek] = append(s.byDay[r.DayOfWeek], r)
	}
	for d := range s.byDay {
		rules := s.byDay[d]
		sort.SliceStable(rules, func(i, j int) bool {
			if rules[i].Start != rules[j].Start {
				return rules[i].Start < rules[j].Start
			}
			return rules[i].End < rules[j].End
		})
	}
	return s
}

// Location returns the reference time zone.
func (s *Schedule) Location() *time.Location { return s.loc }

// Admissible reports whether some enabled rule covers t.
func (s *Schedule) Admissible(t time.Time) bool {
	return s.activeRule(t) != nil
}

func (s *Schedule) activeRule(t time.Time) *domain.AvailabilityRule {
	local := t.In(s.loc)
	tod := domain.TimeOfDayOf(local)
	for i := range s.byDay[local.Weekday()] {
		r := &s.byDay[local.Weekday()][i]
		if r.Start <= tod && tod < r.End {
			return r
		}
	}
	return nil
}

// Next returns after itself when admissible, otherwise the earliest rule start strictly
// after it within the search horizon.
func (s *Schedule) Next(after time.Time) (time.Time, error) {
	if s.Admissible(after) {
		return after, nil
	}
	start, _, ok := s.nextStart(after)
	if !ok {
		return time.Time{}, fmt.Errorf("window: next after %s: %w", after.Format(time.RFC3339), apperrors.ErrNoWindow)
	}
	return start, nil
}

func (s *Schedule) nextStart(after time.Time) (time.Time, *domain.AvailabilityRule, bool) {
	local := after.In(s.loc)
	y, m, d := local.Date()
	for offset := 0; offset < searchDays; offset++ {
		midnight := time.Date(y, m, d+offset, 0, 0, 0, 0, s.loc)
		for i := range s.byDay[midnight.Weekday()] {
			r := &s.byDay[midnight.Weekday()][i]
			start := atTimeOfDay(midnight, r.Start)
			if start.After(after) {
				return start, r, true
			}
			if repeat, ok := repeatedWallClock(start); ok && repeat.After(after) {
				return repeat, r, true
			}
		}
	}
	return time.Time{}, nil, false
}

// Status reports the active rule at now, or the next opening when closed.
func (s *Schedule) Status(now time.Time) Status {
	st := Status{Now: now.In(s.loc)}
	if r := s.activeRule(now); r != nil {
		rule := *r
		st.Allowed = true
		st.ActiveRule = &rule
		return st
	}
	if start, r, ok := s.nextStart(now); ok {
		rule := *r
		st.NextRule = &rule
		st.NextStart = &start
	}
	return st
}

// Week renders the enabled windows Sunday through Saturday.
func (s *Schedule) Week() []DaySchedule {
	week := make([]DaySchedule, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		day := DaySchedule{Day: d, Name: d.String(), Windows: []Span{}}
		for _, r := range s.byDay[d] {
			day.Windows = append(day.Windows, Span{Start: r.Start.String(), End: r.End.String(), Label: r.Label})
		}
		week = append(week, day)
	}
	return week
}

// atTimeOfDay builds the wall-clock instant on midnight's date, so DST days keep local hours.
func atTimeOfDay(midnight time.Time, tod domain.TimeOfDay) time.Time {
	secs := int(tod)
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), secs/3600, (secs%3600)/60, secs%60, 0, midnight.Location())
}

// repeatedWallClock returns the second occurrence of t's wall-clock time when t falls in
// the hour a DST fall-back repeats. time.Date always resolves to the first occurrence.
func repeatedWallClock(t time.Time) (time.Time, bool) {
	_, before := t.Zone()
	_, after := t.Add(3 * time.Hour).Zone()
	if before <= after {
		return time.Time{}, false
	}
	repeat := t.Add(time.Duration(before-after) * time.Second)
	if repeat.Hour() != t.Hour() || repeat.Minute() != t.Minute() || repeat.Second() != t.Second() || repeat.Day() != t.Day() {
		return time.Time{}, false
	}
	return repeat, true
}
