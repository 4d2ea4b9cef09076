package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeOfDay is an offset from local midnight in whole seconds. 24:00 is allowed as an
// exclusive window end.
type TimeOfDay int

const (
	secondsPerDay = 24 * 60 * 60
	// EndOfDay is 24:00.
	EndOfDay TimeOfDay = secondsPerDay
)

// ClockTime builds a TimeOfDay from hour, minute and second.
func ClockTime(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// TimeOfDayOf returns the local time-of-day of t, truncated to the second.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return ClockTime(t.Hour(), t.Minute(), t.Second())
}

// ParseTimeOfDay accepts "15:04", "15:04:05" and "24:00".
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	raw = strings.TrimSpace(raw)
	if raw == "24:00" || raw == "24:00:00" {
		return EndOfDay, nil
	}
	layout := "15:04"
	if strings.Count(raw, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", raw, err)
	}
	return TimeOfDayOf(t), nil
}

// Valid reports whether the offset lies within [00:00, 24:00].
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t <= EndOfDay
}

// Duration converts the offset to a duration.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Second
}

// String renders HH:MM, or HH:MM:SS when seconds are set.
func (t TimeOfDay) String() string {
	h, m, s := int(t)/3600, (int(t)%3600)/60, int(t)%60
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// AvailabilityRule is one recurring weekly calling window, [Start, End) on DayOfWeek.
type AvailabilityRule struct {
	ID        uuid.UUID
	DayOfWeek time.Weekday
	Start     TimeOfDay
	End       TimeOfDay
	Enabled   bool
	Label     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Covers reports whether the rule admits the given weekday and time-of-day.
func (r AvailabilityRule) Covers(day time.Weekday, tod TimeOfDay) bool {
	return r.Enabled && r.DayOfWeek == day && r.Start <= tod && tod < r.End
}

// Validate checks day and bounds. Windows crossing midnight must be split by the caller.
func (r AvailabilityRule) Validate() error {
	if r.DayOfWeek < time.Sunday || r.DayOfWeek > time.Saturday {
		return fmt.Errorf("day of week %d out of range", r.DayOfWeek)
	}
	if !r.Start.Valid() || !r.End.Valid() {
		return fmt.Errorf("time of day out of range")
	}
	if r.End <= r.Start {
		return fmt.Errorf("window %s-%s must end after it starts", r.Start, r.End)
	}
	return nil
}
