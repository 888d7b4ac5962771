package scheduling

import (
	"fmt"
	"time"
)

// minutesPerDay bounds a same-day half-open interval.
const minutesPerDay = 24 * 60

// TimeRange is a half-open [Start,End) interval, expressed in minutes since
// midnight of the booking date. End is exclusive, so [540,570) and [570,600)
// are adjacent, not overlapping.
type TimeRange struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// NewTimeRange parses "HH:MM" clock strings into a validated range.
func NewTimeRange(start, end string) (TimeRange, error) {
	s, err := parseClock(start)
	if err != nil {
		return TimeRange{}, fmt.Errorf("scheduling: start time: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return TimeRange{}, fmt.Errorf("scheduling: end time: %w", err)
	}
	r := TimeRange{StartMinute: s, EndMinute: e}
	if err := r.Validate(); err != nil {
		return TimeRange{}, err
	}
	return r, nil
}

// Validate checks interval bounds and ordering.
func (r TimeRange) Validate() error {
	if r.StartMinute < 0 || r.EndMinute > minutesPerDay {
		return fmt.Errorf("scheduling: range %s outside the day", r)
	}
	if r.StartMinute >= r.EndMinute {
		return fmt.Errorf("scheduling: range %s is empty or inverted", r)
	}
	return nil
}

// Overlaps reports whether two half-open intervals share any instant:
// [s1,e1) and [s2,e2) overlap iff s1 < e2 && e1 > s2.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.StartMinute < other.EndMinute && r.EndMinute > other.StartMinute
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s,%s)", formatClock(r.StartMinute), formatClock(r.EndMinute))
}

// Start returns the start bound as an "HH:MM" clock string.
func (r TimeRange) Start() string { return formatClock(r.StartMinute) }

// End returns the end bound as an "HH:MM" clock string.
func (r TimeRange) End() string { return formatClock(r.EndMinute) }

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ValidateDate checks a YYYY-MM-DD booking date string.
func ValidateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("scheduling: invalid date %q", date)
	}
	return nil
}
