package generic

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// TIME POINT - A calendar day (leave is booked in days and half days)
// =============================================================================

type TimePoint struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its calendar day in the instant's own location.
func DateOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("%w: date %q (use YYYY-MM-DD): %v", ErrInvalidInput, s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.normalize().AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }
func (tp TimePoint) String() string        { return tp.Time.Format(dateLayout) }

func StartOfYear(year int) TimePoint { return NewTimePoint(year, time.January, 1) }
func EndOfYear(year int) TimePoint   { return NewTimePoint(year, time.December, 31) }

// DaysBetween counts calendar days from 'from' to 'to' (0 when equal).
func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// =============================================================================
// WORK WEEK - Which weekdays an office works
// =============================================================================

// WorkWeek is the set of working weekdays for an office.
type WorkWeek map[time.Weekday]bool

// MondayToFriday is the default office week.
func MondayToFriday() WorkWeek {
	return WorkWeek{
		time.Monday: true, time.Tuesday: true, time.Wednesday: true,
		time.Thursday: true, time.Friday: true,
	}
}

func (w WorkWeek) IsWorkday(tp TimePoint) bool { return w[tp.Weekday()] }

// String encodes the week as ISO weekday numbers, e.g. "1,2,3,4,5".
// Storage adapters persist this form.
func (w WorkWeek) String() string {
	var days []int
	for d, on := range w {
		if on {
			iso := int(d)
			if d == time.Sunday {
				iso = 7
			}
			days = append(days, iso)
		}
	}
	sort.Ints(days)
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// ParseWorkWeek decodes the String form. An empty string yields MondayToFriday.
func ParseWorkWeek(s string) (WorkWeek, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MondayToFriday(), nil
	}
	w := WorkWeek{}
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > 7 {
			return nil, fmt.Errorf("%w: weekday %q in work week %q", ErrInvalidInput, part, s)
		}
		w[time.Weekday(n%7)] = true
	}
	return w, nil
}

// =============================================================================
// HOLIDAY CALENDAR - Office-specific holidays
// =============================================================================

// Holiday is a non-working date for an office.
type Holiday struct {
	ID        string
	OfficeID  string // Empty string = applies to every office
	Date      TimePoint
	Name      string
	Recurring bool // true = same month/day every year
}

// HolidaySet answers "is this date a holiday?" for a fixed list of holidays.
type HolidaySet struct {
	dates     map[string]bool
	recurring map[string]bool
}

func NewHolidaySet(holidays []Holiday) HolidaySet {
	hs := HolidaySet{dates: map[string]bool{}, recurring: map[string]bool{}}
	for _, h := range holidays {
		if h.Recurring {
			hs.recurring[h.Date.Time.Format("01-02")] = true
			continue
		}
		hs.dates[h.Date.String()] = true
	}
	return hs
}

func (hs HolidaySet) Contains(tp TimePoint) bool {
	return hs.dates[tp.String()] || hs.recurring[tp.Time.Format("01-02")]
}
