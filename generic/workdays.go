/*
workdays.go - Working-time calculator

PURPOSE:
  Converts a date range plus half-day markers into a fractional day count
  against an office's working week and holiday set.

ALGORITHM:
  Walk every calendar day in [start, end]:
  - skip days outside the work week and holidays
  - single-day request: 0.5 if either marker is a half day, else 1
  - first day: 0.5 when it starts in the AFTERNOON
  - last day:  0.5 when it ends in the MORNING
  - every interior day: 1

  A total of zero is rejected with ErrEmptyWorkingRange.

PURITY:
  WorkingDays reads nothing but its arguments. Callers fetch the work week and
  holidays for the requester's office and pass them in.

SEE ALSO:
  - time.go: WorkWeek, HolidaySet
  - leave/service.go: ComputeWorkingDays fetches the calendar and calls this
*/
package generic

import "fmt"

// HalfDayMarker marks which part of a boundary day is taken.
type HalfDayMarker string

const (
	FullDay   HalfDayMarker = "FULL_DAY"
	Morning   HalfDayMarker = "MORNING"
	Afternoon HalfDayMarker = "AFTERNOON"
)

func (m HalfDayMarker) Valid() bool {
	switch m {
	case FullDay, Morning, Afternoon:
		return true
	}
	return false
}

// OrFullDay maps the zero value to FullDay.
func (m HalfDayMarker) OrFullDay() HalfDayMarker {
	if m == "" {
		return FullDay
	}
	return m
}

// WorkingDays computes the leave days consumed by [p.Start, p.End].
func WorkingDays(p Period, startHalf, endHalf HalfDayMarker, week WorkWeek, holidays HolidaySet) (Amount, error) {
	if err := p.Validate(); err != nil {
		return Amount{}, err
	}
	startHalf, endHalf = startHalf.OrFullDay(), endHalf.OrFullDay()
	if !startHalf.Valid() || !endHalf.Valid() {
		return Amount{}, fmt.Errorf("%w: half-day markers %q/%q", ErrInvalidInput, startHalf, endHalf)
	}

	total := ZeroDays()
	single := p.Start.Equal(p.End)
	for day := p.Start; day.BeforeOrEqual(p.End); day = day.AddDays(1) {
		if !week.IsWorkday(day) || holidays.Contains(day) {
			continue
		}

		switch {
		case single:
			if startHalf != FullDay || endHalf != FullDay {
				total = total.Add(HalfDay())
			} else {
				total = total.Add(Days(1))
			}
		case day.Equal(p.Start) && startHalf == Afternoon:
			total = total.Add(HalfDay())
		case day.Equal(p.End) && endHalf == Morning:
			total = total.Add(HalfDay())
		default:
			total = total.Add(Days(1))
		}
	}

	if !total.IsPositive() {
		return Amount{}, &EmptyRangeError{Period: p}
	}
	return total, nil
}
