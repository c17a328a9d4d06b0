package generic

import "fmt"

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive date range [Start, End].
//
// Examples:
//   - A leave request: Mar 10 - Mar 14
//   - A delegation window: Jul 1 - Jul 31
//   - A balance year: Jan 1 - Dec 31
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Validate rejects periods whose end is before their start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidPeriod)
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Days returns all calendar days in the period.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// YearPeriod is the calendar year containing balances keyed by year.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}
