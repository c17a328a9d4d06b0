package generic

import "github.com/shopspring/decimal"

// =============================================================================
// ENTITLEMENT - Pro-rata and carry-over math used when provisioning balances
// =============================================================================

type ProrateMethod string

const (
	ProrateNone   ProrateMethod = "none"
	ProrateLinear ProrateMethod = "linear"
)

// ProRata scales an annual entitlement by the share of the year remaining
// from 'from' (inclusive). Dates before the year give the full amount, dates
// after it give zero. The result is not rounded; callers decide.
func ProRata(annual Amount, year int, from TimePoint, method ProrateMethod) Amount {
	yp := YearPeriod(year)
	if method == ProrateNone || from.BeforeOrEqual(yp.Start) {
		return annual
	}
	if from.After(yp.End) {
		return ZeroDays()
	}
	daysInYear := DaysBetween(yp.Start, yp.End) + 1
	remaining := DaysBetween(from, yp.End) + 1
	share := decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(daysInYear)))
	return annual.Mul(share)
}

// CarryOver returns how much of a previous year's remaining balance may be
// carried into the next year: never negative, never above the cap. A nil cap
// means unlimited.
func CarryOver(previousRemaining Amount, capDays *Amount) Amount {
	carried := previousRemaining.Max(ZeroDays())
	if capDays != nil {
		carried = carried.Min(*capDays)
	}
	return carried
}
