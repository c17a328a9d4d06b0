package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func jan(day int) generic.TimePoint {
	return generic.NewTimePoint(2025, time.January, day)
}

func span(from, to generic.TimePoint) generic.Period {
	return generic.Period{Start: from, End: to}
}

func noHolidays() generic.HolidaySet {
	return generic.NewHolidaySet(nil)
}

// =============================================================================
// WORKING DAYS
// =============================================================================

func TestWorkingDays_FullWeek(t *testing.T) {
	// GIVEN: Monday 6 to Friday 10 January 2025, Mon-Fri week, no holidays
	// WHEN: computing working days with full-day markers
	got, err := generic.WorkingDays(span(jan(6), jan(10)), generic.FullDay, generic.FullDay, generic.MondayToFriday(), noHolidays())

	// THEN: 5 days
	require.NoError(t, err)
	assert.True(t, got.Equal(generic.Days(5)), "got %s", got)
}

func TestWorkingDays_SkipsWeekend(t *testing.T) {
	// Friday 10 to Monday 13
	got, err := generic.WorkingDays(span(jan(10), jan(13)), generic.FullDay, generic.FullDay, generic.MondayToFriday(), noHolidays())
	require.NoError(t, err)
	assert.True(t, got.Equal(generic.Days(2)), "got %s", got)
}

func TestWorkingDays_SingleDayHalfMarkers(t *testing.T) {
	tests := []struct {
		name       string
		start, end generic.HalfDayMarker
		want       generic.Amount
	}{
		{"full day", generic.FullDay, generic.FullDay, generic.Days(1)},
		{"morning only", generic.Morning, generic.Morning, generic.HalfDay()},
		{"afternoon only", generic.Afternoon, generic.Afternoon, generic.HalfDay()},
		{"morning end marker", generic.FullDay, generic.Morning, generic.HalfDay()},
		{"empty markers default to full", "", "", generic.Days(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := generic.WorkingDays(span(jan(7), jan(7)), tt.start, tt.end, generic.MondayToFriday(), noHolidays())
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestWorkingDays_BoundaryHalves(t *testing.T) {
	week := generic.MondayToFriday()

	// GIVEN: Monday afternoon to Wednesday morning
	got, err := generic.WorkingDays(span(jan(6), jan(8)), generic.Afternoon, generic.Morning, week, noHolidays())

	// THEN: 0.5 + 1 + 0.5
	require.NoError(t, err)
	assert.True(t, got.Equal(generic.Days(2)), "got %s", got)

	// Morning start and afternoon end take the whole boundary day
	got, err = generic.WorkingDays(span(jan(6), jan(8)), generic.Morning, generic.Afternoon, week, noHolidays())
	require.NoError(t, err)
	assert.True(t, got.Equal(generic.Days(3)), "got %s", got)
}

func TestWorkingDays_Holidays(t *testing.T) {
	holidays := generic.NewHolidaySet([]generic.Holiday{
		{ID: "h1", OfficeID: "paris", Date: jan(8), Name: "Office day"},
		{ID: "h2", OfficeID: "paris", Date: generic.NewTimePoint(2000, time.January, 9), Name: "Founders", Recurring: true},
	})

	// GIVEN: Mon 6 to Fri 10 with a one-off holiday on the 8th and a recurring one on the 9th
	got, err := generic.WorkingDays(span(jan(6), jan(10)), generic.FullDay, generic.FullDay, generic.MondayToFriday(), holidays)

	// THEN: both are skipped
	require.NoError(t, err)
	assert.True(t, got.Equal(generic.Days(3)), "got %s", got)
}

func TestWorkingDays_CustomWorkWeek(t *testing.T) {
	week, err := generic.ParseWorkWeek("1,2,3,4")
	require.NoError(t, err)

	got, err := generic.WorkingDays(span(jan(6), jan(12)), generic.FullDay, generic.FullDay, week, noHolidays())
	require.NoError(t, err)
	assert.True(t, got.Equal(generic.Days(4)), "got %s", got)
}

func TestWorkingDays_EmptyRange(t *testing.T) {
	// GIVEN: a weekend
	_, err := generic.WorkingDays(span(jan(4), jan(5)), generic.FullDay, generic.FullDay, generic.MondayToFriday(), noHolidays())

	// THEN: EmptyWorkingRange, carrying the period
	require.ErrorIs(t, err, generic.ErrEmptyWorkingRange)
	var rangeErr *generic.EmptyRangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, "2025-01-04", rangeErr.Period.Start.String())

	// A single holiday is empty as well
	holidays := generic.NewHolidaySet([]generic.Holiday{{ID: "h", Date: jan(6)}})
	_, err = generic.WorkingDays(span(jan(6), jan(6)), generic.FullDay, generic.FullDay, generic.MondayToFriday(), holidays)
	assert.ErrorIs(t, err, generic.ErrEmptyWorkingRange)
}

func TestWorkingDays_InvalidInput(t *testing.T) {
	_, err := generic.WorkingDays(span(jan(10), jan(6)), generic.FullDay, generic.FullDay, generic.MondayToFriday(), noHolidays())
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	_, err = generic.WorkingDays(span(jan(6), jan(10)), "EVENING", generic.FullDay, generic.MondayToFriday(), noHolidays())
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
	assert.True(t, generic.IsClientError(err))
}

func TestWorkingDays_NeverExceedsCalendarDays(t *testing.T) {
	week := generic.MondayToFriday()
	for length := 0; length < 40; length++ {
		p := span(jan(1), jan(1).AddDays(length))
		got, err := generic.WorkingDays(p, generic.FullDay, generic.FullDay, week, noHolidays())
		if err != nil {
			require.ErrorIs(t, err, generic.ErrEmptyWorkingRange)
			continue
		}
		assert.True(t, got.IsHalfStep())
		assert.False(t, got.GreaterThan(generic.Days(length+1)), "length %d got %s", length, got)
	}
}
