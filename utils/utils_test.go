package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	d, err := time.Parse(Layout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAdjust(t *testing.T) {
	nyse, err := CalendarByName("NYSE")
	require.NoError(t, err)

	testCases := []struct {
		name string
		cal  Calendar
		in   string
		want string
	}{
		{"null saturday", NullCalendar{}, "2024-07-06", "2024-07-06"},
		{"weekend saturday", WeekendsOnly{}, "2024-07-06", "2024-07-08"},
		{"nyse holiday", nyse, "2024-07-04", "2024-07-05"},
		{"nyse business day", nyse, "2024-07-03", "2024-07-03"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, date(tc.want), Adjust(tc.cal, date(tc.in)))
		})
	}
}

func TestAdvance(t *testing.T) {
	require.Equal(t, date("2024-07-08"), Advance(WeekendsOnly{}, date("2024-07-05"), 1))
	require.Equal(t, date("2024-07-05"), Advance(WeekendsOnly{}, date("2024-07-08"), -1))
	require.Equal(t, date("2024-07-07"), Advance(NullCalendar{}, date("2024-07-05"), 2))
}

func TestListBusinessDates(t *testing.T) {
	out, err := ListBusinessDates(date("2024-07-05"), date("2024-07-10"), WeekendsOnly{})
	require.NoError(t, err)
	require.Equal(t, []time.Time{date("2024-07-05"), date("2024-07-08"), date("2024-07-09"), date("2024-07-10")}, out)

	_, err = ListBusinessDates(date("2024-07-10"), date("2024-07-05"), WeekendsOnly{})
	require.Error(t, err)
}

func TestYearFraction(t *testing.T) {
	start, end := date("2024-01-01"), date("2025-01-01")
	require.InDelta(t, 366.0/365.0, Actual365Fixed.YearFraction(start, end), 1e-12)
	require.InDelta(t, 366.0/360.0, Actual360.YearFraction(start, end), 1e-12)
	require.InDelta(t, 1.0, ActualActual.YearFraction(start, end), 1e-12)
	require.InDelta(t, 1.0, Thirty360.YearFraction(start, end), 1e-12)
	require.InDelta(t, -1.0, ActualActual.YearFraction(end, start), 1e-12)

	dc, err := ParseDayCounter("A365F")
	require.NoError(t, err)
	require.Equal(t, Actual365Fixed, dc)
	_, err = ParseDayCounter("BUS/252")
	require.Error(t, err)
}

func TestParsePeriods(t *testing.T) {
	ps, err := ParsePeriods("1D, 2W,3M,5Y")
	require.NoError(t, err)
	require.Equal(t, []Period{{1, Days}, {2, Weeks}, {3, Months}, {5, Years}}, ps)
	require.Equal(t, "3M", ps[2].String())

	for _, bad := range []string{"", "3", "M3", "3Q", "-1D", "1D,,x"} {
		_, err := ParsePeriods(bad)
		require.Error(t, err, bad)
	}
}

func TestAddPeriod(t *testing.T) {
	require.Equal(t, date("2023-02-28"), AddPeriod(date("2023-01-31"), Period{1, Months}))
	require.Equal(t, date("2024-02-29"), AddPeriod(date("2023-02-28"), Period{1, Years}).AddDate(0, 0, 1))
	require.Equal(t, date("2024-01-15"), AddPeriod(date("2024-01-01"), Period{2, Weeks}))
	require.Equal(t, date("2024-01-01"), AddPeriod(date("2024-01-01"), Period{0, Days}))
}
