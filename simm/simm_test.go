package simm

import (
	"testing"
	"time"

	"github.com/banachtech/riskcube/cube"
	"github.com/stretchr/testify/require"
)

var asof = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func TestScheduleRate(t *testing.T) {
	testCases := []struct {
		class string
		years float64
		rate  float64
	}{
		{"Credit", 1, 0.02},
		{"Credit", 3, 0.05},
		{"Credit", 7, 0.10},
		{"IR", 1.99, 0.01},
		{"IR", 2, 0.02},
		{"IR", 5, 0.02},
		{"IR", 5.01, 0.04},
		{"FX", 10, 0.06},
		{"Equity", 1, 0.15},
		{"Commodity", 1, 0.15},
		{"Other", 1, 0.15},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.rate, ScheduleRate(tc.class, tc.years), "%s %v", tc.class, tc.years)
	}
}

func TestScheduleCalculator(t *testing.T) {
	dates := []time.Time{asof.AddDate(1, 0, 0)}
	c, err := cube.New(asof, []string{"A", "B", "C"}, dates, 2, 1)
	require.NoError(t, err)
	require.NoError(t, c.SetT0(10, 0, 0))
	require.NoError(t, c.SetT0(-5, 1, 0))
	require.NoError(t, c.SetT0(3, 2, 0))
	require.NoError(t, c.Set(-10, 0, 0, 1, 0))

	trades := []ScheduleTrade{
		{ID: "A", NettingSet: "N1", ProductClass: "FX", Notional: 100, Maturity: asof.AddDate(3, 0, 0)},
		{ID: "B", NettingSet: "N1", ProductClass: "IR", Notional: -200, Maturity: asof.AddDate(10, 0, 0)},
		{ID: "C", NettingSet: "N2", ProductClass: "Equity", Notional: 50, Maturity: asof.AddDate(0, 6, 0)},
		{ID: "gone", NettingSet: "N3", ProductClass: "FX", Notional: 1, Maturity: asof.AddDate(1, 0, 0)},
	}
	s, err := NewScheduleCalculator(c, 0, trades, "")
	require.NoError(t, err)
	require.Equal(t, []string{"N1", "N2"}, s.NettingSets())

	// gross = 100*6% + 200*4% = 14, NGR = 5/10
	m, err := s.InitialMarginT0("N1")
	require.NoError(t, err)
	require.InDelta(t, 14*(0.4+0.6*0.5), m.Total, 1e-12)
	require.InDelta(t, 6*0.7, m.FXDelta, 1e-12)
	require.InDelta(t, 8*0.7, m.IRDelta, 1e-12)

	// sample 1: everything out of the money, NGR falls back to 1
	m, err = s.InitialMargin("N1", 0, 1)
	require.NoError(t, err)
	require.InDelta(t, 6+8, m.Total, 1e-12)

	// C has matured by the first date
	m, err = s.InitialMargin("N2", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0.0, m.Total)

	_, err = s.InitialMarginT0("N3")
	require.ErrorIs(t, err, ErrUnknownNettingSet)
	_, err = s.InitialMargin("N1", 5, 0)
	require.Error(t, err)
	_, err = NewScheduleCalculator(c, 1, trades, "")
	require.Error(t, err)

	require.Equal(t, Margin{2, 4, 6, 8, 10, 12}, Margin{1, 2, 3, 4, 5, 6}.Scale(2))
}
