package data

import (
	"strings"
	"testing"
	"time"

	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/utils"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestCorrMatrix(t *testing.T) {
	names := []string{"EURUSD", "SPX", "USD"}
	corr, err := CorrMatrix(names, map[Pair]float64{{"SPX", "EURUSD"}: 0.3, {"USD", "SPX"}: -0.2})
	require.NoError(t, err)
	require.Equal(t, 0.3, corr.At(0, 1))
	require.Equal(t, 0.3, corr.At(1, 0))
	require.Equal(t, -0.2, corr.At(2, 1))
	require.Equal(t, 0.0, corr.At(0, 2))

	sub := CorrSample([]string{"USD", "SPX"}, stockIndex(names), corr)
	require.Equal(t, -0.2, sub.At(0, 1))
	require.Equal(t, 1.0, sub.At(1, 1))

	testCases := []struct {
		name  string
		names []string
		pairs map[Pair]float64
	}{
		{"unknown factor", names, map[Pair]float64{{"SPX", "GBPUSD"}: 0.1}},
		{"out of range", names, map[Pair]float64{{"SPX", "USD"}: 1.1}},
		{"not positive definite", names, map[Pair]float64{{"EURUSD", "SPX"}: 0.9, {"SPX", "USD"}: 0.9, {"EURUSD", "USD"}: -0.9}},
		{"duplicate names", []string{"A", "A"}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CorrMatrix(tc.names, tc.pairs)
			require.Error(t, err)
		})
	}
}

func TestCorrFromRows(t *testing.T) {
	corr, err := CorrFromRows([][]float64{{1, 0.5}, {0.5, 1}})
	require.NoError(t, err)
	require.Equal(t, 0.5, corr.At(1, 0))

	for _, rows := range [][][]float64{
		nil,
		{{1, 0.5}, {0.5}},
		{{1, 0.5}, {0.4, 1}},
		{{2, 0}, {0, 1}},
	} {
		_, err := CorrFromRows(rows)
		require.Error(t, err)
	}
	require.Error(t, ValidateCorrelation(mat.NewSymDense(2, []float64{1, 1, 1, 1})))
}

const history = `Date,Numeraire,FXSpot/EURUSD/0,ShortRate/USD
# comment line
2024-01-02,1.0,1.10,0.050
2024-01-03,1.0001,1.11,0.051
2024-01-05,1.0002,1.09,0.049
`

func TestScenarioReader(t *testing.T) {
	r, err := NewScenarioReader(strings.NewReader(history))
	require.NoError(t, err)
	require.Equal(t, []scenario.RiskFactorKey{
		{Type: scenario.FXSpot, Name: "EURUSD"},
		{Type: scenario.ShortRate, Name: "USD"},
	}, r.Keys())

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	l, err := scenario.LoadHistorical(r, start, start.AddDate(0, 0, 5), utils.WeekendsOnly{}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())

	fx := Series(l.Scenarios(), scenario.RiskFactorKey{Type: scenario.FXSpot, Name: "EURUSD"})
	require.Equal(t, []float64{1.10, 1.11, 1.09}, fx)
	require.Equal(t, 1.0002, l.Scenarios()[2].Numeraire())
}

func TestScenarioReaderErrors(t *testing.T) {
	_, err := NewScenarioReader(strings.NewReader("When,Numeraire,FXSpot/EURUSD\n"))
	require.Error(t, err)
	_, err = NewScenarioReader(strings.NewReader("Date,Numeraire,FXSpot\n"))
	require.Error(t, err)
	_, err = NewScenarioReader(strings.NewReader(""))
	require.Error(t, err)

	for _, body := range []string{
		"2024-01-02,1.0\n",
		"2024-13-02,1.0,1.1\n",
		"2024-01-02,x,1.1\n",
		"2024-01-02,1.0,y\n",
	} {
		r, err := NewScenarioReader(strings.NewReader("Date,Numeraire,FXSpot/EURUSD/0\n" + body))
		require.NoError(t, err)
		require.False(t, r.Next())
		require.Error(t, r.Err(), body)
	}
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("CreditState/1/2")
	require.NoError(t, err)
	require.Equal(t, scenario.RiskFactorKey{Type: scenario.CreditState, Name: "1", Index: 2}, k)
	for _, bad := range []string{"", "FXSpot", "FXSpot//0", "a/b/c", "a/b/1/2"} {
		_, err := ParseKey(bad)
		require.Error(t, err, bad)
	}
}
