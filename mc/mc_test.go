package mc

import (
	"math"
	"testing"
	"time"

	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/utils"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var asof = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

var (
	fxKey   = scenario.RiskFactorKey{Type: scenario.FXSpot, Name: "EURUSD"}
	rateKey = scenario.RiskFactorKey{Type: scenario.ShortRate, Name: "USD"}
	cf0     = scenario.RiskFactorKey{Type: scenario.CreditState, Name: "0"}
	cf1     = scenario.RiskFactorKey{Type: scenario.CreditState, Name: "1"}
)

func monthly(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = asof.AddDate(0, i+1, 0)
	}
	return out
}

func TestGeneratorReplay(t *testing.T) {
	models := []Model{
		GBM{Factor: fxKey, Spot: 1.1, Sigma: 0.1},
		Vasicek{Factor: rateKey, R0: 0.03, Kappa: 0.1, Theta: 0.03, Sigma: 0.01},
	}
	g, err := NewGenerator(asof, models, nil, 42, utils.Actual365Fixed)
	require.NoError(t, err)

	dates := monthly(6)
	draw := func() []float64 {
		var out []float64
		for p := 0; p < 3; p++ {
			for _, d := range dates {
				s, err := g.Next(d)
				require.NoError(t, err)
				v, ok := s.Get(fxKey)
				require.True(t, ok)
				out = append(out, v, s.Numeraire())
			}
		}
		return out
	}
	a := draw()
	g.Reset()
	b := draw()
	require.Equal(t, a, b)

	// paths differ from each other
	require.NotEqual(t, a[0], a[12])
}

func TestGeneratorNumeraire(t *testing.T) {
	models := []Model{Vasicek{Factor: rateKey, R0: 0.05, Kappa: 0.5, Theta: 0.05, Sigma: 0}}
	g, err := NewGenerator(asof, models, nil, 1, utils.Actual365Fixed)
	require.NoError(t, err)

	d := asof.AddDate(1, 0, 0)
	s, err := g.Next(d)
	require.NoError(t, err)
	require.InDelta(t, math.Exp(0.05*366.0/365.0), s.Numeraire(), 1e-12)
	r, _ := s.Get(rateKey)
	require.InDelta(t, 0.05, r, 1e-12)

	// earlier date starts a new path with a fresh bank account
	s, err = g.Next(asof.AddDate(0, 6, 0))
	require.NoError(t, err)
	require.Less(t, s.Numeraire(), math.Exp(0.05*0.6))

	_, err = g.Next(asof)
	require.Error(t, err)
}

func TestGeneratorCorrelation(t *testing.T) {
	corr := mat.NewSymDense(2, []float64{1, 0.8, 0.8, 1})
	g, err := NewGenerator(asof, []Model{BrownianFactor{Factor: cf0}, BrownianFactor{Factor: cf1}}, corr, 7, utils.Actual365Fixed)
	require.NoError(t, err)

	d := asof.AddDate(1, 0, 0)
	n := 5000
	x, y := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		s, err := g.Next(d)
		require.NoError(t, err)
		x[i], _ = s.Get(cf0)
		y[i], _ = s.Get(cf1)
	}
	require.InDelta(t, 0.8, stat.Correlation(x, y, nil), 0.03)
	_, sd := stat.MeanStdDev(x, nil)
	require.InDelta(t, math.Sqrt(366.0/365.0), sd, 0.05)
}

func TestGeneratorValidation(t *testing.T) {
	_, err := NewGenerator(asof, nil, nil, 1, utils.Actual365Fixed)
	require.Error(t, err)

	models := []Model{BrownianFactor{Factor: cf0}, BrownianFactor{Factor: cf1}}
	_, err = NewGenerator(asof, models, mat.NewSymDense(3, nil), 1, utils.Actual365Fixed)
	require.Error(t, err)
	_, err = NewGenerator(asof, models, mat.NewSymDense(2, []float64{1, 2, 2, 1}), 1, utils.Actual365Fixed)
	require.Error(t, err)
	_, err = NewGenerator(asof, []Model{BrownianFactor{Factor: cf0}, BrownianFactor{Factor: cf0}}, nil, 1, utils.Actual365Fixed)
	require.Error(t, err)
}

func TestFitGBM(t *testing.T) {
	truth := GBM{Factor: fxKey, Spot: 100, Drift: 0.02, Sigma: 0.25}
	g, err := NewGenerator(asof, []Model{truth}, nil, 3, utils.Actual365Fixed)
	require.NoError(t, err)

	n := 2000
	xs := []float64{truth.Spot}
	for i := 1; i <= n; i++ {
		s, err := g.Next(asof.AddDate(0, 0, i))
		require.NoError(t, err)
		v, _ := s.Get(fxKey)
		xs = append(xs, v)
	}
	m, err := Fit(GBM{Factor: fxKey, Spot: 100, Drift: 0, Sigma: 0.1}, xs, 1.0/365.0)
	require.NoError(t, err)
	require.InDelta(t, 0.25, m.(GBM).Sigma, 0.02)

	_, err = Fit(GBM{Factor: fxKey, Sigma: 0.1}, xs[:2], 1.0/365.0)
	require.Error(t, err)
}

func TestFitVasicek(t *testing.T) {
	truth := Vasicek{Factor: rateKey, R0: 0.03, Kappa: 2.0, Theta: 0.04, Sigma: 0.01}
	xs := []float64{truth.R0}
	dt := 7.0 / 365.0
	g, err := NewGenerator(asof, []Model{truth}, nil, 11, utils.Actual365Fixed)
	require.NoError(t, err)
	for i := 1; i <= 3000; i++ {
		s, err := g.Next(asof.AddDate(0, 0, 7*i))
		require.NoError(t, err)
		v, _ := s.Get(rateKey)
		xs = append(xs, v)
	}
	m, err := Fit(Vasicek{Factor: rateKey, R0: 0.03, Kappa: 1, Theta: 0.02, Sigma: 0.02}, xs, dt)
	require.NoError(t, err)
	v := m.(Vasicek)
	require.InDelta(t, 0.01, v.Sigma, 0.001)
	require.InDelta(t, 0.04, v.Theta, 0.005)
}
