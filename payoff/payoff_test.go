package payoff

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/scenario"
	"github.com/stretchr/testify/require"
)

type flatMarket struct {
	asof   time.Time
	rate   float64
	values map[scenario.RiskFactorKey]float64
}

func (m *flatMarket) Asof() time.Time    { return m.asof }
func (m *flatMarket) Numeraire() float64 { return 1 }

func (m *flatMarket) Value(k scenario.RiskFactorKey) (float64, error) {
	v, ok := m.values[k]
	if !ok {
		return 0, errors.New("missing " + k.String())
	}
	return v, nil
}

func (m *flatMarket) Discount(d time.Time) (float64, error) {
	return math.Exp(-m.rate * yearsTo(m, d)), nil
}

var tNow = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func newMarket() *flatMarket {
	return &flatMarket{asof: tNow, rate: 0.05, values: map[scenario.RiskFactorKey]float64{
		{Type: scenario.FXSpot, Name: "EURUSD"}:  1.10,
		{Type: scenario.EquitySpot, Name: "SPX"}: 5000,
	}}
}

func build(t *testing.T, s Spec, m portfolio.Market) portfolio.Instrument {
	tr, err := New(s)
	require.NoError(t, err)
	inst, err := tr.Build(m)
	require.NoError(t, err)
	return inst
}

func TestNewSpecValidation(t *testing.T) {
	testCases := []struct {
		name string
		spec Spec
	}{
		{"no id", Spec{Type: "FxForward", Underlying: "EURUSD", Notional: 1, Maturity: "2025-01-02"}},
		{"bad maturity", Spec{ID: "1", Type: "FxForward", Underlying: "EURUSD", Notional: 1, Maturity: "2025/01/02"}},
		{"no notional", Spec{ID: "1", Type: "FxForward", Underlying: "EURUSD", Maturity: "2025-01-02"}},
		{"no pair", Spec{ID: "1", Type: "FxForward", Notional: 1, Maturity: "2025-01-02"}},
		{"no vol", Spec{ID: "1", Type: "EquityOption", Underlying: "SPX", Notional: 1, Maturity: "2025-01-02"}},
		{"no issuer", Spec{ID: "1", Type: "ZeroBond", Notional: 1, Maturity: "2025-01-02"}},
		{"unknown type", Spec{ID: "1", Type: "Swaption", Notional: 1, Maturity: "2025-01-02"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.spec)
			require.Error(t, err)
		})
	}
}

func TestFxForward(t *testing.T) {
	m := newMarket()
	inst := build(t, Spec{ID: "F1", Type: "FxForward", Counterparty: "CP", Underlying: "EURUSD", Notional: 1e6, Strike: 1.05, Maturity: "2025-01-01"}, m)
	npv, err := inst.NPV()
	require.NoError(t, err)
	require.InDelta(t, 1e6*0.05*math.Exp(-0.05), npv, 1e-6)

	short := build(t, Spec{ID: "F2", Type: "FxForward", Underlying: "EURUSD", Notional: 1e6, Strike: 1.05, Maturity: "2025-01-01", Short: true}, m)
	npvShort, err := short.NPV()
	require.NoError(t, err)
	require.InDelta(t, -npv, npvShort, 1e-9)

	cf := inst.(portfolio.CashflowInstrument)
	v, err := cf.Cashflow(tNow, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.InDelta(t, 1e6*0.05, v, 1e-6)
	v, err = cf.Cashflow(tNow, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 0.0, v)

	m.asof = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	npv, err = inst.NPV()
	require.NoError(t, err)
	require.Equal(t, 0.0, npv)

	tr, err := New(Spec{ID: "F3", Type: "fxforward", Underlying: "GBPUSD", Notional: 1, Maturity: "2025-01-01"})
	require.NoError(t, err)
	_, err = tr.Build(m)
	require.Error(t, err)
}

func TestBlackScholes(t *testing.T) {
	// put call parity
	s, k, vol, tm, df := 100.0, 95.0, 0.2, 1.5, math.Exp(-0.03*1.5)
	c := BlackScholes(s, k, vol, tm, df, true)
	p := BlackScholes(s, k, vol, tm, df, false)
	require.InDelta(t, s-k*df, c-p, 1e-10)
	// textbook value: S=100 K=100 r=5% T=1 vol=20%
	require.InDelta(t, 10.4506, BlackScholes(100, 100, 0.2, 1, math.Exp(-0.05), true), 1e-4)
}

func TestEquityOption(t *testing.T) {
	m := newMarket()
	inst := build(t, Spec{ID: "O1", Type: "EquityOption", Underlying: "SPX", Notional: 10, Strike: 5000, Volatility: 0.2, Maturity: "2025-01-01"}, m)
	npv, err := inst.NPV()
	require.NoError(t, err)
	require.Greater(t, npv, 0.0)

	put := build(t, Spec{ID: "O2", Type: "EquityOption", OptionType: "Put", Underlying: "SPX", Notional: 10, Strike: 5000, Volatility: 0.2, Maturity: "2025-01-01"}, m)
	pv, err := put.NPV()
	require.NoError(t, err)
	df, _ := m.Discount(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.InDelta(t, 10*(5000-5000*df), npv-pv, 1e-6)

	m.values[scenario.RiskFactorKey{Type: scenario.EquitySpot, Name: "SPX"}] = 5100
	v, err := put.(portfolio.CashflowInstrument).Cashflow(tNow, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 0.0, v)
	v, err = inst.(portfolio.CashflowInstrument).Cashflow(tNow, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1000.0, v)
}

func TestZeroBond(t *testing.T) {
	m := newMarket()
	inst := build(t, Spec{ID: "B1", Type: "ZeroBond", Underlying: "ACME", Notional: 100, Maturity: "2025-01-01",
		Spread: 0.01, StateSpreads: []float64{0.005, 0.01, 0.05}, Recovery: 0.4}, m)
	yrs := yearsTo(m, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	npv, err := inst.NPV()
	require.NoError(t, err)
	require.InDelta(t, 100*math.Exp(-0.06*yrs), npv, 1e-9)

	cs := inst.(portfolio.CreditStateInstrument)
	require.Equal(t, "ACME", cs.Issuer())
	states, err := cs.StateNPVs(4)
	require.NoError(t, err)
	require.Len(t, states, 4)
	require.Greater(t, states[0], states[1])
	require.Greater(t, states[1], states[2])
	require.Equal(t, 40.0, states[3])

	_, err = cs.StateNPVs(3)
	require.Error(t, err)

	tr, err := New(Spec{ID: "B2", Type: "ZeroBond", Underlying: "ACME", Notional: 100, Maturity: "2025-01-01", Recovery: 1.5})
	require.NoError(t, err)
	_, err = tr.Build(m)
	require.Error(t, err)
}

func TestNewPortfolio(t *testing.T) {
	p, err := NewPortfolio([]Spec{
		{ID: "F1", Type: "FxForward", Counterparty: "CP1", Underlying: "EURUSD", Notional: 1, Maturity: "2025-01-01"},
		{ID: "B1", Type: "ZeroBond", Counterparty: "CP2", NettingSet: "NS2", Underlying: "ACME", Notional: 1, Maturity: "2025-01-01"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"F1": "CP1", "B1": "NS2"}, p.NettingSets())

	_, err = NewPortfolio([]Spec{
		{ID: "F1", Type: "FxForward", Underlying: "EURUSD", Notional: 1, Maturity: "2025-01-01"},
		{ID: "F1", Type: "FxForward", Underlying: "EURUSD", Notional: 1, Maturity: "2025-01-01"},
	})
	require.Error(t, err)
}
