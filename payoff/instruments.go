package payoff

import (
	"fmt"
	"math"
	"time"

	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/scenario"
	"gonum.org/v1/gonum/stat/distuv"
)

// FxForward exchanges Notional units of the pair's base currency for
// Notional*Strike quote currency at maturity.
type FxForward struct {
	Envelope
	Pair   string
	Strike float64
	Short  bool
}

func (f *FxForward) Type() string         { return "FxForward" }
func (f *FxForward) ProductClass() string { return "FX" }

func (f *FxForward) key() scenario.RiskFactorKey {
	return scenario.RiskFactorKey{Type: scenario.FXSpot, Name: f.Pair}
}

func (f *FxForward) Build(m portfolio.Market) (portfolio.Instrument, error) {
	if _, err := m.Value(f.key()); err != nil {
		return nil, fmt.Errorf("trade %s: %w", f.ID(), err)
	}
	return &fxForwardInstrument{trade: f, market: m}, nil
}

type fxForwardInstrument struct {
	trade  *FxForward
	market portfolio.Market
}

func (i *fxForwardInstrument) Maturity() time.Time { return i.trade.MaturityDate }

func (i *fxForwardInstrument) NPV() (float64, error) {
	f := i.trade
	if !i.market.Asof().Before(f.MaturityDate) {
		return 0, nil
	}
	s, err := i.market.Value(f.key())
	if err != nil {
		return 0, err
	}
	df, err := i.market.Discount(f.MaturityDate)
	if err != nil {
		return 0, err
	}
	return sign(f.Short) * f.NotionalAmt * (s - f.Strike) * df, nil
}

func (i *fxForwardInstrument) Cashflow(from, to time.Time) (float64, error) {
	f := i.trade
	if !paidIn(f.MaturityDate, from, to) {
		return 0, nil
	}
	s, err := i.market.Value(f.key())
	if err != nil {
		return 0, err
	}
	return sign(f.Short) * f.NotionalAmt * (s - f.Strike), nil
}

// EquityOption is a cash settled European option on Notional units,
// priced with Black-Scholes at a flat volatility.
type EquityOption struct {
	Envelope
	Underlying string
	Strike     float64
	Volatility float64
	Call       bool
	Short      bool
}

func (o *EquityOption) Type() string         { return "EquityOption" }
func (o *EquityOption) ProductClass() string { return "Equity" }

func (o *EquityOption) key() scenario.RiskFactorKey {
	return scenario.RiskFactorKey{Type: scenario.EquitySpot, Name: o.Underlying}
}

func (o *EquityOption) Build(m portfolio.Market) (portfolio.Instrument, error) {
	if _, err := m.Value(o.key()); err != nil {
		return nil, fmt.Errorf("trade %s: %w", o.ID(), err)
	}
	return &equityOptionInstrument{trade: o, market: m}, nil
}

type equityOptionInstrument struct {
	trade  *EquityOption
	market portfolio.Market
}

func (i *equityOptionInstrument) Maturity() time.Time { return i.trade.MaturityDate }

func (i *equityOptionInstrument) intrinsic(s float64) float64 {
	if i.trade.Call {
		return math.Max(s-i.trade.Strike, 0)
	}
	return math.Max(i.trade.Strike-s, 0)
}

func (i *equityOptionInstrument) NPV() (float64, error) {
	o := i.trade
	if !i.market.Asof().Before(o.MaturityDate) {
		return 0, nil
	}
	s, err := i.market.Value(o.key())
	if err != nil {
		return 0, err
	}
	df, err := i.market.Discount(o.MaturityDate)
	if err != nil {
		return 0, err
	}
	t := yearsTo(i.market, o.MaturityDate)
	return sign(o.Short) * o.NotionalAmt * BlackScholes(s, o.Strike, o.Volatility, t, df, o.Call), nil
}

func (i *equityOptionInstrument) Cashflow(from, to time.Time) (float64, error) {
	o := i.trade
	if !paidIn(o.MaturityDate, from, to) {
		return 0, nil
	}
	s, err := i.market.Value(o.key())
	if err != nil {
		return 0, err
	}
	return sign(o.Short) * o.NotionalAmt * i.intrinsic(s), nil
}

// BlackScholes prices a European option given the discount factor to expiry.
func BlackScholes(s, k, sigma, t, df float64, call bool) float64 {
	if t <= 0 || sigma <= 0 {
		if call {
			return df * math.Max(s/df-k, 0)
		}
		return df * math.Max(k-s/df, 0)
	}
	n := distuv.UnitNormal
	fwd := s / df
	v := sigma * math.Sqrt(t)
	d1 := (math.Log(fwd/k) + 0.5*v*v) / v
	d2 := d1 - v
	if call {
		return df * (fwd*n.CDF(d1) - k*n.CDF(d2))
	}
	return df * (k*n.CDF(-d2) - fwd*n.CDF(-d1))
}

// ZeroBond pays Notional at maturity, discounted with a credit spread over
// the simulated short rate. StateSpreads gives the spread in each non-default
// credit state of the issuer; in default the holder receives Recovery*Notional.
type ZeroBond struct {
	Envelope
	IssuerName   string
	Spread       float64
	StateSpreads []float64
	Recovery     float64
	Short        bool
}

func (b *ZeroBond) Type() string         { return "ZeroBond" }
func (b *ZeroBond) ProductClass() string { return "Credit" }
func (b *ZeroBond) Issuer() string       { return b.IssuerName }

func (b *ZeroBond) Build(m portfolio.Market) (portfolio.Instrument, error) {
	if b.Recovery < 0 || b.Recovery > 1 {
		return nil, fmt.Errorf("trade %s: recovery %v outside [0, 1]", b.ID(), b.Recovery)
	}
	return &zeroBondInstrument{trade: b, market: m}, nil
}

type zeroBondInstrument struct {
	trade  *ZeroBond
	market portfolio.Market
}

func (i *zeroBondInstrument) Maturity() time.Time { return i.trade.MaturityDate }
func (i *zeroBondInstrument) Issuer() string      { return i.trade.IssuerName }

func (i *zeroBondInstrument) value(spread float64) (float64, error) {
	b := i.trade
	if !i.market.Asof().Before(b.MaturityDate) {
		return 0, nil
	}
	df, err := i.market.Discount(b.MaturityDate)
	if err != nil {
		return 0, err
	}
	return sign(b.Short) * b.NotionalAmt * df * math.Exp(-spread*yearsTo(i.market, b.MaturityDate)), nil
}

func (i *zeroBondInstrument) NPV() (float64, error) {
	return i.value(i.trade.Spread)
}

func (i *zeroBondInstrument) StateNPVs(states int) ([]float64, error) {
	b := i.trade
	if len(b.StateSpreads) != states-1 {
		return nil, fmt.Errorf("trade %s: %d state spreads for %d credit states", b.ID(), len(b.StateSpreads), states)
	}
	out := make([]float64, states)
	for j, s := range b.StateSpreads {
		v, err := i.value(s)
		if err != nil {
			return nil, err
		}
		out[j] = v
	}
	if i.market.Asof().Before(b.MaturityDate) {
		out[states-1] = sign(b.Short) * b.Recovery * b.NotionalAmt
	}
	return out, nil
}

func (i *zeroBondInstrument) Cashflow(from, to time.Time) (float64, error) {
	b := i.trade
	if !paidIn(b.MaturityDate, from, to) {
		return 0, nil
	}
	return sign(b.Short) * b.NotionalAmt, nil
}
