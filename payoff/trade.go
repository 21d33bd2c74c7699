// Package payoff has the instruments the engine can price out of the box.
package payoff

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banachtech/riskcube/portfolio"
)

const Layout = "2006-01-02"

// Spec describes a trade in configuration files and API requests.
type Spec struct {
	ID           string    `mapstructure:"id" json:"id"`
	Type         string    `mapstructure:"type" json:"type"`
	NettingSet   string    `mapstructure:"netting_set" json:"netting_set"`
	Counterparty string    `mapstructure:"counterparty" json:"counterparty"`
	Underlying   string    `mapstructure:"underlying" json:"underlying"`
	Notional     float64   `mapstructure:"notional" json:"notional"`
	Strike       float64   `mapstructure:"strike" json:"strike"`
	Maturity     string    `mapstructure:"maturity" json:"maturity"`
	Short        bool      `mapstructure:"short" json:"short"`
	OptionType   string    `mapstructure:"option_type" json:"option_type"`
	Volatility   float64   `mapstructure:"volatility" json:"volatility"`
	Spread       float64   `mapstructure:"spread" json:"spread"`
	StateSpreads []float64 `mapstructure:"state_spreads" json:"state_spreads"`
	Recovery     float64   `mapstructure:"recovery" json:"recovery"`
}

// Envelope carries the identifiers every trade has.
type Envelope struct {
	TradeID      string
	NettingSet   string
	Cpty         string
	NotionalAmt  float64
	MaturityDate time.Time
}

func (e Envelope) ID() string           { return e.TradeID }
func (e Envelope) NettingSetID() string { return e.NettingSet }
func (e Envelope) Counterparty() string { return e.Cpty }
func (e Envelope) Notional() float64    { return e.NotionalAmt }
func (e Envelope) Maturity() time.Time  { return e.MaturityDate }

func sign(short bool) float64 {
	if short {
		return -1
	}
	return 1
}

// New creates the trade described by s.
func New(s Spec) (portfolio.Trade, error) {
	if s.ID == "" {
		return nil, errors.New("trade spec has no id")
	}
	mat, err := time.Parse(Layout, s.Maturity)
	if err != nil {
		return nil, fmt.Errorf("trade %s: invalid maturity %q", s.ID, s.Maturity)
	}
	if s.Notional <= 0 {
		return nil, fmt.Errorf("trade %s: notional must be positive", s.ID)
	}
	env := Envelope{TradeID: s.ID, NettingSet: s.NettingSet, Cpty: s.Counterparty, NotionalAmt: s.Notional, MaturityDate: mat}
	if env.NettingSet == "" {
		env.NettingSet = s.Counterparty
	}
	switch strings.ToLower(s.Type) {
	case "fxforward":
		if s.Underlying == "" {
			return nil, fmt.Errorf("trade %s: fx forward needs a currency pair", s.ID)
		}
		return &FxForward{Envelope: env, Pair: s.Underlying, Strike: s.Strike, Short: s.Short}, nil
	case "equityoption":
		if s.Volatility <= 0 {
			return nil, fmt.Errorf("trade %s: option volatility must be positive", s.ID)
		}
		call := !strings.EqualFold(s.OptionType, "put")
		return &EquityOption{Envelope: env, Underlying: s.Underlying, Strike: s.Strike, Volatility: s.Volatility, Call: call, Short: s.Short}, nil
	case "zerobond":
		if s.Underlying == "" {
			return nil, fmt.Errorf("trade %s: bond needs an issuer", s.ID)
		}
		return &ZeroBond{Envelope: env, IssuerName: s.Underlying, Spread: s.Spread, StateSpreads: s.StateSpreads, Recovery: s.Recovery, Short: s.Short}, nil
	}
	return nil, fmt.Errorf("trade %s: unsupported trade type %q", s.ID, s.Type)
}

// NewPortfolio builds a portfolio from specs.
func NewPortfolio(specs []Spec) (*portfolio.Portfolio, error) {
	p, err := portfolio.New()
	if err != nil {
		return nil, err
	}
	for _, s := range specs {
		t, err := New(s)
		if err != nil {
			return nil, err
		}
		if err := p.Add(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// yearsTo is the ACT/365F time from the market date to d, floored at zero.
func yearsTo(m portfolio.Market, d time.Time) float64 {
	t := d.Sub(m.Asof()).Hours() / (365.0 * 24.0)
	if t < 0 {
		return 0
	}
	return t
}

func paidIn(d, from, to time.Time) bool {
	return d.After(from) && !d.After(to)
}
