package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/utils"
)

// SimMarket is a market that can be moved along a scenario path. Instruments
// built against it see every update.
type SimMarket interface {
	portfolio.Market
	// Update draws the scenario for d. With sticky set the pricing date stays
	// where it was, which is how close-out dates are priced under a sticky MPoR.
	Update(d time.Time, sticky bool) error
	// SetAsof moves the pricing date without drawing a new scenario.
	SetAsof(d time.Time)
	Scenario() *scenario.Scenario
	// Reset returns to today's market.
	Reset()
	// WriteAggregationData records the values needed after the run.
	WriteAggregationData(asd *scenario.AggregationScenarioData, dateIndex, sample int) error
}

// MarketFactory builds one worker's market over its own generator. A nil
// generator gives a market that only prices today.
type MarketFactory func(gen scenario.Generator) (SimMarket, error)

type MarketOptions struct {
	BaseCurrency string
	// FallbackRate discounts when the scenario carries no short rate for BaseCurrency.
	FallbackRate float64
	DayCounter   utils.DayCounter
	// Recovery rates by credit curve, written to the aggregation data.
	Recovery map[string]float64
	// CacheSimData memoises discount factors per scenario.
	CacheSimData bool
	// UseSpreadedTermStructures discounts off the t0 curve plus the simulated
	// rate spread instead of the simulated rate alone.
	UseSpreadedTermStructures bool
}

// ScenarioSimMarket prices off flat curves implied by the current scenario.
type ScenarioSimMarket struct {
	today     time.Time
	asof      time.Time
	base      *scenario.Scenario
	current   *scenario.Scenario
	generator scenario.Generator
	opts      MarketOptions
	dfCache   map[time.Time]float64
}

func NewScenarioSimMarket(base *scenario.Scenario, gen scenario.Generator, opts MarketOptions) (*ScenarioSimMarket, error) {
	if base == nil {
		return nil, fmt.Errorf("sim market needs a t0 scenario")
	}
	if opts.DayCounter == "" {
		opts.DayCounter = utils.Actual365Fixed
	}
	m := &ScenarioSimMarket{today: base.Asof(), base: base, generator: gen, opts: opts}
	m.Reset()
	return m, nil
}

// NewScenarioMarketFactory returns a factory building ScenarioSimMarkets over base.
func NewScenarioMarketFactory(base *scenario.Scenario, opts MarketOptions) MarketFactory {
	return func(gen scenario.Generator) (SimMarket, error) {
		return NewScenarioSimMarket(base, gen, opts)
	}
}

func (m *ScenarioSimMarket) Asof() time.Time              { return m.asof }
func (m *ScenarioSimMarket) Numeraire() float64           { return m.current.Numeraire() }
func (m *ScenarioSimMarket) Scenario() *scenario.Scenario { return m.current }
func (m *ScenarioSimMarket) SetAsof(d time.Time)          { m.asof = d }

func (m *ScenarioSimMarket) Reset() {
	m.asof = m.today
	m.current = m.base
	m.dfCache = map[time.Time]float64{}
}

func (m *ScenarioSimMarket) Update(d time.Time, sticky bool) error {
	if m.generator == nil {
		return fmt.Errorf("market has no scenario generator to move to %s", d.Format(utils.Layout))
	}
	s, err := m.generator.Next(d)
	if err != nil {
		return fmt.Errorf("scenario for %s: %w", d.Format(utils.Layout), err)
	}
	m.current = s
	if !sticky {
		m.asof = d
	}
	m.dfCache = map[time.Time]float64{}
	return nil
}

func (m *ScenarioSimMarket) Value(key scenario.RiskFactorKey) (float64, error) {
	if v, ok := m.current.Get(key); ok {
		return v, nil
	}
	return 0, fmt.Errorf("risk factor %s not in scenario %s", key, m.current.Label())
}

func (m *ScenarioSimMarket) rate(s *scenario.Scenario) float64 {
	if r, ok := s.Get(scenario.RiskFactorKey{Type: scenario.ShortRate, Name: m.opts.BaseCurrency}); ok {
		return r
	}
	return m.opts.FallbackRate
}

// Discount from the pricing date to maturity; one on or before the pricing date.
func (m *ScenarioSimMarket) Discount(maturity time.Time) (float64, error) {
	if !maturity.After(m.asof) {
		return 1, nil
	}
	if m.opts.CacheSimData {
		if df, ok := m.dfCache[maturity]; ok {
			return df, nil
		}
	}
	dc := m.opts.DayCounter
	r := m.rate(m.current)
	var df float64
	if m.opts.UseSpreadedTermStructures {
		r0 := m.rate(m.base)
		t0 := dc.YearFraction(m.today, m.asof)
		t1 := dc.YearFraction(m.today, maturity)
		df = math.Exp(-r0*t1) / math.Exp(-r0*t0) * math.Exp(-(r-r0)*(t1-t0))
	} else {
		df = math.Exp(-r * dc.YearFraction(m.asof, maturity))
	}
	if m.opts.CacheSimData {
		m.dfCache[maturity] = df
	}
	return df, nil
}

func (m *ScenarioSimMarket) WriteAggregationData(asd *scenario.AggregationScenarioData, dateIndex, sample int) error {
	s := m.current
	if err := asd.Set(dateIndex, sample, s.Numeraire(), scenario.AggNumeraire, ""); err != nil {
		return err
	}
	t := m.opts.DayCounter.YearFraction(m.today, s.Asof())
	for _, k := range s.Keys() {
		v, _ := s.Get(k)
		var err error
		switch k.Type {
		case scenario.FXSpot:
			err = asd.Set(dateIndex, sample, v, scenario.AggFXSpot, k.Name)
		case scenario.CreditState:
			err = asd.Set(dateIndex, sample, v, scenario.AggCreditState, k.Name)
		case scenario.HazardRate:
			err = asd.Set(dateIndex, sample, math.Exp(-v*t), scenario.AggSurvival, k.Name)
			if rr, ok := m.opts.Recovery[k.Name]; ok && err == nil {
				err = asd.Set(dateIndex, sample, rr, scenario.AggRecovery, k.Name)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
