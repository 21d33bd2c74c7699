// Package simm defines the initial margin collaborator used by dynamic
// initial margin and a regulatory schedule implementation of it.
package simm

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/utils"
)

var ErrUnknownNettingSet = errors.New("unknown netting set")

// Margin is an initial margin amount and its breakdown.
type Margin struct {
	Total     float64
	Delta     float64
	Vega      float64
	Curvature float64
	IRDelta   float64
	FXDelta   float64
}

// Scale multiplies every component by f.
func (m Margin) Scale(f float64) Margin {
	return Margin{m.Total * f, m.Delta * f, m.Vega * f, m.Curvature * f, m.IRDelta * f, m.FXDelta * f}
}

// Calculator returns the initial margin of a netting set today and on each
// simulated (date index, sample).
type Calculator interface {
	InitialMarginT0(nettingSet string) (Margin, error)
	InitialMargin(nettingSet string, date, sample int) (Margin, error)
}

// ScheduleTrade is what the schedule needs to know about a trade.
type ScheduleTrade struct {
	ID           string
	NettingSet   string
	ProductClass string
	Notional     float64
	Maturity     time.Time
}

type scheduleInfo interface {
	ProductClass() string
	Notional() float64
	Maturity() time.Time
}

// ScheduleTrades extracts schedule data from trades that expose product
// class, notional and maturity. Other trades are returned by id in skipped.
func ScheduleTrades(p *portfolio.Portfolio) (trades []ScheduleTrade, skipped []string) {
	for _, t := range p.Trades() {
		info, ok := t.(scheduleInfo)
		if !ok {
			skipped = append(skipped, t.ID())
			continue
		}
		trades = append(trades, ScheduleTrade{
			ID:           t.ID(),
			NettingSet:   t.NettingSetID(),
			ProductClass: info.ProductClass(),
			Notional:     info.Notional(),
			Maturity:     info.Maturity(),
		})
	}
	return trades, skipped
}

// ScheduleRate is the BCBS-IOSCO standardised margin rate for a product class
// and residual maturity in years.
func ScheduleRate(class string, years float64) float64 {
	bucket := 0
	switch {
	case years > 5:
		bucket = 2
	case years >= 2:
		bucket = 1
	}
	switch class {
	case "Credit":
		return []float64{0.02, 0.05, 0.10}[bucket]
	case "IR", "Rates":
		return []float64{0.01, 0.02, 0.04}[bucket]
	case "FX":
		return 0.06
	default:
		return 0.15
	}
}

// ScheduleCalculator applies the schedule to gross notionals and nets with
// the net to gross ratio of the simulated values in the trade cube:
// IM = gross * (0.4 + 0.6 * NGR).
type ScheduleCalculator struct {
	cube   cube.NPVCube
	depth  int
	trades map[string][]ScheduleTrade
	index  map[string]int
	dc     utils.DayCounter
}

func NewScheduleCalculator(c cube.NPVCube, depth int, trades []ScheduleTrade, dc utils.DayCounter) (*ScheduleCalculator, error) {
	if c == nil {
		return nil, errors.New("schedule calculator needs a cube")
	}
	if depth < 0 || depth >= c.Depth() {
		return nil, fmt.Errorf("depth %d outside cube depth %d", depth, c.Depth())
	}
	if dc == "" {
		dc = utils.Actual365Fixed
	}
	s := &ScheduleCalculator{cube: c, depth: depth, trades: map[string][]ScheduleTrade{}, index: map[string]int{}, dc: dc}
	for _, t := range trades {
		idx, err := c.Index(t.ID)
		if err != nil {
			// trade dropped from the run
			continue
		}
		s.index[t.ID] = idx
		s.trades[t.NettingSet] = append(s.trades[t.NettingSet], t)
	}
	return s, nil
}

// NettingSets returns the netting sets with at least one trade in the cube.
func (s *ScheduleCalculator) NettingSets() []string {
	out := make([]string, 0, len(s.trades))
	for ns := range s.trades {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func (s *ScheduleCalculator) InitialMarginT0(nettingSet string) (Margin, error) {
	return s.margin(nettingSet, s.cube.Asof(), func(idx int) float64 { return s.cube.GetT0(idx, s.depth) })
}

func (s *ScheduleCalculator) InitialMargin(nettingSet string, date, sample int) (Margin, error) {
	if date < 0 || date >= s.cube.NumDates() {
		return Margin{}, fmt.Errorf("date index %d out of range", date)
	}
	d := s.cube.Dates()[date]
	return s.margin(nettingSet, d, func(idx int) float64 { return s.cube.Get(idx, date, sample, s.depth) })
}

func (s *ScheduleCalculator) margin(nettingSet string, d time.Time, value func(int) float64) (Margin, error) {
	trades, ok := s.trades[nettingSet]
	if !ok {
		return Margin{}, fmt.Errorf("%w: %s", ErrUnknownNettingSet, nettingSet)
	}
	var gross, ir, fx, net, grossValue float64
	for _, t := range trades {
		if !t.Maturity.After(d) {
			continue
		}
		im := math.Abs(t.Notional) * ScheduleRate(t.ProductClass, s.dc.YearFraction(d, t.Maturity))
		gross += im
		switch t.ProductClass {
		case "IR", "Rates":
			ir += im
		case "FX":
			fx += im
		}
		v := value(s.index[t.ID])
		net += v
		grossValue += math.Max(v, 0)
	}
	ngr := 1.0
	if grossValue > 0 {
		ngr = math.Max(net, 0) / grossValue
	}
	f := 0.4 + 0.6*ngr
	return Margin{Total: gross * f, Delta: gross * f, IRDelta: ir * f, FXDelta: fx * f}, nil
}
