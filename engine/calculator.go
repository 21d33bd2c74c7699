package engine

import (
	"fmt"

	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/portfolio"
)

// ValuationCalculator writes one kind of result for a trade into the cube.
// trade is the trade's index in c.
type ValuationCalculator interface {
	CalculateT0(inst portfolio.Instrument, trade int, m SimMarket, c cube.NPVCube) error
	Calculate(inst portfolio.Instrument, trade int, m SimMarket, c cube.NPVCube, dateIndex, sample int, isCloseOut bool) error
}

// NPVCalculator stores the numeraire deflated NPV, close-out values at a
// separate depth.
type NPVCalculator struct {
	Index         int
	CloseOutIndex int
}

func deflatedNPV(inst portfolio.Instrument, m SimMarket) (float64, error) {
	v, err := inst.NPV()
	if err != nil {
		return 0, err
	}
	return v / m.Numeraire(), nil
}

func (n NPVCalculator) CalculateT0(inst portfolio.Instrument, trade int, m SimMarket, c cube.NPVCube) error {
	v, err := deflatedNPV(inst, m)
	if err != nil {
		return err
	}
	return c.SetT0(v, trade, n.Index)
}

func (n NPVCalculator) Calculate(inst portfolio.Instrument, trade int, m SimMarket, c cube.NPVCube, dateIndex, sample int, isCloseOut bool) error {
	v, err := deflatedNPV(inst, m)
	if err != nil {
		return err
	}
	depth := n.Index
	if isCloseOut {
		depth = n.CloseOutIndex
	}
	return c.Set(v, trade, dateIndex, sample, depth)
}

// CashflowCalculator stores the deflated cash paid between a cube date and
// the next one, or between today and the first date for T0.
type CashflowCalculator struct {
	Index int
}

func (f CashflowCalculator) CalculateT0(inst portfolio.Instrument, trade int, m SimMarket, c cube.NPVCube) error {
	cf, ok := inst.(portfolio.CashflowInstrument)
	if !ok || c.NumDates() == 0 {
		return nil
	}
	v, err := cf.Cashflow(c.Asof(), c.Dates()[0])
	if err != nil {
		return err
	}
	return c.SetT0(v/m.Numeraire(), trade, f.Index)
}

func (f CashflowCalculator) Calculate(inst portfolio.Instrument, trade int, m SimMarket, c cube.NPVCube, dateIndex, sample int, isCloseOut bool) error {
	cf, ok := inst.(portfolio.CashflowInstrument)
	if !ok || isCloseOut || dateIndex+1 >= c.NumDates() {
		return nil
	}
	dates := c.Dates()
	v, err := cf.Cashflow(dates[dateIndex], dates[dateIndex+1])
	if err != nil {
		return err
	}
	return c.Set(v/m.Numeraire(), trade, dateIndex, sample, f.Index)
}

// StateNPVCalculator stores the deflated NPV in each issuer credit state at
// depths Offset..Offset+States-1. Trades without credit states get their plain
// NPV in every state.
type StateNPVCalculator struct {
	Offset int
	States int
}

func (s StateNPVCalculator) values(inst portfolio.Instrument, m SimMarket) ([]float64, error) {
	if s.States <= 0 {
		return nil, fmt.Errorf("state npv calculator needs states, got %d", s.States)
	}
	var out []float64
	if ci, ok := inst.(portfolio.CreditStateInstrument); ok {
		v, err := ci.StateNPVs(s.States)
		if err != nil {
			return nil, err
		}
		out = v
	} else {
		v, err := inst.NPV()
		if err != nil {
			return nil, err
		}
		out = make([]float64, s.States)
		for i := range out {
			out[i] = v
		}
	}
	for i := range out {
		out[i] /= m.Numeraire()
	}
	return out, nil
}

func (s StateNPVCalculator) CalculateT0(inst portfolio.Instrument, trade int, m SimMarket, c cube.NPVCube) error {
	v, err := s.values(inst, m)
	if err != nil {
		return err
	}
	for i, x := range v {
		if err := c.SetT0(x, trade, s.Offset+i); err != nil {
			return err
		}
	}
	return nil
}

func (s StateNPVCalculator) Calculate(inst portfolio.Instrument, trade int, m SimMarket, c cube.NPVCube, dateIndex, sample int, isCloseOut bool) error {
	if isCloseOut {
		return nil
	}
	v, err := s.values(inst, m)
	if err != nil {
		return err
	}
	for i, x := range v {
		if err := c.Set(x, trade, dateIndex, sample, s.Offset+i); err != nil {
			return err
		}
	}
	return nil
}
