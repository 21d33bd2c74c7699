package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/dategrid"
	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/utils"
	"go.uber.org/zap"
)

const (
	StageBuild   = "build"
	StagePricing = "pricing"
)

// TradeFailure records a trade dropped from the run.
type TradeFailure struct {
	TradeID   string
	TradeType string
	Stage     string
	Err       error
}

func (f TradeFailure) Error() string {
	return fmt.Sprintf("trade %s (%s) failed in %s: %v", f.TradeID, f.TradeType, f.Stage, f.Err)
}

func (f TradeFailure) Unwrap() error { return f.Err }

// BuiltTrade is a trade together with its instrument on the engine's market.
type BuiltTrade struct {
	Trade      portfolio.Trade
	Instrument portfolio.Instrument
}

// Progress is advanced once per finished sample.
type Progress interface {
	Add(n int) error
}

type RunOptions struct {
	MporStickyDate bool
	DryRun         bool
	// AggregationData, when set, receives market data at every valuation date.
	AggregationData *scenario.AggregationScenarioData
	Progress        Progress
}

// ValuationEngine runs the valuation loop for one set of trades on one market.
type ValuationEngine struct {
	grid    *dategrid.DateGrid
	market  SimMarket
	samples int
	logger  *zap.Logger
}

func NewValuationEngine(grid *dategrid.DateGrid, market SimMarket, samples int, logger *zap.Logger) (*ValuationEngine, error) {
	if grid == nil || market == nil {
		return nil, errors.New("valuation engine needs a date grid and a market")
	}
	if samples <= 0 {
		return nil, fmt.Errorf("valuation engine needs samples, got %d", samples)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValuationEngine{grid: grid, market: market, samples: samples, logger: logger}, nil
}

// RunResult is what one valuation loop produced besides the cube.
type RunResult struct {
	Failures []TradeFailure
	Stats    map[string]portfolio.PricingStats
}

type tradeState struct {
	BuiltTrade
	index  int
	failed bool
}

// BuildCube fills c with T0 values and then, sample by sample, with the values
// at every grid date. Close-out dates are written at the cube index of the
// valuation date they belong to. Trades that fail to price are zeroed in c and
// reported; the loop carries on without them. Errors returned are fatal for
// the whole cube.
func (e *ValuationEngine) BuildCube(ctx context.Context, trades []BuiltTrade, c cube.NPVCube, calcs []ValuationCalculator, opts RunOptions) (*RunResult, error) {
	dates := e.grid.Dates()
	isValuation := e.grid.IsValuationDate()
	isCloseOut := e.grid.IsCloseOutDate()
	if n := len(e.grid.ValuationDates()); c.NumDates() != n {
		return nil, fmt.Errorf("cube has %d dates, grid has %d valuation dates", c.NumDates(), n)
	}
	if c.Samples() != e.samples {
		return nil, fmt.Errorf("cube has %d samples, engine runs %d", c.Samples(), e.samples)
	}

	res := &RunResult{Stats: map[string]portfolio.PricingStats{}}
	states := make([]*tradeState, len(trades))
	for i, t := range trades {
		idx, err := c.Index(t.Trade.ID())
		if err != nil {
			return nil, err
		}
		states[i] = &tradeState{BuiltTrade: t, index: idx}
	}

	fail := func(s *tradeState, err error) {
		s.failed = true
		f := TradeFailure{TradeID: s.Trade.ID(), TradeType: s.Trade.Type(), Stage: StagePricing, Err: err}
		res.Failures = append(res.Failures, f)
		e.logger.Error("trade pricing failed",
			zap.String("tradeId", f.TradeID), zap.String("tradeType", f.TradeType),
			zap.String("stage", f.Stage), zap.Error(err))
	}

	price := func(s *tradeState, run func(calc ValuationCalculator) error) {
		start := time.Now()
		for _, calc := range calcs {
			if err := run(calc); err != nil {
				fail(s, err)
				return
			}
		}
		st := res.Stats[s.Trade.ID()]
		st.Count++
		st.Total += time.Since(start)
		res.Stats[s.Trade.ID()] = st
	}

	e.market.Reset()
	for _, s := range states {
		s := s
		price(s, func(calc ValuationCalculator) error {
			return calc.CalculateT0(s.Instrument, s.index, e.market, c)
		})
	}

	for sample := 0; sample < e.samples; sample++ {
		cubeDateIndex := -1
		var updated time.Time
		for j, d := range dates {
			if err := ctx.Err(); err != nil {
				e.market.Reset()
				dropFailed(states, c, res)
				return res, fmt.Errorf("valuation cancelled at sample %d date %s: %w", sample, d.Format(utils.Layout), err)
			}
			if opts.DryRun && sample > 0 {
				if isValuation[j] {
					cubeDateIndex++
					if err := e.fillDryRun(states, c, cubeDateIndex, sample); err != nil {
						return res, err
					}
					if opts.AggregationData != nil {
						if err := opts.AggregationData.CopySample(cubeDateIndex, 0, sample); err != nil {
							return res, err
						}
					}
				}
				continue
			}

			if isCloseOut[j] {
				if cubeDateIndex < 0 {
					return res, errors.New("first grid date is a close-out date, ensure that the date grid starts with a valuation date")
				}
				if err := e.market.Update(d, opts.MporStickyDate); err != nil {
					return res, err
				}
				updated = d
				e.valueAt(states, c, calcs, price, cubeDateIndex, sample, true)
			}

			if isValuation[j] {
				cubeDateIndex++
				if updated.Equal(d) {
					e.market.SetAsof(d)
				} else if err := e.market.Update(d, false); err != nil {
					return res, err
				}
				updated = d
				if opts.AggregationData != nil {
					if err := e.market.WriteAggregationData(opts.AggregationData, cubeDateIndex, sample); err != nil {
						return res, err
					}
				}
				e.valueAt(states, c, calcs, price, cubeDateIndex, sample, false)
			}
		}
		if opts.Progress != nil {
			_ = opts.Progress.Add(1)
		}
	}
	e.market.Reset()
	dropFailed(states, c, res)
	return res, nil
}

// dropFailed zeroes the trades that failed pricing and forgets their stats.
func dropFailed(states []*tradeState, c cube.NPVCube, res *RunResult) {
	for _, s := range states {
		if s.failed {
			c.Remove(s.index)
			delete(res.Stats, s.Trade.ID())
		}
	}
}

func (e *ValuationEngine) valueAt(states []*tradeState, c cube.NPVCube, calcs []ValuationCalculator,
	price func(*tradeState, func(ValuationCalculator) error), dateIndex, sample int, closeOut bool) {
	for _, s := range states {
		if s.failed {
			continue
		}
		s := s
		price(s, func(calc ValuationCalculator) error {
			return calc.Calculate(s.Instrument, s.index, e.market, c, dateIndex, sample, closeOut)
		})
	}
}

// fillDryRun writes T0 plus a small deterministic offset instead of pricing.
func (e *ValuationEngine) fillDryRun(states []*tradeState, c cube.NPVCube, dateIndex, sample int) error {
	for _, s := range states {
		if s.failed {
			continue
		}
		for d := 0; d < c.Depth(); d++ {
			noise := 0.0
			if sample < 10 {
				noise = float64(s.index + dateIndex + d + sample)
			}
			if err := c.Set(c.GetT0(s.index, d)+noise, s.index, dateIndex, sample, d); err != nil {
				return err
			}
		}
	}
	return nil
}
