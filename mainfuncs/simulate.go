// Package mainfuncs wires configuration into a full exposure run: scenario
// generation, the multi-threaded cube build and the aggregation calculators.
package mainfuncs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/banachtech/riskcube/aggregation"
	"github.com/banachtech/riskcube/config"
	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/dategrid"
	"github.com/banachtech/riskcube/engine"
	"github.com/banachtech/riskcube/payoff"
	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/simm"
	"github.com/banachtech/riskcube/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

type Options struct {
	// Progress receives the progress bar when the engine shows one.
	Progress io.Writer
}

// Output is a finished run.
type Output struct {
	Report      *Report
	Cube        cube.NPVCube
	NettingSets map[string]string
}

// cube depth layout of a run
type layout struct {
	closeOut int
	cashflow int
	state    int
	states   int
	depth    int
}

func newLayout(grid *dategrid.DateGrid, states int) layout {
	l := layout{closeOut: 0, state: -1}
	next := 1
	if len(grid.CloseOutDates()) > 0 {
		l.closeOut = next
		next++
	}
	l.cashflow = next
	next++
	if states > 0 {
		l.state, l.states = next, states
		next += states
	}
	l.depth = next
	return l
}

func (l layout) calculators() []engine.ValuationCalculator {
	calcs := []engine.ValuationCalculator{
		engine.NPVCalculator{Index: 0, CloseOutIndex: l.closeOut},
		engine.CashflowCalculator{Index: l.cashflow},
	}
	if l.states > 0 {
		calcs = append(calcs, engine.StateNPVCalculator{Offset: l.state, States: l.states})
	}
	return calcs
}

func creditStates(c config.CreditConfig) int {
	if !c.Enabled {
		return 0
	}
	for _, e := range c.Entities {
		if m, ok := c.TransitionMatrices[e.Matrix]; ok {
			return len(m)
		}
	}
	return 0
}

// Simulate runs the whole pipeline described by cfg.
func Simulate(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*Output, error) {
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()
	asof, err := time.Parse(utils.Layout, cfg.Asof)
	if err != nil {
		return nil, fmt.Errorf("asof: %w", err)
	}
	cal, err := utils.CalendarByName(cfg.Engine.Calendar)
	if err != nil {
		return nil, err
	}
	dc, err := utils.ParseDayCounter(cfg.Engine.DayCounter)
	if err != nil {
		return nil, err
	}

	grid, err := dategrid.New(asof, cfg.Engine.Grid, cal, dc)
	if err != nil {
		return nil, fmt.Errorf("date grid: %w", err)
	}
	if cfg.Engine.MPoR != "" {
		p, err := utils.ParsePeriod(cfg.Engine.MPoR)
		if err != nil {
			return nil, fmt.Errorf("mpor: %w", err)
		}
		if err := grid.AddCloseOutDates(p); err != nil {
			return nil, err
		}
	}

	gen, err := NewGenerator(cfg, asof, cal, dc, log)
	if err != nil {
		return nil, err
	}
	p, err := payoff.NewPortfolio(cfg.Portfolio)
	if err != nil {
		return nil, err
	}

	lay := newLayout(grid, creditStates(cfg.Credit))
	asd := scenario.NewAggregationScenarioData(len(grid.ValuationDates()), cfg.Engine.Samples)
	cubes := engine.DoublePrecisionCubes
	if cfg.Engine.SinglePrecision {
		cubes = engine.SinglePrecisionCubes
	}
	var progress io.Writer
	if cfg.Engine.ShowProgress {
		progress = opts.Progress
	}
	eng, err := engine.NewMultiThreadedValuationEngine(engine.Config{
		Threads:   cfg.Engine.Threads,
		Samples:   cfg.Engine.Samples,
		Depth:     lay.depth,
		Grid:      grid,
		Generator: gen,
		Market: engine.NewScenarioMarketFactory(gen.T0Scenario(), engine.MarketOptions{
			BaseCurrency:              cfg.Engine.BaseCurrency,
			FallbackRate:              cfg.Engine.FallbackRate,
			DayCounter:                dc,
			Recovery:                  cfg.Market.Recovery,
			CacheSimData:              cfg.Engine.CacheSimData,
			UseSpreadedTermStructures: cfg.Engine.UseSpreadedTermStructures,
		}),
		Cube:            cubes,
		AggregationData: asd,
		ProgressWriter:  progress,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}
	res, err := eng.BuildCube(ctx, p, lay.calculators, engine.RunOptions{
		MporStickyDate: cfg.Engine.StickyMPoR,
		DryRun:         cfg.Engine.DryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("build cube: %w", err)
	}
	joint, err := res.Cube()
	if err != nil {
		return nil, err
	}

	nettingSets := p.NettingSets()
	report := newReport(asof, p, res.Failures)
	if err := aggregate(ctx, cfg, asof, dc, p, joint, asd, lay, nettingSets, report, log); err != nil {
		return nil, err
	}
	log.Info("simulation finished", zap.Int("trades", p.Size()), zap.Int("failures", len(res.Failures)),
		zap.Duration("elapsed", time.Since(start)))
	return &Output{Report: report, Cube: joint, NettingSets: nettingSets}, nil
}

func aggregate(ctx context.Context, cfg *config.Config, asof time.Time, dc utils.DayCounter, p *portfolio.Portfolio,
	c cube.NPVCube, asd *scenario.AggregationScenarioData, lay layout, nettingSets map[string]string,
	report *Report, log *zap.Logger) error {
	netted := aggregation.NewNettedExposureCalculator(c, nettingSets, 0, log)
	if err := netted.Build(ctx); err != nil {
		return err
	}
	nettedCube := netted.NettedCube()
	for _, ns := range nettedCube.IDs() {
		epe, _ := netted.EPE(ns)
		ene, _ := netted.ENE(ns)
		report.Exposure[ns] = ExposureReport{EPE: epe, ENE: ene}
	}

	var calcs []aggregation.Calculator
	var collect []func() error

	if cfg.Credit.Enabled {
		params, corr, err := creditParameters(cfg.Credit, cfg.Engine.Seed)
		if err != nil {
			return err
		}
		if lay.state < 0 {
			return fmt.Errorf("credit migration needs credit state npvs in the cube")
		}
		cm := aggregation.NewCreditMigrationCalculator(aggregation.CreditMigrationConfig{
			Parameters:        params,
			Trades:            p.Trades(),
			Cube:              c,
			NettedCube:        nettedCube,
			Data:              asd,
			CashflowIndex:     lay.cashflow,
			StateIndex:        lay.state,
			DistributionGrid:  cfg.Credit.DistributionGrid,
			TimeSteps:         cfg.Credit.TimeSteps,
			FactorCorrelation: corr,
			Logger:            log,
		})
		calcs = append(calcs, cm)
		collect = append(collect, func() error {
			report.Credit = &CreditReport{
				TimeSteps:   cfg.Credit.TimeSteps,
				UpperBounds: cm.UpperBucketBounds(),
				PDF:         cm.PDF(),
				Stats:       cm.Stats(),
			}
			return nil
		})
	}

	if cfg.DIM.Enabled {
		trades, skipped := simm.ScheduleTrades(p)
		if len(skipped) > 0 {
			log.Warn("trades without schedule data are left out of dim", zap.Strings("tradeIds", skipped))
		}
		sched, err := simm.NewScheduleCalculator(c, 0, trades, dc)
		if err != nil {
			return err
		}
		dim, err := aggregation.NewDynamicSimmCalculator(aggregation.DynamicSimmConfig{
			Cube:        c,
			NettingSets: sched.NettingSets(),
			Simm:        sched,
			Data:        asd,
			Depth:       cfg.DIM.Depth,
			CurrentIM:   cfg.DIM.CurrentIM,
			Logger:      log,
		})
		if err != nil {
			return err
		}
		calcs = append(calcs, dim)
		collect = append(collect, func() error {
			report.DIM = map[string][]float64{}
			for _, ns := range sched.NettingSets() {
				e, err := dim.ExpectedDIM(ns)
				if err != nil {
					return err
				}
				report.DIM[ns] = e
			}
			return nil
		})
	}

	if cfg.VaR.Enabled {
		method, err := aggregation.ParseVarMethod(cfg.VaR.Method)
		if err != nil {
			return err
		}
		v, err := aggregation.NewVarCalculator(nettedCube, method, cfg.VaR.Confidence, log)
		if err != nil {
			return err
		}
		calcs = append(calcs, v)
		collect = append(collect, func() error {
			report.VaR = map[string][]aggregation.VarReport{}
			for _, ns := range nettedCube.IDs() {
				r, err := v.Report(ns)
				if err != nil {
					return err
				}
				report.VaR[ns] = r
			}
			return nil
		})
	}

	if cfg.CVA.Enabled {
		cva, ns, err := newCVACalculator(cfg, asof, dc, c.Dates(), netted, log)
		if err != nil {
			return err
		}
		calcs = append(calcs, cva)
		collect = append(collect, func() error {
			r, err := newCVAReport(ns, cva)
			report.CVA = r
			return err
		})
	}

	if err := aggregation.RunAll(ctx, calcs...); err != nil {
		return err
	}
	for _, fn := range collect {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func newCVACalculator(cfg *config.Config, asof time.Time, dc utils.DayCounter, dates []time.Time,
	netted *aggregation.NettedExposureCalculator, log *zap.Logger) (*aggregation.CVASpreadSensitivityCalculator, string, error) {
	ns := cfg.CVA.NettingSet
	if ns == "" {
		ids := netted.NettedCube().IDs()
		if len(ids) == 0 {
			return nil, "", fmt.Errorf("cva: no netting sets")
		}
		ns = ids[0]
	}
	ee, err := netted.EPE(ns)
	if err != nil {
		return nil, "", fmt.Errorf("cva: %w", err)
	}
	tenors, err := utils.ParsePeriods(cfg.CVA.ShiftTenors)
	if err != nil {
		return nil, "", fmt.Errorf("cva shift tenors: %w", err)
	}
	calc, err := aggregation.NewCVASpreadSensitivityCalculator(aggregation.CVASensitivityConfig{
		Asof:        asof,
		Dates:       dates,
		EE:          ee,
		Curve:       aggregation.FlatHazardCurve{Asof: asof, Hazard: cfg.CVA.Hazard, Rate: cfg.CVA.Rate, DayCounter: dc},
		Recovery:    cfg.CVA.Recovery,
		ShiftTenors: tenors,
		ShiftSize:   cfg.CVA.ShiftSize,
		DayCounter:  dc,
		Logger:      log,
	})
	return calc, ns, err
}

func creditParameters(c config.CreditConfig, seed uint64) (*aggregation.CreditSimulationParameters, *mat.SymDense, error) {
	p := &aggregation.CreditSimulationParameters{
		TransitionMatrix: map[string]*mat.Dense{},
		NettingSetIDs:    c.NettingSets,
		MarketRisk:       c.MarketRisk,
		CreditRisk:       c.CreditRisk,
		ZeroMarketPnl:    c.ZeroMarketPnl,
		Evaluation:       aggregation.Evaluation(c.Evaluation),
		CreditMode:       aggregation.CreditMode(c.Mode),
		LoanExposureMode: aggregation.LoanExposureMode(c.LoanExposureMode),
		Paths:            c.Paths,
		Seed:             seed,
	}
	names := make([]string, 0, len(c.TransitionMatrices))
	for name := range c.TransitionMatrices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows := c.TransitionMatrices[name]
		n := len(rows)
		m := mat.NewDense(n, n, nil)
		for i, row := range rows {
			if len(row) != n {
				return nil, nil, fmt.Errorf("transition matrix %s row %d has %d entries, want %d", name, i, len(row), n)
			}
			m.SetRow(i, row)
		}
		p.TransitionMatrix[name] = m
	}
	for _, e := range c.Entities {
		p.Entities = append(p.Entities, e.Name)
		p.TransitionMatrices = append(p.TransitionMatrices, e.Matrix)
		p.InitialStates = append(p.InitialStates, e.InitialState)
		p.FactorLoadings = append(p.FactorLoadings, e.Loadings)
	}
	var corr *mat.SymDense
	if len(c.FactorCorrelation) > 0 {
		n := len(c.FactorCorrelation)
		corr = mat.NewSymDense(n, nil)
		for i, row := range c.FactorCorrelation {
			if len(row) != n {
				return nil, nil, fmt.Errorf("factor correlation row %d has %d entries, want %d", i, len(row), n)
			}
			for j := i; j < n; j++ {
				corr.SetSym(i, j, row[j])
			}
		}
	}
	return p, corr, nil
}
