package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/dategrid"
	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/scenario"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CubeFactory creates a worker's mini-cube.
type CubeFactory func(asof time.Time, ids []string, dates []time.Time, samples, depth int) (cube.NPVCube, error)

// DoublePrecisionCubes is the default CubeFactory.
func DoublePrecisionCubes(asof time.Time, ids []string, dates []time.Time, samples, depth int) (cube.NPVCube, error) {
	return cube.New(asof, ids, dates, samples, depth)
}

func SinglePrecisionCubes(asof time.Time, ids []string, dates []time.Time, samples, depth int) (cube.NPVCube, error) {
	return cube.NewSinglePrecision(asof, ids, dates, samples, depth)
}

type Config struct {
	Threads   int
	Samples   int
	Depth     int
	Grid      *dategrid.DateGrid
	Generator scenario.Generator
	Market    MarketFactory
	Cube      CubeFactory
	// AggregationData is filled by the first worker.
	AggregationData *scenario.AggregationScenarioData
	// ProgressWriter shows a progress bar when set.
	ProgressWriter io.Writer
	Logger         *zap.Logger
}

// MultiThreadedValuationEngine splits a portfolio over workers that each price
// their share on their own market into their own mini-cube.
type MultiThreadedValuationEngine struct {
	cfg    Config
	logger *zap.Logger
}

func NewMultiThreadedValuationEngine(cfg Config) (*MultiThreadedValuationEngine, error) {
	if cfg.Threads <= 0 {
		return nil, fmt.Errorf("need at least one thread, got %d", cfg.Threads)
	}
	if cfg.Samples <= 0 || cfg.Depth <= 0 {
		return nil, fmt.Errorf("need positive samples and depth, got %d and %d", cfg.Samples, cfg.Depth)
	}
	if cfg.Grid == nil || cfg.Generator == nil || cfg.Market == nil {
		return nil, errors.New("engine needs a date grid, a scenario generator and a market factory")
	}
	if cfg.Cube == nil {
		cfg.Cube = DoublePrecisionCubes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiThreadedValuationEngine{cfg: cfg, logger: logger.Named("valuation")}, nil
}

// Result holds one mini-cube per worker and the trades that were dropped.
// A worker that hit a fatal error leaves a nil cube.
type Result struct {
	MiniCubes []cube.NPVCube
	Failures  []TradeFailure
}

// Cube joins the mini-cubes into one cube over all surviving trades.
func (r *Result) Cube() (*cube.JointCube, error) {
	return cube.NewJointCube(r.MiniCubes...)
}

// Split deals trades round robin over min(n, size) parts, slowest average
// pricing time first, ties broken by trade id.
func Split(p *portfolio.Portfolio, n int) [][]portfolio.Trade {
	eff := n
	if p.Size() < eff {
		eff = p.Size()
	}
	if eff <= 0 {
		return nil
	}
	trades := p.Trades()
	sort.SliceStable(trades, func(i, j int) bool {
		a := p.PricingStats(trades[i].ID()).Average()
		b := p.PricingStats(trades[j].ID()).Average()
		if a == b {
			return trades[i].ID() < trades[j].ID()
		}
		return a > b
	})
	parts := make([][]portfolio.Trade, eff)
	for i, t := range trades {
		parts[i%eff] = append(parts[i%eff], t)
	}
	return parts
}

// BuildCube prices p over the configured grid and samples. calculators is
// called once per worker. Trades that fail are removed from p and listed in
// the result. If a worker fails fatally the error is returned together with
// the cubes of the workers that completed. Cancelled workers keep the part of
// their cube written so far.
func (e *MultiThreadedValuationEngine) BuildCube(ctx context.Context, p *portfolio.Portfolio,
	calculators func() []ValuationCalculator, opts RunOptions) (*Result, error) {
	start := time.Now()
	e.logger.Info("build cube", zap.Int("trades", p.Size()), zap.Int("threads", e.cfg.Threads))

	res := &Result{}
	res.Failures = append(res.Failures, e.initPricing(p)...)

	parts := Split(p, e.cfg.Threads)
	if len(parts) == 0 {
		return res, errors.New("effective threads are zero, portfolio is empty")
	}
	for i, part := range parts {
		var total time.Duration
		for _, t := range part {
			total += p.PricingStats(t.ID()).Average()
		}
		e.logger.Info("portfolio split", zap.Int("worker", i), zap.Int("trades", len(part)), zap.Duration("avgPricingTime", total))
	}

	cloned, err := scenario.NewClonedGenerator(e.cfg.Generator, e.cfg.Grid.Dates(), e.cfg.Samples)
	if err != nil {
		return res, fmt.Errorf("clone scenario generator: %w", err)
	}

	var bar Progress
	if e.cfg.ProgressWriter != nil {
		bar = newProgressBar(len(parts)*e.cfg.Samples, e.cfg.ProgressWriter, "valuation")
	}

	n := len(parts)
	cubes := make([]cube.NPVCube, n)
	failures := make([][]TradeFailure, n)
	stats := make([]map[string]portfolio.PricingStats, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		gen := cloned
		if i > 0 {
			gen = cloned.Clone()
		}
		g.Go(func() error {
			w := worker{id: i, engine: e, trades: parts[i], generator: gen, progress: bar}
			if i == 0 {
				w.asd = e.cfg.AggregationData
			}
			c, fs, st, err := w.run(gctx, calculators(), opts)
			cubes[i], failures[i], stats[i] = c, fs, st
			if err != nil {
				e.logger.Error("worker failed", zap.Int("worker", i), zap.Error(err))
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	werr := g.Wait()
	if f, ok := bar.(*progressbar.ProgressBar); ok {
		_ = f.Finish()
	}

	res.MiniCubes = cubes
	for i := range failures {
		res.Failures = append(res.Failures, failures[i]...)
		for id, s := range stats[i] {
			p.AddPricingStats(id, s)
		}
	}
	for _, f := range res.Failures {
		p.Remove(f.TradeID)
	}
	e.logger.Info("cube built", zap.Int("trades", p.Size()), zap.Int("failed", len(res.Failures)), zap.Duration("elapsed", time.Since(start)))
	return res, werr
}

// initPricing builds every trade against today's market and prices it once to
// seed the pricing statistics used by Split. Trades that fail are removed.
func (e *MultiThreadedValuationEngine) initPricing(p *portfolio.Portfolio) []TradeFailure {
	m, err := e.cfg.Market(nil)
	var out []TradeFailure
	if err != nil {
		e.logger.Warn("no t0 market, pricing stats not seeded", zap.Error(err))
		return nil
	}
	for _, t := range p.Trades() {
		inst, err := t.Build(m)
		stage := StageBuild
		if err == nil {
			start := time.Now()
			_, err = inst.NPV()
			stage = StagePricing
			if err == nil {
				p.AddPricingStats(t.ID(), portfolio.PricingStats{Count: 1, Total: time.Since(start)})
				continue
			}
		}
		f := TradeFailure{TradeID: t.ID(), TradeType: t.Type(), Stage: stage, Err: err}
		e.logger.Error("trade failed against t0 market",
			zap.String("tradeId", f.TradeID), zap.String("tradeType", f.TradeType),
			zap.String("stage", f.Stage), zap.Error(err))
		out = append(out, f)
		p.Remove(t.ID())
	}
	return out
}

type worker struct {
	id        int
	engine    *MultiThreadedValuationEngine
	trades    []portfolio.Trade
	generator scenario.Generator
	asd       *scenario.AggregationScenarioData
	progress  Progress
}

func (w *worker) run(ctx context.Context, calcs []ValuationCalculator, opts RunOptions) (cube.NPVCube, []TradeFailure, map[string]portfolio.PricingStats, error) {
	cfg := w.engine.cfg
	logger := w.engine.logger.With(zap.Int("worker", w.id))
	logger.Debug("start worker", zap.Int("trades", len(w.trades)))

	market, err := cfg.Market(w.generator)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build sim market: %w", err)
	}
	var failures []TradeFailure
	var built []BuiltTrade
	for _, t := range w.trades {
		inst, err := t.Build(market)
		if err != nil {
			f := TradeFailure{TradeID: t.ID(), TradeType: t.Type(), Stage: StageBuild, Err: err}
			logger.Error("trade build failed",
				zap.String("tradeId", f.TradeID), zap.String("tradeType", f.TradeType),
				zap.String("stage", f.Stage), zap.Error(err))
			failures = append(failures, f)
			continue
		}
		built = append(built, BuiltTrade{Trade: t, Instrument: inst})
	}
	sort.Slice(built, func(i, j int) bool { return built[i].Trade.ID() < built[j].Trade.ID() })
	ids := make([]string, len(built))
	for i, b := range built {
		ids[i] = b.Trade.ID()
	}

	asof := cfg.Grid.Today()
	valDates := cfg.Grid.ValuationDates()
	c, err := cfg.Cube(asof, ids, valDates, cfg.Samples, cfg.Depth)
	if err != nil {
		return nil, failures, nil, fmt.Errorf("build mini-cube: %w", err)
	}

	ve, err := NewValuationEngine(cfg.Grid, market, cfg.Samples, logger)
	if err != nil {
		return nil, failures, nil, err
	}
	runOpts := opts
	runOpts.AggregationData = w.asd
	runOpts.Progress = w.progress
	rr, err := ve.BuildCube(ctx, built, c, calcs, runOpts)
	if rr != nil {
		failures = append(failures, rr.Failures...)
	}
	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if err != nil && !cancelled {
		return nil, failures, nil, err
	}
	if rr != nil && len(rr.Failures) > 0 {
		var cerr error
		if c, cerr = compact(c, rr.Failures, cfg.Cube); cerr != nil {
			return nil, failures, nil, cerr
		}
	}
	if cancelled {
		return c, failures, rr.Stats, err
	}
	logger.Debug("worker finished", zap.Int("trades", c.NumIDs()))
	return c, failures, rr.Stats, nil
}

// compact copies c without the failed trades so a mini-cube only indexes
// trades that priced.
func compact(c cube.NPVCube, failed []TradeFailure, factory CubeFactory) (cube.NPVCube, error) {
	drop := map[string]bool{}
	for _, f := range failed {
		drop[f.TradeID] = true
	}
	var ids []string
	for _, id := range c.IDs() {
		if !drop[id] {
			ids = append(ids, id)
		}
	}
	out, err := factory(c.Asof(), ids, c.Dates(), c.Samples(), c.Depth())
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		src, err := c.Index(id)
		if err != nil {
			return nil, err
		}
		for d := 0; d < c.Depth(); d++ {
			if v := c.GetT0(src, d); v != 0 {
				if err := out.SetT0(v, i, d); err != nil {
					return nil, err
				}
			}
			for j := 0; j < c.NumDates(); j++ {
				for s := 0; s < c.Samples(); s++ {
					if v := c.Get(src, j, s, d); v != 0 {
						if err := out.Set(v, i, j, s, d); err != nil {
							return nil, err
						}
					}
				}
			}
		}
	}
	return out, nil
}
