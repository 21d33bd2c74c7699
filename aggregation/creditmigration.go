package aggregation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/banachtech/riskcube/bucketing"
	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/data"
	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/utils"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

type Evaluation string

const (
	Analytic           Evaluation = "Analytic"
	TerminalSimulation Evaluation = "TerminalSimulation"
)

type CreditMode string

const (
	// Migration prices every credit state.
	Migration CreditMode = "Migration"
	// Default only distinguishes default from survival.
	Default CreditMode = "Default"
)

type LoanExposureMode string

const (
	ExposureValue    LoanExposureMode = "Value"
	ExposureNotional LoanExposureMode = "Notional"
)

// CreditSimulationParameters describe the simulated credit entities. The
// slices indexed by entity must all have the same length.
type CreditSimulationParameters struct {
	Entities           []string
	TransitionMatrices []string
	// TransitionMatrix holds one year transition matrices by name, the last
	// state being default.
	TransitionMatrix map[string]*mat.Dense
	InitialStates    []int
	FactorLoadings   [][]float64
	// NettingSetIDs whose derivative exposure is lost on counterparty default.
	NettingSetIDs    []string
	MarketRisk       bool
	CreditRisk       bool
	ZeroMarketPnl    bool
	Evaluation       Evaluation
	CreditMode       CreditMode
	LoanExposureMode LoanExposureMode
	// Paths is the number of idiosyncratic draws per cube sample in terminal simulation.
	Paths int
	Seed  uint64
}

// IssuerTrade is implemented by trades carrying issuer credit risk.
type IssuerTrade interface {
	Issuer() string
}

type notionalTrade interface {
	Notional() float64
}

// CreditMigrationHelper computes the P&L distribution at a cube date from
// market moves on each path and credit migrations conditional on the path's
// systemic credit factors.
type CreditMigrationHelper struct {
	params        *CreditSimulationParameters
	cube          cube.NPVCube
	netted        cube.NPVCube
	asd           *scenario.AggregationScenarioData
	cashflowIndex int
	stateIndex    int
	bounds        []float64
	logger        *zap.Logger

	states       int
	times        []float64
	globalVar    []float64
	globalStates [][][]float64
	memo         *TransitionMemo

	issuerTrades      [][]string
	cptyNettingSets   [][]string
	tradeCreditCurves map[string]string
	tradeNotionals    map[string]float64
}

// NewCreditMigrationHelper prepares the systemic factor states of every
// entity. cashflowIndex is the cube depth of period cash flows, -1 for none;
// stateIndex is the first depth of the credit state NPVs.
func NewCreditMigrationHelper(params *CreditSimulationParameters, c, netted cube.NPVCube, asd *scenario.AggregationScenarioData,
	cashflowIndex, stateIndex int, bounds []float64, globalCorr *mat.SymDense, logger *zap.Logger) (*CreditMigrationHelper, error) {
	if params == nil || c == nil {
		return nil, fmt.Errorf("credit migration helper: %w", ErrNilInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &CreditMigrationHelper{
		params: params, cube: c, netted: netted, asd: asd,
		cashflowIndex: cashflowIndex, stateIndex: stateIndex,
		bounds: bounds, logger: logger, memo: NewTransitionMemo(),
	}
	if cashflowIndex >= c.Depth() {
		return nil, fmt.Errorf("cash flow index %d outside cube depth %d", cashflowIndex, c.Depth())
	}
	if err := h.init(globalCorr); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *CreditMigrationHelper) init(globalCorr *mat.SymDense) error {
	c := h.cube
	for _, d := range c.Dates() {
		h.times = append(h.times, utils.ActualActual.YearFraction(c.Asof(), d))
	}
	if !h.params.CreditRisk {
		return nil
	}
	p := h.params
	ne := len(p.Entities)
	if len(p.TransitionMatrices) != ne || len(p.InitialStates) != ne || len(p.FactorLoadings) != ne {
		return fmt.Errorf("credit simulation: %d entities but %d matrices, %d initial states, %d loadings",
			ne, len(p.TransitionMatrices), len(p.InitialStates), len(p.FactorLoadings))
	}
	if h.asd == nil || h.netted == nil {
		return fmt.Errorf("credit risk needs aggregation data and a netted cube: %w", ErrNilInput)
	}
	if globalCorr == nil {
		return fmt.Errorf("credit risk needs a factor correlation: %w", ErrNilInput)
	}
	if err := data.ValidateCorrelation(globalCorr); err != nil {
		return fmt.Errorf("global factor correlation: %w", err)
	}

	h.states = -1
	for i, name := range p.TransitionMatrices {
		m, ok := p.TransitionMatrix[name]
		if !ok {
			return fmt.Errorf("no transition matrix defined for %s / %s", p.Entities[i], name)
		}
		r, _ := m.Dims()
		if h.states < 0 {
			h.states = r
		} else if r != h.states {
			return fmt.Errorf("transition matrix %s is %dx%d, expected %d states", name, r, r, h.states)
		}
		if err := CheckTransitionMatrix(m); err != nil {
			return fmt.Errorf("transition matrix %s: %w", name, err)
		}
		if s := p.InitialStates[i]; s < 0 || s >= r {
			return fmt.Errorf("initial state %d of %s outside 0..%d", s, p.Entities[i], r-1)
		}
	}
	if h.stateIndex < 0 || h.stateIndex+h.states > h.cube.Depth() {
		return fmt.Errorf("state npvs at depth %d..%d outside cube depth %d", h.stateIndex, h.stateIndex+h.states-1, h.cube.Depth())
	}
	if p.Evaluation == TerminalSimulation && p.Paths <= 0 {
		return fmt.Errorf("terminal simulation needs paths, got %d", p.Paths)
	}

	f := globalCorr.SymmetricDim()
	h.globalVar = make([]float64, ne)
	for i, l := range p.FactorLoadings {
		if len(l) != f {
			return fmt.Errorf("wrong size for loadings of entity %s (%d), expected %d", p.Entities[i], len(l), f)
		}
		lv := mat.NewVecDense(f, append([]float64(nil), l...))
		h.globalVar[i] = mat.Inner(lv, globalCorr, lv)
	}

	factor := make([]float64, f)
	h.globalStates = make([][][]float64, c.NumDates())
	for d := range h.globalStates {
		h.globalStates[d] = make([][]float64, ne)
		for i := range h.globalStates[d] {
			h.globalStates[d][i] = make([]float64, c.Samples())
			for j := 0; j < c.Samples(); j++ {
				for k := 0; k < f; k++ {
					v, err := h.asd.Get(d, j, scenario.AggCreditState, strconv.Itoa(k))
					if err != nil {
						return fmt.Errorf("credit state factor %d: %w", k, err)
					}
					factor[k] = v / math.Sqrt(h.times[d])
				}
				h.globalStates[d][i][j] = floats.Dot(p.FactorLoadings[i], factor)
			}
		}
	}
	h.logger.Info("credit migration helper initialised", zap.Int("entities", ne), zap.Int("states", h.states))
	return nil
}

// Build maps entities to the trades they issue and the netting sets they face.
func (h *CreditMigrationHelper) Build(trades []portfolio.Trade) {
	p := h.params
	h.issuerTrades = make([][]string, len(p.Entities))
	h.cptyNettingSets = make([][]string, len(p.Entities))
	h.tradeCreditCurves = map[string]string{}
	h.tradeNotionals = map[string]float64{}
	wanted := map[string]bool{}
	for _, ns := range p.NettingSetIDs {
		wanted[ns] = true
	}
	for i, entity := range p.Entities {
		nsSeen := map[string]bool{}
		for _, t := range trades {
			if it, ok := t.(IssuerTrade); ok && it.Issuer() == entity {
				h.issuerTrades[i] = append(h.issuerTrades[i], t.ID())
			}
			if t.Counterparty() == entity && wanted[t.NettingSetID()] && !nsSeen[t.NettingSetID()] {
				nsSeen[t.NettingSetID()] = true
				h.cptyNettingSets[i] = append(h.cptyNettingSets[i], t.NettingSetID())
			}
		}
		sort.Strings(h.issuerTrades[i])
		sort.Strings(h.cptyNettingSets[i])
		h.logger.Debug("credit entity",
			zap.String("entity", entity),
			zap.Int("issuerTrades", len(h.issuerTrades[i])),
			zap.Int("nettingSets", len(h.cptyNettingSets[i])))
	}
	for _, t := range trades {
		if it, ok := t.(IssuerTrade); ok {
			h.tradeCreditCurves[t.ID()] = it.Issuer()
			if nt, ok := t.(notionalTrade); ok {
				h.tradeNotionals[t.ID()] = nt.Notional()
			}
		}
	}
}

// Buckets is the number of P&L buckets, including the two tails.
func (h *CreditMigrationHelper) Buckets() int { return len(h.bounds) + 1 }

func (h *CreditMigrationHelper) rescaledTransitionMatrix(date int, name string) (*mat.Dense, error) {
	if m, ok := h.memo.Get(date, name); ok {
		return m, nil
	}
	m := mat.DenseCopyOf(h.params.TransitionMatrix[name])
	SanitiseTransitionMatrix(m)
	mt, err := RescaleTransitionMatrix(m, h.times[date])
	if err != nil {
		return nil, fmt.Errorf("rescale transition matrix %s to t=%v: %w", name, h.times[date], err)
	}
	h.memo.Put(date, name, mt)
	return mt, nil
}

// conditionalProb is the probability of ending at or below the cumulative
// unconditional probability p given systemic state m with variance v.
func conditionalProb(p, m, v float64) float64 {
	if closeEnough(p, 0) {
		return 0
	}
	if closeEnough(p, 1) {
		return 1
	}
	q := distuv.UnitNormal.Quantile(p)
	if closeEnough(v, 1) {
		if q >= m {
			return 1
		}
		return 0
	}
	return distuv.UnitNormal.CDF((q - m) / math.Sqrt(1-v))
}

func closeEnough(x, y float64) bool {
	if x == y {
		return true
	}
	const tol = 42 * 2.220446049250313e-16
	diff := math.Abs(x - y)
	if x == 0 || y == 0 {
		return diff < tol*tol
	}
	return diff <= tol*math.Abs(x) && diff <= tol*math.Abs(y)
}

func (h *CreditMigrationHelper) conditionalRow(date, path, entity int) ([]float64, error) {
	name := h.params.TransitionMatrices[entity]
	m, err := h.rescaledTransitionMatrix(date, name)
	if err != nil {
		return nil, err
	}
	init := h.params.InitialStates[entity]
	out := make([]float64, h.states)
	p, prev := 0.0, 0.0
	for j := 0; j < h.states; j++ {
		p += m.At(init, j)
		cp := conditionalProb(p, h.globalStates[date][entity][path], h.globalVar[entity])
		out[j] = cp - prev
		prev = cp
	}
	return out, nil
}

// issuerPnl is the P&L of the issuer's trades when it migrates to state.
func (h *CreditMigrationHelper) issuerPnl(date, path, entity, state int) float64 {
	n := h.states
	pnl := 0.0
	for _, id := range h.issuerTrades[entity] {
		tid, err := h.cube.Index(id)
		if err != nil {
			h.logger.Error("no state npv for trade, assume zero credit migration pnl",
				zap.String("tradeId", id), zap.Int("state", state), zap.Error(err))
			continue
		}
		base := h.cube.Get(tid, date, path, 0)
		value := h.cube.Get(tid, date, path, h.stateIndex+state)
		if h.params.LoanExposureMode == ExposureNotional {
			if notional, ok := h.tradeNotionals[id]; ok {
				base = notional
				value = base
				if state == n-1 {
					value = 0
				}
			}
		}
		if h.params.CreditMode == Default && state < n-1 {
			value = base
		}
		pnl += value - base
	}
	return pnl
}

// exposureLoss is the positive exposure lost on the counterparty's default.
func (h *CreditMigrationHelper) exposureLoss(date, path, entity int) float64 {
	loss := 0.0
	for _, ns := range h.cptyNettingSets[entity] {
		nid, err := h.netted.Index(ns)
		if err != nil {
			continue
		}
		loss += math.Max(h.netted.Get(nid, date, path, 0), 0)
	}
	return loss
}

func (h *CreditMigrationHelper) marketPnl(date, path int) (float64, error) {
	c := h.cube
	cash := 0.0
	for j := 0; j <= date+1; j++ {
		for i, id := range c.IDs() {
			sp := 1.0
			if curve, ok := h.tradeCreditCurves[id]; ok && h.params.ZeroMarketPnl && j > 0 && h.asd != nil {
				v, err := h.asd.Get(j-1, path, scenario.AggSurvival, curve)
				if err != nil {
					return 0, fmt.Errorf("survival weight for %s: %w", id, err)
				}
				sp = v
			}
			switch {
			case j == 0:
				// sign flip of the T0 values gives the initial cash balance
				cash -= c.GetT0(i, 0)
				if h.cashflowIndex >= 0 {
					cash += c.GetT0(i, h.cashflowIndex)
				}
			case j <= date:
				if h.cashflowIndex >= 0 {
					cash += sp * c.Get(i, j-1, path, h.cashflowIndex)
				}
			default:
				cash += sp * c.Get(i, j-1, path, 0)
			}
		}
	}
	return cash, nil
}

// PnlDistribution returns the probability of each P&L bucket at cube date index date.
func (h *CreditMigrationHelper) PnlDistribution(ctx context.Context, date int) ([]float64, error) {
	c := h.cube
	if date < 0 || date >= c.NumDates() {
		return nil, fmt.Errorf("date index %d out of range 0..%d", date, c.NumDates()-1)
	}
	hw, err := bucketing.NewHullWhiteBucketing(h.bounds)
	if err != nil {
		return nil, err
	}
	res := make([]float64, hw.Buckets())
	samples := c.Samples()
	ne := len(h.params.Entities)
	rng := rand.New(rand.NewSource(h.params.Seed))
	avgCash := 0.0

	for path := 0; path < samples; path++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cash := 0.0
		if h.params.MarketRisk {
			if cash, err = h.marketPnl(date, path); err != nil {
				return nil, err
			}
		}
		if !h.params.CreditRisk {
			res[hw.Index(cash)] += 1 / float64(samples)
			avgCash += cash / float64(samples)
			continue
		}

		var probs, pnl [][]float64
		if h.params.Evaluation == TerminalSimulation {
			draws, err := h.simulatePnl(date, path, rng)
			if err != nil {
				return nil, err
			}
			w := make([]float64, len(draws))
			for i := range w {
				w[i] = 1 / float64(len(draws))
			}
			probs, pnl = [][]float64{w}, [][]float64{draws}
		} else {
			probs = make([][]float64, ne)
			pnl = make([][]float64, ne)
			for i := 0; i < ne; i++ {
				if probs[i], err = h.conditionalRow(date, path, i); err != nil {
					return nil, err
				}
				pnl[i] = make([]float64, h.states)
				for j := 0; j < h.states; j++ {
					pnl[i][j] = h.issuerPnl(date, path, i, j)
				}
				pnl[i][h.states-1] -= h.exposureLoss(date, path, i)
			}
		}
		if h.params.MarketRisk {
			probs = append(probs, []float64{1})
			pnl = append(pnl, []float64{cash})
		}
		if err := hw.ComputeMultiState(probs, pnl); err != nil {
			return nil, err
		}
		floats.AddScaled(res, 1/float64(samples), hw.Probability())
		avgCash += cash / float64(samples)
	}
	h.logger.Debug("expected market risk pnl", zap.Int("date", date), zap.Float64("pnl", avgCash))
	return res, nil
}

// simulatePnl draws terminal entity states conditional on the path's
// systemic factors and returns the P&L of each draw.
func (h *CreditMigrationHelper) simulatePnl(date, path int, rng *rand.Rand) ([]float64, error) {
	ne := len(h.params.Entities)
	cum := make([][]float64, ne)
	for i := 0; i < ne; i++ {
		row, err := h.conditionalRow(date, path, i)
		if err != nil {
			return nil, err
		}
		for j := 1; j < len(row); j++ {
			row[j] += row[j-1]
		}
		cum[i] = row
	}
	out := make([]float64, h.params.Paths)
	for k := range out {
		pnl := 0.0
		for i := 0; i < ne; i++ {
			u := rng.Float64()
			state := sort.SearchFloat64s(cum[i], u)
			if state > h.states-1 {
				state = h.states - 1
			}
			pnl += h.issuerPnl(date, path, i, state)
			if state == h.states-1 {
				pnl -= h.exposureLoss(date, path, i)
			}
		}
		out[k] = pnl
	}
	return out, nil
}

// DistributionStats summarise one P&L distribution.
type DistributionStats struct {
	Mean      float64
	Stdev     float64
	LeftTail  float64
	RightTail float64
}

type CreditMigrationConfig struct {
	Parameters *CreditSimulationParameters
	Trades     []portfolio.Trade
	Cube       cube.NPVCube
	NettedCube cube.NPVCube
	Data       *scenario.AggregationScenarioData
	// CashflowIndex is -1 when the cube has no cash flow depth.
	CashflowIndex int
	StateIndex    int
	// DistributionGrid is lower bound, upper bound and bucket count.
	DistributionGrid []float64
	// TimeSteps are cube date indices.
	TimeSteps         []int
	FactorCorrelation *mat.SymDense
	Logger            *zap.Logger
}

// CreditMigrationCalculator produces P&L PDF and CDF per requested time step.
type CreditMigrationCalculator struct {
	cfg CreditMigrationConfig

	upperBounds []float64
	pdf         [][]float64
	cdf         [][]float64
	stats       []DistributionStats
}

func NewCreditMigrationCalculator(cfg CreditMigrationConfig) *CreditMigrationCalculator {
	return &CreditMigrationCalculator{cfg: cfg}
}

func (c *CreditMigrationCalculator) Kind() string { return "CreditMigration" }

func (c *CreditMigrationCalculator) Build(ctx context.Context) error {
	cfg := c.cfg
	switch {
	case cfg.Parameters == nil:
		return fmt.Errorf("credit simulation parameters: %w", ErrNilInput)
	case cfg.Trades == nil:
		return fmt.Errorf("portfolio: %w", ErrNilInput)
	case cfg.Cube == nil:
		return fmt.Errorf("cube: %w", ErrNilInput)
	case cfg.NettedCube == nil:
		return fmt.Errorf("netted cube: %w", ErrNilInput)
	case cfg.Data == nil:
		return fmt.Errorf("aggregation scenario data: %w", ErrNilInput)
	}
	if len(cfg.DistributionGrid) != 3 {
		return fmt.Errorf("distribution grid needs lower bound, upper bound and buckets, got %d values", len(cfg.DistributionGrid))
	}
	n := cfg.DistributionGrid[2]
	if n != math.Trunc(n) {
		return fmt.Errorf("bucket count %v is not an integer", n)
	}
	bounds, err := bucketing.UniformBounds(cfg.DistributionGrid[0], cfg.DistributionGrid[1], int(n))
	if err != nil {
		return err
	}
	helper, err := NewCreditMigrationHelper(cfg.Parameters, cfg.Cube, cfg.NettedCube, cfg.Data,
		cfg.CashflowIndex, cfg.StateIndex, bounds, cfg.FactorCorrelation, cfg.Logger)
	if err != nil {
		return err
	}
	helper.Build(cfg.Trades)

	pdf := make([][]float64, len(cfg.TimeSteps))
	g, gctx := errgroup.WithContext(ctx)
	for k, step := range cfg.TimeSteps {
		k, step := k, step
		g.Go(func() error {
			dist, err := helper.PnlDistribution(gctx, step)
			if err != nil {
				return fmt.Errorf("time step %d: %w", step, err)
			}
			pdf[k] = dist
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.upperBounds = bounds
	c.pdf = pdf
	c.cdf = make([][]float64, len(pdf))
	c.stats = make([]DistributionStats, len(pdf))
	x := representativeValues(bounds)
	for k, p := range pdf {
		c.cdf[k] = make([]float64, len(p))
		floats.CumSum(c.cdf[k], p)
		mean := floats.Dot(p, x)
		variance := 0.0
		for i, v := range x {
			variance += p[i] * (v - mean) * (v - mean)
		}
		c.stats[k] = DistributionStats{
			Mean:      mean,
			Stdev:     math.Sqrt(variance),
			LeftTail:  p[0],
			RightTail: p[len(p)-1],
		}
	}
	return nil
}

// representativeValues are bucket midpoints; the two tail buckets use their
// finite bound.
func representativeValues(bounds []float64) []float64 {
	n := len(bounds)
	x := make([]float64, n+1)
	x[0] = bounds[0]
	for k := 1; k < n; k++ {
		x[k] = 0.5 * (bounds[k-1] + bounds[k])
	}
	x[n] = bounds[n-1]
	return x
}

// UpperBucketBounds are the finite bucket bounds, without the +Inf of the last bucket.
func (c *CreditMigrationCalculator) UpperBucketBounds() []float64 { return c.upperBounds }
func (c *CreditMigrationCalculator) PDF() [][]float64             { return c.pdf }
func (c *CreditMigrationCalculator) CDF() [][]float64             { return c.cdf }
func (c *CreditMigrationCalculator) Stats() []DistributionStats   { return c.stats }
