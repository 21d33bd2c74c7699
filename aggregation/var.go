package aggregation

import (
	"context"
	"fmt"
	"sort"

	"github.com/banachtech/riskcube/cube"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

type VarMethod int

const (
	HistoricalVar VarMethod = iota
	ParametricVar
)

func ParseVarMethod(s string) (VarMethod, error) {
	switch s {
	case "", "historical":
		return HistoricalVar, nil
	case "parametric":
		return ParametricVar, nil
	}
	return 0, fmt.Errorf("unknown var method %q", s)
}

// VarReport holds value at risk and expected shortfall, both reported as
// positive losses.
type VarReport struct {
	VaR float64
	ES  float64
}

// VarCalculator measures the distribution of netting set P&L, V(date) - V(T0),
// over samples at every cube date.
type VarCalculator struct {
	cube       cube.NPVCube
	method     VarMethod
	confidence float64
	logger     *zap.Logger

	reports map[string][]VarReport
}

// NewVarCalculator reads depth 0 of a netted cube.
func NewVarCalculator(c cube.NPVCube, method VarMethod, confidence float64, logger *zap.Logger) (*VarCalculator, error) {
	if c == nil {
		return nil, fmt.Errorf("var cube: %w", ErrNilInput)
	}
	if confidence <= 0 || confidence >= 1 {
		return nil, fmt.Errorf("var confidence %v outside (0, 1)", confidence)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VarCalculator{cube: c, method: method, confidence: confidence, logger: logger.Named("var")}, nil
}

func (v *VarCalculator) Kind() string { return "VaR" }

func (v *VarCalculator) Build(ctx context.Context) error {
	c := v.cube
	reports := make(map[string][]VarReport, c.NumIDs())
	pnl := make([]float64, c.Samples())
	for i, id := range c.IDs() {
		t0 := c.GetT0(i, 0)
		rs := make([]VarReport, c.NumDates())
		for j := 0; j < c.NumDates(); j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for s := range pnl {
				pnl[s] = c.Get(i, j, s, 0) - t0
			}
			rs[j] = v.measure(pnl)
		}
		reports[id] = rs
	}
	v.reports = reports
	v.logger.Info("var built", zap.Int("nettingSets", c.NumIDs()), zap.Float64("confidence", v.confidence))
	return nil
}

func (v *VarCalculator) measure(pnl []float64) VarReport {
	alpha := 1 - v.confidence
	if v.method == ParametricVar {
		mean, sd := stat.MeanStdDev(pnl, nil)
		if len(pnl) < 2 {
			sd = 0
		}
		z := distuv.UnitNormal.Quantile(alpha)
		return VarReport{
			VaR: -(mean + sd*z),
			ES:  -(mean - sd*distuv.UnitNormal.Prob(z)/alpha),
		}
	}
	sorted := append([]float64(nil), pnl...)
	sort.Float64s(sorted)
	q := stat.Quantile(alpha, stat.Empirical, sorted, nil)
	var tail float64
	var n int
	for _, x := range sorted {
		if x > q {
			break
		}
		tail += x
		n++
	}
	return VarReport{VaR: -q, ES: -tail / float64(n)}
}

// Report is the VaR profile of a netting set, one entry per cube date.
func (v *VarCalculator) Report(nettingSet string) ([]VarReport, error) {
	if v.reports == nil {
		return nil, ErrNotBuilt
	}
	r, ok := v.reports[nettingSet]
	if !ok {
		return nil, fmt.Errorf("netting set %s: %w", nettingSet, cube.ErrNotFound)
	}
	return r, nil
}
