package mc

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/utils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Generator simulates correlated risk factor paths. A date at or before the
// previous call starts a new path; Reset replays from the first path.
type Generator struct {
	asof       time.Time
	dayCounter utils.DayCounter
	models     []Model
	corr       *mat.SymDense
	seed       uint64
	numeraire  int

	dist  *distmv.Normal
	state []float64
	z     []float64
	bank  float64
	last  time.Time
	path  int
}

// NewGenerator builds a generator over models. corr may be nil for independent
// factors. The first Vasicek model, if any, accrues the numeraire.
func NewGenerator(asof time.Time, models []Model, corr *mat.SymDense, seed uint64, dc utils.DayCounter) (*Generator, error) {
	if len(models) == 0 {
		return nil, errors.New("generator needs at least one model")
	}
	n := len(models)
	if corr == nil {
		corr = mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			corr.SetSym(i, i, 1)
		}
	}
	if corr.SymmetricDim() != n {
		return nil, fmt.Errorf("correlation matrix is %dx%d, want %dx%d", corr.SymmetricDim(), corr.SymmetricDim(), n, n)
	}
	seen := map[scenario.RiskFactorKey]bool{}
	g := &Generator{asof: asof, dayCounter: dc, models: models, corr: corr, seed: seed, numeraire: -1}
	for i, m := range models {
		if seen[m.Key()] {
			return nil, fmt.Errorf("duplicate risk factor %s", m.Key())
		}
		seen[m.Key()] = true
		if _, ok := m.(Vasicek); ok && g.numeraire < 0 {
			g.numeraire = i
		}
	}
	g.state = make([]float64, n)
	g.z = make([]float64, n)
	if err := g.init(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Generator) init() error {
	dist, ok := distmv.NewNormal(make([]float64, len(g.models)), g.corr, rand.NewSource(g.seed))
	if !ok {
		return errors.New("correlation matrix is not positive definite")
	}
	g.dist = dist
	g.path = -1
	g.last = time.Time{}
	return nil
}

func (g *Generator) newPath() {
	for i, m := range g.models {
		g.state[i] = m.Initial()
	}
	g.bank = 1
	g.last = g.asof
	g.path++
}

func (g *Generator) Next(d time.Time) (*scenario.Scenario, error) {
	if g.path < 0 || !d.After(g.last) {
		g.newPath()
	}
	if !d.After(g.last) {
		return nil, fmt.Errorf("simulation date %s is not after asof %s", d.Format(utils.Layout), g.asof.Format(utils.Layout))
	}
	dt := g.dayCounter.YearFraction(g.last, d)
	g.z = g.dist.Rand(g.z)
	if g.numeraire >= 0 {
		g.bank *= math.Exp(g.state[g.numeraire] * dt)
	}
	s := scenario.NewScenario(d, fmt.Sprintf("path-%d/%s", g.path, d.Format(utils.Layout)), g.bank)
	for i, m := range g.models {
		g.state[i] = m.Step(g.state[i], dt, g.z[i])
		s.Add(m.Key(), g.state[i])
	}
	g.last = d
	return s, nil
}

// Reset reseeds the normal draws so the same paths are produced again.
func (g *Generator) Reset() {
	// init only fails on a correlation matrix that NewGenerator already accepted
	_ = g.init()
}

func (g *Generator) Models() []Model { return g.models }

// T0Scenario holds the initial factor values at asof with unit numeraire.
func (g *Generator) T0Scenario() *scenario.Scenario {
	s := scenario.NewScenario(g.asof, "t0", 1)
	for _, m := range g.models {
		s.Add(m.Key(), m.Initial())
	}
	return s
}
