package aggregation

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/simm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// DIM cube depth slots.
const (
	DimTotal = iota
	DimDelta
	DimVega
	DimCurvature
	DimIRDelta
	DimFXDelta
)

// DynamicInitialMarginCalculator holds the inputs and results shared by the
// dynamic initial margin methods: a DIM cube with one row per netting set and
// the expected DIM profile per netting set.
type DynamicInitialMarginCalculator struct {
	nettingSets []string
	dates       int
	samples     int
	depth       int
	asd         *scenario.AggregationScenarioData
	// currentIM rescales the profile so that T0 DIM matches the known margin.
	currentIM map[string]float64
	logger    *zap.Logger

	mu          sync.Mutex
	dimCube     *cube.InMemoryCube[float64]
	expectedDIM map[string][]float64
}

// DimCube holds one row per netting set; nil before Build.
func (d *DynamicInitialMarginCalculator) DimCube() cube.NPVCube {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dimCube == nil {
		return nil
	}
	return d.dimCube
}

// ExpectedDIM is the mean DIM over samples at each cube date.
func (d *DynamicInitialMarginCalculator) ExpectedDIM(nettingSet string) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookupProfile(d.expectedDIM, nettingSet)
}

type DynamicSimmConfig struct {
	// Cube provides asof, dates and samples of the run.
	Cube        cube.NPVCube
	NettingSets []string
	Simm        simm.Calculator
	Data        *scenario.AggregationScenarioData
	// Depth of the DIM cube: 1 for totals only, 4 adds delta, vega and
	// curvature, 6 adds IR and FX delta.
	Depth     int
	CurrentIM map[string]float64
	Logger    *zap.Logger
}

// DynamicSimmCalculator fills the DIM cube from a SIMM collaborator, deflating
// every margin by the path numeraire.
type DynamicSimmCalculator struct {
	DynamicInitialMarginCalculator
	source cube.NPVCube
	simm   simm.Calculator
}

func NewDynamicSimmCalculator(cfg DynamicSimmConfig) (*DynamicSimmCalculator, error) {
	if cfg.Cube == nil || cfg.Simm == nil || cfg.Data == nil {
		return nil, fmt.Errorf("dynamic simm: %w", ErrNilInput)
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 1
	}
	if cfg.Data.NumDates() < cfg.Cube.NumDates() || cfg.Data.Samples() < cfg.Cube.Samples() {
		return nil, fmt.Errorf("aggregation data is %dx%d, cube needs %dx%d",
			cfg.Data.NumDates(), cfg.Data.Samples(), cfg.Cube.NumDates(), cfg.Cube.Samples())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamicSimmCalculator{
		DynamicInitialMarginCalculator: DynamicInitialMarginCalculator{
			nettingSets: append([]string(nil), cfg.NettingSets...),
			dates:       cfg.Cube.NumDates(),
			samples:     cfg.Cube.Samples(),
			depth:       cfg.Depth,
			asd:         cfg.Data,
			currentIM:   cfg.CurrentIM,
			logger:      logger.Named("dim"),
		},
		source: cfg.Cube,
		simm:   cfg.Simm,
	}, nil
}

func (d *DynamicSimmCalculator) Kind() string { return "DynamicSimm" }

func writeMargin(c *cube.InMemoryCube[float64], m simm.Margin, ns, date, sample, depth int, t0 bool) error {
	slots := []float64{m.Total}
	if depth > 3 {
		slots = append(slots, m.Delta, m.Vega, m.Curvature)
	}
	if depth > 5 {
		slots = append(slots, m.IRDelta, m.FXDelta)
	}
	for k, v := range slots {
		var err error
		if t0 {
			err = c.SetT0(v, ns, k)
		} else {
			err = c.Set(v, ns, date, sample, k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Build runs netting sets in parallel; each goroutine writes only its own
// netting set row of the DIM cube.
func (d *DynamicSimmCalculator) Build(ctx context.Context) error {
	dimCube, err := cube.New(d.source.Asof(), d.nettingSets, d.source.Dates(), d.samples, d.depth)
	if err != nil {
		return err
	}
	expected := make(map[string][]float64, len(d.nettingSets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for n, ns := range d.nettingSets {
		n, ns := n, ns
		g.Go(func() error {
			t0, err := d.simm.InitialMarginT0(ns)
			if err != nil {
				return fmt.Errorf("netting set %s T0 margin: %w", ns, err)
			}
			scale := 1.0
			if im, ok := d.currentIM[ns]; ok && t0.Total != 0 {
				scale = im / t0.Total
				d.logger.Debug("scale dim to current im", zap.String("nettingSet", ns), zap.Float64("scale", scale))
			}
			if err := writeMargin(dimCube, t0.Scale(scale), n, 0, 0, d.depth, true); err != nil {
				return err
			}
			profile := make([]float64, d.dates)
			totals := make([]float64, d.samples)
			for j := 0; j < d.dates; j++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				for s := 0; s < d.samples; s++ {
					m, err := d.simm.InitialMargin(ns, j, s)
					if err != nil {
						return fmt.Errorf("netting set %s date %d sample %d: %w", ns, j, s, err)
					}
					num, err := d.asd.Get(j, s, scenario.AggNumeraire, "")
					if err != nil {
						return err
					}
					if !(num > 0) || math.IsInf(num, 0) {
						return fmt.Errorf("netting set %s date %d sample %d: invalid numeraire %v", ns, j, s, num)
					}
					m = m.Scale(scale / num)
					if err := writeMargin(dimCube, m, n, j, s, d.depth, false); err != nil {
						return err
					}
					totals[s] = m.Total
				}
				profile[j] = stat.Mean(totals, nil)
			}
			mu.Lock()
			expected[ns] = profile
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	d.mu.Lock()
	d.dimCube, d.expectedDIM = dimCube, expected
	d.mu.Unlock()
	d.logger.Info("dim cube built", zap.Int("nettingSets", len(d.nettingSets)), zap.Int("depth", d.depth))
	return nil
}
