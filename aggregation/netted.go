package aggregation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/banachtech/riskcube/cube"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// NettedExposureCalculator sums trade values into netting set values and
// derives expected positive and negative exposure profiles. Values stay
// deflated as stored in the trade cube, so the profiles are discounted.
type NettedExposureCalculator struct {
	tradeCube   cube.NPVCube
	nettingSets map[string]string
	depth       int
	logger      *zap.Logger

	netted *cube.InMemoryCube[float64]
	epe    map[string][]float64
	ene    map[string][]float64
}

// NewNettedExposureCalculator reads depth of c; nettingSets maps trade id to netting set.
func NewNettedExposureCalculator(c cube.NPVCube, nettingSets map[string]string, depth int, logger *zap.Logger) *NettedExposureCalculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NettedExposureCalculator{tradeCube: c, nettingSets: nettingSets, depth: depth, logger: logger.Named("netted")}
}

func (n *NettedExposureCalculator) Kind() string { return "NettedExposure" }

func (n *NettedExposureCalculator) Build(ctx context.Context) error {
	if n.tradeCube == nil || n.nettingSets == nil {
		return fmt.Errorf("netted exposure: %w", ErrNilInput)
	}
	c := n.tradeCube
	if n.depth < 0 || n.depth >= c.Depth() {
		return fmt.Errorf("netted exposure: depth %d outside cube depth %d", n.depth, c.Depth())
	}

	seen := map[string]bool{}
	var ids []string
	for _, id := range c.IDs() {
		ns, ok := n.nettingSets[id]
		if !ok {
			return fmt.Errorf("netted exposure: no netting set for trade %s", id)
		}
		if !seen[ns] {
			seen[ns] = true
			ids = append(ids, ns)
		}
	}
	sort.Strings(ids)

	netted, err := cube.New(c.Asof(), ids, c.Dates(), c.Samples(), 1)
	if err != nil {
		return err
	}
	t0 := make([]float64, len(ids))
	values := make([]float64, len(ids)*c.NumDates()*c.Samples())
	nsIndex := make(map[string]int, len(ids))
	for i, id := range ids {
		nsIndex[id] = i
	}
	for i, id := range c.IDs() {
		k := nsIndex[n.nettingSets[id]]
		t0[k] += c.GetT0(i, n.depth)
		for j := 0; j < c.NumDates(); j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for s := 0; s < c.Samples(); s++ {
				values[(k*c.NumDates()+j)*c.Samples()+s] += c.Get(i, j, s, n.depth)
			}
		}
	}

	n.epe, n.ene = map[string][]float64{}, map[string][]float64{}
	for k, ns := range ids {
		if err := netted.SetT0(t0[k], k, 0); err != nil {
			return err
		}
		epe := make([]float64, c.NumDates()+1)
		ene := make([]float64, c.NumDates()+1)
		epe[0], ene[0] = math.Max(t0[k], 0), math.Max(-t0[k], 0)
		pos, neg := make([]float64, c.Samples()), make([]float64, c.Samples())
		for j := 0; j < c.NumDates(); j++ {
			for s := 0; s < c.Samples(); s++ {
				v := values[(k*c.NumDates()+j)*c.Samples()+s]
				if err := netted.Set(v, k, j, s, 0); err != nil {
					return err
				}
				pos[s], neg[s] = math.Max(v, 0), math.Max(-v, 0)
			}
			epe[j+1], ene[j+1] = stat.Mean(pos, nil), stat.Mean(neg, nil)
		}
		n.epe[ns], n.ene[ns] = epe, ene
	}
	n.netted = netted
	n.logger.Info("netted exposure built", zap.Int("nettingSets", len(ids)))
	return nil
}

// NettedCube holds one row per netting set, depth 1.
func (n *NettedExposureCalculator) NettedCube() cube.NPVCube {
	if n.netted == nil {
		return nil
	}
	return n.netted
}

// EPE is the expected positive exposure at T0 followed by every cube date.
func (n *NettedExposureCalculator) EPE(nettingSet string) ([]float64, error) {
	return lookupProfile(n.epe, nettingSet)
}

func (n *NettedExposureCalculator) ENE(nettingSet string) ([]float64, error) {
	return lookupProfile(n.ene, nettingSet)
}

func lookupProfile(m map[string][]float64, ns string) ([]float64, error) {
	if m == nil {
		return nil, ErrNotBuilt
	}
	p, ok := m[ns]
	if !ok {
		return nil, fmt.Errorf("netting set %s: %w", ns, cube.ErrNotFound)
	}
	return p, nil
}
