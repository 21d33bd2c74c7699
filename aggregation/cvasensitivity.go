package aggregation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banachtech/riskcube/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Curve is the credit and discount curve of a counterparty.
type Curve interface {
	SurvivalProbability(t time.Time) float64
	Discount(t time.Time) float64
}

// FlatHazardCurve has a constant hazard rate and a flat continuously
// compounded discount rate.
type FlatHazardCurve struct {
	Asof       time.Time
	Hazard     float64
	Rate       float64
	DayCounter utils.DayCounter
}

func (c FlatHazardCurve) time(t time.Time) float64 {
	if !t.After(c.Asof) {
		return 0
	}
	return c.DayCounter.YearFraction(c.Asof, t)
}

func (c FlatHazardCurve) SurvivalProbability(t time.Time) float64 {
	return math.Exp(-c.Hazard * c.time(t))
}

func (c FlatHazardCurve) Discount(t time.Time) float64 {
	return math.Exp(-c.Rate * c.time(t))
}

// bucketShiftedCurve bumps the hazard rate by shift within one bucket of the
// shift grid. The last bucket runs to infinity.
type bucketShiftedCurve struct {
	base   Curve
	asof   time.Time
	dc     utils.DayCounter
	times  []float64
	bucket int
	shift  float64
}

func (c bucketShiftedCurve) overlap(t float64) float64 {
	lo := 0.0
	if c.bucket > 0 {
		lo = c.times[c.bucket-1]
	}
	hi := math.Inf(1)
	if c.bucket < len(c.times)-1 {
		hi = c.times[c.bucket]
	}
	return math.Max(math.Min(t, hi)-lo, 0)
}

func (c bucketShiftedCurve) SurvivalProbability(t time.Time) float64 {
	s := c.base.SurvivalProbability(t)
	if !t.After(c.asof) {
		return s
	}
	return s * math.Exp(-c.shift*c.overlap(c.dc.YearFraction(c.asof, t)))
}

func (c bucketShiftedCurve) Discount(t time.Time) float64 { return c.base.Discount(t) }

var ErrSpreadTenor = errors.New("cds tenor is not a multiple of six months")

type CVASensitivityConfig struct {
	Asof time.Time
	// Dates and EE form the discounted expected exposure profile; EE[0] is
	// T0 and EE[i] belongs to Dates[i-1].
	Dates       []time.Time
	EE          []float64
	Curve       Curve
	Recovery    float64
	ShiftTenors []utils.Period
	ShiftSize   float64
	DayCounter  utils.DayCounter
	Logger      *zap.Logger
}

// CVASpreadSensitivityCalculator bumps the hazard rate bucket by bucket and
// turns the resulting CVA hazard sensitivities into CDS spread sensitivities
// through the hazard-to-spread Jacobian.
type CVASpreadSensitivityCalculator struct {
	cfg    CVASensitivityConfig
	times  []float64
	logger *zap.Logger

	cva        float64
	hazardSens []float64
	spreadSens []float64
	jacobian   *mat.Dense
	built      bool
}

func NewCVASpreadSensitivityCalculator(cfg CVASensitivityConfig) (*CVASpreadSensitivityCalculator, error) {
	if cfg.Curve == nil {
		return nil, fmt.Errorf("cva sensitivity curve: %w", ErrNilInput)
	}
	if len(cfg.EE) != len(cfg.Dates)+1 {
		return nil, fmt.Errorf("exposure profile has %d values for %d dates", len(cfg.EE), len(cfg.Dates))
	}
	if len(cfg.ShiftTenors) == 0 {
		return nil, errors.New("no shift tenors")
	}
	if cfg.ShiftSize == 0 {
		return nil, errors.New("shift size is zero")
	}
	if cfg.DayCounter == "" {
		cfg.DayCounter = utils.Actual365Fixed
	}
	times := make([]float64, len(cfg.ShiftTenors))
	for i, p := range cfg.ShiftTenors {
		times[i] = cfg.DayCounter.YearFraction(cfg.Asof, utils.AddPeriod(cfg.Asof, p))
		if times[i] <= 0 || (i > 0 && times[i] <= times[i-1]) {
			return nil, fmt.Errorf("shift tenors must be positive and increasing at %s", p)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CVASpreadSensitivityCalculator{cfg: cfg, times: times, logger: logger.Named("cva")}, nil
}

func (c *CVASpreadSensitivityCalculator) Kind() string { return "CVASpreadSensitivity" }

// CVAWith is (1-R) times the sum of EE weighted by default probability per period.
func (c *CVASpreadSensitivityCalculator) CVAWith(curve Curve) float64 {
	prev := c.cfg.Asof
	var sum float64
	for i, d := range c.cfg.Dates {
		sum += c.cfg.EE[i+1] * (curve.SurvivalProbability(prev) - curve.SurvivalProbability(d))
		prev = d
	}
	return (1 - c.cfg.Recovery) * sum
}

func (c *CVASpreadSensitivityCalculator) shifted(bucket int) Curve {
	return bucketShiftedCurve{
		base:   c.cfg.Curve,
		asof:   c.cfg.Asof,
		dc:     c.cfg.DayCounter,
		times:  c.times,
		bucket: bucket,
		shift:  c.cfg.ShiftSize,
	}
}

// FairCDSSpread prices a CDS with semiannual premium periods and no accrual
// rebate. The tenor must be a multiple of six months.
func FairCDSSpread(curve Curve, asof time.Time, tenor utils.Period, recovery float64, dc utils.DayCounter) (float64, error) {
	t := tenor.Years()
	n := int(math.Round(2 * t))
	if n < 1 || math.Abs(t-0.5*float64(n)) > 0.05 {
		return 0, fmt.Errorf("%s: %w", tenor, ErrSpreadTenor)
	}
	var protection, premium float64
	prev := asof
	for k := 1; k <= n; k++ {
		d := utils.AddMonth(asof, 6*k)
		df := curve.Discount(d)
		protection += df * (curve.SurvivalProbability(prev) - curve.SurvivalProbability(d))
		premium += dc.YearFraction(prev, d) * df * curve.SurvivalProbability(d)
		prev = d
	}
	if premium == 0 {
		return 0, errors.New("cds premium leg is zero")
	}
	return (1 - recovery) * protection / premium, nil
}

func (c *CVASpreadSensitivityCalculator) Build(ctx context.Context) error {
	k := len(c.times)
	c.cva = c.CVAWith(c.cfg.Curve)

	input := make([]float64, k)
	for j := 0; j < k; j++ {
		input[j] = (c.CVAWith(c.shifted(j)) - c.cva) / c.cfg.ShiftSize
	}

	base := make([]float64, k)
	for i, p := range c.cfg.ShiftTenors {
		s, err := FairCDSSpread(c.cfg.Curve, c.cfg.Asof, p, c.cfg.Recovery, c.cfg.DayCounter)
		if err != nil {
			return err
		}
		base[i] = s
	}

	jac := mat.NewDense(k, k, nil)
	for j := 0; j < k; j++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		curve := c.shifted(j)
		for i := j; i < k; i++ {
			s, err := FairCDSSpread(curve, c.cfg.Asof, c.cfg.ShiftTenors[i], c.cfg.Recovery, c.cfg.DayCounter)
			if err != nil {
				return err
			}
			jac.Set(j, i, (s-base[i])/c.cfg.ShiftSize)
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(jac); err != nil {
		return fmt.Errorf("hazard to spread jacobian: %w: %v", ErrSingular, err)
	}
	var out mat.VecDense
	out.MulVec(&inv, mat.NewVecDense(k, input))

	c.hazardSens = input
	c.spreadSens = make([]float64, k)
	for i := range c.spreadSens {
		c.spreadSens[i] = out.AtVec(i)
	}
	c.jacobian = jac
	c.built = true
	c.logger.Info("cva sensitivities built", zap.Float64("cva", c.cva), zap.Int("buckets", k))
	return nil
}

func (c *CVASpreadSensitivityCalculator) CVA() (float64, error) {
	if !c.built {
		return 0, ErrNotBuilt
	}
	return c.cva, nil
}

// HazardRateSensitivities are dCVA/dh per shift bucket.
func (c *CVASpreadSensitivityCalculator) HazardRateSensitivities() ([]float64, error) {
	if !c.built {
		return nil, ErrNotBuilt
	}
	return c.hazardSens, nil
}

// CDSSpreadSensitivities are dCVA/ds per shift tenor.
func (c *CVASpreadSensitivityCalculator) CDSSpreadSensitivities() ([]float64, error) {
	if !c.built {
		return nil, ErrNotBuilt
	}
	return c.spreadSens, nil
}

// Jacobian holds dspread_i/dh_j at (j, i); entries below the diagonal are zero.
func (c *CVASpreadSensitivityCalculator) Jacobian() (*mat.Dense, error) {
	if !c.built {
		return nil, ErrNotBuilt
	}
	return mat.DenseCopyOf(c.jacobian), nil
}

func (c *CVASpreadSensitivityCalculator) ShiftTimes() []float64 { return c.times }
