package mc

import (
	"errors"
	"math"

	"github.com/banachtech/riskcube/scenario"
	"gonum.org/v1/gonum/optimize"
)

// Model evolves one risk factor over a time step given a standard normal draw.
type Model interface {
	Key() scenario.RiskFactorKey
	Initial() float64
	Step(x, dt, z float64) float64
}

// Calibratable models can be fitted to an observed series by maximum likelihood.
type Calibratable interface {
	Model
	// Get returns parameters mapped to the domain (-Inf, Inf)
	Get() []float64
	// Set creates a model for the given transformed parameters
	Set([]float64) Model
	// LogDensity of moving from x0 to x1 over dt
	LogDensity(x0, x1, dt float64) float64
}

// Fit calibrates m to the observations xs sampled dt years apart.
func Fit(m Calibratable, xs []float64, dt float64) (Model, error) {
	if len(xs) < 3 {
		return nil, errors.New("need at least three observations to calibrate")
	}
	if dt <= 0 {
		return nil, errors.New("observation spacing must be positive")
	}
	problem := optimize.Problem{
		Func: func(par []float64) float64 {
			return nll(m, par, xs, dt)
		},
	}
	res, err := optimize.Minimize(problem, m.Get(), nil, &optimize.NelderMead{})
	if err != nil {
		return nil, err
	}
	return m.Set(res.X), nil
}

// Negative mean log likelihood of the observed transitions.
func nll(m Calibratable, par []float64, xs []float64, dt float64) float64 {
	c := m.Set(par).(Calibratable)
	loss := 0.0
	for i := 1; i < len(xs); i++ {
		ld := c.LogDensity(xs[i-1], xs[i], dt)
		if math.IsNaN(ld) || math.IsInf(ld, 0) {
			return math.MaxFloat64
		}
		loss -= ld
	}
	return loss / float64(len(xs)-1)
}

func logNormalDensity(x, mean, variance float64) float64 {
	d := x - mean
	return -0.5*math.Log(2*math.Pi*variance) - d*d/(2*variance)
}

// GBM is a lognormal spot, used for FX and equity factors.
type GBM struct {
	Factor scenario.RiskFactorKey
	Spot   float64
	Drift  float64
	Sigma  float64
}

func (m GBM) Key() scenario.RiskFactorKey { return m.Factor }
func (m GBM) Initial() float64            { return m.Spot }

func (m GBM) Step(x, dt, z float64) float64 {
	return x * math.Exp((m.Drift-0.5*m.Sigma*m.Sigma)*dt+m.Sigma*math.Sqrt(dt)*z)
}

func (m GBM) Get() []float64 {
	return []float64{m.Drift, math.Log(m.Sigma)}
}

func (m GBM) Set(p []float64) Model {
	m.Drift, m.Sigma = p[0], math.Exp(p[1])
	return m
}

func (m GBM) LogDensity(x0, x1, dt float64) float64 {
	if x0 <= 0 || x1 <= 0 {
		return math.Inf(-1)
	}
	mean := (m.Drift - 0.5*m.Sigma*m.Sigma) * dt
	return logNormalDensity(math.Log(x1/x0), mean, m.Sigma*m.Sigma*dt)
}

// Vasicek is a mean reverting short rate; it also drives the numeraire.
type Vasicek struct {
	Factor scenario.RiskFactorKey
	R0     float64
	Kappa  float64
	Theta  float64
	Sigma  float64
}

func (m Vasicek) Key() scenario.RiskFactorKey { return m.Factor }
func (m Vasicek) Initial() float64            { return m.R0 }

func (m Vasicek) moments(x, dt float64) (float64, float64) {
	if m.Kappa < 1e-8 {
		return x, m.Sigma * m.Sigma * dt
	}
	e := math.Exp(-m.Kappa * dt)
	return x*e + m.Theta*(1-e), m.Sigma * m.Sigma * (1 - e*e) / (2 * m.Kappa)
}

func (m Vasicek) Step(x, dt, z float64) float64 {
	mean, variance := m.moments(x, dt)
	return mean + math.Sqrt(variance)*z
}

func (m Vasicek) Get() []float64 {
	return []float64{math.Log(m.Kappa), m.Theta, math.Log(m.Sigma)}
}

func (m Vasicek) Set(p []float64) Model {
	m.Kappa, m.Theta, m.Sigma = math.Exp(p[0]), p[1], math.Exp(p[2])
	return m
}

func (m Vasicek) LogDensity(x0, x1, dt float64) float64 {
	mean, variance := m.moments(x0, dt)
	return logNormalDensity(x1, mean, variance)
}

// BrownianFactor is a standard Brownian motion W(t), W(0) = 0. Credit
// migration reads the systemic credit factors as W(t)/sqrt(t).
type BrownianFactor struct {
	Factor scenario.RiskFactorKey
}

func (m BrownianFactor) Key() scenario.RiskFactorKey { return m.Factor }
func (m BrownianFactor) Initial() float64            { return 0 }

func (m BrownianFactor) Step(x, dt, z float64) float64 {
	return x + math.Sqrt(dt)*z
}
