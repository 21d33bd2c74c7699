package mainfuncs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/banachtech/riskcube/config"
	"github.com/banachtech/riskcube/data"
	"github.com/banachtech/riskcube/mc"
	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

func newModel(m config.ModelConfig) (mc.Model, error) {
	key, err := data.ParseKey(m.Factor)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(m.Type) {
	case "gbm":
		if m.Spot <= 0 {
			return nil, fmt.Errorf("%s: gbm spot must be positive", key)
		}
		return mc.GBM{Factor: key, Spot: m.Spot, Drift: m.Drift, Sigma: m.Sigma}, nil
	case "vasicek":
		return mc.Vasicek{Factor: key, R0: m.Spot, Kappa: m.Kappa, Theta: m.Theta, Sigma: m.Sigma}, nil
	case "brownian":
		return mc.BrownianFactor{Factor: key}, nil
	}
	return nil, fmt.Errorf("%s: unknown model type %q", key, m.Type)
}

// calibrate fits the flagged models to the history file between the
// configured dates.
func calibrate(cfg config.MarketConfig, models []mc.Model, cal utils.Calendar, dc utils.DayCounter, log *zap.Logger) error {
	f, err := os.Open(cfg.HistoryFile)
	if err != nil {
		return err
	}
	defer f.Close()
	reader, err := data.NewScenarioReader(f)
	if err != nil {
		return err
	}
	start, end := time.Time{}, time.Now()
	if cfg.CalibrationStart != "" {
		if start, err = time.Parse(utils.Layout, cfg.CalibrationStart); err != nil {
			return fmt.Errorf("calibration start: %w", err)
		}
	}
	if cfg.CalibrationEnd != "" {
		if end, err = time.Parse(utils.Layout, cfg.CalibrationEnd); err != nil {
			return fmt.Errorf("calibration end: %w", err)
		}
	}
	history, err := scenario.LoadHistorical(reader, start, end, cal, log)
	if err != nil {
		return err
	}
	dates := history.Dates()
	if len(dates) < 3 {
		return fmt.Errorf("only %d historical scenarios between %s and %s", len(dates), start.Format(utils.Layout), end.Format(utils.Layout))
	}
	dt := dc.YearFraction(dates[0], dates[len(dates)-1]) / float64(len(dates)-1)

	for i, mcfg := range cfg.Models {
		if !mcfg.Calibrate {
			continue
		}
		cm, ok := models[i].(mc.Calibratable)
		if !ok {
			return fmt.Errorf("%s: %s models cannot be calibrated", models[i].Key(), mcfg.Type)
		}
		series := data.Series(history.Scenarios(), cm.Key())
		fitted, err := mc.Fit(cm, series, dt)
		if err != nil {
			return fmt.Errorf("calibrate %s: %w", cm.Key(), err)
		}
		if len(series) > 0 {
			fitted = withInitial(fitted, series[len(series)-1])
		}
		models[i] = fitted
		log.Info("calibrated model", zap.String("factor", cm.Key().String()), zap.Int("observations", len(series)))
	}
	return nil
}

// withInitial starts a fitted model from the last observation.
func withInitial(m mc.Model, x float64) mc.Model {
	switch v := m.(type) {
	case mc.GBM:
		v.Spot = x
		return v
	case mc.Vasicek:
		v.R0 = x
		return v
	}
	return m
}

// NewGenerator builds the Monte Carlo scenario generator of the run.
func NewGenerator(cfg *config.Config, asof time.Time, cal utils.Calendar, dc utils.DayCounter, log *zap.Logger) (*mc.Generator, error) {
	models := make([]mc.Model, len(cfg.Market.Models))
	calibrated := false
	for i, m := range cfg.Market.Models {
		model, err := newModel(m)
		if err != nil {
			return nil, fmt.Errorf("market.models[%d]: %w", i, err)
		}
		models[i] = model
		calibrated = calibrated || m.Calibrate
	}
	if calibrated {
		if err := calibrate(cfg.Market, models, cal, dc, log); err != nil {
			return nil, err
		}
	}
	var corr *mat.SymDense
	if len(cfg.Market.Correlation) > 0 {
		var err error
		if corr, err = data.CorrFromRows(cfg.Market.Correlation); err != nil {
			return nil, fmt.Errorf("market.correlation: %w", err)
		}
	}
	return mc.NewGenerator(asof, models, corr, cfg.Engine.Seed, dc)
}
