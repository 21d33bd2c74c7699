// Package config loads the run configuration from a YAML file, a .env file
// and RISKCUBE_ environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/banachtech/riskcube/payoff"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "RISKCUBE"

type Config struct {
	// Asof is the valuation date, yyyy-mm-dd.
	Asof      string        `mapstructure:"asof"`
	Engine    EngineConfig  `mapstructure:"engine"`
	Market    MarketConfig  `mapstructure:"market"`
	Portfolio []payoff.Spec `mapstructure:"portfolio"`
	Credit    CreditConfig  `mapstructure:"credit"`
	CVA       CVAConfig     `mapstructure:"cva"`
	DIM       DIMConfig     `mapstructure:"dim"`
	VaR       VaRConfig     `mapstructure:"var"`
	API       APIConfig     `mapstructure:"api"`
	DB        DBConfig      `mapstructure:"db"`
	Logging   LoggingConfig `mapstructure:"logging"`
}

type EngineConfig struct {
	Threads    int    `mapstructure:"threads"`
	Samples    int    `mapstructure:"samples"`
	Seed       uint64 `mapstructure:"seed"`
	Grid       string `mapstructure:"grid"`
	Calendar   string `mapstructure:"calendar"`
	DayCounter string `mapstructure:"day_counter"`
	// MPoR adds close-out dates this far after each valuation date when set.
	MPoR                      string  `mapstructure:"mpor"`
	StickyMPoR                bool    `mapstructure:"sticky_mpor"`
	DryRun                    bool    `mapstructure:"dry_run"`
	CacheSimData              bool    `mapstructure:"cache_sim_data"`
	UseSpreadedTermStructures bool    `mapstructure:"use_spreaded_term_structures"`
	SinglePrecision           bool    `mapstructure:"single_precision"`
	ShowProgress              bool    `mapstructure:"show_progress"`
	BaseCurrency              string  `mapstructure:"base_currency"`
	FallbackRate              float64 `mapstructure:"fallback_rate"`
}

// ModelConfig describes one simulated risk factor.
type ModelConfig struct {
	// Type is gbm, vasicek or brownian.
	Type string `mapstructure:"type"`
	// Factor is a risk factor key such as FXSpot/EURUSD.
	Factor string  `mapstructure:"factor"`
	Spot   float64 `mapstructure:"spot"`
	Drift  float64 `mapstructure:"drift"`
	Sigma  float64 `mapstructure:"sigma"`
	Kappa  float64 `mapstructure:"kappa"`
	Theta  float64 `mapstructure:"theta"`
	// Calibrate fits the model to the history file before the run.
	Calibrate bool `mapstructure:"calibrate"`
}

type MarketConfig struct {
	Models      []ModelConfig `mapstructure:"models"`
	Correlation [][]float64   `mapstructure:"correlation"`
	// HistoryFile is a scenario csv used for calibration.
	HistoryFile      string             `mapstructure:"history_file"`
	CalibrationStart string             `mapstructure:"calibration_start"`
	CalibrationEnd   string             `mapstructure:"calibration_end"`
	Recovery         map[string]float64 `mapstructure:"recovery"`
}

type EntityConfig struct {
	Name         string    `mapstructure:"name"`
	Matrix       string    `mapstructure:"matrix"`
	InitialState int       `mapstructure:"initial_state"`
	Loadings     []float64 `mapstructure:"loadings"`
}

type CreditConfig struct {
	Enabled            bool                   `mapstructure:"enabled"`
	Entities           []EntityConfig         `mapstructure:"entities"`
	TransitionMatrices map[string][][]float64 `mapstructure:"transition_matrices"`
	FactorCorrelation  [][]float64            `mapstructure:"factor_correlation"`
	NettingSets        []string               `mapstructure:"netting_sets"`
	MarketRisk         bool                   `mapstructure:"market_risk"`
	CreditRisk         bool                   `mapstructure:"credit_risk"`
	ZeroMarketPnl      bool                   `mapstructure:"zero_market_pnl"`
	Evaluation         string                 `mapstructure:"evaluation"`
	Mode               string                 `mapstructure:"mode"`
	LoanExposureMode   string                 `mapstructure:"loan_exposure_mode"`
	Paths              int                    `mapstructure:"paths"`
	DistributionGrid   []float64              `mapstructure:"distribution_grid"`
	TimeSteps          []int                  `mapstructure:"time_steps"`
}

type CVAConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	NettingSet  string  `mapstructure:"netting_set"`
	Hazard      float64 `mapstructure:"hazard"`
	Rate        float64 `mapstructure:"rate"`
	Recovery    float64 `mapstructure:"recovery"`
	ShiftTenors string  `mapstructure:"shift_tenors"`
	ShiftSize   float64 `mapstructure:"shift_size"`
}

type DIMConfig struct {
	Enabled   bool               `mapstructure:"enabled"`
	Depth     int                `mapstructure:"depth"`
	CurrentIM map[string]float64 `mapstructure:"current_im"`
}

type VaRConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Method     string  `mapstructure:"method"`
	Confidence float64 `mapstructure:"confidence"`
}

type APIConfig struct {
	Address string `mapstructure:"address"`
	// RateLimit is requests per second per client, Burst the bucket size.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type DBConfig struct {
	// Driver is postgres or memory.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.threads", 4)
	v.SetDefault("engine.samples", 1000)
	v.SetDefault("engine.seed", 42)
	v.SetDefault("engine.grid", "3M,6M,1Y,2Y,3Y,5Y")
	v.SetDefault("engine.calendar", "WeekendsOnly")
	v.SetDefault("engine.day_counter", "ACT/365F")
	v.SetDefault("engine.base_currency", "USD")
	v.SetDefault("engine.fallback_rate", 0.0)
	v.SetDefault("cva.shift_tenors", "1Y,3Y,5Y")
	v.SetDefault("cva.shift_size", 1e-4)
	v.SetDefault("cva.recovery", 0.4)
	v.SetDefault("dim.depth", 1)
	v.SetDefault("var.method", "historical")
	v.SetDefault("var.confidence", 0.99)
	v.SetDefault("credit.evaluation", "Analytic")
	v.SetDefault("credit.mode", "Migration")
	v.SetDefault("credit.loan_exposure_mode", "Value")
	v.SetDefault("api.address", "0.0.0.0:8080")
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("api.burst", 10)
	v.SetDefault("db.driver", "memory")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads riskcube.yaml from the working directory or ./config when present.
func Load() (*Config, error) {
	return load(func(v *viper.Viper) error {
		v.SetConfigName("riskcube")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	})
}

// LoadFromFile reads the configuration at path; a missing file is an error.
func LoadFromFile(path string) (*Config, error) {
	return load(func(v *viper.Viper) error {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	})
}

func load(read func(*viper.Viper) error) (*Config, error) {
	// a missing .env is fine, anything else is not
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := newViper()
	if err := read(v); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Engine.Threads <= 0 {
		errs = append(errs, fmt.Errorf("engine.threads must be positive, got %d", c.Engine.Threads))
	}
	if c.Engine.Samples <= 0 {
		errs = append(errs, fmt.Errorf("engine.samples must be positive, got %d", c.Engine.Samples))
	}
	if c.Engine.Grid == "" {
		errs = append(errs, errors.New("engine.grid is empty"))
	}
	n := len(c.Market.Models)
	if len(c.Market.Correlation) > 0 && len(c.Market.Correlation) != n {
		errs = append(errs, fmt.Errorf("market.correlation has %d rows for %d models", len(c.Market.Correlation), n))
	}
	for i, m := range c.Market.Models {
		switch strings.ToLower(m.Type) {
		case "gbm", "vasicek", "brownian":
		default:
			errs = append(errs, fmt.Errorf("market.models[%d]: unknown model type %q", i, m.Type))
		}
		if m.Calibrate && c.Market.HistoryFile == "" {
			errs = append(errs, fmt.Errorf("market.models[%d]: calibration needs market.history_file", i))
		}
	}
	if c.Credit.Enabled {
		for _, e := range c.Credit.Entities {
			if _, ok := c.Credit.TransitionMatrices[e.Matrix]; !ok {
				errs = append(errs, fmt.Errorf("credit entity %s: no transition matrix %q", e.Name, e.Matrix))
			}
		}
		switch c.Credit.Evaluation {
		case "Analytic", "TerminalSimulation":
		default:
			errs = append(errs, fmt.Errorf("unknown credit.evaluation %q", c.Credit.Evaluation))
		}
		switch c.Credit.Mode {
		case "Migration", "Default":
		default:
			errs = append(errs, fmt.Errorf("unsupported credit.mode %q", c.Credit.Mode))
		}
		switch c.Credit.LoanExposureMode {
		case "Value", "Notional":
		default:
			errs = append(errs, fmt.Errorf("unknown credit.loan_exposure_mode %q", c.Credit.LoanExposureMode))
		}
		if len(c.Credit.DistributionGrid) != 3 {
			errs = append(errs, errors.New("credit.distribution_grid needs lower bound, upper bound and bucket count"))
		}
	}
	if c.VaR.Enabled && (c.VaR.Confidence <= 0 || c.VaR.Confidence >= 1) {
		errs = append(errs, fmt.Errorf("var.confidence %v outside (0, 1)", c.VaR.Confidence))
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db.driver %q", c.DB.Driver))
	}
	return errors.Join(errs...)
}
