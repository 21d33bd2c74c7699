package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
asof: "2025-01-02"
engine:
  threads: 2
  samples: 50
  grid: 1M,2M,3M
  mpor: 2W
  sticky_mpor: true
market:
  models:
    - type: gbm
      factor: FXSpot/EURUSD
      spot: 1.1
      sigma: 0.1
    - type: vasicek
      factor: ShortRate/USD
      spot: 0.03
      kappa: 0.1
      theta: 0.03
      sigma: 0.01
  correlation:
    - [1, 0.2]
    - [0.2, 1]
portfolio:
  - id: FXF1
    type: FxForward
    netting_set: N1
    counterparty: CP1
    underlying: EURUSD
    notional: 1000000
    strike: 1.1
    maturity: "2026-01-02"
var:
  enabled: true
  confidence: 0.95
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "riskcube.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, sample))
	require.NoError(t, err)
	require.Equal(t, "2025-01-02", cfg.Asof)
	require.Equal(t, 2, cfg.Engine.Threads)
	require.Equal(t, 50, cfg.Engine.Samples)
	require.Equal(t, "2W", cfg.Engine.MPoR)
	require.True(t, cfg.Engine.StickyMPoR)
	require.Len(t, cfg.Market.Models, 2)
	require.Equal(t, 0.2, cfg.Market.Correlation[0][1])
	require.Len(t, cfg.Portfolio, 1)
	require.Equal(t, "EURUSD", cfg.Portfolio[0].Underlying)
	require.Equal(t, 0.95, cfg.VaR.Confidence)

	// defaults
	require.Equal(t, "ACT/365F", cfg.Engine.DayCounter)
	require.Equal(t, "memory", cfg.DB.Driver)
	require.Equal(t, "1Y,3Y,5Y", cfg.CVA.ShiftTenors)
	require.Equal(t, 10, cfg.API.Burst)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RISKCUBE_ENGINE_THREADS", "8")
	t.Setenv("RISKCUBE_LOGGING_LEVEL", "debug")
	cfg, err := LoadFromFile(writeConfig(t, sample))
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Engine.Threads)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Engine.Threads)
	require.Equal(t, 1000, cfg.Engine.Samples)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threads", func(c *Config) { c.Engine.Threads = 0 }},
		{"samples", func(c *Config) { c.Engine.Samples = -1 }},
		{"grid", func(c *Config) { c.Engine.Grid = "" }},
		{"model type", func(c *Config) { c.Market.Models[0].Type = "heston" }},
		{"correlation rows", func(c *Config) { c.Market.Correlation = [][]float64{{1}} }},
		{"calibration without history", func(c *Config) { c.Market.Models[0].Calibrate = true }},
		{"var confidence", func(c *Config) { c.VaR.Confidence = 1.5 }},
		{"postgres dsn", func(c *Config) { c.DB.Driver = "postgres" }},
		{"db driver", func(c *Config) { c.DB.Driver = "mysql" }},
		{"credit matrix", func(c *Config) {
			c.Credit.Enabled = true
			c.Credit.DistributionGrid = []float64{-1, 1, 10}
			c.Credit.Entities = []EntityConfig{{Name: "E1", Matrix: "missing"}}
		}},
		{"credit mode", func(c *Config) {
			c.Credit.Enabled = true
			c.Credit.DistributionGrid = []float64{-1, 1, 10}
			c.Credit.Mode = "DoubleDefault"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromFile(writeConfig(t, sample))
			require.NoError(t, err)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
