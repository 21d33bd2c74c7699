package mainfuncs

import (
	"encoding/json"
	"io"
	"time"

	"github.com/banachtech/riskcube/aggregation"
	"github.com/banachtech/riskcube/engine"
	"github.com/banachtech/riskcube/portfolio"
	"github.com/banachtech/riskcube/utils"
	"github.com/google/uuid"
)

type Report struct {
	RunID    string                    `json:"run_id"`
	Asof     string                    `json:"asof"`
	Trades   []string                  `json:"trades"`
	Failures []FailureReport           `json:"failures,omitempty"`
	Exposure map[string]ExposureReport `json:"exposure"`
	Credit   *CreditReport             `json:"credit,omitempty"`
	// DIM is the expected dynamic initial margin per netting set, T0 first.
	DIM map[string][]float64               `json:"dim,omitempty"`
	VaR map[string][]aggregation.VarReport `json:"var,omitempty"`
	CVA *CVAReport                         `json:"cva,omitempty"`
}

type FailureReport struct {
	TradeID string `json:"trade_id"`
	Type    string `json:"type"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

// ExposureReport profiles start at T0.
type ExposureReport struct {
	EPE []float64 `json:"epe"`
	ENE []float64 `json:"ene"`
}

type CreditReport struct {
	TimeSteps   []int                           `json:"time_steps"`
	UpperBounds []float64                       `json:"upper_bounds"`
	PDF         [][]float64                     `json:"pdf"`
	Stats       []aggregation.DistributionStats `json:"stats"`
}

type CVAReport struct {
	NettingSet string    `json:"netting_set"`
	CVA        float64   `json:"cva"`
	Times      []float64 `json:"times"`
	Hazard     []float64 `json:"hazard_sensitivities"`
	Spread     []float64 `json:"spread_sensitivities"`
}

func newReport(asof time.Time, p *portfolio.Portfolio, failures []engine.TradeFailure) *Report {
	r := &Report{
		RunID:    uuid.NewString(),
		Asof:     asof.Format(utils.Layout),
		Trades:   p.IDs(),
		Exposure: map[string]ExposureReport{},
	}
	for _, f := range failures {
		r.Failures = append(r.Failures, FailureReport{TradeID: f.TradeID, Type: f.TradeType, Stage: f.Stage, Error: f.Err.Error()})
	}
	return r
}

func newCVAReport(ns string, c *aggregation.CVASpreadSensitivityCalculator) (*CVAReport, error) {
	cva, err := c.CVA()
	if err != nil {
		return nil, err
	}
	hazard, err := c.HazardRateSensitivities()
	if err != nil {
		return nil, err
	}
	spread, err := c.CDSSpreadSensitivities()
	if err != nil {
		return nil, err
	}
	return &CVAReport{NettingSet: ns, CVA: cva, Times: c.ShiftTimes(), Hazard: hazard, Spread: spread}, nil
}

// WriteJSON writes the report indented.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
