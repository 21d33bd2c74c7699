package scenario

import (
	"fmt"
	"sort"
)

type AggregationDataType string

const (
	AggNumeraire   AggregationDataType = "Numeraire"
	AggFXSpot      AggregationDataType = "FXSpot"
	AggCreditState AggregationDataType = "CreditState"
	AggSurvival    AggregationDataType = "SurvivalWeight"
	AggRecovery    AggregationDataType = "RecoveryRate"
)

type aggKey struct {
	typ  AggregationDataType
	name string
}

// AggregationScenarioData records per (date index, sample) market values
// needed after the valuation run, such as the numeraire and credit factors.
// It is written by a single worker and read once the run has finished.
type AggregationScenarioData struct {
	dates   int
	samples int
	values  map[aggKey][]float64
}

func NewAggregationScenarioData(dates, samples int) *AggregationScenarioData {
	return &AggregationScenarioData{dates: dates, samples: samples, values: map[aggKey][]float64{}}
}

func (a *AggregationScenarioData) NumDates() int { return a.dates }
func (a *AggregationScenarioData) Samples() int  { return a.samples }

func (a *AggregationScenarioData) check(date, sample int) error {
	if date < 0 || date >= a.dates || sample < 0 || sample >= a.samples {
		return fmt.Errorf("aggregation data index (%d, %d) out of range (%d, %d)", date, sample, a.dates, a.samples)
	}
	return nil
}

func (a *AggregationScenarioData) Set(date, sample int, value float64, typ AggregationDataType, name string) error {
	if err := a.check(date, sample); err != nil {
		return err
	}
	k := aggKey{typ, name}
	v, ok := a.values[k]
	if !ok {
		v = make([]float64, a.dates*a.samples)
		a.values[k] = v
	}
	v[date*a.samples+sample] = value
	return nil
}

func (a *AggregationScenarioData) Get(date, sample int, typ AggregationDataType, name string) (float64, error) {
	if err := a.check(date, sample); err != nil {
		return 0, err
	}
	v, ok := a.values[aggKey{typ, name}]
	if !ok {
		return 0, fmt.Errorf("no aggregation data for %s %q", typ, name)
	}
	return v[date*a.samples+sample], nil
}

func (a *AggregationScenarioData) Has(typ AggregationDataType, name string) bool {
	_, ok := a.values[aggKey{typ, name}]
	return ok
}

// Names lists the names recorded for typ, sorted.
func (a *AggregationScenarioData) Names(typ AggregationDataType) []string {
	var out []string
	for k := range a.values {
		if k.typ == typ {
			out = append(out, k.name)
		}
	}
	sort.Strings(out)
	return out
}

// CopySample repeats the values recorded for sample from at date into sample to.
func (a *AggregationScenarioData) CopySample(date, from, to int) error {
	if err := a.check(date, from); err != nil {
		return err
	}
	if err := a.check(date, to); err != nil {
		return err
	}
	for _, v := range a.values {
		v[date*a.samples+to] = v[date*a.samples+from]
	}
	return nil
}
