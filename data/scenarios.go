package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/banachtech/riskcube/scenario"
	"github.com/banachtech/riskcube/utils"
)

/*
ScenarioReader streams historical scenarios from a csv file with the layout

	Date,Numeraire,FXSpot/EURUSD/0,ShortRate/USD/0,...
	2024-01-02,1.0,1.0950,0.0525,...

one row per date in ascending order. It satisfies scenario.Reader.
*/
type ScenarioReader struct {
	r    *csv.Reader
	keys []scenario.RiskFactorKey
	line int

	date time.Time
	scn  *scenario.Scenario
	err  error
}

/*
create a historical scenario reader

args:
1. r : csv source, header first

returns:
1. reader positioned before the first record
2. error, if the header cannot be parsed
*/
func NewScenarioReader(r io.Reader) (*ScenarioReader, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading scenario header: %w", err)
	}
	if len(header) < 2 || !strings.EqualFold(header[0], "Date") || !strings.EqualFold(header[1], "Numeraire") {
		return nil, errors.New("scenario header must start with Date,Numeraire")
	}
	sr := &ScenarioReader{r: cr, line: 1}
	for _, h := range header[2:] {
		k, err := ParseKey(h)
		if err != nil {
			return nil, err
		}
		sr.keys = append(sr.keys, k)
	}
	return sr, nil
}

// ParseKey parses Type/Name/Index, the index defaulting to 0.
func ParseKey(s string) (scenario.RiskFactorKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return scenario.RiskFactorKey{}, fmt.Errorf("invalid risk factor key %q", s)
	}
	k := scenario.RiskFactorKey{Type: scenario.RiskFactorType(parts[0]), Name: parts[1]}
	if len(parts) == 3 {
		i, err := strconv.Atoi(parts[2])
		if err != nil {
			return scenario.RiskFactorKey{}, fmt.Errorf("invalid risk factor index in %q", s)
		}
		k.Index = i
	}
	return k, nil
}

func (sr *ScenarioReader) Next() bool {
	if sr.err != nil {
		return false
	}
	rec, err := sr.r.Read()
	if err == io.EOF {
		return false
	}
	sr.line++
	if err != nil {
		sr.err = err
		return false
	}
	if len(rec) != len(sr.keys)+2 {
		sr.err = fmt.Errorf("scenario line %d: expected %d fields, got %d", sr.line, len(sr.keys)+2, len(rec))
		return false
	}
	d, err := time.Parse(utils.Layout, rec[0])
	if err != nil {
		sr.err = fmt.Errorf("scenario line %d: %w", sr.line, err)
		return false
	}
	num, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		sr.err = fmt.Errorf("scenario line %d: invalid numeraire %q", sr.line, rec[1])
		return false
	}
	s := scenario.NewScenario(d, "hist/"+rec[0], num)
	for i, k := range sr.keys {
		v, err := strconv.ParseFloat(rec[i+2], 64)
		if err != nil {
			sr.err = fmt.Errorf("scenario line %d: invalid value %q for %s", sr.line, rec[i+2], k)
			return false
		}
		s.Add(k, v)
	}
	sr.date, sr.scn = d, s
	return true
}

func (sr *ScenarioReader) Date() time.Time                { return sr.date }
func (sr *ScenarioReader) Scenario() *scenario.Scenario   { return sr.scn }
func (sr *ScenarioReader) Err() error                     { return sr.err }
func (sr *ScenarioReader) Keys() []scenario.RiskFactorKey { return sr.keys }

// Series extracts the values of key from scenarios, skipping those without it.
func Series(scenarios []*scenario.Scenario, key scenario.RiskFactorKey) []float64 {
	var out []float64
	for _, s := range scenarios {
		if v, ok := s.Get(key); ok {
			out = append(out, v)
		}
	}
	return out
}
