// Package scenario holds simulated market states and the generators that
// produce them along a date grid.
package scenario

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrExhausted    = errors.New("scenario: generator exhausted")
	ErrNotAscending = errors.New("scenario: source dates not strictly ascending")
)

type RiskFactorType string

const (
	FXSpot      RiskFactorType = "FXSpot"
	EquitySpot  RiskFactorType = "EquitySpot"
	ShortRate   RiskFactorType = "ShortRate"
	HazardRate  RiskFactorType = "HazardRate"
	CreditState RiskFactorType = "CreditState"
)

// RiskFactorKey addresses one value in a scenario, e.g. FXSpot/EURUSD/0.
type RiskFactorKey struct {
	Type  RiskFactorType
	Name  string
	Index int
}

func (k RiskFactorKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Type, k.Name, k.Index)
}

// Scenario is one market state. It is filled by its producer and must be
// treated as read only afterwards, since generators hand the same value to
// every worker.
type Scenario struct {
	asof      time.Time
	label     string
	numeraire float64
	values    map[RiskFactorKey]float64
}

func NewScenario(asof time.Time, label string, numeraire float64) *Scenario {
	return &Scenario{asof: asof, label: label, numeraire: numeraire, values: map[RiskFactorKey]float64{}}
}

func (s *Scenario) Asof() time.Time    { return s.asof }
func (s *Scenario) Label() string      { return s.label }
func (s *Scenario) Numeraire() float64 { return s.numeraire }

func (s *Scenario) Add(key RiskFactorKey, value float64) { s.values[key] = value }

func (s *Scenario) Get(key RiskFactorKey) (float64, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *Scenario) Has(key RiskFactorKey) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns the keys sorted by type, name and index.
func (s *Scenario) Keys() []RiskFactorKey {
	keys := make([]RiskFactorKey, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Index < b.Index
	})
	return keys
}

func (s *Scenario) Clone() *Scenario {
	c := NewScenario(s.asof, s.label, s.numeraire)
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

// Generator produces the scenario for the next simulation date. A date at or
// before the previous one starts a new path.
type Generator interface {
	Next(d time.Time) (*Scenario, error)
	Reset()
}
