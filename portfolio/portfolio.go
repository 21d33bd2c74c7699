// Package portfolio defines what the valuation engine needs from trades and
// market data, and an id ordered trade container.
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/banachtech/riskcube/scenario"
)

// Market is the view of one simulated market state that instruments price against.
type Market interface {
	// Asof is the pricing date, which stays at the valuation date on sticky close-out dates.
	Asof() time.Time
	Value(key scenario.RiskFactorKey) (float64, error)
	Discount(maturity time.Time) (float64, error)
	Numeraire() float64
}

// Instrument is a trade built against a market. NPV reads the market state
// current at the time of the call.
type Instrument interface {
	NPV() (float64, error)
	Maturity() time.Time
}

// CashflowInstrument reports the cash paid in (from, to].
type CashflowInstrument interface {
	Instrument
	Cashflow(from, to time.Time) (float64, error)
}

// CreditStateInstrument prices the trade in each credit state of its issuer,
// the last state being default.
type CreditStateInstrument interface {
	Instrument
	Issuer() string
	StateNPVs(states int) ([]float64, error)
}

type Trade interface {
	ID() string
	Type() string
	NettingSetID() string
	Counterparty() string
	Build(m Market) (Instrument, error)
}

// PricingStats accumulates how long a trade takes to price.
type PricingStats struct {
	Count int
	Total time.Duration
}

// Average pricing time, zero if never priced.
func (s PricingStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Portfolio holds trades by id. It is not safe for concurrent mutation.
type Portfolio struct {
	trades map[string]Trade
	stats  map[string]PricingStats
}

func New(trades ...Trade) (*Portfolio, error) {
	p := &Portfolio{trades: map[string]Trade{}, stats: map[string]PricingStats{}}
	for _, t := range trades {
		if err := p.Add(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Portfolio) Add(t Trade) error {
	if t.ID() == "" {
		return fmt.Errorf("trade of type %s has no id", t.Type())
	}
	if _, ok := p.trades[t.ID()]; ok {
		return fmt.Errorf("duplicate trade id %s", t.ID())
	}
	p.trades[t.ID()] = t
	return nil
}

// Remove deletes a trade and its statistics, reporting whether it was present.
func (p *Portfolio) Remove(id string) bool {
	if _, ok := p.trades[id]; !ok {
		return false
	}
	delete(p.trades, id)
	delete(p.stats, id)
	return true
}

func (p *Portfolio) Get(id string) (Trade, bool) {
	t, ok := p.trades[id]
	return t, ok
}

func (p *Portfolio) Size() int { return len(p.trades) }

// IDs returns the trade ids in ascending order.
func (p *Portfolio) IDs() []string {
	ids := make([]string, 0, len(p.trades))
	for id := range p.trades {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Trades returns the trades ordered by id.
func (p *Portfolio) Trades() []Trade {
	ids := p.IDs()
	out := make([]Trade, len(ids))
	for i, id := range ids {
		out[i] = p.trades[id]
	}
	return out
}

// NettingSets maps trade id to netting set id.
func (p *Portfolio) NettingSets() map[string]string {
	out := make(map[string]string, len(p.trades))
	for id, t := range p.trades {
		out[id] = t.NettingSetID()
	}
	return out
}

// NettingSetIDs returns the distinct netting sets, sorted.
func (p *Portfolio) NettingSetIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range p.trades {
		if !seen[t.NettingSetID()] {
			seen[t.NettingSetID()] = true
			out = append(out, t.NettingSetID())
		}
	}
	sort.Strings(out)
	return out
}

func (p *Portfolio) PricingStats(id string) PricingStats { return p.stats[id] }

// AddPricingStats merges statistics gathered by a worker. Unknown ids are ignored.
func (p *Portfolio) AddPricingStats(id string, s PricingStats) {
	if _, ok := p.trades[id]; !ok {
		return
	}
	cur := p.stats[id]
	cur.Count += s.Count
	cur.Total += s.Total
	p.stats[id] = cur
}
