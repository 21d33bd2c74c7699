package portfolio

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/banachtech/riskcube/util"
	"github.com/stretchr/testify/require"
)

type stubTrade struct {
	id, ns string
}

func (s stubTrade) ID() string                       { return s.id }
func (s stubTrade) Type() string                     { return "Stub" }
func (s stubTrade) NettingSetID() string             { return s.ns }
func (s stubTrade) Counterparty() string             { return "CPTY" }
func (s stubTrade) Build(Market) (Instrument, error) { return nil, nil }

func TestPortfolio(t *testing.T) {
	p, err := New(stubTrade{"B", "NS2"}, stubTrade{"A", "NS1"}, stubTrade{"C", "NS1"})
	require.NoError(t, err)
	require.Equal(t, 3, p.Size())
	require.Equal(t, []string{"A", "B", "C"}, p.IDs())
	require.Equal(t, "A", p.Trades()[0].ID())
	require.Equal(t, []string{"NS1", "NS2"}, p.NettingSetIDs())
	require.Equal(t, map[string]string{"A": "NS1", "B": "NS2", "C": "NS1"}, p.NettingSets())

	require.Error(t, p.Add(stubTrade{"A", "NS1"}))
	require.Error(t, p.Add(stubTrade{"", "NS1"}))

	p.AddPricingStats("A", PricingStats{Count: 2, Total: 4 * time.Millisecond})
	p.AddPricingStats("A", PricingStats{Count: 2, Total: 2 * time.Millisecond})
	p.AddPricingStats("Z", PricingStats{Count: 1, Total: time.Second})
	require.Equal(t, 4, p.PricingStats("A").Count)
	require.Equal(t, 1500*time.Microsecond, p.PricingStats("A").Average())
	require.Equal(t, time.Duration(0), p.PricingStats("B").Average())

	require.True(t, p.Remove("A"))
	require.False(t, p.Remove("A"))
	require.Equal(t, 0, p.PricingStats("A").Count)
	_, ok := p.Get("A")
	require.False(t, ok)
	require.Equal(t, 2, p.Size())
}

func TestRandomPortfolio(t *testing.T) {
	n := util.RandomInt(20, 60)
	p, err := New()
	require.NoError(t, err)
	sets := map[string]bool{}
	for i := 0; i < n; i++ {
		ns := util.RandomNettingSet()
		sets[ns] = true
		require.NoError(t, p.Add(stubTrade{fmt.Sprintf("%s-%03d", util.RandomTradeID(), i), ns}))
	}
	require.Equal(t, n, p.Size())
	require.True(t, sort.StringsAreSorted(p.IDs()))
	require.Len(t, p.NettingSetIDs(), len(sets))
	require.True(t, sort.StringsAreSorted(p.NettingSetIDs()))

	for i, ms := range util.RandomFloats(n, 1, 5) {
		p.AddPricingStats(p.IDs()[i], PricingStats{Count: 1, Total: time.Duration(ms * float64(time.Millisecond))})
	}
	for _, id := range p.IDs() {
		avg := p.PricingStats(id).Average()
		require.GreaterOrEqual(t, avg, time.Millisecond)
		require.Less(t, avg, 5*time.Millisecond)
	}
}
