package scenario

import (
	"fmt"
	"time"
)

// ClonedGenerator replays scenarios generated once up front. Clones share the
// stored scenarios and keep their own cursor, so each worker can walk the
// same paths without touching the source generator.
type ClonedGenerator struct {
	dates     []time.Time
	samples   int
	scenarios []*Scenario

	sample int
	date   int
}

// NewClonedGenerator draws samples paths over dates from g, then resets g.
func NewClonedGenerator(g Generator, dates []time.Time, samples int) (*ClonedGenerator, error) {
	if len(dates) == 0 || samples <= 0 {
		return nil, fmt.Errorf("cloned generator needs dates and samples, got %d and %d", len(dates), samples)
	}
	g.Reset()
	c := &ClonedGenerator{
		dates:     append([]time.Time(nil), dates...),
		samples:   samples,
		scenarios: make([]*Scenario, 0, len(dates)*samples),
	}
	for s := 0; s < samples; s++ {
		for _, d := range dates {
			scn, err := g.Next(d)
			if err != nil {
				return nil, fmt.Errorf("sample %d date %s: %w", s, d.Format("2006-01-02"), err)
			}
			c.scenarios = append(c.scenarios, scn)
		}
	}
	g.Reset()
	return c, nil
}

func (c *ClonedGenerator) Next(d time.Time) (*Scenario, error) {
	if c.date == len(c.dates) {
		c.date = 0
		c.sample++
	}
	if c.sample >= c.samples {
		return nil, ErrExhausted
	}
	if !d.Equal(c.dates[c.date]) {
		return nil, fmt.Errorf("cloned generator expected date %s, got %s",
			c.dates[c.date].Format("2006-01-02"), d.Format("2006-01-02"))
	}
	scn := c.scenarios[c.sample*len(c.dates)+c.date]
	c.date++
	return scn, nil
}

func (c *ClonedGenerator) Reset() {
	c.sample, c.date = 0, 0
}

// Clone returns an independent cursor over the same scenarios.
func (c *ClonedGenerator) Clone() *ClonedGenerator {
	return &ClonedGenerator{dates: c.dates, samples: c.samples, scenarios: c.scenarios}
}

func (c *ClonedGenerator) Samples() int       { return c.samples }
func (c *ClonedGenerator) Dates() []time.Time { return c.dates }

// Scenario returns the stored scenario for (sample, date index).
func (c *ClonedGenerator) Scenario(sample, date int) *Scenario {
	return c.scenarios[sample*len(c.dates)+date]
}
