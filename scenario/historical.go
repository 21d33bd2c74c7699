package scenario

import (
	"fmt"
	"sort"
	"time"

	"github.com/banachtech/riskcube/utils"
	"go.uber.org/zap"
)

// Reader streams (date, scenario) records in ascending date order.
type Reader interface {
	Next() bool
	Date() time.Time
	Scenario() *Scenario
	Err() error
}

// SliceReader serves scenarios from memory, dated by their asof.
type SliceReader struct {
	scenarios []*Scenario
	pos       int
}

func NewSliceReader(scenarios []*Scenario) *SliceReader {
	return &SliceReader{scenarios: scenarios, pos: -1}
}

func (r *SliceReader) Next() bool {
	r.pos++
	return r.pos < len(r.scenarios)
}

func (r *SliceReader) Date() time.Time     { return r.scenarios[r.pos].Asof() }
func (r *SliceReader) Scenario() *Scenario { return r.scenarios[r.pos] }
func (r *SliceReader) Err() error          { return nil }

// HistoricalLoader holds scenarios aligned to calendar dates, ordered by date.
type HistoricalLoader struct {
	dates     []time.Time
	scenarios []*Scenario
}

// LoadHistorical walks r and keeps one scenario per business day of cal in
// [start, end]. Days without source data are skipped, and source records that
// fall between business days are dropped.
func LoadHistorical(r Reader, start, end time.Time, cal utils.Calendar, logger *zap.Logger) (*HistoricalLoader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cal == nil {
		cal = utils.NullCalendar{}
	}
	logger = logger.Named("historical-loader")

	l := &HistoricalLoader{}
	end = utils.Truncate(end)
	d := utils.Adjust(cal, utils.Truncate(start))
	var previous time.Time
	first := true
	for !d.After(end) && r.Next() {
		sd := utils.Truncate(r.Date())
		if !first && !sd.After(previous) {
			return nil, fmt.Errorf("%w: %s follows %s", ErrNotAscending, sd.Format(utils.Layout), previous.Format(utils.Layout))
		}
		previous, first = sd, false

		for d.Before(sd) && !d.After(end) {
			logger.Debug("no scenario for date", zap.Time("date", d))
			d = utils.Advance(cal, d, 1)
		}
		if sd.Before(d) {
			logger.Debug("skipping scenario", zap.Time("scenarioDate", sd), zap.Time("requested", d))
			continue
		}
		if !d.After(end) {
			l.dates = append(l.dates, d)
			l.scenarios = append(l.scenarios, r.Scenario())
			d = utils.Advance(cal, d, 1)
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	logger.Info("loaded historical scenarios", zap.Int("count", len(l.dates)),
		zap.Time("start", start), zap.Time("end", end))
	return l, nil
}

// LoadHistoricalDates keeps the source records whose dates are in dates and
// stops reading once every wanted date has been found.
func LoadHistoricalDates(r Reader, dates []time.Time, logger *zap.Logger) (*HistoricalLoader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wanted := make(map[time.Time]bool, len(dates))
	for _, d := range dates {
		wanted[utils.Truncate(d)] = true
	}
	l := &HistoricalLoader{}
	var previous time.Time
	first := true
	for len(l.dates) < len(wanted) && r.Next() {
		sd := utils.Truncate(r.Date())
		if !first && !sd.After(previous) {
			return nil, fmt.Errorf("%w: %s follows %s", ErrNotAscending, sd.Format(utils.Layout), previous.Format(utils.Layout))
		}
		previous, first = sd, false
		if wanted[sd] {
			l.dates = append(l.dates, sd)
			l.scenarios = append(l.scenarios, r.Scenario())
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if len(l.dates) < len(wanted) {
		logger.Named("historical-loader").Debug("dates without scenarios", zap.Int("missing", len(wanted)-len(l.dates)))
	}
	return l, nil
}

func (l *HistoricalLoader) Len() int               { return len(l.dates) }
func (l *HistoricalLoader) Dates() []time.Time     { return l.dates }
func (l *HistoricalLoader) Scenarios() []*Scenario { return l.scenarios }

// Get returns the scenario loaded for d.
func (l *HistoricalLoader) Get(d time.Time) (*Scenario, bool) {
	i := sort.Search(len(l.dates), func(i int) bool { return !l.dates[i].Before(d) })
	if i == len(l.dates) || !l.dates[i].Equal(d) {
		return nil, false
	}
	return l.scenarios[i], true
}
