// Package dategrid builds the simulation date grid: valuation dates, optional
// close-out dates one margin period of risk later, and their year fractions.
package dategrid

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/banachtech/riskcube/utils"
)

// DefaultCloseOutPeriod is the margin period of risk used when none is configured.
var DefaultCloseOutPeriod = utils.Period{Length: 2, Unit: utils.Weeks}

var presets = map[string]string{
	"EXPOSURE":  "1W,2W,1M,2M,3M,6M,9M,1Y,18M,2Y,3Y,4Y,5Y,7Y,10Y",
	"MONTHLY":   "60,1M",
	"QUARTERLY": "40,3M",
	"ANNUAL":    "30,1Y",
}

type DateGrid struct {
	today      time.Time
	calendar   utils.Calendar
	dayCounter utils.DayCounter

	dates           []time.Time
	tenors          []utils.Period
	times           []float64
	isValuationDate []bool
	isCloseOutDate  []bool
	closeOutPeriod  utils.Period
	hasCloseOut     bool
}

// New parses a grid string. Accepted forms are a comma separated
// tenor list ("1W,1M,1Y"), a count and a step ("40,3M" meaning 3M,6M,...,120M),
// or one of the named presets (EXPOSURE, MONTHLY, QUARTERLY, ANNUAL).
func New(today time.Time, grid string, cal utils.Calendar, dc utils.DayCounter) (*DateGrid, error) {
	spec := strings.TrimSpace(grid)
	if p, ok := presets[strings.ToUpper(spec)]; ok {
		spec = p
	}
	tokens := strings.Split(spec, ",")
	if len(tokens) == 2 {
		if n, err := strconv.Atoi(strings.TrimSpace(tokens[0])); err == nil {
			step, err := utils.ParsePeriod(tokens[1])
			if err != nil {
				return nil, fmt.Errorf("invalid grid %q: %w", grid, err)
			}
			if n <= 0 || step.IsZero() {
				return nil, fmt.Errorf("invalid grid %q: need a positive count and step", grid)
			}
			tenors := make([]utils.Period, n)
			for i := range tenors {
				tenors[i] = step.Mul(i + 1)
			}
			return NewFromPeriods(today, tenors, cal, dc)
		}
	}
	tenors, err := utils.ParsePeriods(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid grid %q: %w", grid, err)
	}
	return NewFromPeriods(today, tenors, cal, dc)
}

// NewFromPeriods rolls each tenor from today onto the calendar.
func NewFromPeriods(today time.Time, tenors []utils.Period, cal utils.Calendar, dc utils.DayCounter) (*DateGrid, error) {
	if len(tenors) == 0 {
		return nil, errors.New("date grid needs at least one tenor")
	}
	if cal == nil {
		cal = utils.NullCalendar{}
	}
	today = utils.Truncate(today)
	dates := make([]time.Time, len(tenors))
	for i, p := range tenors {
		dates[i] = utils.Adjust(cal, utils.AddPeriod(today, p))
	}
	g := &DateGrid{today: today, calendar: cal, dayCounter: dc}
	if err := g.init(dates, append([]utils.Period(nil), tenors...)); err != nil {
		return nil, err
	}
	return g, nil
}

// NewFromDates uses the given dates as they are.
func NewFromDates(today time.Time, dates []time.Time, cal utils.Calendar, dc utils.DayCounter) (*DateGrid, error) {
	if len(dates) == 0 {
		return nil, errors.New("date grid needs at least one date")
	}
	if cal == nil {
		cal = utils.NullCalendar{}
	}
	today = utils.Truncate(today)
	ds := make([]time.Time, len(dates))
	tenors := make([]utils.Period, len(dates))
	for i, d := range dates {
		ds[i] = utils.Truncate(d)
		tenors[i] = utils.Period{Length: int(ds[i].Sub(today).Hours() / 24), Unit: utils.Days}
	}
	g := &DateGrid{today: today, calendar: cal, dayCounter: dc}
	if err := g.init(ds, tenors); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *DateGrid) init(dates []time.Time, tenors []utils.Period) error {
	if !dates[0].After(g.today) {
		return fmt.Errorf("first grid date %s must be after today %s", dates[0].Format(utils.Layout), g.today.Format(utils.Layout))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return fmt.Errorf("grid dates not strictly increasing at %s (tenor %s)", dates[i].Format(utils.Layout), tenors[i])
		}
	}
	g.dates = dates
	g.tenors = tenors
	g.isValuationDate = make([]bool, len(dates))
	g.isCloseOutDate = make([]bool, len(dates))
	for i := range g.isValuationDate {
		g.isValuationDate[i] = true
	}
	g.buildTimes()
	return nil
}

func (g *DateGrid) buildTimes() {
	g.times = make([]float64, len(g.dates))
	for i, d := range g.dates {
		g.times[i] = g.dayCounter.YearFraction(g.today, d)
	}
}

// Today is the asof date; it is not part of Dates.
func (g *DateGrid) Today() time.Time             { return g.today }
func (g *DateGrid) Calendar() utils.Calendar     { return g.calendar }
func (g *DateGrid) DayCounter() utils.DayCounter { return g.dayCounter }
func (g *DateGrid) Len() int                     { return len(g.dates) }
func (g *DateGrid) Dates() []time.Time           { return g.dates }
func (g *DateGrid) Tenors() []utils.Period       { return g.tenors }

// Times are year fractions from Today, one per date.
func (g *DateGrid) Times() []float64        { return g.times }
func (g *DateGrid) IsValuationDate() []bool { return g.isValuationDate }
func (g *DateGrid) IsCloseOutDate() []bool  { return g.isCloseOutDate }

// TimeGrid returns the grid times with t=0 prepended.
func (g *DateGrid) TimeGrid() []float64 {
	return append([]float64{0}, g.times...)
}

// CloseOutPeriod reports the margin period of risk, if close-out dates were added.
func (g *DateGrid) CloseOutPeriod() (utils.Period, bool) {
	return g.closeOutPeriod, g.hasCloseOut
}

func (g *DateGrid) filter(flags []bool) []time.Time {
	var out []time.Time
	for i, ok := range flags {
		if ok {
			out = append(out, g.dates[i])
		}
	}
	return out
}

// ValuationDates and CloseOutDates select from Dates by flag.
func (g *DateGrid) ValuationDates() []time.Time { return g.filter(g.isValuationDate) }
func (g *DateGrid) CloseOutDates() []time.Time  { return g.filter(g.isCloseOutDate) }

// Truncate drops the dates after d. With overrun the first date past d is kept.
func (g *DateGrid) Truncate(d time.Time, overrun bool) {
	n := sort.Search(len(g.dates), func(i int) bool { return g.dates[i].After(d) })
	if overrun && n < len(g.dates) {
		n++
	}
	g.TruncateLen(n)
}

// TruncateLen keeps the first n dates.
func (g *DateGrid) TruncateLen(n int) {
	if n >= len(g.dates) || n < 0 {
		return
	}
	g.dates = g.dates[:n]
	g.tenors = g.tenors[:n]
	g.isValuationDate = g.isValuationDate[:n]
	g.isCloseOutDate = g.isCloseOutDate[:n]
	g.buildTimes()
}

// AddCloseOutDates derives one close-out date per valuation date at
// valuation date + p. A zero period lags instead: every grid date after the
// first becomes the close-out date of the valuation date before it.
func (g *DateGrid) AddCloseOutDates(p utils.Period) error {
	if g.hasCloseOut {
		return errors.New("close-out dates already added")
	}
	if p.IsZero() {
		for i := range g.dates {
			g.isCloseOutDate[i] = i > 0
		}
		g.closeOutPeriod, g.hasCloseOut = p, true
		return nil
	}

	valuation := g.ValuationDates()
	valTenors := make(map[time.Time]utils.Period, len(valuation))
	for i, d := range g.dates {
		valTenors[d] = g.tenors[i]
	}
	closeOut := make(map[time.Time]bool, len(valuation))
	for i, d := range valuation {
		c := utils.Adjust(g.calendar, utils.AddPeriod(d, p))
		if i+1 < len(valuation) && c.After(valuation[i+1]) {
			return fmt.Errorf("close-out date %s for %s is after the next valuation date %s",
				c.Format(utils.Layout), d.Format(utils.Layout), valuation[i+1].Format(utils.Layout))
		}
		closeOut[c] = true
	}

	all := make([]time.Time, 0, len(valuation)+len(closeOut))
	all = append(all, valuation...)
	for c := range closeOut {
		if _, isVal := valTenors[c]; !isVal {
			all = append(all, c)
		}
	}
	utils.SortDates(all)

	g.dates = all
	g.tenors = make([]utils.Period, len(all))
	g.isValuationDate = make([]bool, len(all))
	g.isCloseOutDate = make([]bool, len(all))
	for i, d := range all {
		if t, isVal := valTenors[d]; isVal {
			g.tenors[i] = t
			g.isValuationDate[i] = true
		} else {
			g.tenors[i] = utils.Period{Length: int(d.Sub(g.today).Hours() / 24), Unit: utils.Days}
		}
		g.isCloseOutDate[i] = closeOut[d]
	}
	g.buildTimes()
	g.closeOutPeriod, g.hasCloseOut = p, true
	return nil
}
