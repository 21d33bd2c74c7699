package utils

import (
	"errors"
	"sort"
	"strings"
	"time"
)

const Layout = "2006-01-02"

var NYSE = []string{"2022-01-17", "2022-02-21", "2022-04-15", "2022-05-30", "2022-06-20", "2022-07-04", "2022-09-05", "2022-11-24", "2022-12-26", "2023-01-02", "2023-01-16", "2023-02-20", "2023-04-07", "2023-05-29", "2023-06-19", "2023-07-04", "2023-09-04", "2023-11-23", "2023-12-25", "2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27", "2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25", "2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25", "2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25", "2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25"}

// Calendar decides which dates are business days.
type Calendar interface {
	Name() string
	IsBusinessDay(d time.Time) bool
}

// NullCalendar treats every calendar day as a business day.
type NullCalendar struct{}

func (NullCalendar) Name() string                 { return "NullCalendar" }
func (NullCalendar) IsBusinessDay(time.Time) bool { return true }

// WeekendsOnly treats Saturday and Sunday as the only holidays.
type WeekendsOnly struct{}

func (WeekendsOnly) Name() string { return "WeekendsOnly" }

func (WeekendsOnly) IsBusinessDay(d time.Time) bool { return IsWeekday(d) }

// HolidayCalendar is a weekend calendar with an explicit holiday list.
type HolidayCalendar struct {
	name string
	hols map[time.Time]struct{}
}

// NewHolidayCalendar parses holidays given as YYYY-MM-DD strings.
func NewHolidayCalendar(name string, holidays []string) (*HolidayCalendar, error) {
	hs, err := Hols(holidays)
	if err != nil {
		return nil, err
	}
	cal := &HolidayCalendar{name: name, hols: make(map[time.Time]struct{}, len(hs))}
	for _, h := range hs {
		cal.hols[Truncate(h)] = struct{}{}
	}
	return cal, nil
}

func (c *HolidayCalendar) Name() string { return c.name }

func (c *HolidayCalendar) IsBusinessDay(d time.Time) bool {
	if !IsWeekday(d) {
		return false
	}
	_, hol := c.hols[Truncate(d)]
	return !hol
}

// CalendarByName resolves the calendars known to the config layer.
func CalendarByName(name string) (Calendar, error) {
	switch strings.ToUpper(name) {
	case "", "NULL", "NULLCALENDAR":
		return NullCalendar{}, nil
	case "WEEKENDSONLY", "TARGET":
		return WeekendsOnly{}, nil
	case "NYSE", "US":
		return NewHolidayCalendar("NYSE", NYSE)
	}
	return nil, errors.New("unknown calendar: " + name)
}

// Convert holidays from string to time.Time format
func Hols(s []string) ([]time.Time, error) {
	h := make([]time.Time, len(s))
	for i, v := range s {
		d, err := time.Parse(Layout, v)
		if err != nil {
			return nil, err
		}
		h[i] = d
	}
	return h, nil
}

func IsWeekday(d time.Time) bool {
	return d.Weekday() > 0 && d.Weekday() < 6
}

// Truncate drops the time-of-day part, keeping dates comparable by value.
func Truncate(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// Adjust rolls d forward to the next business day (following convention).
func Adjust(cal Calendar, d time.Time) time.Time {
	for !cal.IsBusinessDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Advance moves n business days from d; negative n moves backwards.
func Advance(cal Calendar, d time.Time, n int) time.Time {
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	for n > 0 {
		d = d.AddDate(0, 0, step)
		if cal.IsBusinessDay(d) {
			n--
		}
	}
	return d
}

// Return a list of business days from (and including) a start date to (and including) an end date according to a calendar
func ListBusinessDates(start time.Time, end time.Time, cal Calendar) ([]time.Time, error) {
	if end.Before(start) {
		return nil, errors.New("end date must be later than start date")
	}
	start = Adjust(cal, start)
	var out []time.Time
	for !start.After(end) {
		out = append(out, start)
		start = Advance(cal, start, 1)
	}
	return out, nil
}

func IsIn(t time.Time, ts []time.Time) bool {
	for _, v := range ts {
		if t.Equal(v) {
			return true
		}
	}
	return false
}

// SortDates sorts dates ascending in place.
func SortDates(dates []time.Time) {
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})
}
