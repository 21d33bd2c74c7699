package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type TimeUnit byte

const (
	Days   TimeUnit = 'D'
	Weeks  TimeUnit = 'W'
	Months TimeUnit = 'M'
	Years  TimeUnit = 'Y'
)

// Period is a tenor such as 3M or 10Y.
type Period struct {
	Length int
	Unit   TimeUnit
}

func (p Period) String() string {
	return strconv.Itoa(p.Length) + string(p.Unit)
}

func (p Period) IsZero() bool { return p.Length == 0 }

// ParsePeriod parses a single tenor token, such as "2W".
func ParsePeriod(s string) (Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	u := TimeUnit(s[len(s)-1])
	switch u {
	case Days, Weeks, Months, Years:
	default:
		return Period{}, fmt.Errorf("invalid period unit in %q", s)
	}
	return Period{Length: n, Unit: u}, nil
}

// ParsePeriods parses a comma separated tenor list.
func ParsePeriods(s string) ([]Period, error) {
	var out []Period
	for _, tok := range strings.Split(s, ",") {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		p, err := ParsePeriod(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no periods in %q", s)
	}
	return out, nil
}

// Mul scales the period length.
func (p Period) Mul(n int) Period {
	return Period{Length: p.Length * n, Unit: p.Unit}
}

// Years returns an approximate length in years.
func (p Period) Years() float64 {
	switch p.Unit {
	case Days:
		return float64(p.Length) / 365.0
	case Weeks:
		return float64(p.Length) * 7 / 365.0
	case Months:
		return float64(p.Length) / 12.0
	default:
		return float64(p.Length)
	}
}

// AddPeriod adds p to t without calendar adjustment.
func AddPeriod(t time.Time, p Period) time.Time {
	switch p.Unit {
	case Days:
		return t.AddDate(0, 0, p.Length)
	case Weeks:
		return t.AddDate(0, 0, 7*p.Length)
	case Months:
		return AddMonth(t, p.Length)
	default:
		return AddMonth(t, 12*p.Length)
	}
}

// AddMonth behaves like Excel's EDATE, avoiding Go's month normalization surprises.
func AddMonth(t time.Time, months int) time.Time {
	target := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	d := t.AddDate(0, months, 0)
	for d.Month() != target.Month() {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
