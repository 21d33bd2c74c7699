package utils

import (
	"fmt"
	"strings"
	"time"
)

type DayCounter string

const (
	Actual365Fixed DayCounter = "ACT/365F"
	Actual360      DayCounter = "ACT/360"
	ActualActual   DayCounter = "ACT/ACT"
	Thirty360      DayCounter = "30E/360"
)

// ParseDayCounter accepts the usual spellings of the supported conventions.
func ParseDayCounter(s string) (DayCounter, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, " ", "")) {
	case "", "ACT/365F", "A365F", "ACT/365(FIXED)", "ACTUAL365FIXED":
		return Actual365Fixed, nil
	case "ACT/360", "A360", "ACTUAL360":
		return Actual360, nil
	case "ACT/ACT", "ACT/ACT(ISDA)", "ACTUALACTUAL":
		return ActualActual, nil
	case "30E/360", "30/360", "THIRTY360":
		return Thirty360, nil
	}
	return "", fmt.Errorf("unknown day counter: %s", s)
}

func days(start, end time.Time) float64 {
	return end.Sub(start).Hours() / 24
}

// YearFraction computes the year fraction between two dates.
func (dc DayCounter) YearFraction(start, end time.Time) float64 {
	switch dc {
	case Actual360:
		return days(start, end) / 360.0
	case ActualActual:
		if end.Before(start) {
			return -dc.YearFraction(end, start)
		}
		// ISDA: split by calendar year
		var yf float64
		for start.Year() < end.Year() {
			next := time.Date(start.Year()+1, 1, 1, 0, 0, 0, 0, time.UTC)
			yf += days(start, next) / daysInYear(start.Year())
			start = next
		}
		return yf + days(start, end)/daysInYear(start.Year())
	case Thirty360:
		d1 := start.Day()
		if d1 > 30 {
			d1 = 30
		}
		d2 := end.Day()
		if d2 > 30 {
			d2 = 30
		}
		y1, m1 := start.Year(), int(start.Month())
		y2, m2 := end.Year(), int(end.Month())
		return float64(360*(y2-y1)+30*(m2-m1)+(d2-d1)) / 360.0
	default:
		return days(start, end) / 365.0
	}
}

func daysInYear(y int) float64 {
	if y%4 == 0 && (y%100 != 0 || y%400 == 0) {
		return 366
	}
	return 365
}
