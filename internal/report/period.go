package report

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPeriod = errors.New("invalid report period")
	ErrInvalidRange  = errors.New("invalid report date range")
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
	PeriodCustom  Period = "custom"
)

func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PeriodDaily, nil
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodYearly, PeriodCustom:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
}

// Range is the half-open interval [From, To) a period resolves to.
type Range struct {
	Period Period
	From   time.Time
	To     time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Label renders the range as inclusive calendar days.
func (r Range) Label() string {
	first := r.From.Format(time.DateOnly)
	last := r.To.Add(-time.Nanosecond).In(r.From.Location()).Format(time.DateOnly)
	if first == last {
		return first
	}
	return first + " to " + last
}

// Resolve turns a period into concrete bounds in loc. from and to are only
// read for PeriodCustom and name inclusive days as YYYY-MM-DD.
func Resolve(period Period, now time.Time, loc *time.Location, from string, to string) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch period {
	case PeriodDaily:
		return Range{Period: period, From: today, To: today.AddDate(0, 0, 1)}, nil
	case PeriodWeekly:
		return Range{Period: period, From: today.AddDate(0, 0, -6), To: today.AddDate(0, 0, 1)}, nil
	case PeriodMonthly:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return Range{Period: period, From: start, To: start.AddDate(0, 1, 0)}, nil
	case PeriodYearly:
		start := time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
		return Range{Period: period, From: start, To: start.AddDate(1, 0, 0)}, nil
	case PeriodCustom:
		start, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(from), loc)
		if err != nil {
			return Range{}, fmt.Errorf("%w: from %q", ErrInvalidRange, from)
		}
		end, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(to), loc)
		if err != nil {
			return Range{}, fmt.Errorf("%w: to %q", ErrInvalidRange, to)
		}
		if end.Before(start) {
			return Range{}, fmt.Errorf("%w: from after to", ErrInvalidRange)
		}
		return Range{Period: period, From: start, To: end.AddDate(0, 0, 1)}, nil
	default:
		return Range{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
}
