package measure

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Granularity is the output time resolution of a run
type Granularity string

const (
	Annual  Granularity = "A"
	Monthly Granularity = "M"
	Daily   Granularity = "D"
	Hourly  Granularity = "H"
)

// Granularities lists every supported granularity, coarsest first.
var Granularities = []Granularity{Annual, Monthly, Daily, Hourly}

// ErrUnknownGranularity is returned for any granularity outside A/M/D/H.
var ErrUnknownGranularity = errors.New("unknown granularity")

// ParseGranularity validates a granularity code. "J" (journalier) is accepted as
// an alias of "D".
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return Annual, nil
	case "M":
		return Monthly, nil
	case "D", "J":
		return Daily, nil
	case "H":
		return Hourly, nil
	}
	return "", errors.Wrapf(ErrUnknownGranularity, "%q (want A, M, D or H)", s)
}

// Coarse reports whether the granularity is recomputed from hourly data.
func (g Granularity) Coarse() bool {
	return g == Annual || g == Monthly
}

// FetchGranularity is the granularity requested from the source. Coarse
// outputs always pull hourly data since representativeness is computed from it.
func (g Granularity) FetchGranularity() Granularity {
	if g == Daily {
		return Daily
	}
	return Hourly
}

func (g Granularity) String() string {
	return string(g)
}

// Period is a calendar-aligned resampling period
type Period string

const (
	Hour       Period = "H"
	Day        Period = "D"
	MonthStart Period = "MS"
	YearStart  Period = "YS"
)

// Valid reports whether p is one of the known periods.
func (p Period) Valid() bool {
	switch p {
	case Hour, Day, MonthStart, YearStart:
		return true
	}
	return false
}

// Floor returns the start of the period containing t, evaluated in loc.
func (p Period) Floor(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	switch p {
	case Hour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case MonthStart:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case YearStart:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
	}
	return t
}

// Next returns the start of the period following the one starting at start.
func (p Period) Next(start time.Time) time.Time {
	switch p {
	case Hour:
		return start.Add(time.Hour)
	case Day:
		return start.AddDate(0, 0, 1)
	case MonthStart:
		return start.AddDate(0, 1, 0)
	case YearStart:
		return start.AddDate(1, 0, 0)
	}
	return start
}
