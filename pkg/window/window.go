// Package window computes the date range a run fetches and aggregates over.
package window

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"

	"github.com/airbreizh/didon/pkg/measure"
)

// Calculator derives a processing window from the requested granularity and
// the run date.
type Calculator struct {
	// LastYear is the last calendar year processed by annual runs
	LastYear int

	// YearsBack is the number of years processed by annual runs, LastYear included
	YearsBack int

	// DaysBack is the look-back for monthly, daily and hourly runs
	DaysBack int
}

// Window returns the inclusive [start, end] dates for g.
//
//	A: Jan 1 of (LastYear - YearsBack + 1) .. Dec 31 of LastYear
//	M: runDate - DaysBack .. last day of runDate's month
//	D, H: runDate - DaysBack .. runDate
func (c Calculator) Window(g measure.Granularity, runDate civil.Date) (measure.Window, error) {
	if !runDate.IsValid() {
		return measure.Window{}, errors.Errorf("invalid run date %v", runDate)
	}

	switch g {
	case measure.Annual:
		if c.YearsBack < 1 {
			return measure.Window{}, errors.Errorf("years back must be at least 1, got %d", c.YearsBack)
		}
		return measure.Window{
			Start: civil.Date{Year: c.LastYear - c.YearsBack + 1, Month: time.January, Day: 1},
			End:   civil.Date{Year: c.LastYear, Month: time.December, Day: 31},
		}, nil
	case measure.Monthly:
		return measure.Window{
			Start: runDate.AddDays(-c.DaysBack),
			End:   lastDayOfMonth(runDate),
		}, nil
	case measure.Daily, measure.Hourly:
		return measure.Window{
			Start: runDate.AddDays(-c.DaysBack),
			End:   runDate,
		}, nil
	}

	return measure.Window{}, errors.Wrapf(measure.ErrUnknownGranularity, "%q", string(g))
}

// lastDayOfMonth returns the last calendar day of d's month
func lastDayOfMonth(d civil.Date) civil.Date {
	return civil.DateOf(time.Date(d.Year, d.Month+1, 0, 0, 0, 0, 0, time.UTC))
}
