package window

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbreizh/didon/pkg/measure"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestCalculator_Window(t *testing.T) {
	calc := Calculator{LastYear: 2017, YearsBack: 5, DaysBack: 365}
	runDate := date(2018, time.February, 10)

	tests := []struct {
		name        string
		granularity measure.Granularity
		want        measure.Window
	}{
		{
			name:        "annual",
			granularity: measure.Annual,
			want:        measure.Window{Start: date(2013, time.January, 1), End: date(2017, time.December, 31)},
		},
		{
			name:        "monthly ends on last day of run month",
			granularity: measure.Monthly,
			want:        measure.Window{Start: date(2017, time.February, 10), End: date(2018, time.February, 28)},
		},
		{
			name:        "daily",
			granularity: measure.Daily,
			want:        measure.Window{Start: date(2017, time.February, 10), End: runDate},
		},
		{
			name:        "hourly",
			granularity: measure.Hourly,
			want:        measure.Window{Start: date(2017, time.February, 10), End: runDate},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.Window(tt.granularity, runDate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculator_MonthlyLeapYear(t *testing.T) {
	calc := Calculator{DaysBack: 0}
	got, err := calc.Window(measure.Monthly, date(2016, time.February, 3))
	require.NoError(t, err)
	assert.Equal(t, date(2016, time.February, 29), got.End)
	assert.Equal(t, date(2016, time.February, 3), got.Start)
}

func TestCalculator_SingleYear(t *testing.T) {
	calc := Calculator{LastYear: 2017, YearsBack: 1}
	got, err := calc.Window(measure.Annual, date(2018, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2017, time.January, 1), got.Start)
	assert.Equal(t, date(2017, time.December, 31), got.End)
}

func TestCalculator_Errors(t *testing.T) {
	calc := Calculator{LastYear: 2017, YearsBack: 0}

	_, err := calc.Window(measure.Annual, date(2018, time.June, 1))
	require.Error(t, err)

	_, err = calc.Window(measure.Granularity("W"), date(2018, time.June, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, measure.ErrUnknownGranularity))

	_, err = calc.Window(measure.Daily, civil.Date{Year: 2018, Month: time.February, Day: 30})
	require.Error(t, err)
}
