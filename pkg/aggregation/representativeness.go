package aggregation

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/airbreizh/didon/pkg/measure"
)

// Count is the completeness of one output period
type Count struct {
	Start   time.Time
	Present int // readings with a value
	Total   int // readings returned, valid or not
}

// Ratio returns round(Present/Total × 100, 0). It is missing when Total is zero.
func (c Count) Ratio() null.Float {
	if c.Total <= 0 {
		return null.Float{}
	}
	r := decimal.NewFromInt(int64(c.Present)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(c.Total)))
	return null.FloatFrom(round(r, 0))
}

// Representative reports whether the rounded ratio reaches threshold.
func (c Count) Representative(threshold int) bool {
	ratio := c.Ratio()
	if !ratio.Valid {
		return false
	}
	return ratio.Float64 >= float64(threshold)
}

// Tally counts present and returned readings on the same period grid as Resample.
func Tally(samples []measure.Sample, period measure.Period, loc *time.Location) []Count {
	buckets := bucketize(samples, period, loc)
	if len(buckets) == 0 {
		return nil
	}

	counts := make([]Count, len(buckets))
	for i, b := range buckets {
		counts[i] = Count{Start: b.start, Present: b.present, Total: b.total}
	}
	return counts
}

// Suppress returns a copy of points where every period failing threshold is
// missing. points and counts must come from the same grid.
func Suppress(points []measure.Sample, counts []Count, threshold int) ([]measure.Sample, error) {
	if len(points) != len(counts) {
		return nil, errors.Errorf("suppress: %d points for %d counts", len(points), len(counts))
	}

	out := make([]measure.Sample, len(points))
	for i, p := range points {
		if !p.At.Equal(counts[i].Start) {
			return nil, errors.Errorf("suppress: point %s does not match period %s", p.At, counts[i].Start)
		}
		out[i] = p
		if !counts[i].Representative(threshold) {
			out[i].Value = null.Float{}
		}
	}
	return out, nil
}
